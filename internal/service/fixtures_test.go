package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/events"
	"github.com/stemsi/exstem-session/internal/lock"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
	"github.com/stretchr/testify/require"
)

const examPassword = "open-sesame"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memoryExams struct {
	mu    sync.Mutex
	exams map[uuid.UUID]*model.ExamDefinition
	down  bool
}

func (m *memoryExams) put(e *model.ExamDefinition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exams[e.ID] = e
}

func (m *memoryExams) setDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = down
}

func (m *memoryExams) Current(_ context.Context, id uuid.UUID) (*model.ExamDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, fmt.Errorf("%w: provider offline", ErrDefinitionUnavailable)
	}
	e, ok := m.exams[id]
	if !ok {
		return nil, ErrExamNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *memoryExams) Pinned(ctx context.Context, id uuid.UUID, version int) (*model.ExamDefinition, error) {
	e, err := m.Current(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDefinitionUnavailable, err)
	}
	if e.Version != version {
		return nil, ErrDefinitionUnavailable
	}
	return e, nil
}

type recordedEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordedEvents) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordedEvents) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

type recordedRegrades struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (r *recordedRegrades) Enqueue(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return nil
}

type harness struct {
	engine   *SessionEngine
	store    *repository.RedisSessionStore
	exams    *memoryExams
	clock    *testClock
	events   *recordedEvents
	regrades *recordedRegrades
	auth     *AuthService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	h := &harness{
		store:    repository.NewRedisSessionStore(client, nil, zerolog.Nop()),
		exams:    &memoryExams{exams: make(map[uuid.UUID]*model.ExamDefinition)},
		clock:    &testClock{now: time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)},
		events:   &recordedEvents{},
		regrades: &recordedRegrades{},
		auth:     NewAuthService(&config.Config{BcryptCost: 4, JWTSecret: "test-secret", JWTExpiry: time.Hour}),
	}
	h.engine = NewSessionEngine(Dependencies{
		Store:        h.store,
		Locker:       lock.NewLocalLocker(lock.Options{Wait: 5 * time.Second}),
		Exams:        h.exams,
		Passwords:    h.auth,
		Events:       h.events,
		Regrade:      h.regrades,
		Clock:        h.clock.Now,
		RetryBackoff: time.Millisecond,
		Log:          zerolog.Nop(),
	})
	return h
}

// scenarioExam is a 30 minute exam with a 10 point single-select question
// (correct "B") and a 5 point short-text question.
func (h *harness) scenarioExam(t *testing.T, mutate ...func(*model.ExamDefinition)) (*model.ExamDefinition, uuid.UUID, uuid.UUID) {
	t.Helper()
	hash, err := h.auth.HashPassword(examPassword)
	require.NoError(t, err)

	q1, q2 := uuid.New(), uuid.New()
	exam := &model.ExamDefinition{
		ID:               uuid.New(),
		Version:          1,
		Title:            "Physics midterm",
		Description:      "Kinematics",
		DurationMinutes:  30,
		ResultVisibility: model.ResultVisibilityImmediate,
		PasswordHash:     hash,
		Status:           model.ExamStatusPublished,
		Questions: []model.Question{
			{
				ID:   q1,
				Type: model.QuestionTypeSingleSelect,
				Text: "Unit of force?",
				Options: []model.Option{
					{Key: "A", Label: "Joule"},
					{Key: "B", Label: "Newton"},
					{Key: "C", Label: "Watt"},
				},
				CorrectAnswer: model.ScalarAnswer("B"),
				Points:        10,
				Explanation:   "Force is measured in newtons.",
				OrderNum:      1,
			},
			{
				ID:       q2,
				Type:     model.QuestionTypeShortText,
				Text:     "Define inertia.",
				Points:   5,
				OrderNum: 2,
			},
		},
	}
	for _, m := range mutate {
		m(exam)
	}
	require.NoError(t, exam.Validate())
	h.exams.put(exam)
	return exam, q1, q2
}

func (h *harness) start(t *testing.T, exam *model.ExamDefinition, studentID int) *AuthResult {
	t.Helper()
	res, err := h.engine.Authenticate(context.Background(), exam.ID, studentID, examPassword)
	require.NoError(t, err)
	return res
}

func (h *harness) session(t *testing.T, id uuid.UUID) *model.ExamSession {
	t.Helper()
	sess, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return sess
}

func ptr[T any](v T) *T { return &v }
