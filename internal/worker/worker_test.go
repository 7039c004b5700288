package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return server, client
}

type mapReader map[uuid.UUID]*model.ExamSession

func (m mapReader) Get(_ context.Context, id uuid.UUID) (*model.ExamSession, error) {
	if s, ok := m[id]; ok {
		return s, nil
	}
	return nil, repository.ErrNotFound
}

type fakeArchive struct {
	mu         sync.Mutex
	batchErr   error
	failSingle map[uuid.UUID]bool
	batches    [][]uuid.UUID
	singles    []uuid.UUID
}

func (a *fakeArchive) UpsertBatch(_ context.Context, sessions []*model.ExamSession) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.batchErr != nil {
		return a.batchErr
	}
	ids := make([]uuid.UUID, len(sessions))
	for i, s := range sessions {
		ids[i] = s.ID
	}
	a.batches = append(a.batches, ids)
	return nil
}

func (a *fakeArchive) Upsert(_ context.Context, s *model.ExamSession) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failSingle[s.ID] {
		return errors.New("constraint violation")
	}
	a.singles = append(a.singles, s.ID)
	return nil
}

func TestPersistFlushDeduplicates(t *testing.T) {
	_, rdb := newRedis(t)
	id := uuid.New()
	archive := &fakeArchive{}
	w := NewSessionPersistWorker(rdb, mapReader{id: {ID: id}}, archive, zerolog.Nop())

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, rdb.RPush(ctx, config.WorkerKey.PersistSessionsQueue, id.String()).Err())
	}

	pending := map[uuid.UUID]struct{}{}
	for i := 0; i < 3; i++ {
		got, ok := w.poll(ctx)
		require.True(t, ok)
		pending[got] = struct{}{}
	}
	require.Zero(t, w.flush(ctx, pending))
	require.Equal(t, [][]uuid.UUID{{id}}, archive.batches)
}

func TestPersistFallbackRequeuesFailures(t *testing.T) {
	_, rdb := newRedis(t)
	ok, bad, gone := uuid.New(), uuid.New(), uuid.New()
	archive := &fakeArchive{
		batchErr:   errors.New("batch aborted"),
		failSingle: map[uuid.UUID]bool{bad: true},
	}
	reader := mapReader{ok: {ID: ok}, bad: {ID: bad}}
	w := NewSessionPersistWorker(rdb, reader, archive, zerolog.Nop())

	ctx := context.Background()
	requeued := w.flush(ctx, map[uuid.UUID]struct{}{ok: {}, bad: {}, gone: {}})
	require.Equal(t, 1, requeued)
	require.Equal(t, []uuid.UUID{ok}, archive.singles)

	queued, err := rdb.LRange(ctx, config.WorkerKey.PersistSessionsQueue, 0, -1).Result()
	require.NoError(t, err)
	require.Equal(t, []string{bad.String()}, queued)
}

func TestPersistWorkerDrainsOnShutdown(t *testing.T) {
	_, rdb := newRedis(t)
	reader := mapReader{}
	ctx := context.Background()
	for i := 0; i < PersistBatchSize+5; i++ {
		id := uuid.New()
		reader[id] = &model.ExamSession{ID: id}
		require.NoError(t, rdb.RPush(ctx, config.WorkerKey.PersistSessionsQueue, id.String()).Err())
	}
	require.NoError(t, rdb.RPush(ctx, config.WorkerKey.PersistSessionsQueue, "not-a-uuid").Err())

	archive := &fakeArchive{}
	w := NewSessionPersistWorker(rdb, reader, archive, zerolog.Nop())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	w.Start(cancelled)

	persisted := 0
	for _, b := range archive.batches {
		persisted += len(b)
	}
	require.Equal(t, PersistBatchSize+5, persisted)
	n, err := rdb.LLen(ctx, config.WorkerKey.PersistSessionsQueue).Result()
	require.NoError(t, err)
	require.Zero(t, n)
}

type fakeRegrader struct {
	mu    sync.Mutex
	calls []uuid.UUID
	err   error
}

func (f *fakeRegrader) Regrade(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	return f.err
}

func TestRegradeWorkerProcessesQueue(t *testing.T) {
	_, rdb := newRedis(t)
	ctx := context.Background()
	id := uuid.New()
	require.NoError(t, NewRegradeQueue(rdb).Enqueue(ctx, id))

	regrader := &fakeRegrader{}
	w := NewRegradeWorker(rdb, regrader, zerolog.Nop())
	require.True(t, w.processNext(ctx))
	require.Equal(t, []uuid.UUID{id}, regrader.calls)

	n, err := rdb.LLen(ctx, config.WorkerKey.RegradeQueue).Result()
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestRegradeWorkerRequeuesFailures(t *testing.T) {
	_, rdb := newRedis(t)
	ctx := context.Background()
	id := uuid.New()
	require.NoError(t, NewRegradeQueue(rdb).Enqueue(ctx, id))

	regrader := &fakeRegrader{err: service.ErrDefinitionUnavailable}
	w := NewRegradeWorker(rdb, regrader, zerolog.Nop())
	w.retryDelay = time.Millisecond
	require.True(t, w.processNext(ctx))

	queued, err := rdb.LRange(ctx, config.WorkerKey.RegradeQueue, 0, -1).Result()
	require.NoError(t, err)
	require.Equal(t, []string{id.String()}, queued)
}

type countingSweeper struct {
	mu     sync.Mutex
	passes int
}

func (s *countingSweeper) Sweep(context.Context) (service.SweepReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passes++
	return service.SweepReport{Scanned: 1, Expired: 1}, nil
}

func (s *countingSweeper) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passes
}

func TestDeadlineSweeperTicks(t *testing.T) {
	sweeper := &countingSweeper{}
	s := NewDeadlineSweeper(sweeper, 5*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return sweeper.count() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
