package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
)

// AuthResult is what a student receives after unlocking an exam.
type AuthResult struct {
	Session          *model.ExamSession `json:"-"`
	Exam             model.ExamPayload  `json:"exam"`
	Deadline         time.Time          `json:"deadline"`
	RemainingSeconds int                `json:"remaining_seconds"`
	Resumed          bool               `json:"resumed"`
}

// Authenticator gates exam start behind the exam password and the
// availability window, and creates or resumes the student's single attempt.
type Authenticator struct {
	core      *sessionCore
	passwords PasswordChecker
	shuffle   func(ids []uuid.UUID)
}

func newAuthenticator(core *sessionCore, passwords PasswordChecker) *Authenticator {
	return &Authenticator{
		core:      core,
		passwords: passwords,
		shuffle: func(ids []uuid.UUID) {
			rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
		},
	}
}

// Authenticate checks, in order: the exam is published, now is within its
// window, and the password matches. It then returns the student's ACTIVE
// session, creating one when none exists. A student whose attempt is already
// closed gets ErrAlreadySubmitted or ErrSessionExpired.
func (a *Authenticator) Authenticate(ctx context.Context, examID uuid.UUID, studentID int, password string) (*AuthResult, error) {
	now := a.core.now()

	exam, err := a.core.exams.Current(ctx, examID)
	if err != nil {
		if errors.Is(err, ErrExamNotFound) {
			return nil, ErrExamNotPublished
		}
		return nil, err
	}
	if exam.Status != model.ExamStatusPublished {
		return nil, ErrExamNotPublished
	}
	if !exam.WithinWindow(now) {
		return nil, ErrWindowClosed
	}
	if err := a.passwords.CheckPassword(exam.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}

	var result *AuthResult
	err = a.core.withLock(ctx, config.CacheKey.StudentExamLockKey(examID.String(), studentID), func() error {
		existing, err := a.core.store.GetByExamAndStudent(ctx, examID, studentID)
		switch {
		case err == nil:
			result, err = a.resume(ctx, existing, exam)
			return err
		case errors.Is(err, repository.ErrNotFound):
			result, err = a.create(ctx, exam, studentID, now)
			return err
		default:
			return fmt.Errorf("lookup session: %w", err)
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (a *Authenticator) create(ctx context.Context, exam *model.ExamDefinition, studentID int, now time.Time) (*AuthResult, error) {
	order := exam.QuestionIDs()
	if exam.ShuffleQuestions {
		a.shuffle(order)
	}

	sess := &model.ExamSession{
		ID:            uuid.New(),
		ExamID:        exam.ID,
		ExamVersion:   exam.Version,
		StudentID:     studentID,
		Status:        model.SessionStatusActive,
		StartedAt:     now,
		Deadline:      exam.DeadlineFor(now),
		AutoSubmit:    exam.AutoSubmit,
		QuestionOrder: order,
		Answers:       make(map[uuid.UUID]*model.AnswerRecord),
	}
	if err := a.core.store.Create(ctx, sess); err != nil {
		return nil, err
	}

	a.core.log.Info().
		Str("session_id", sess.ID.String()).
		Str("exam_id", exam.ID.String()).
		Int("student_id", studentID).
		Time("deadline", sess.Deadline).
		Msg("Session started")

	return &AuthResult{
		Session:          sess,
		Exam:             exam.StudentPayload(order),
		Deadline:         sess.Deadline,
		RemainingSeconds: remainingSeconds(sess, now),
	}, nil
}

// resume hands back an ACTIVE attempt unchanged, after giving the deadline
// enforcer a chance to close it.
func (a *Authenticator) resume(ctx context.Context, existing *model.ExamSession, current *model.ExamDefinition) (*AuthResult, error) {
	if err := terminalError(existing.Status); err != nil {
		return nil, err
	}

	exam := current
	if existing.ExamVersion != current.Version {
		pinned, err := a.core.pinned(ctx, existing)
		if err != nil {
			return nil, err
		}
		exam = pinned
	}

	sess, err := a.core.mutate(ctx, existing.ID, func(s *model.ExamSession, now time.Time) (bool, error) {
		changed := a.core.enforceDeadline(s, exam, now)
		return changed, terminalError(s.Status)
	})
	if err != nil {
		return nil, err
	}

	now := a.core.now()
	return &AuthResult{
		Session:          sess,
		Exam:             exam.StudentPayload(sess.QuestionOrder),
		Deadline:         sess.Deadline,
		RemainingSeconds: remainingSeconds(sess, now),
		Resumed:          true,
	}, nil
}
