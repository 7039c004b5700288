package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/events"
	"github.com/stemsi/exstem-session/internal/lock"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/observability"
	"github.com/stemsi/exstem-session/internal/repository"
)

// PasswordChecker verifies an exam password against its stored hash.
type PasswordChecker interface {
	CheckPassword(hash, password string) error
}

// RegradeQueue schedules a submitted session for another auto-grade attempt.
type RegradeQueue interface {
	Enqueue(ctx context.Context, sessionID uuid.UUID) error
}

// OverdueSource lists ACTIVE sessions past their deadline from the durable tier.
type OverdueSource interface {
	ListOverdueActive(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

// Dependencies wires the session engine. Store, Locker, Exams and Passwords are required.
type Dependencies struct {
	Store     repository.SessionStore
	Locker    lock.Locker
	Exams     ExamSource
	Passwords PasswordChecker
	Events    events.Publisher
	Regrade   RegradeQueue
	Overdue   OverdueSource

	// Clock defaults to time.Now.
	Clock func() time.Time
	// RetryBackoff is the pause before the single retry of a contended operation.
	RetryBackoff time.Duration
	// SweepBatch caps how many overdue sessions one sweep handles.
	SweepBatch int
	Log        zerolog.Logger
}

// mutation edits a session loaded under its lock. changed=true persists the
// session even when err is non-nil, so an enforcement can be saved while the
// caller's own request is rejected.
type mutation func(sess *model.ExamSession, now time.Time) (changed bool, err error)

// sessionCore holds what every engine component shares: storage, exclusion,
// exam snapshots and the post-write fan-out.
type sessionCore struct {
	store        repository.SessionStore
	locker       lock.Locker
	exams        ExamSource
	events       events.Publisher
	regrade      RegradeQueue
	now          func() time.Time
	retryBackoff time.Duration
	log          zerolog.Logger
}

func newSessionCore(d Dependencies) *sessionCore {
	c := &sessionCore{
		store:        d.Store,
		locker:       d.Locker,
		exams:        d.Exams,
		events:       d.Events,
		regrade:      d.Regrade,
		now:          d.Clock,
		retryBackoff: d.RetryBackoff,
		log:          d.Log.With().Str("component", "session_engine").Logger(),
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.events == nil {
		c.events = events.Nop{}
	}
	if c.retryBackoff <= 0 {
		c.retryBackoff = 100 * time.Millisecond
	}
	return c
}

// withLock runs fn under key. Contention is retried once after retryBackoff.
func (c *sessionCore) withLock(ctx context.Context, key string, fn func() error) error {
	attempt := func() error {
		release, err := c.locker.Acquire(ctx, key)
		if err != nil {
			if errors.Is(err, lock.ErrTimeout) {
				observability.LockTimeouts().Inc()
				return ErrConcurrentModification
			}
			return fmt.Errorf("acquire %s: %w", key, err)
		}
		defer release()
		return fn()
	}

	err := attempt()
	if !errors.Is(err, ErrConcurrentModification) {
		return err
	}

	c.log.Debug().Str("key", key).Msg("Contended, retrying once")
	timer := time.NewTimer(c.retryBackoff)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
	}
	return attempt()
}

// load reads a session without locking.
func (c *sessionCore) load(ctx context.Context, id uuid.UUID) (*model.ExamSession, error) {
	sess, err := c.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	return sess, nil
}

// loadOwned reads a session and hides it from students who do not own it.
func (c *sessionCore) loadOwned(ctx context.Context, id uuid.UUID, studentID int) (*model.ExamSession, error) {
	sess, err := c.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.StudentID != studentID {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// mutate loads the session under its lock, applies fn, and saves on change.
// Lifecycle fan-out happens after the lock is released.
func (c *sessionCore) mutate(ctx context.Context, id uuid.UUID, fn mutation) (*model.ExamSession, error) {
	var (
		out    *model.ExamSession
		before model.SessionStatus
		saved  bool
	)

	err := c.withLock(ctx, config.CacheKey.SessionLockKey(id.String()), func() error {
		saved = false
		sess, err := c.load(ctx, id)
		if err != nil {
			return err
		}
		before = sess.Status

		changed, ferr := fn(sess, c.now())
		if changed && sess.Status != before && !before.CanTransitionTo(sess.Status) {
			return fmt.Errorf("%w: %s -> %s", errIllegalTransition, before, sess.Status)
		}
		if changed {
			if err := c.store.Save(ctx, sess); err != nil {
				if errors.Is(err, repository.ErrConflict) {
					return ErrConcurrentModification
				}
				return fmt.Errorf("save session: %w", err)
			}
			saved = true
		}
		out = sess
		return ferr
	})

	if saved {
		c.afterSave(ctx, before, out)
	}
	return out, err
}

// afterSave publishes lifecycle events and queues ungraded submissions.
func (c *sessionCore) afterSave(ctx context.Context, before model.SessionStatus, sess *model.ExamSession) {
	after := sess.Status

	if before == model.SessionStatusActive && after != model.SessionStatusActive {
		observability.SessionsClosed().WithLabelValues(string(after), string(sess.SubmitReason)).Inc()
		if after == model.SessionStatusExpired {
			c.publish(ctx, events.SessionExpired, sess)
		} else {
			c.publish(ctx, events.SessionSubmitted, sess)
		}
	}
	if after == model.SessionStatusGraded {
		c.publish(ctx, events.SessionGraded, sess)
	}

	if after == model.SessionStatusSubmitted && !sess.AutoGraded && c.regrade != nil {
		if err := c.regrade.Enqueue(ctx, sess.ID); err != nil {
			c.log.Error().Err(err).Str("session_id", sess.ID.String()).Msg("Failed to queue regrade")
		}
	}
}

func (c *sessionCore) publish(ctx context.Context, t events.Type, sess *model.ExamSession) {
	e := events.Event{
		Type:       t,
		SessionID:  sess.ID,
		ExamID:     sess.ExamID,
		StudentID:  sess.StudentID,
		Status:     string(sess.Status),
		Reason:     string(sess.SubmitReason),
		Score:      sess.FinalScore,
		OccurredAt: c.now().UTC(),
	}
	if err := c.events.Publish(ctx, e); err != nil {
		c.log.Warn().Err(err).Str("event", string(t)).Str("session_id", sess.ID.String()).Msg("Event publish failed")
	}
}

// pinned fetches the exact exam version a session was started against.
func (c *sessionCore) pinned(ctx context.Context, sess *model.ExamSession) (*model.ExamDefinition, error) {
	return c.exams.Pinned(ctx, sess.ExamID, sess.ExamVersion)
}

// enforceDeadline closes an ACTIVE session whose deadline has passed. It must
// run under the session lock. exam may be nil; the session is then submitted
// ungraded and picked up by the regrade queue.
func (c *sessionCore) enforceDeadline(sess *model.ExamSession, exam *model.ExamDefinition, now time.Time) bool {
	if sess.Status != model.SessionStatusActive || IsAcceptable(sess, now) {
		return false
	}
	if sess.AutoSubmit {
		c.submit(sess, exam, model.SubmitReasonDeadline, sess.Deadline, now)
	} else {
		sess.Status = model.SessionStatusExpired
	}
	c.log.Debug().
		Str("session_id", sess.ID.String()).
		Str("status", string(sess.Status)).
		Msg("Deadline enforced")
	return true
}

// submit performs ACTIVE -> SUBMITTED and grades what it can.
func (c *sessionCore) submit(sess *model.ExamSession, exam *model.ExamDefinition, reason model.SubmitReason, at, now time.Time) {
	sess.Status = model.SessionStatusSubmitted
	sess.SubmittedAt = &at
	sess.SubmitReason = reason
	if exam == nil {
		sess.AutoGraded = false
		return
	}
	AutoGrade(sess, exam)
	settle(sess, exam, now)
}

// terminalError maps a non-ACTIVE status to the error mutations fail fast with.
func terminalError(status model.SessionStatus) error {
	switch {
	case !status.IsTerminal():
		return nil
	case status == model.SessionStatusExpired:
		return ErrSessionExpired
	default:
		return ErrAlreadySubmitted
	}
}
