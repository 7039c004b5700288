package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/observability"
)

// IsAcceptable reports whether a session may still be mutated by its student.
// The deadline itself is inclusive.
func IsAcceptable(sess *model.ExamSession, now time.Time) bool {
	return sess.Status == model.SessionStatusActive && !now.After(sess.Deadline)
}

// RemainingTime is the advisory countdown shown to clients.
func RemainingTime(sess *model.ExamSession, now time.Time) time.Duration {
	return sess.Remaining(now)
}

func remainingSeconds(sess *model.ExamSession, now time.Time) int {
	return int(RemainingTime(sess, now).Seconds())
}

// SweepReport summarizes one proactive deadline pass.
type SweepReport struct {
	Scanned   int `json:"scanned"`
	Submitted int `json:"submitted"`
	Expired   int `json:"expired"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// DeadlineEnforcer closes sessions whose server-side deadline has passed,
// either lazily on the next interaction or proactively from the sweeper.
type DeadlineEnforcer struct {
	core    *sessionCore
	overdue OverdueSource
	batch   int
}

func newDeadlineEnforcer(core *sessionCore, overdue OverdueSource, batch int) *DeadlineEnforcer {
	if batch <= 0 {
		batch = 200
	}
	return &DeadlineEnforcer{core: core, overdue: overdue, batch: batch}
}

// Check runs lazy enforcement on a session read outside the lock and returns
// the current copy. Sessions that are still within time are returned as is.
func (d *DeadlineEnforcer) Check(ctx context.Context, sess *model.ExamSession) (*model.ExamSession, error) {
	now := d.core.now()
	if sess.Status != model.SessionStatusActive || !now.After(sess.Deadline) {
		return sess, nil
	}

	exam, err := d.core.pinned(ctx, sess)
	if err != nil {
		// Closing the session must not wait for the definition; grading catches up via regrade.
		d.core.log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("Enforcing deadline without definition")
		exam = nil
	}

	return d.core.mutate(ctx, sess.ID, func(s *model.ExamSession, now time.Time) (bool, error) {
		return d.core.enforceDeadline(s, exam, now), nil
	})
}

// Sweep enforces every overdue session it can find, oldest deadline first.
func (d *DeadlineEnforcer) Sweep(ctx context.Context) (SweepReport, error) {
	start := time.Now()
	defer func() { observability.SweepDuration().Observe(time.Since(start).Seconds()) }()

	var report SweepReport
	now := d.core.now()

	ids, err := d.core.store.DueForDeadline(ctx, now, d.batch)
	if err != nil {
		return report, err
	}
	if len(ids) < d.batch && d.overdue != nil {
		extra, err := d.overdue.ListOverdueActive(ctx, now, d.batch-len(ids))
		if err != nil {
			d.core.log.Warn().Err(err).Msg("Archive overdue scan failed")
		}
		ids = mergeIDs(ids, extra)
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Scanned++

		sess, err := d.core.load(ctx, id)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				_ = d.core.store.ForgetDeadline(ctx, id)
				report.Skipped++
				continue
			}
			report.Failed++
			d.core.log.Error().Err(err).Str("session_id", id.String()).Msg("Sweep load failed")
			continue
		}
		if sess.Status != model.SessionStatusActive {
			_ = d.core.store.ForgetDeadline(ctx, id)
			report.Skipped++
			continue
		}

		closed, err := d.Check(ctx, sess)
		if err != nil {
			report.Failed++
			d.core.log.Warn().Err(err).Str("session_id", id.String()).Msg("Sweep enforcement failed")
			continue
		}
		switch closed.Status {
		case model.SessionStatusExpired:
			report.Expired++
		case model.SessionStatusSubmitted, model.SessionStatusGraded:
			report.Submitted++
		default:
			report.Skipped++
		}
	}
	return report, nil
}

func mergeIDs(a, b []uuid.UUID) []uuid.UUID {
	if len(b) == 0 {
		return a
	}
	seen := make(map[uuid.UUID]struct{}, len(a)+len(b))
	out := make([]uuid.UUID, 0, len(a)+len(b))
	for _, list := range [][]uuid.UUID{a, b} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
