package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/model"
)

// SaveReceipt acknowledges one autosave.
type SaveReceipt struct {
	SessionID        uuid.UUID `json:"session_id"`
	QuestionID       uuid.UUID `json:"question_id"`
	SavedAt          time.Time `json:"saved_at"`
	TimeSpentSeconds int       `json:"time_spent_seconds"`
	RemainingSeconds int       `json:"remaining_seconds"`
}

// MaxTimeDeltaSeconds bounds the time a single save may add to a question.
const MaxTimeDeltaSeconds = 86400

// AutosaveService records answers as the student works. Saves are
// last-write-wins on the value and additive on time spent, so retried or
// duplicated calls are harmless.
type AutosaveService struct {
	core *sessionCore
}

func newAutosaveService(core *sessionCore) *AutosaveService {
	return &AutosaveService{core: core}
}

// SaveAnswer upserts one answer. Negative time deltas count as zero; deltas
// above MaxTimeDeltaSeconds are rejected.
func (s *AutosaveService) SaveAnswer(ctx context.Context, sessionID uuid.UUID, studentID int, questionID uuid.UUID, value model.AnswerValue, timeDeltaSeconds int) (*SaveReceipt, error) {
	peek, err := s.core.loadOwned(ctx, sessionID, studentID)
	if err != nil {
		return nil, err
	}
	// Status only moves forward, so a terminal status read outside the lock is final.
	if err := terminalError(peek.Status); err != nil {
		return nil, err
	}

	exam, err := s.core.pinned(ctx, peek)
	if err != nil {
		return nil, err
	}
	q, ok := exam.Question(questionID)
	if !ok {
		return nil, ErrQuestionNotInExam
	}
	if !q.AcceptsAnswer(value) {
		return nil, ErrInvalidAnswer
	}
	if timeDeltaSeconds > MaxTimeDeltaSeconds {
		return nil, ErrInvalidAnswer
	}
	if timeDeltaSeconds < 0 {
		timeDeltaSeconds = 0
	}

	var receipt *SaveReceipt
	_, err = s.core.mutate(ctx, sessionID, func(sess *model.ExamSession, now time.Time) (bool, error) {
		if !IsAcceptable(sess, now) {
			changed := s.core.enforceDeadline(sess, exam, now)
			if now.After(sess.Deadline) {
				return changed, ErrSessionExpired
			}
			return changed, terminalError(sess.Status)
		}

		rec := sess.Answer(questionID)
		rec.Value = value
		rec.TimeSpentSeconds += timeDeltaSeconds
		if q.TimeLimitSeconds != nil && rec.TimeSpentSeconds > *q.TimeLimitSeconds {
			rec.TimeSpentSeconds = max(*q.TimeLimitSeconds, rec.TimeSpentSeconds-timeDeltaSeconds)
		}
		rec.SavedAt = now

		receipt = &SaveReceipt{
			SessionID:        sess.ID,
			QuestionID:       questionID,
			SavedAt:          now,
			TimeSpentSeconds: rec.TimeSpentSeconds,
			RemainingSeconds: remainingSeconds(sess, now),
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}
