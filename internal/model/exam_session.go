package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates exam session states.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "ACTIVE"
	SessionStatusExpired   SessionStatus = "EXPIRED"
	SessionStatusSubmitted SessionStatus = "SUBMITTED"
	SessionStatusGraded    SessionStatus = "GRADED"
)

// IsTerminal reports whether no student-driven mutation is possible any more.
func (s SessionStatus) IsTerminal() bool {
	return s != SessionStatusActive
}

// CanTransitionTo enforces the forward-only lifecycle:
// ACTIVE -> SUBMITTED | EXPIRED | GRADED (objective-only exams settle on submit),
// SUBMITTED -> GRADED, GRADED -> GRADED (re-grade).
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case SessionStatusActive:
		return next == SessionStatusSubmitted || next == SessionStatusExpired || next == SessionStatusGraded
	case SessionStatusSubmitted:
		return next == SessionStatusGraded
	case SessionStatusGraded:
		return next == SessionStatusGraded
	}
	return false
}

// SubmitReason records who closed the attempt.
type SubmitReason string

const (
	SubmitReasonStudent  SubmitReason = "STUDENT"
	SubmitReasonDeadline SubmitReason = "DEADLINE"
)

// GradeOutcome is the per-question auto-grade verdict.
type GradeOutcome string

const (
	GradeOutcomeCorrect    GradeOutcome = "CORRECT"
	GradeOutcomeIncorrect  GradeOutcome = "INCORRECT"
	GradeOutcomePending    GradeOutcome = "PENDING"
	GradeOutcomeUnanswered GradeOutcome = "UNANSWERED"
)

// AnswerRecord is the autosaved state of one question within a session.
type AnswerRecord struct {
	QuestionID       uuid.UUID    `json:"question_id"`
	Value            AnswerValue  `json:"value"`
	TimeSpentSeconds int          `json:"time_spent_seconds"`
	SavedAt          time.Time    `json:"saved_at"`
	Outcome          GradeOutcome `json:"outcome,omitempty"`
	AwardedPoints    float64      `json:"awarded_points"`
	ManualScore      *float64     `json:"manual_score,omitempty"`
	ManualFeedback   *string      `json:"manual_feedback,omitempty"`
}

// Points returns the score this record contributes: manual when set, else auto.
func (r *AnswerRecord) Points() float64 {
	if r.ManualScore != nil {
		return *r.ManualScore
	}
	return r.AwardedPoints
}

// ExamSession represents a student's exam attempt.
type ExamSession struct {
	ID            uuid.UUID                   `json:"id"`
	ExamID        uuid.UUID                   `json:"exam_id"`
	ExamVersion   int                         `json:"exam_version"`
	StudentID     int                         `json:"student_id"`
	Status        SessionStatus               `json:"status"`
	StartedAt     time.Time                   `json:"started_at"`
	Deadline      time.Time                   `json:"deadline"`
	AutoSubmit    bool                        `json:"auto_submit"`
	QuestionOrder []uuid.UUID                 `json:"question_order"`
	Answers       map[uuid.UUID]*AnswerRecord `json:"answers"`
	SubmittedAt   *time.Time                  `json:"submitted_at,omitempty"`
	SubmitReason  SubmitReason                `json:"submit_reason,omitempty"`
	AutoGraded    bool                        `json:"auto_graded"`
	AutoScore     float64                     `json:"auto_score"`
	ManualScore   float64                     `json:"manual_score"`
	FinalScore    *float64                    `json:"final_score,omitempty"`
	Feedback      string                      `json:"feedback,omitempty"`
	GradedAt      *time.Time                  `json:"graded_at,omitempty"`
	GradedBy      *int                        `json:"graded_by,omitempty"`
	Revision      int64                       `json:"revision"`
}

// Answer returns the record for a question, creating it when absent.
func (s *ExamSession) Answer(questionID uuid.UUID) *AnswerRecord {
	if s.Answers == nil {
		s.Answers = make(map[uuid.UUID]*AnswerRecord)
	}
	rec, ok := s.Answers[questionID]
	if !ok {
		rec = &AnswerRecord{QuestionID: questionID}
		s.Answers[questionID] = rec
	}
	return rec
}

// TimeSpentSeconds sums the per-question accumulators.
func (s *ExamSession) TimeSpentSeconds() int {
	total := 0
	for _, rec := range s.Answers {
		total += rec.TimeSpentSeconds
	}
	return total
}

// Remaining returns the time left until the deadline, never negative.
func (s *ExamSession) Remaining(now time.Time) time.Duration {
	if s.Status != SessionStatusActive {
		return 0
	}
	remaining := s.Deadline.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// AuthenticateRequest is the payload for unlocking an exam.
type AuthenticateRequest struct {
	Password string `json:"password" binding:"required,notblank,max=128"`
}

// SaveAnswerRequest is the payload of one autosave call.
type SaveAnswerRequest struct {
	Answer           AnswerValue `json:"answer"`
	TimeDeltaSeconds int         `json:"time_delta_seconds" binding:"max=86400"`
}

// QuestionScoreRequest is one creator-assigned score.
type QuestionScoreRequest struct {
	QuestionID uuid.UUID `json:"question_id" binding:"required"`
	Score      float64   `json:"score"`
	Feedback   *string   `json:"feedback" binding:"omitempty,max=5000"`
}

// ManualGradeRequest is the payload for grading a submitted session.
type ManualGradeRequest struct {
	Scores   []QuestionScoreRequest `json:"scores" binding:"dive"`
	Feedback string                 `json:"feedback" binding:"max=5000"`
}
