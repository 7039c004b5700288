package model

import (
	"time"

	"github.com/google/uuid"
)

// ViewerRole distinguishes who is looking at a result.
type ViewerRole string

const (
	ViewerRoleStudent ViewerRole = "student"
	ViewerRoleCreator ViewerRole = "creator"
)

// Viewer is the authenticated caller of a result request.
type Viewer struct {
	Role   ViewerRole
	UserID int
}

// GradingStatus summarizes how far grading has progressed.
type GradingStatus string

const (
	GradingStatusPendingReview   GradingStatus = "PENDING_REVIEW"
	GradingStatusPartiallyGraded GradingStatus = "PARTIALLY_GRADED"
	GradingStatusGraded          GradingStatus = "GRADED"
	GradingStatusNotScored       GradingStatus = "NOT_SCORED"
)

// Result is the role-sensitive materialized view of a finished session.
type Result struct {
	SessionID        uuid.UUID     `json:"session_id"`
	ExamID           uuid.UUID     `json:"exam_id"`
	StudentID        int           `json:"student_id"`
	Title            string        `json:"title"`
	Description      string        `json:"description,omitempty"`
	Status           SessionStatus `json:"status"`
	GradingStatus    GradingStatus `json:"grading_status"`
	Detailed         bool          `json:"detailed"`
	Message          string        `json:"message,omitempty"`
	SubmittedAt      *time.Time    `json:"submitted_at,omitempty"`
	Score            *float64      `json:"score,omitempty"`
	MaxPoints        *float64      `json:"max_points,omitempty"`
	Percentage       *float64      `json:"percentage,omitempty"`
	TimeSpentSeconds *int          `json:"time_spent_seconds,omitempty"`
	Feedback         string        `json:"feedback,omitempty"`
	Items            []ResultItem  `json:"items,omitempty"`
}

// ResultItem is the per-question breakdown of a detailed result.
type ResultItem struct {
	QuestionID       uuid.UUID    `json:"question_id"`
	QuestionType     QuestionType `json:"question_type"`
	QuestionText     string       `json:"question_text"`
	StudentAnswer    AnswerValue  `json:"student_answer"`
	CorrectAnswer    AnswerValue  `json:"correct_answer"`
	Outcome          GradeOutcome `json:"outcome"`
	AwardedPoints    float64      `json:"awarded_points"`
	MaxPoints        float64      `json:"max_points"`
	Pending          bool         `json:"pending"`
	Explanation      string       `json:"explanation,omitempty"`
	Feedback         string       `json:"feedback,omitempty"`
	TimeSpentSeconds int          `json:"time_spent_seconds"`
}
