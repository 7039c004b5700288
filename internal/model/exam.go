package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the possible states of an exam.
type ExamStatus string

const (
	ExamStatusDraft     ExamStatus = "DRAFT"
	ExamStatusPublished ExamStatus = "PUBLISHED"
	ExamStatusArchived  ExamStatus = "ARCHIVED"
)

// ResultVisibility controls what a student may see of their own result.
type ResultVisibility string

const (
	// ResultVisibilityImmediate shows full detail as soon as the attempt is submitted.
	ResultVisibilityImmediate ResultVisibility = "IMMEDIATE"
	// ResultVisibilityAfterGrading shows detail only once the attempt is GRADED.
	ResultVisibilityAfterGrading ResultVisibility = "AFTER_GRADING"
	// ResultVisibilityHidden never shows detail to students.
	ResultVisibilityHidden ResultVisibility = "HIDDEN"
)

// ExamDefinition is an immutable snapshot of one version of an exam.
type ExamDefinition struct {
	ID               uuid.UUID        `json:"id"`
	Version          int              `json:"version"`
	Title            string           `json:"title"`
	Description      string           `json:"description"`
	AuthorID         int              `json:"author_id"`
	Questions        []Question       `json:"questions"`
	DurationMinutes  int              `json:"duration_minutes"`
	OpensAt          *time.Time       `json:"opens_at,omitempty"`
	ClosesAt         *time.Time       `json:"closes_at,omitempty"`
	AutoSubmit       bool             `json:"auto_submit"`
	ShuffleQuestions bool             `json:"shuffle_questions"`
	ResultVisibility ResultVisibility `json:"result_visibility"`
	PasswordHash     string           `json:"password_hash,omitempty"`
	Status           ExamStatus       `json:"status"`
}

// Duration returns the allotted attempt length.
func (e *ExamDefinition) Duration() time.Duration {
	return time.Duration(e.DurationMinutes) * time.Minute
}

// WithinWindow reports whether now falls inside the open/close window (inclusive).
func (e *ExamDefinition) WithinWindow(now time.Time) bool {
	if e.OpensAt != nil && now.Before(*e.OpensAt) {
		return false
	}
	if e.ClosesAt != nil && now.After(*e.ClosesAt) {
		return false
	}
	return true
}

// DeadlineFor computes the authoritative deadline of an attempt started at startedAt.
func (e *ExamDefinition) DeadlineFor(startedAt time.Time) time.Time {
	deadline := startedAt.Add(e.Duration())
	if e.ClosesAt != nil && e.ClosesAt.Before(deadline) {
		deadline = *e.ClosesAt
	}
	return deadline
}

// MaxPoints is the sum of all question point values.
func (e *ExamDefinition) MaxPoints() float64 {
	var total float64
	for i := range e.Questions {
		total += e.Questions[i].Points
	}
	return total
}

// Question looks up a question by id.
func (e *ExamDefinition) Question(id uuid.UUID) (*Question, bool) {
	for i := range e.Questions {
		if e.Questions[i].ID == id {
			return &e.Questions[i], true
		}
	}
	return nil, false
}

// HasSubjective reports whether any question needs manual grading.
func (e *ExamDefinition) HasSubjective() bool {
	for i := range e.Questions {
		if !e.Questions[i].Type.IsObjective() {
			return true
		}
	}
	return false
}

// QuestionIDs returns question ids in authoring order.
func (e *ExamDefinition) QuestionIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(e.Questions))
	for i := range e.Questions {
		ids[i] = e.Questions[i].ID
	}
	return ids
}

// Validate checks exam-level and question-level invariants.
func (e *ExamDefinition) Validate() error {
	if e.DurationMinutes <= 0 {
		return errors.New("exam duration must be positive")
	}
	if e.OpensAt != nil && e.ClosesAt != nil && !e.ClosesAt.After(*e.OpensAt) {
		return errors.New("exam close time must be after open time")
	}
	seen := make(map[uuid.UUID]struct{}, len(e.Questions))
	for i := range e.Questions {
		q := &e.Questions[i]
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("duplicate question %s", q.ID)
		}
		seen[q.ID] = struct{}{}
		if err := q.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// StudentPayload builds the student-facing view (no correct answers) in the given order.
// Ids in order that are unknown to the exam are skipped.
func (e *ExamDefinition) StudentPayload(order []uuid.UUID) ExamPayload {
	if len(order) == 0 {
		order = e.QuestionIDs()
	}
	questions := make([]QuestionForStudent, 0, len(order))
	for i, id := range order {
		q, ok := e.Question(id)
		if !ok {
			continue
		}
		questions = append(questions, QuestionForStudent{
			ID:               q.ID,
			Type:             q.Type,
			Text:             q.Text,
			Options:          q.Options,
			Points:           q.Points,
			TimeLimitSeconds: q.TimeLimitSeconds,
			OrderNum:         i + 1,
		})
	}
	return ExamPayload{
		ExamID:          e.ID,
		Title:           e.Title,
		Description:     e.Description,
		DurationMinutes: e.DurationMinutes,
		AutoSubmit:      e.AutoSubmit,
		Questions:       questions,
	}
}

// ExamPayload is the exam snapshot sent to students (no correct answers).
type ExamPayload struct {
	ExamID          uuid.UUID            `json:"exam_id"`
	Title           string               `json:"title"`
	Description     string               `json:"description,omitempty"`
	DurationMinutes int                  `json:"duration_minutes"`
	AutoSubmit      bool                 `json:"auto_submit"`
	Questions       []QuestionForStudent `json:"questions"`
}

// QuestionForStudent is a question without the correct answer, sent to students.
type QuestionForStudent struct {
	ID               uuid.UUID    `json:"id"`
	Type             QuestionType `json:"question_type"`
	Text             string       `json:"question_text"`
	Options          []Option     `json:"options,omitempty"`
	Points           float64      `json:"points"`
	TimeLimitSeconds *int         `json:"time_limit_seconds,omitempty"`
	OrderNum         int          `json:"order_num"`
}
