package service

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/model"
)

// DeadlineMessage is shown to students whose attempt was closed by the clock.
const DeadlineMessage = "Time expired, your answers were submitted."

const (
	pendingReviewMessage = "Submitted, pending review."
	expiredMessage       = "Time expired before the attempt was submitted; it was not scored."
)

// ResultMaterializer assembles the role-sensitive view of a closed session.
type ResultMaterializer struct {
	core      *sessionCore
	deadlines *DeadlineEnforcer
}

func newResultMaterializer(core *sessionCore, deadlines *DeadlineEnforcer) *ResultMaterializer {
	return &ResultMaterializer{core: core, deadlines: deadlines}
}

// BuildResult returns the result of a SUBMITTED, GRADED or EXPIRED session.
// Students only see their own sessions, and only in as much detail as the
// exam's visibility policy allows; creators always get full detail.
func (m *ResultMaterializer) BuildResult(ctx context.Context, sessionID uuid.UUID, viewer model.Viewer) (*model.Result, error) {
	sess, err := m.core.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if viewer.Role != model.ViewerRoleCreator && sess.StudentID != viewer.UserID {
		return nil, ErrSessionNotFound
	}

	sess, err = m.deadlines.Check(ctx, sess)
	if err != nil {
		return nil, err
	}
	if sess.Status == model.SessionStatusActive {
		return nil, ErrSessionNotSubmitted
	}

	exam, err := m.core.pinned(ctx, sess)
	if err != nil {
		return nil, err
	}
	return Materialize(sess, exam, viewer), nil
}

// Materialize builds a Result from a closed session and its pinned exam.
func Materialize(sess *model.ExamSession, exam *model.ExamDefinition, viewer model.Viewer) *model.Result {
	res := &model.Result{
		SessionID:     sess.ID,
		ExamID:        sess.ExamID,
		StudentID:     sess.StudentID,
		Title:         exam.Title,
		Description:   exam.Description,
		Status:        sess.Status,
		GradingStatus: gradingStatus(sess, exam),
		SubmittedAt:   sess.SubmittedAt,
	}

	switch {
	case sess.SubmitReason == model.SubmitReasonDeadline:
		res.Message = DeadlineMessage
	case sess.Status == model.SessionStatusExpired:
		res.Message = expiredMessage
	}

	if viewer.Role != model.ViewerRoleCreator && !studentMayView(sess, exam) {
		if res.Message == "" && sess.Status == model.SessionStatusSubmitted {
			res.Message = pendingReviewMessage
		}
		return res
	}

	res.Detailed = true
	res.Feedback = sess.Feedback

	maxPoints := exam.MaxPoints()
	var score float64
	items := make([]model.ResultItem, 0, len(exam.Questions))
	for _, id := range resultOrder(sess, exam) {
		q, ok := exam.Question(id)
		if !ok {
			continue
		}
		item := model.ResultItem{
			QuestionID:    q.ID,
			QuestionType:  q.Type,
			QuestionText:  q.Text,
			CorrectAnswer: q.CorrectAnswer,
			Outcome:       model.GradeOutcomeUnanswered,
			MaxPoints:     q.Points,
			Explanation:   q.Explanation,
		}
		if rec, ok := sess.Answers[q.ID]; ok {
			item.StudentAnswer = rec.Value
			item.TimeSpentSeconds = rec.TimeSpentSeconds
			if rec.Outcome != "" {
				item.Outcome = rec.Outcome
			}
			item.AwardedPoints = rec.Points()
			if rec.ManualFeedback != nil {
				item.Feedback = *rec.ManualFeedback
			}
			item.Pending = rec.ManualScore == nil && (rec.Outcome == "" || rec.Outcome == model.GradeOutcomePending)
		} else {
			item.Pending = !sess.AutoGraded || !q.Type.IsObjective()
		}
		score += item.AwardedPoints
		items = append(items, item)
	}
	res.Items = items

	if sess.Status != model.SessionStatusExpired {
		if sess.FinalScore != nil {
			score = *sess.FinalScore
		}
		pct := percentage(score, maxPoints)
		res.Score = &score
		res.Percentage = &pct
	}
	res.MaxPoints = &maxPoints
	spent := sess.TimeSpentSeconds()
	res.TimeSpentSeconds = &spent
	return res
}

func studentMayView(sess *model.ExamSession, exam *model.ExamDefinition) bool {
	switch exam.ResultVisibility {
	case model.ResultVisibilityHidden:
		return false
	case model.ResultVisibilityAfterGrading:
		return sess.Status == model.SessionStatusGraded
	default:
		return sess.Status == model.SessionStatusSubmitted || sess.Status == model.SessionStatusGraded
	}
}

func gradingStatus(sess *model.ExamSession, exam *model.ExamDefinition) model.GradingStatus {
	switch sess.Status {
	case model.SessionStatusExpired:
		return model.GradingStatusNotScored
	case model.SessionStatusGraded:
		return model.GradingStatusGraded
	}
	if !sess.AutoGraded {
		return model.GradingStatusPendingReview
	}

	subjective, scored := 0, 0
	for i := range exam.Questions {
		q := &exam.Questions[i]
		if q.Type.IsObjective() {
			continue
		}
		subjective++
		if rec, ok := sess.Answers[q.ID]; ok && rec.ManualScore != nil {
			scored++
		}
	}
	if scored > 0 && scored < subjective {
		return model.GradingStatusPartiallyGraded
	}
	return model.GradingStatusPendingReview
}

// resultOrder lists questions the way the student saw them.
func resultOrder(sess *model.ExamSession, exam *model.ExamDefinition) []uuid.UUID {
	if len(sess.QuestionOrder) == 0 {
		return exam.QuestionIDs()
	}
	return sess.QuestionOrder
}

func percentage(score, maxPoints float64) float64 {
	if maxPoints <= 0 {
		return 0
	}
	return math.Round(score/maxPoints*1000) / 10
}

// SessionState is the resume view of an attempt.
type SessionState struct {
	SessionID        uuid.UUID                         `json:"session_id"`
	ExamID           uuid.UUID                         `json:"exam_id"`
	Status           model.SessionStatus               `json:"status"`
	StartedAt        time.Time                         `json:"started_at"`
	Deadline         time.Time                         `json:"deadline"`
	ServerTime       time.Time                         `json:"server_time"`
	RemainingSeconds int                               `json:"remaining_seconds"`
	QuestionOrder    []uuid.UUID                       `json:"question_order"`
	Answers          map[uuid.UUID]*model.AnswerRecord `json:"answers"`
}

// State returns the student's own attempt after lazy deadline enforcement.
// Grading fields are stripped; results go through BuildResult.
func (m *ResultMaterializer) State(ctx context.Context, sessionID uuid.UUID, studentID int) (*SessionState, error) {
	sess, err := m.core.loadOwned(ctx, sessionID, studentID)
	if err != nil {
		return nil, err
	}
	sess, err = m.deadlines.Check(ctx, sess)
	if err != nil {
		return nil, err
	}

	now := m.core.now()
	answers := make(map[uuid.UUID]*model.AnswerRecord, len(sess.Answers))
	for id, rec := range sess.Answers {
		if rec.Value.IsEmpty() && rec.TimeSpentSeconds == 0 {
			continue
		}
		answers[id] = &model.AnswerRecord{
			QuestionID:       rec.QuestionID,
			Value:            rec.Value,
			TimeSpentSeconds: rec.TimeSpentSeconds,
			SavedAt:          rec.SavedAt,
		}
	}
	return &SessionState{
		SessionID:        sess.ID,
		ExamID:           sess.ExamID,
		Status:           sess.Status,
		StartedAt:        sess.StartedAt,
		Deadline:         sess.Deadline,
		ServerTime:       now,
		RemainingSeconds: remainingSeconds(sess, now),
		QuestionOrder:    sess.QuestionOrder,
		Answers:          answers,
	}, nil
}
