package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stemsi/exstem-session/internal/model"
)

// QuestionScore is one creator-assigned score.
type QuestionScore struct {
	QuestionID uuid.UUID
	Score      float64
	Feedback   *string
}

// ScoreAdjustment reports a manual score that was clamped into [0, points].
type ScoreAdjustment struct {
	QuestionID uuid.UUID `json:"question_id"`
	Requested  float64   `json:"requested"`
	Applied    float64   `json:"applied"`
}

// GradeOutcome is the result of a manual grading call.
type GradeOutcome struct {
	Session     *model.ExamSession `json:"-"`
	FinalScore  float64            `json:"final_score"`
	Adjustments []ScoreAdjustment  `json:"adjustments,omitempty"`
	Unchanged   bool               `json:"unchanged"`
}

// GradingEngine closes attempts and reconciles automatic and manual scores.
type GradingEngine struct {
	core      *sessionCore
	sanitizer *bluemonday.Policy
	tracer    trace.Tracer
}

func newGradingEngine(core *sessionCore) *GradingEngine {
	return &GradingEngine{
		core:      core,
		sanitizer: bluemonday.StrictPolicy(),
		tracer:    otel.Tracer("github.com/stemsi/exstem-session/internal/service/grading"),
	}
}

// Submit closes the attempt on the student's request and auto-grades it.
// Past the deadline the attempt is closed by the deadline policy instead:
// auto-submit exams still count as submitted, others expire.
func (g *GradingEngine) Submit(ctx context.Context, sessionID uuid.UUID, studentID int) (*model.ExamSession, error) {
	ctx, span := g.tracer.Start(ctx, "session.submit")
	span.SetAttributes(attribute.String("session.id", sessionID.String()))
	defer span.End()

	peek, err := g.core.loadOwned(ctx, sessionID, studentID)
	if err != nil {
		return nil, spanFail(span, err, "session_lookup_failed")
	}
	if err := terminalError(peek.Status); err != nil {
		return nil, err
	}

	exam, err := g.core.pinned(ctx, peek)
	if err != nil {
		// Never score against a different version: close ungraded and let the regrade worker finish.
		span.RecordError(err)
		g.core.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Submitting without definition")
		exam = nil
	}

	sess, err := g.core.mutate(ctx, sessionID, func(s *model.ExamSession, now time.Time) (bool, error) {
		if err := terminalError(s.Status); err != nil {
			return false, err
		}
		if !IsAcceptable(s, now) {
			g.core.enforceDeadline(s, exam, now)
			if s.Status == model.SessionStatusExpired {
				return true, ErrSessionExpired
			}
			return true, nil
		}
		g.core.submit(s, exam, model.SubmitReasonStudent, now, now)
		return true, nil
	})
	if err != nil {
		return nil, spanFail(span, err, "submit_failed")
	}

	span.SetAttributes(
		attribute.String("session.status", string(sess.Status)),
		attribute.Bool("session.auto_graded", sess.AutoGraded),
		attribute.Float64("session.auto_score", sess.AutoScore),
	)
	return sess, nil
}

// ManualGrade merges creator scores into a submitted session and marks it GRADED.
// Calling it again with the same input leaves the session untouched.
func (g *GradingEngine) ManualGrade(ctx context.Context, sessionID uuid.UUID, graderID int, scores []QuestionScore, feedback string) (*GradeOutcome, error) {
	ctx, span := g.tracer.Start(ctx, "session.manual_grade")
	span.SetAttributes(
		attribute.String("session.id", sessionID.String()),
		attribute.Int("grading.grader_id", graderID),
		attribute.Int("grading.scores", len(scores)),
	)
	defer span.End()

	peek, err := g.core.load(ctx, sessionID)
	if err != nil {
		return nil, spanFail(span, err, "session_lookup_failed")
	}
	if !gradable(peek.Status) {
		return nil, spanFail(span, ErrSessionNotSubmitted, "session_not_submitted")
	}

	exam, err := g.core.pinned(ctx, peek)
	if err != nil {
		return nil, spanFail(span, err, "definition_unavailable")
	}
	for _, sc := range scores {
		if _, ok := exam.Question(sc.QuestionID); !ok {
			return nil, spanFail(span, ErrQuestionNotInExam, "unknown_question")
		}
	}

	feedback = g.sanitize(feedback)
	cleaned := make([]QuestionScore, len(scores))
	for i, sc := range scores {
		cleaned[i] = sc
		if sc.Feedback != nil {
			f := g.sanitize(*sc.Feedback)
			cleaned[i].Feedback = &f
		}
	}

	out := &GradeOutcome{}
	sess, err := g.core.mutate(ctx, sessionID, func(s *model.ExamSession, now time.Time) (bool, error) {
		if !gradable(s.Status) {
			return false, ErrSessionNotSubmitted
		}
		before := gradeFingerprint(s)

		if !s.AutoGraded {
			AutoGrade(s, exam)
		}
		out.Adjustments = applyManualScores(s, exam, cleaned)
		s.Feedback = feedback
		s.Status = model.SessionStatusGraded
		recomputeScores(s, exam)

		if gradeFingerprint(s) == before {
			out.Unchanged = true
			return false, nil
		}
		s.GradedAt = &now
		s.GradedBy = &graderID
		return true, nil
	})
	if err != nil {
		return nil, spanFail(span, err, "manual_grade_failed")
	}

	out.Session = sess
	if sess.FinalScore != nil {
		out.FinalScore = *sess.FinalScore
	}
	span.SetAttributes(
		attribute.Bool("grading.idempotent", out.Unchanged),
		attribute.Int("grading.adjustments", len(out.Adjustments)),
		attribute.Float64("grading.final_score", out.FinalScore),
	)
	return out, nil
}

// Regrade retries auto-grading for a session that was submitted while its
// definition was unavailable. Sessions that are already graded are left alone.
func (g *GradingEngine) Regrade(ctx context.Context, sessionID uuid.UUID) (*model.ExamSession, error) {
	ctx, span := g.tracer.Start(ctx, "session.regrade")
	span.SetAttributes(attribute.String("session.id", sessionID.String()))
	defer span.End()

	peek, err := g.core.load(ctx, sessionID)
	if err != nil {
		return nil, spanFail(span, err, "session_lookup_failed")
	}
	if peek.Status != model.SessionStatusSubmitted || peek.AutoGraded {
		return peek, nil
	}

	exam, err := g.core.pinned(ctx, peek)
	if err != nil {
		return nil, spanFail(span, err, "definition_unavailable")
	}

	sess, err := g.core.mutate(ctx, sessionID, func(s *model.ExamSession, now time.Time) (bool, error) {
		if s.Status != model.SessionStatusSubmitted || s.AutoGraded {
			return false, nil
		}
		AutoGrade(s, exam)
		settle(s, exam, now)
		return true, nil
	})
	if err != nil {
		return nil, spanFail(span, err, "regrade_failed")
	}
	return sess, nil
}

func (g *GradingEngine) sanitize(s string) string {
	return strings.TrimSpace(g.sanitizer.Sanitize(s))
}

// AutoGrade scores every objective question of exam against the session's
// answers. Subjective questions are marked PENDING. Manual overrides survive.
func AutoGrade(sess *model.ExamSession, exam *model.ExamDefinition) {
	var total float64
	for i := range exam.Questions {
		q := &exam.Questions[i]
		rec := sess.Answer(q.ID)

		switch {
		case !q.Type.IsObjective():
			rec.Outcome = model.GradeOutcomePending
			rec.AwardedPoints = 0
		case rec.Value.IsEmpty():
			rec.Outcome = model.GradeOutcomeUnanswered
			rec.AwardedPoints = 0
		case q.Matches(rec.Value):
			rec.Outcome = model.GradeOutcomeCorrect
			rec.AwardedPoints = q.Points
		default:
			rec.Outcome = model.GradeOutcomeIncorrect
			rec.AwardedPoints = 0
		}
		total += rec.AwardedPoints
	}
	sess.AutoScore = total
	sess.AutoGraded = true
	recomputeScores(sess, exam)
}

// settle promotes a freshly auto-graded submission to GRADED when nothing
// is left for a human to score.
func settle(sess *model.ExamSession, exam *model.ExamDefinition, now time.Time) {
	if sess.Status != model.SessionStatusSubmitted || !sess.AutoGraded || exam.HasSubjective() {
		return
	}
	sess.Status = model.SessionStatusGraded
	sess.GradedAt = &now
	recomputeScores(sess, exam)
}

// recomputeScores derives ManualScore and FinalScore from the answer records.
// A manual score replaces the automatic points of its question; it never adds to them.
func recomputeScores(sess *model.ExamSession, exam *model.ExamDefinition) {
	var manual, final float64
	for i := range exam.Questions {
		rec, ok := sess.Answers[exam.Questions[i].ID]
		if !ok {
			continue
		}
		if rec.ManualScore != nil {
			manual += *rec.ManualScore
		}
		final += rec.Points()
	}
	sess.ManualScore = manual
	if sess.Status == model.SessionStatusGraded {
		sess.FinalScore = &final
	}
}

func applyManualScores(sess *model.ExamSession, exam *model.ExamDefinition, scores []QuestionScore) []ScoreAdjustment {
	var adjustments []ScoreAdjustment
	for _, sc := range scores {
		q, ok := exam.Question(sc.QuestionID)
		if !ok {
			continue
		}
		applied := clampScore(sc.Score, q.Points)
		if applied != sc.Score {
			adjustments = append(adjustments, ScoreAdjustment{
				QuestionID: sc.QuestionID,
				Requested:  sc.Score,
				Applied:    applied,
			})
		}
		rec := sess.Answer(sc.QuestionID)
		rec.ManualScore = &applied
		if sc.Feedback != nil {
			f := *sc.Feedback
			rec.ManualFeedback = &f
		}
	}
	return adjustments
}

func clampScore(score, max float64) float64 {
	switch {
	case math.IsNaN(score), score < 0:
		return 0
	case score > max:
		return max
	}
	return score
}

func gradable(s model.SessionStatus) bool {
	return s == model.SessionStatusSubmitted || s == model.SessionStatusGraded
}

// gradeFingerprint captures everything grading may change, for no-op detection.
func gradeFingerprint(sess *model.ExamSession) string {
	type answerGrade struct {
		Outcome  model.GradeOutcome `json:"o"`
		Awarded  float64            `json:"a"`
		Manual   *float64           `json:"m"`
		Feedback *string            `json:"f"`
	}
	view := struct {
		Status     model.SessionStatus       `json:"s"`
		AutoGraded bool                      `json:"g"`
		Feedback   string                    `json:"f"`
		Final      *float64                  `json:"t"`
		Answers    map[uuid.UUID]answerGrade `json:"a"`
	}{
		Status:     sess.Status,
		AutoGraded: sess.AutoGraded,
		Feedback:   sess.Feedback,
		Final:      sess.FinalScore,
		Answers:    make(map[uuid.UUID]answerGrade, len(sess.Answers)),
	}
	for id, rec := range sess.Answers {
		view.Answers[id] = answerGrade{rec.Outcome, rec.AwardedPoints, rec.ManualScore, rec.ManualFeedback}
	}
	raw, _ := json.Marshal(view)
	return string(raw)
}

func spanFail(span trace.Span, err error, status string) error {
	if !errors.Is(err, ErrSessionExpired) && !errors.Is(err, ErrAlreadySubmitted) {
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
	}
	return err
}
