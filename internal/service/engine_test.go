package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/events"
	"github.com/stemsi/exstem-session/internal/lock"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stretchr/testify/require"
)

func TestScenarioManualGradeReaches86Point7Percent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exam, q1, q2 := h.scenarioExam(t)
	t0 := h.clock.Now()

	auth := h.start(t, exam, 11)
	require.True(t, auth.Deadline.Equal(t0.Add(30*time.Minute)))
	require.Equal(t, 30*60, auth.RemainingSeconds)
	require.Len(t, auth.Exam.Questions, 2)

	sessionID := auth.Session.ID

	h.clock.Advance(5 * time.Minute)
	_, err := h.engine.SaveAnswer(ctx, sessionID, 11, q1, model.ScalarAnswer("B"), 300)
	require.NoError(t, err)

	h.clock.Advance(5 * time.Minute)
	_, err = h.engine.SaveAnswer(ctx, sessionID, 11, q2, model.ScalarAnswer("x"), 300)
	require.NoError(t, err)

	h.clock.Advance(2 * time.Minute)
	sess, err := h.engine.Submit(ctx, sessionID, 11)
	require.NoError(t, err)
	require.Equal(t, model.SessionStatusSubmitted, sess.Status)
	require.Equal(t, model.SubmitReasonStudent, sess.SubmitReason)
	require.InDelta(t, 10, sess.AutoScore, 1e-9)
	require.Equal(t, model.GradeOutcomeCorrect, sess.Answers[q1].Outcome)
	require.Equal(t, model.GradeOutcomePending, sess.Answers[q2].Outcome)
	require.Nil(t, sess.FinalScore)

	outcome, err := h.engine.ManualGrade(ctx, sessionID, 900, []QuestionScore{{QuestionID: q2, Score: 3}}, "Good start")
	require.NoError(t, err)
	require.InDelta(t, 13, outcome.FinalScore, 1e-9)
	require.Equal(t, model.SessionStatusGraded, outcome.Session.Status)
	require.Equal(t, 900, *outcome.Session.GradedBy)

	res, err := h.engine.GetResult(ctx, sessionID, model.Viewer{Role: model.ViewerRoleStudent, UserID: 11})
	require.NoError(t, err)
	require.True(t, res.Detailed)
	require.Equal(t, model.GradingStatusGraded, res.GradingStatus)
	require.InDelta(t, 13, *res.Score, 1e-9)
	require.InDelta(t, 15, *res.MaxPoints, 1e-9)
	require.InDelta(t, 86.7, *res.Percentage, 1e-9)
	require.Equal(t, 600, *res.TimeSpentSeconds)
	require.Equal(t, "Good start", res.Feedback)
	require.Len(t, res.Items, 2)
	require.Equal(t, model.GradeOutcomeCorrect, res.Items[0].Outcome)
	require.False(t, res.Items[1].Pending)

	require.Equal(t, []events.Type{events.SessionSubmitted, events.SessionGraded}, h.events.types())
}

func TestScenarioAutoSubmitBySweep(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exam, q1, _ := h.scenarioExam(t, func(e *model.ExamDefinition) { e.AutoSubmit = true })

	auth := h.start(t, exam, 12)
	_, err := h.engine.SaveAnswer(ctx, auth.Session.ID, 12, q1, model.ScalarAnswer("B"), 60)
	require.NoError(t, err)

	h.clock.Advance(30*time.Minute + time.Second)

	report, err := h.engine.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, SweepReport{Scanned: 1, Submitted: 1}, report)

	sess := h.session(t, auth.Session.ID)
	require.Equal(t, model.SessionStatusSubmitted, sess.Status)
	require.Equal(t, model.SubmitReasonDeadline, sess.SubmitReason)
	require.True(t, sess.SubmittedAt.Equal(sess.Deadline))
	require.InDelta(t, 10, sess.AutoScore, 1e-9)

	res, err := h.engine.GetResult(ctx, sess.ID, model.Viewer{Role: model.ViewerRoleStudent, UserID: 12})
	require.NoError(t, err)
	require.Equal(t, DeadlineMessage, res.Message)

	// A second sweep finds nothing left to do.
	report, err = h.engine.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, report.Scanned)
}

func TestLazyEnforcementOnAutosave(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exam, q1, _ := h.scenarioExam(t, func(e *model.ExamDefinition) { e.AutoSubmit = true })

	auth := h.start(t, exam, 13)
	_, err := h.engine.SaveAnswer(ctx, auth.Session.ID, 13, q1, model.ScalarAnswer("A"), 30)
	require.NoError(t, err)

	h.clock.Advance(31 * time.Minute)
	_, err = h.engine.SaveAnswer(ctx, auth.Session.ID, 13, q1, model.ScalarAnswer("B"), 30)
	require.ErrorIs(t, err, ErrSessionExpired)

	sess := h.session(t, auth.Session.ID)
	require.Equal(t, model.SessionStatusSubmitted, sess.Status)
	require.Equal(t, "A", sess.Answers[q1].Value.Text())
	require.Equal(t, 30, sess.Answers[q1].TimeSpentSeconds)

	_, err = h.engine.Submit(ctx, auth.Session.ID, 13)
	require.ErrorIs(t, err, ErrAlreadySubmitted)
}

func TestDeadlineWithoutAutoSubmitExpires(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exam, _, _ := h.scenarioExam(t)

	auth := h.start(t, exam, 14)
	h.clock.Advance(31 * time.Minute)

	_, err := h.engine.Submit(ctx, auth.Session.ID, 14)
	require.ErrorIs(t, err, ErrSessionExpired)
	require.Equal(t, model.SessionStatusExpired, h.session(t, auth.Session.ID).Status)

	res, err := h.engine.GetResult(ctx, auth.Session.ID, model.Viewer{Role: model.ViewerRoleCreator, UserID: 1})
	require.NoError(t, err)
	require.Equal(t, model.GradingStatusNotScored, res.GradingStatus)
	require.Nil(t, res.Score)

	_, err = h.engine.Authenticate(ctx, exam.ID, 14, examPassword)
	require.ErrorIs(t, err, ErrSessionExpired)

	require.Equal(t, []events.Type{events.SessionExpired}, h.events.types())
}

func TestSubmitAtDeadlineIsAccepted(t *testing.T) {
	h := newHarness(t)
	exam, _, _ := h.scenarioExam(t)
	auth := h.start(t, exam, 15)

	h.clock.Advance(30 * time.Minute)
	sess, err := h.engine.Submit(context.Background(), auth.Session.ID, 15)
	require.NoError(t, err)
	require.Equal(t, model.SubmitReasonStudent, sess.SubmitReason)
}

func TestAuthenticateAfterCloseIsWindowClosed(t *testing.T) {
	h := newHarness(t)
	exam, _, _ := h.scenarioExam(t, func(e *model.ExamDefinition) {
		opens := time.Date(2026, 5, 4, 7, 0, 0, 0, time.UTC)
		closes := time.Date(2026, 5, 4, 7, 59, 0, 0, time.UTC)
		e.OpensAt, e.ClosesAt = &opens, &closes
	})

	_, err := h.engine.Authenticate(context.Background(), exam.ID, 16, examPassword)
	require.ErrorIs(t, err, ErrWindowClosed)
	require.Equal(t, KindWindowClosed, KindOf(err))
}

func TestAuthenticateChecks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	exam, _, _ := h.scenarioExam(t)
	_, err := h.engine.Authenticate(ctx, exam.ID, 17, "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	draft, _, _ := h.scenarioExam(t, func(e *model.ExamDefinition) { e.Status = model.ExamStatusDraft })
	_, err = h.engine.Authenticate(ctx, draft.ID, 17, examPassword)
	require.ErrorIs(t, err, ErrExamNotPublished)

	_, err = h.engine.Authenticate(ctx, uuid.New(), 17, examPassword)
	require.ErrorIs(t, err, ErrExamNotPublished)

	noPassword, _, _ := h.scenarioExam(t, func(e *model.ExamDefinition) { e.PasswordHash = "" })
	_, err = h.engine.Authenticate(ctx, noPassword.ID, 17, "")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	h.exams.setDown(true)
	_, err = h.engine.Authenticate(ctx, exam.ID, 17, examPassword)
	require.ErrorIs(t, err, ErrDefinitionUnavailable)
}

func TestDeadlineIsCappedByCloseTime(t *testing.T) {
	h := newHarness(t)
	closes := h.clock.Now().Add(10 * time.Minute)
	exam, _, _ := h.scenarioExam(t, func(e *model.ExamDefinition) { e.ClosesAt = &closes })

	auth := h.start(t, exam, 18)
	require.True(t, auth.Deadline.Equal(closes))
}

func TestAuthenticateResumesActiveSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exam, q1, _ := h.scenarioExam(t)

	first := h.start(t, exam, 19)
	_, err := h.engine.SaveAnswer(ctx, first.Session.ID, 19, q1, model.ScalarAnswer("C"), 10)
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	second := h.start(t, exam, 19)
	require.True(t, second.Resumed)
	require.Equal(t, first.Session.ID, second.Session.ID)
	require.True(t, second.Deadline.Equal(first.Deadline))
	require.Equal(t, "C", second.Session.Answers[q1].Value.Text())

	_, err = h.engine.Submit(ctx, first.Session.ID, 19)
	require.NoError(t, err)

	_, err = h.engine.Authenticate(ctx, exam.ID, 19, examPassword)
	require.ErrorIs(t, err, ErrAlreadySubmitted)
}

func TestShuffledOrderIsPinned(t *testing.T) {
	h := newHarness(t)
	exam, q1, q2 := h.scenarioExam(t, func(e *model.ExamDefinition) { e.ShuffleQuestions = true })
	h.engine.auth.shuffle = func(ids []uuid.UUID) { ids[0], ids[1] = ids[1], ids[0] }

	auth := h.start(t, exam, 20)
	require.Equal(t, []uuid.UUID{q2, q1}, auth.Session.QuestionOrder)
	require.Equal(t, q2, auth.Exam.Questions[0].ID)
	require.Equal(t, 1, auth.Exam.Questions[0].OrderNum)
}

func TestConcurrentAutosavesDoNotLoseTime(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exam, q1, _ := h.scenarioExam(t)
	auth := h.start(t, exam, 21)

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			value := "A"
			if i%2 == 0 {
				value = "B"
			}
			if _, err := h.engine.SaveAnswer(ctx, auth.Session.ID, 21, q1, model.ScalarAnswer(value), 3); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	sess := h.session(t, auth.Session.ID)
	require.Equal(t, writers*3, sess.Answers[q1].TimeSpentSeconds)
	require.Equal(t, int64(1+writers), sess.Revision)
}

func TestTimeSpentIsMonotonicAndCapped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exam, q1, _ := h.scenarioExam(t, func(e *model.ExamDefinition) { e.Questions[0].TimeLimitSeconds = ptr(90) })
	auth := h.start(t, exam, 22)

	receipt, err := h.engine.SaveAnswer(ctx, auth.Session.ID, 22, q1, model.ScalarAnswer("A"), 40)
	require.NoError(t, err)
	require.Equal(t, 40, receipt.TimeSpentSeconds)

	receipt, err = h.engine.SaveAnswer(ctx, auth.Session.ID, 22, q1, model.ScalarAnswer("B"), -25)
	require.NoError(t, err)
	require.Equal(t, 40, receipt.TimeSpentSeconds)

	receipt, err = h.engine.SaveAnswer(ctx, auth.Session.ID, 22, q1, model.ScalarAnswer(""), 200)
	require.NoError(t, err)
	require.Equal(t, 90, receipt.TimeSpentSeconds)

	// Overwriting with an empty value keeps the accumulated time.
	sess := h.session(t, auth.Session.ID)
	require.True(t, sess.Answers[q1].Value.IsEmpty())
	require.Equal(t, 90, sess.Answers[q1].TimeSpentSeconds)
}

func TestAutosaveRejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exam, q1, _ := h.scenarioExam(t)
	auth := h.start(t, exam, 23)

	_, err := h.engine.SaveAnswer(ctx, auth.Session.ID, 23, uuid.New(), model.ScalarAnswer("A"), 1)
	require.ErrorIs(t, err, ErrQuestionNotInExam)

	_, err = h.engine.SaveAnswer(ctx, auth.Session.ID, 23, q1, model.ScalarAnswer("Z"), 1)
	require.ErrorIs(t, err, ErrInvalidAnswer)

	_, err = h.engine.SaveAnswer(ctx, auth.Session.ID, 99, q1, model.ScalarAnswer("A"), 1)
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, err = h.engine.SaveAnswer(ctx, uuid.New(), 23, q1, model.ScalarAnswer("A"), 1)
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, err = h.engine.Submit(ctx, auth.Session.ID, 23)
	require.NoError(t, err)
	_, err = h.engine.SaveAnswer(ctx, auth.Session.ID, 23, q1, model.ScalarAnswer("A"), 1)
	require.ErrorIs(t, err, ErrAlreadySubmitted)
	require.True(t, IsExpected(err))
}

func TestSubmitTwiceIsAlreadySubmitted(t *testing.T) {
	h := newHarness(t)
	exam, _, _ := h.scenarioExam(t)
	auth := h.start(t, exam, 24)

	_, err := h.engine.Submit(context.Background(), auth.Session.ID, 24)
	require.NoError(t, err)
	_, err = h.engine.Submit(context.Background(), auth.Session.ID, 24)
	require.ErrorIs(t, err, ErrAlreadySubmitted)
}

func TestObjectiveOnlyExamIsGradedAtSubmit(t *testing.T) {
	h := newHarness(t)
	exam, q1, _ := h.scenarioExam(t, func(e *model.ExamDefinition) { e.Questions = e.Questions[:1] })
	auth := h.start(t, exam, 25)

	_, err := h.engine.SaveAnswer(context.Background(), auth.Session.ID, 25, q1, model.ScalarAnswer("A"), 5)
	require.NoError(t, err)

	sess, err := h.engine.Submit(context.Background(), auth.Session.ID, 25)
	require.NoError(t, err)
	require.Equal(t, model.SessionStatusGraded, sess.Status)
	require.NotNil(t, sess.FinalScore)
	require.Zero(t, *sess.FinalScore)
	require.Equal(t, model.GradeOutcomeIncorrect, sess.Answers[q1].Outcome)
}

func TestMultiSelectHasNoPartialCreditUntilManualOverride(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	multi := uuid.New()
	exam, _, _ := h.scenarioExam(t, func(e *model.ExamDefinition) {
		e.Questions = append(e.Questions, model.Question{
			ID:   multi,
			Type: model.QuestionTypeMultiSelect,
			Text: "Which are vectors?",
			Options: []model.Option{
				{Key: "A", Label: "Velocity"}, {Key: "B", Label: "Force"},
				{Key: "C", Label: "Momentum"}, {Key: "D", Label: "Mass"},
			},
			CorrectAnswer: model.ListAnswer("A", "B", "C"),
			Points:        4,
			OrderNum:      3,
		})
	})
	auth := h.start(t, exam, 26)

	_, err := h.engine.SaveAnswer(ctx, auth.Session.ID, 26, multi, model.ListAnswer("B", "A"), 20)
	require.NoError(t, err)
	sess, err := h.engine.Submit(ctx, auth.Session.ID, 26)
	require.NoError(t, err)
	require.Equal(t, model.GradeOutcomeIncorrect, sess.Answers[multi].Outcome)
	require.Zero(t, sess.AutoScore)

	out, err := h.engine.ManualGrade(ctx, auth.Session.ID, 1, []QuestionScore{{QuestionID: multi, Score: 2.5}}, "")
	require.NoError(t, err)
	require.InDelta(t, 2.5, out.FinalScore, 1e-9)
	require.InDelta(t, 2.5, out.Session.ManualScore, 1e-9)
}

func TestManualGradeIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exam, q1, q2 := h.scenarioExam(t)
	auth := h.start(t, exam, 27)

	_, err := h.engine.SaveAnswer(ctx, auth.Session.ID, 27, q1, model.ScalarAnswer("B"), 5)
	require.NoError(t, err)
	_, err = h.engine.Submit(ctx, auth.Session.ID, 27)
	require.NoError(t, err)

	scores := []QuestionScore{{QuestionID: q2, Score: 4, Feedback: ptr("Clear definition")}}
	first, err := h.engine.ManualGrade(ctx, auth.Session.ID, 1, scores, "Well done")
	require.NoError(t, err)
	require.False(t, first.Unchanged)

	h.clock.Advance(time.Hour)
	second, err := h.engine.ManualGrade(ctx, auth.Session.ID, 1, scores, "Well done")
	require.NoError(t, err)
	require.True(t, second.Unchanged)
	require.InDelta(t, first.FinalScore, second.FinalScore, 1e-9)
	require.InDelta(t, 14, second.FinalScore, 1e-9)
	require.True(t, first.Session.GradedAt.Equal(*second.Session.GradedAt))
	require.Equal(t, first.Session.Revision, second.Session.Revision)
}

func TestManualGradeClampsAndRejects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exam, q1, q2 := h.scenarioExam(t)
	auth := h.start(t, exam, 28)

	_, err := h.engine.ManualGrade(ctx, auth.Session.ID, 1, []QuestionScore{{QuestionID: q2, Score: 1}}, "")
	require.ErrorIs(t, err, ErrSessionNotSubmitted)

	_, err = h.engine.Submit(ctx, auth.Session.ID, 28)
	require.NoError(t, err)

	_, err = h.engine.ManualGrade(ctx, auth.Session.ID, 1, []QuestionScore{{QuestionID: uuid.New(), Score: 1}}, "")
	require.ErrorIs(t, err, ErrQuestionNotInExam)

	out, err := h.engine.ManualGrade(ctx, auth.Session.ID, 1, []QuestionScore{
		{QuestionID: q2, Score: 9},
		{QuestionID: q1, Score: -3},
	}, "<script>alert(1)</script>Needs work")
	require.NoError(t, err)
	require.Equal(t, []ScoreAdjustment{
		{QuestionID: q2, Requested: 9, Applied: 5},
		{QuestionID: q1, Requested: -3, Applied: 0},
	}, out.Adjustments)
	require.InDelta(t, 5, out.FinalScore, 1e-9)
	require.Equal(t, "Needs work", out.Session.Feedback)
}

func TestSubmitWithoutDefinitionQueuesRegrade(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exam, q1, _ := h.scenarioExam(t, func(e *model.ExamDefinition) { e.Questions = e.Questions[:1] })
	auth := h.start(t, exam, 29)

	_, err := h.engine.SaveAnswer(ctx, auth.Session.ID, 29, q1, model.ScalarAnswer("B"), 5)
	require.NoError(t, err)

	h.exams.setDown(true)
	sess, err := h.engine.Submit(ctx, auth.Session.ID, 29)
	require.NoError(t, err)
	require.Equal(t, model.SessionStatusSubmitted, sess.Status)
	require.False(t, sess.AutoGraded)
	require.Equal(t, []uuid.UUID{auth.Session.ID}, h.regrades.ids)

	_, err = h.engine.GetResult(ctx, auth.Session.ID, model.Viewer{Role: model.ViewerRoleCreator})
	require.ErrorIs(t, err, ErrDefinitionUnavailable)
	require.ErrorIs(t, h.engine.Regrade(ctx, auth.Session.ID), ErrDefinitionUnavailable)

	h.exams.setDown(false)
	require.NoError(t, h.engine.Regrade(ctx, auth.Session.ID))

	graded := h.session(t, auth.Session.ID)
	require.Equal(t, model.SessionStatusGraded, graded.Status)
	require.InDelta(t, 10, *graded.FinalScore, 1e-9)

	// Regrading a graded session is a no-op.
	require.NoError(t, h.engine.Regrade(ctx, auth.Session.ID))
	require.Equal(t, graded.Revision, h.session(t, auth.Session.ID).Revision)
}

func TestPinnedVersionIsUsedForGrading(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exam, q1, _ := h.scenarioExam(t)
	auth := h.start(t, exam, 30)

	_, err := h.engine.SaveAnswer(ctx, auth.Session.ID, 30, q1, model.ScalarAnswer("B"), 5)
	require.NoError(t, err)

	edited := *exam
	edited.Version = 2
	h.exams.put(&edited)

	sess, err := h.engine.Submit(ctx, auth.Session.ID, 30)
	require.NoError(t, err)
	require.False(t, sess.AutoGraded, "must not grade against a different version")
}

func TestResultVisibility(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name       string
		visibility model.ResultVisibility
		grade      bool
		detailed   bool
	}{
		{"immediate before grading", model.ResultVisibilityImmediate, false, true},
		{"after grading, not yet graded", model.ResultVisibilityAfterGrading, false, false},
		{"after grading, graded", model.ResultVisibilityAfterGrading, true, true},
		{"hidden, graded", model.ResultVisibilityHidden, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			exam, q1, q2 := h.scenarioExam(t, func(e *model.ExamDefinition) { e.ResultVisibility = tc.visibility })
			auth := h.start(t, exam, 31)
			_, err := h.engine.SaveAnswer(ctx, auth.Session.ID, 31, q1, model.ScalarAnswer("B"), 5)
			require.NoError(t, err)
			_, err = h.engine.Submit(ctx, auth.Session.ID, 31)
			require.NoError(t, err)
			if tc.grade {
				_, err = h.engine.ManualGrade(ctx, auth.Session.ID, 1, []QuestionScore{{QuestionID: q2, Score: 5}}, "")
				require.NoError(t, err)
			}

			res, err := h.engine.GetResult(ctx, auth.Session.ID, model.Viewer{Role: model.ViewerRoleStudent, UserID: 31})
			require.NoError(t, err)
			require.Equal(t, tc.detailed, res.Detailed)
			if !tc.detailed {
				require.Nil(t, res.Score)
				require.Empty(t, res.Items)
			}

			creator, err := h.engine.GetResult(ctx, auth.Session.ID, model.Viewer{Role: model.ViewerRoleCreator, UserID: 1})
			require.NoError(t, err)
			require.True(t, creator.Detailed)
			require.Len(t, creator.Items, 2)
		})
	}
}

func TestResultAccessRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exam, _, _ := h.scenarioExam(t)
	auth := h.start(t, exam, 32)

	_, err := h.engine.GetResult(ctx, auth.Session.ID, model.Viewer{Role: model.ViewerRoleStudent, UserID: 32})
	require.ErrorIs(t, err, ErrSessionNotSubmitted)

	_, err = h.engine.Submit(ctx, auth.Session.ID, 32)
	require.NoError(t, err)

	_, err = h.engine.GetResult(ctx, auth.Session.ID, model.Viewer{Role: model.ViewerRoleStudent, UserID: 33})
	require.ErrorIs(t, err, ErrSessionNotFound)

	res, err := h.engine.GetResult(ctx, auth.Session.ID, model.Viewer{Role: model.ViewerRoleCreator, UserID: 1})
	require.NoError(t, err)
	require.Equal(t, model.GradingStatusPendingReview, res.GradingStatus)
	require.True(t, res.Items[1].Pending)
}

func TestGetStateEnforcesDeadline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exam, q1, _ := h.scenarioExam(t)
	auth := h.start(t, exam, 34)

	_, err := h.engine.SaveAnswer(ctx, auth.Session.ID, 34, q1, model.ScalarAnswer("A"), 12)
	require.NoError(t, err)

	h.clock.Advance(10 * time.Minute)
	state, err := h.engine.GetState(ctx, auth.Session.ID, 34)
	require.NoError(t, err)
	require.Equal(t, model.SessionStatusActive, state.Status)
	require.Equal(t, 20*60, state.RemainingSeconds)
	require.Equal(t, 12, state.Answers[q1].TimeSpentSeconds)
	require.Empty(t, state.Answers[q1].Outcome)

	h.clock.Advance(21 * time.Minute)
	state, err = h.engine.GetState(ctx, auth.Session.ID, 34)
	require.NoError(t, err)
	require.Equal(t, model.SessionStatusExpired, state.Status)
	require.Zero(t, state.RemainingSeconds)
}

func TestRemainingNeverGoesNegative(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exam, q1, _ := h.scenarioExam(t)
	auth := h.start(t, exam, 36)

	require.Equal(t, 30*time.Minute, RemainingTime(auth.Session, h.clock.Now()))

	h.clock.Advance(10 * time.Minute)
	receipt, err := h.engine.SaveAnswer(ctx, auth.Session.ID, 36, q1, model.ScalarAnswer("A"), 1)
	require.NoError(t, err)
	require.Equal(t, 20*60, receipt.RemainingSeconds)

	h.clock.Advance(35 * time.Minute)
	require.Zero(t, RemainingTime(auth.Session, h.clock.Now()))
}

func TestOversizedTimeDeltaIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exam, _, q2 := h.scenarioExam(t)
	auth := h.start(t, exam, 37)

	_, err := h.engine.SaveAnswer(ctx, auth.Session.ID, 37, q2, model.ScalarAnswer("x"), math.MaxInt)
	require.ErrorIs(t, err, ErrInvalidAnswer)
	_, saved := h.session(t, auth.Session.ID).Answers[q2]
	require.False(t, saved)

	receipt, err := h.engine.SaveAnswer(ctx, auth.Session.ID, 37, q2, model.ScalarAnswer("x"), 5)
	require.NoError(t, err)
	require.Equal(t, 5, receipt.TimeSpentSeconds)

	receipt, err = h.engine.SaveAnswer(ctx, auth.Session.ID, 37, q2, model.ScalarAnswer("x"), MaxTimeDeltaSeconds)
	require.NoError(t, err)
	require.Equal(t, 5+MaxTimeDeltaSeconds, receipt.TimeSpentSeconds)

	_, err = h.engine.SaveAnswer(ctx, auth.Session.ID, 37, q2, model.ScalarAnswer("x"), MaxTimeDeltaSeconds+1)
	require.ErrorIs(t, err, ErrInvalidAnswer)
	require.Equal(t, 5+MaxTimeDeltaSeconds, h.session(t, auth.Session.ID).Answers[q2].TimeSpentSeconds)
}

func TestLateSubmitOnAutoSubmitExamClosesAtDeadline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exam, q1, _ := h.scenarioExam(t, func(e *model.ExamDefinition) { e.AutoSubmit = true })
	auth := h.start(t, exam, 38)

	_, err := h.engine.SaveAnswer(ctx, auth.Session.ID, 38, q1, model.ScalarAnswer("B"), 60)
	require.NoError(t, err)

	h.clock.Advance(31 * time.Minute)
	sess, err := h.engine.Submit(ctx, auth.Session.ID, 38)
	require.NoError(t, err)
	require.Equal(t, model.SessionStatusSubmitted, sess.Status)
	require.Equal(t, model.SubmitReasonDeadline, sess.SubmitReason)
	require.True(t, sess.SubmittedAt.Equal(auth.Deadline))
	require.Equal(t, model.GradeOutcomeCorrect, sess.Answers[q1].Outcome)

	_, err = h.engine.Submit(ctx, auth.Session.ID, 38)
	require.ErrorIs(t, err, ErrAlreadySubmitted)
}

func TestMutateRefusesBackwardTransition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exam, _, _ := h.scenarioExam(t)
	auth := h.start(t, exam, 39)

	_, err := h.engine.Submit(ctx, auth.Session.ID, 39)
	require.NoError(t, err)
	before := h.session(t, auth.Session.ID)

	_, err = h.engine.core.mutate(ctx, auth.Session.ID, func(s *model.ExamSession, _ time.Time) (bool, error) {
		s.Status = model.SessionStatusActive
		return true, nil
	})
	require.ErrorIs(t, err, errIllegalTransition)
	require.Equal(t, KindInternal, KindOf(err))

	after := h.session(t, auth.Session.ID)
	require.Equal(t, model.SessionStatusSubmitted, after.Status)
	require.Equal(t, before.Revision, after.Revision)
}

type stuckLocker struct {
	mu       sync.Mutex
	attempts int
}

func (l *stuckLocker) Acquire(context.Context, string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts++
	return nil, lock.ErrTimeout
}

func TestContentionIsRetriedOnceThenSurfaced(t *testing.T) {
	h := newHarness(t)
	exam, q1, _ := h.scenarioExam(t)
	auth := h.start(t, exam, 35)

	stuck := &stuckLocker{}
	h.engine.core.locker = stuck

	_, err := h.engine.SaveAnswer(context.Background(), auth.Session.ID, 35, q1, model.ScalarAnswer("A"), 1)
	require.ErrorIs(t, err, ErrConcurrentModification)
	require.Equal(t, KindConcurrentModification, KindOf(err))
	require.Equal(t, 2, stuck.attempts)
}

func TestKindOfUnwraps(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), ErrWindowClosed)
	require.Equal(t, KindWindowClosed, KindOf(wrapped))
	require.Equal(t, KindInternal, KindOf(errors.New("boom")))
}
