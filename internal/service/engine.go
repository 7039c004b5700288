package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/observability"
)

// SessionEngine is the outward face of the exam session lifecycle. Every
// operation takes an explicit session id; nothing is implied by connection state.
type SessionEngine struct {
	core      *sessionCore
	auth      *Authenticator
	autosave  *AutosaveService
	deadlines *DeadlineEnforcer
	grading   *GradingEngine
	results   *ResultMaterializer
}

// NewSessionEngine wires the engine components around one shared core.
func NewSessionEngine(d Dependencies) *SessionEngine {
	core := newSessionCore(d)
	deadlines := newDeadlineEnforcer(core, d.Overdue, d.SweepBatch)
	return &SessionEngine{
		core:      core,
		auth:      newAuthenticator(core, d.Passwords),
		autosave:  newAutosaveService(core),
		deadlines: deadlines,
		grading:   newGradingEngine(core),
		results:   newResultMaterializer(core, deadlines),
	}
}

// Authenticate unlocks an exam for a student and returns the attempt.
func (e *SessionEngine) Authenticate(ctx context.Context, examID uuid.UUID, studentID int, password string) (*AuthResult, error) {
	res, err := e.auth.Authenticate(ctx, examID, studentID, password)
	e.observe("authenticate", err)
	return res, err
}

// SaveAnswer autosaves one answer.
func (e *SessionEngine) SaveAnswer(ctx context.Context, sessionID uuid.UUID, studentID int, questionID uuid.UUID, value model.AnswerValue, timeDeltaSeconds int) (*SaveReceipt, error) {
	res, err := e.autosave.SaveAnswer(ctx, sessionID, studentID, questionID, value, timeDeltaSeconds)
	e.observe("save_answer", err)
	return res, err
}

// Submit closes the attempt on the student's request.
func (e *SessionEngine) Submit(ctx context.Context, sessionID uuid.UUID, studentID int) (*model.ExamSession, error) {
	res, err := e.grading.Submit(ctx, sessionID, studentID)
	e.observe("submit", err)
	return res, err
}

// ManualGrade applies creator scores and feedback.
func (e *SessionEngine) ManualGrade(ctx context.Context, sessionID uuid.UUID, graderID int, scores []QuestionScore, feedback string) (*GradeOutcome, error) {
	res, err := e.grading.ManualGrade(ctx, sessionID, graderID, scores, feedback)
	e.observe("manual_grade", err)
	return res, err
}

// GetResult materializes the result for viewer.
func (e *SessionEngine) GetResult(ctx context.Context, sessionID uuid.UUID, viewer model.Viewer) (*model.Result, error) {
	res, err := e.results.BuildResult(ctx, sessionID, viewer)
	e.observe("get_result", err)
	return res, err
}

// GetState returns the resume view of a student's attempt.
func (e *SessionEngine) GetState(ctx context.Context, sessionID uuid.UUID, studentID int) (*SessionState, error) {
	res, err := e.results.State(ctx, sessionID, studentID)
	e.observe("get_state", err)
	return res, err
}

// Sweep runs one proactive deadline pass.
func (e *SessionEngine) Sweep(ctx context.Context) (SweepReport, error) {
	report, err := e.deadlines.Sweep(ctx)
	e.observe("sweep", err)
	return report, err
}

// Regrade retries auto-grading of an ungraded submission.
func (e *SessionEngine) Regrade(ctx context.Context, sessionID uuid.UUID) error {
	_, err := e.grading.Regrade(ctx, sessionID)
	e.observe("regrade", err)
	return err
}

func (e *SessionEngine) observe(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
	}
	observability.SessionOperations().WithLabelValues(op, outcome).Inc()

	switch {
	case err == nil:
	case IsExpected(err):
		e.core.log.Debug().Err(err).Str("operation", op).Msg("Operation rejected")
	case KindOf(err) == KindInternal || KindOf(err) == KindDefinitionUnavailable:
		e.core.log.Error().Err(err).Str("operation", op).Msg("Operation failed")
	default:
		e.core.log.Info().Err(err).Str("operation", op).Msg("Operation rejected")
	}
}
