package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/validator"
)

// SessionEngine is the part of the session engine the HTTP and WebSocket layers drive.
type SessionEngine interface {
	Authenticate(ctx context.Context, examID uuid.UUID, studentID int, password string) (*service.AuthResult, error)
	SaveAnswer(ctx context.Context, sessionID uuid.UUID, studentID int, questionID uuid.UUID, value model.AnswerValue, timeDeltaSeconds int) (*service.SaveReceipt, error)
	Submit(ctx context.Context, sessionID uuid.UUID, studentID int) (*model.ExamSession, error)
	ManualGrade(ctx context.Context, sessionID uuid.UUID, graderID int, scores []service.QuestionScore, feedback string) (*service.GradeOutcome, error)
	GetResult(ctx context.Context, sessionID uuid.UUID, viewer model.Viewer) (*model.Result, error)
	GetState(ctx context.Context, sessionID uuid.UUID, studentID int) (*service.SessionState, error)
}

// StudentPortalHandler handles student-facing endpoints (exam taking, results).
type StudentPortalHandler struct {
	engine SessionEngine
}

// NewStudentPortalHandler creates a new StudentPortalHandler.
func NewStudentPortalHandler(engine SessionEngine) *StudentPortalHandler {
	return &StudentPortalHandler{engine: engine}
}

// Authenticate godoc
// POST /api/v1/student/exams/:exam_id/authenticate
// Checks the exam password and creates or resumes the student's attempt.
func (h *StudentPortalHandler) Authenticate(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, fields := validator.ParamUUID(c, "exam_id")
	if fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return
	}

	var req model.AuthenticateRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	res, err := h.engine.Authenticate(c.Request.Context(), examID, claims.UserID, req.Password)
	if err != nil {
		failEngine(c, err)
		return
	}

	status := http.StatusCreated
	if res.Resumed {
		status = http.StatusOK
	}
	response.Success(c, status, gin.H{
		"session_id":        res.Session.ID,
		"exam":              res.Exam,
		"deadline":          res.Deadline,
		"server_time":       time.Now().UTC(),
		"remaining_seconds": res.RemainingSeconds,
		"resumed":           res.Resumed,
	})
}

// SaveAnswer godoc
// PUT /api/v1/student/sessions/:session_id/answers/:question_id
// Autosaves one answer. Safe to retry.
func (h *StudentPortalHandler) SaveAnswer(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, fields := validator.ParamUUID(c, "session_id")
	if fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return
	}
	questionID, fields := validator.ParamUUID(c, "question_id")
	if fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return
	}

	var req model.SaveAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	receipt, err := h.engine.SaveAnswer(c.Request.Context(), sessionID, claims.UserID, questionID, req.Answer, req.TimeDeltaSeconds)
	if err != nil {
		failEngine(c, err)
		return
	}

	response.Success(c, http.StatusOK, receipt)
}

// Submit godoc
// POST /api/v1/student/sessions/:session_id/submit
func (h *StudentPortalHandler) Submit(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, fields := validator.ParamUUID(c, "session_id")
	if fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return
	}

	sess, err := h.engine.Submit(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		failEngine(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"session_id":    sess.ID,
		"status":        sess.Status,
		"submit_reason": sess.SubmitReason,
		"submitted_at":  sess.SubmittedAt,
	})
}

// GetState godoc
// GET /api/v1/student/sessions/:session_id/state
// Covers page reloads: saved answers, the authoritative deadline and remaining time.
func (h *StudentPortalHandler) GetState(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, fields := validator.ParamUUID(c, "session_id")
	if fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return
	}

	state, err := h.engine.GetState(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		failEngine(c, err)
		return
	}

	response.Success(c, http.StatusOK, state)
}

// GetResult godoc
// GET /api/v1/student/sessions/:session_id/result
func (h *StudentPortalHandler) GetResult(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, fields := validator.ParamUUID(c, "session_id")
	if fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return
	}

	viewer := model.Viewer{Role: model.ViewerRoleStudent, UserID: claims.UserID}
	res, err := h.engine.GetResult(c.Request.Context(), sessionID, viewer)
	if err != nil {
		failEngine(c, err)
		return
	}

	response.Success(c, http.StatusOK, res)
}
