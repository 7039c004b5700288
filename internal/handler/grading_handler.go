package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/validator"
)

// GradingHandler serves exam creators: full results and manual grading.
type GradingHandler struct {
	engine SessionEngine
}

// NewGradingHandler creates a new GradingHandler.
func NewGradingHandler(engine SessionEngine) *GradingHandler {
	return &GradingHandler{engine: engine}
}

// GetResult godoc
// GET /api/v1/creator/sessions/:session_id/result
// Creators always receive full detail regardless of the visibility policy.
func (h *GradingHandler) GetResult(c *gin.Context) {
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

	viewer := model.Viewer{Role: model.ViewerRoleCreator, UserID: claims.UserID}
	res, err := h.engine.GetResult(c.Request.Context(), sessionID, viewer)
	if err != nil {
		failEngine(c, err)
		return
	}

	response.Success(c, http.StatusOK, res)
}

// ManualGrade godoc
// POST /api/v1/creator/sessions/:session_id/grade
// Scores outside [0, points] are clamped and reported back as adjustments.
func (h *GradingHandler) ManualGrade(c *gin.Context) {
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

	var req model.ManualGradeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	scores := make([]service.QuestionScore, len(req.Scores))
	for i, s := range req.Scores {
		scores[i] = service.QuestionScore{QuestionID: s.QuestionID, Score: s.Score, Feedback: s.Feedback}
	}

	out, err := h.engine.ManualGrade(c.Request.Context(), sessionID, claims.UserID, scores, req.Feedback)
	if err != nil {
		failEngine(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"session_id":  out.Session.ID,
		"status":      out.Session.Status,
		"final_score": out.FinalScore,
		"adjustments": out.Adjustments,
		"unchanged":   out.Unchanged,
		"graded_at":   out.Session.GradedAt,
	})
}
