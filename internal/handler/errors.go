package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
)

// engineStatus maps an engine error to its HTTP status and API code.
func engineStatus(err error) (int, response.ErrCode) {
	switch service.KindOf(err) {
	case service.KindInvalidCredentials:
		return http.StatusUnauthorized, response.ErrInvalidCredentials
	case service.KindWindowClosed:
		return http.StatusForbidden, response.ErrWindowClosed
	case service.KindExamNotPublished:
		return http.StatusNotFound, response.ErrExamNotPublished
	case service.KindSessionNotFound:
		return http.StatusNotFound, response.ErrSessionNotFound
	case service.KindSessionExpired:
		return http.StatusGone, response.ErrSessionExpired
	case service.KindAlreadySubmitted:
		return http.StatusConflict, response.ErrAlreadySubmitted
	case service.KindSessionNotSubmitted:
		return http.StatusConflict, response.ErrSessionNotSubmitted
	case service.KindConcurrentModification:
		return http.StatusConflict, response.ErrConcurrentModification
	case service.KindDefinitionUnavailable:
		return http.StatusServiceUnavailable, response.ErrDefinitionUnavailable
	case service.KindQuestionNotInExam:
		return http.StatusBadRequest, response.ErrQuestionNotInExam
	case service.KindInvalidAnswer:
		return http.StatusUnprocessableEntity, response.ErrInvalidAnswer
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}

func failEngine(c *gin.Context, err error) {
	status, code := engineStatus(err)
	response.Fail(c, status, code)
}
