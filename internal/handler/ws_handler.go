package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/events"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/validator"
	ws "github.com/stemsi/exstem-session/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams an attempt over a WebSocket: autosave and submit go in,
// acknowledgements and server-side closures come out.
type WSHandler struct {
	rdb      *redis.Client
	engine   SessionEngine
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler. rdb may be nil, which disables
// server-pushed closure notices.
func NewWSHandler(rdb *redis.Client, engine SessionEngine, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		rdb:      rdb,
		engine:   engine,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/student/sessions/:session_id/stream
func (h *WSHandler) SessionStream(c *gin.Context) {
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
	studentID := claims.UserID

	// Ownership and lazy deadline enforcement happen before the upgrade so
	// failures still get a normal HTTP error.
	state, err := h.engine.GetState(c.Request.Context(), sessionID, studentID)
	if err != nil {
		failEngine(c, err)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.Wrap(raw)
	defer conn.Close()

	wsLog := h.log.With().
		Int("student_id", studentID).
		Str("session_id", sessionID.String()).
		Logger()
	wsLog.Info().Msg("Student connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if h.rdb != nil {
		go h.forwardClosures(ctx, conn, state.ExamID, sessionID, wsLog)
	}

	for {
		var msg ws.Request
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}

		switch msg.Action {
		case ws.ActionAutosave:
			h.handleAutosave(ctx, conn, sessionID, studentID, &msg)
		case ws.ActionSubmit:
			h.handleSubmit(ctx, conn, wsLog, sessionID, studentID)
		case ws.ActionPing:
			h.handlePing(ctx, conn, sessionID, studentID)
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			conn.WriteError(string(response.ErrInvalidPayload), "unknown action: "+string(msg.Action))
		}
	}
}

func (h *WSHandler) handleAutosave(ctx context.Context, conn *ws.Conn, sessionID uuid.UUID, studentID int, msg *ws.Request) {
	questionID, err := uuid.Parse(msg.QID)
	if err != nil {
		conn.WriteError(string(response.ErrInvalidID), "invalid q_id format")
		return
	}

	receipt, err := h.engine.SaveAnswer(ctx, sessionID, studentID, questionID, msg.Answer, msg.TimeDelta)
	if err != nil {
		writeEngineError(conn, err)
		return
	}

	conn.WriteTyped(ws.SavedResponse{
		Event:            ws.EventSaved,
		QID:              questionID,
		TimeSpentSeconds: receipt.TimeSpentSeconds,
		RemainingSeconds: receipt.RemainingSeconds,
	})
}

func (h *WSHandler) handleSubmit(ctx context.Context, conn *ws.Conn, wsLog zerolog.Logger, sessionID uuid.UUID, studentID int) {
	sess, err := h.engine.Submit(ctx, sessionID, studentID)
	if err != nil {
		writeEngineError(conn, err)
		return
	}

	wsLog.Info().Str("status", string(sess.Status)).Msg("Exam submitted")
	conn.WriteTyped(ws.SubmittedResponse{
		Event:  ws.EventSubmitted,
		Status: sess.Status,
		Reason: sess.SubmitReason,
	})
}

func (h *WSHandler) handlePing(ctx context.Context, conn *ws.Conn, sessionID uuid.UUID, studentID int) {
	state, err := h.engine.GetState(ctx, sessionID, studentID)
	if err != nil {
		writeEngineError(conn, err)
		return
	}
	conn.WriteTyped(ws.PongResponse{Event: ws.EventPong, RemainingSeconds: state.RemainingSeconds})
}

// forwardClosures relays lifecycle events for this session from the exam's
// Redis channel, so a sweeper-side auto-submit reaches the open tab.
func (h *WSHandler) forwardClosures(ctx context.Context, conn *ws.Conn, examID, sessionID uuid.UUID, log zerolog.Logger) {
	sub := h.rdb.Subscribe(ctx, config.CacheKey.ExamEventsChannel(examID.String()))
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			var e events.Event
			if err := json.Unmarshal([]byte(m.Payload), &e); err != nil {
				log.Warn().Err(err).Msg("Malformed session event")
				continue
			}
			serverSide := e.Type == events.SessionExpired ||
				(e.Type == events.SessionSubmitted && e.Reason == string(model.SubmitReasonDeadline))
			if e.SessionID != sessionID || !serverSide {
				continue
			}
			conn.WriteTyped(ws.ClosedResponse{Event: ws.EventClosed, Status: e.Status, Reason: e.Reason})
		}
	}
}

func writeEngineError(conn *ws.Conn, err error) {
	_, code := engineStatus(err)
	conn.WriteError(string(code), response.GetMessage(code))
}
