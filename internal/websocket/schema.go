package websocket

import (
	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave Action = "autosave"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
)

// Request is one client message. Only autosave uses the answer fields.
type Request struct {
	Action    Action            `json:"action"`
	QID       string            `json:"q_id,omitempty"`
	Answer    model.AnswerValue `json:"ans"`
	TimeDelta int               `json:"time_delta,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError     Event = "error"
	EventSaved     Event = "saved"
	EventSubmitted Event = "submitted"
	EventClosed    Event = "closed"
	EventPong      Event = "pong"
)

type SavedResponse struct {
	Event            Event     `json:"event"`
	QID              uuid.UUID `json:"q_id"`
	TimeSpentSeconds int       `json:"time_spent_seconds"`
	RemainingSeconds int       `json:"remaining_seconds"`
}

type SubmittedResponse struct {
	Event  Event               `json:"event"`
	Status model.SessionStatus `json:"status"`
	Reason model.SubmitReason  `json:"reason,omitempty"`
}

// ClosedResponse tells the client the server ended the attempt on its own,
// e.g. the deadline sweeper auto-submitted it.
type ClosedResponse struct {
	Event  Event  `json:"event"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event            Event `json:"event"`
	RemainingSeconds int   `json:"remaining_seconds"`
}
