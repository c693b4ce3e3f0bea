package websocket

import (
	"encoding/json"
	"time"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave Action = "autosave"
	ActionProctor  Action = "proctor"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AutosaveRequest is sent by the client to save a single answer.
type AutosaveRequest struct {
	Action     Action `json:"action"`
	QuestionID string `json:"question_id" binding:"required,uuid"`
	Text       string `json:"text" binding:"max=20000"`
}

// ProctorRequest is sent by the client to report a proctoring event.
type ProctorRequest struct {
	Action Action          `json:"action"`
	Type   string          `json:"type" binding:"required,event_type"`
	Detail json.RawMessage `json:"detail,omitempty"`
}

// SubmitRequest is sent by the client to finish the exam.
type SubmitRequest struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError     Event = "error"
	EventState     Event = "state"
	EventSaved     Event = "saved"
	EventViolation Event = "violation"
	EventSubmitted Event = "submitted"
	EventPong      Event = "pong"
)

// StateResponse is pushed once after the upgrade so the client can
// restore timers and lock-down flags without a separate REST call.
type StateResponse struct {
	Event Event       `json:"event"`
	State interface{} `json:"state"`
}

type SavedResponse struct {
	Event      Event     `json:"event"`
	QuestionID string    `json:"question_id"`
	SavedAt    time.Time `json:"saved_at"`
}

type ViolationResponse struct {
	Event          Event  `json:"event"`
	EventType      string `json:"event_type"`
	Counted        bool   `json:"counted"`
	ViolationCount int    `json:"violation_count"`
	Threshold      int    `json:"violation_threshold"`
	AutoSubmitted  bool   `json:"auto_submitted"`
}

type SubmittedResponse struct {
	Event       Event     `json:"event"`
	Cause       string    `json:"cause"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type ErrorResponse struct {
	Event  Event             `json:"event"`
	Code   string            `json:"code"`
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
