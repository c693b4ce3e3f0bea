package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Well-known proctor event types reported by the exam client.
// The set is open: unknown types are logged like any other.
const (
	EventExitedFullscreen = "exited_fullscreen"
	EventTabHidden        = "tab_hidden"
	EventWindowBlur       = "window_blur"
	EventDevtoolOpen      = "devtool_open"
	EventShortcutBlocked  = "shortcut_blocked"
)

// ProctorEvent is an append-only audit row. Never updated or deleted here.
type ProctorEvent struct {
	ID        uuid.UUID       `json:"id"`
	SessionID uuid.UUID       `json:"session_id"`
	UserID    int             `json:"user_id"`
	Type      string          `json:"type"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// RecordEventRequest is the payload for reporting a proctor event.
type RecordEventRequest struct {
	Type   string          `json:"type" binding:"required,event_type"`
	Detail json.RawMessage `json:"detail"`
}

// ViolationDecision is the outcome of recording one proctor event.
type ViolationDecision struct {
	Count            int  `json:"count"`
	Counted          bool `json:"counted"`
	Threshold        int  `json:"threshold"`
	ShouldAutoSubmit bool `json:"should_auto_submit"`
}
