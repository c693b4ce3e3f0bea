package model

import (
	"time"

	"github.com/google/uuid"
)

// MonitorEventType identifies what happened in a live monitor message.
type MonitorEventType string

const (
	MonitorSessionStarted   MonitorEventType = "session_started"
	MonitorProctorEvent     MonitorEventType = "proctor_event"
	MonitorSessionSubmitted MonitorEventType = "session_submitted"
	MonitorSessionGraded    MonitorEventType = "session_graded"
)

// MonitorEvent is broadcast to graders watching an exam.
type MonitorEvent struct {
	Type           MonitorEventType `json:"type"`
	ExamID         uuid.UUID        `json:"exam_id"`
	SessionID      uuid.UUID        `json:"session_id"`
	UserID         int              `json:"user_id"`
	EventType      string           `json:"event_type,omitempty"`
	ViolationCount int              `json:"violation_count,omitempty"`
	Cause          SubmitCause      `json:"cause,omitempty"`
	Score          *float64         `json:"score,omitempty"`
	At             time.Time        `json:"at"`
}
