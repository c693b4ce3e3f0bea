package model

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Notification categories emitted by the session engine.
const (
	NotificationExamSubmitted = "exam.submitted"
	NotificationExamGraded    = "exam.graded"
)

// NotificationTargetSession is the target type for session notifications.
const NotificationTargetSession = "exam_session"

// NotificationRequest asks the dispatcher to send at most one notification
// per (Category, TargetType, TargetID, UserID).
type NotificationRequest struct {
	Category   string          `json:"category"`
	TargetType string          `json:"target_type"`
	TargetID   string          `json:"target_id"`
	UserID     int             `json:"user_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// DedupeKey returns the identity under which the request is deduplicated.
func (r NotificationRequest) DedupeKey() string {
	return r.Category + "|" + r.TargetType + "|" + r.TargetID + "|" + strconv.Itoa(r.UserID)
}

// NotificationStatus is the delivery state of an outbox row.
type NotificationStatus string

const (
	NotificationPending   NotificationStatus = "pending"
	NotificationSending   NotificationStatus = "sending"
	NotificationDelivered NotificationStatus = "delivered"
	NotificationFailed    NotificationStatus = "failed"
)

// Notification is one durable outbox row.
type Notification struct {
	ID           uuid.UUID          `json:"id"`
	Category     string             `json:"category"`
	TargetType   string             `json:"target_type"`
	TargetID     string             `json:"target_id"`
	UserID       int                `json:"user_id"`
	Payload      json.RawMessage    `json:"payload,omitempty"`
	Status       NotificationStatus `json:"status"`
	AttemptCount int                `json:"attempt_count"`
	LastError    *string            `json:"last_error,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	DeliveredAt  *time.Time         `json:"delivered_at,omitempty"`
}
