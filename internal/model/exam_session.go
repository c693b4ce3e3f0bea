package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionState is the tagged lifecycle state of an exam session.
// It is derived from the nullable columns, never stored on its own.
type SessionState string

const (
	SessionStateCreated   SessionState = "CREATED"
	SessionStateSubmitted SessionState = "SUBMITTED"
	SessionStateGraded    SessionState = "GRADED"
)

// SubmitCause records what triggered a submission. Informational only:
// whichever cause wins the compare-and-set is the one stored.
type SubmitCause string

const (
	SubmitCauseManual        SubmitCause = "MANUAL"
	SubmitCauseAutoTimeout   SubmitCause = "AUTO_TIMEOUT"
	SubmitCauseAutoViolation SubmitCause = "AUTO_VIOLATION"
)

// Valid reports whether c is a known cause.
func (c SubmitCause) Valid() bool {
	switch c {
	case SubmitCauseManual, SubmitCauseAutoTimeout, SubmitCauseAutoViolation:
		return true
	}
	return false
}

// ExamSession represents one user's single attempt at one exam.
type ExamSession struct {
	ID             uuid.UUID    `json:"id"`
	ExamID         uuid.UUID    `json:"exam_id"`
	UserID         int          `json:"user_id"`
	StartedAt      time.Time    `json:"started_at"`
	SubmittedAt    *time.Time   `json:"submitted_at,omitempty"`
	SubmitCause    *SubmitCause `json:"submit_cause,omitempty"`
	Score          *float64     `json:"score,omitempty"`
	IsGraded       bool         `json:"is_graded"`
	GradedBy       *int         `json:"graded_by,omitempty"`
	GradingComment *string      `json:"grading_comment,omitempty"`
	GradedAt       *time.Time   `json:"graded_at,omitempty"`
}

// State derives the lifecycle state from the persisted fields.
func (s *ExamSession) State() SessionState {
	switch {
	case s.IsGraded:
		return SessionStateGraded
	case s.SubmittedAt != nil:
		return SessionStateSubmitted
	default:
		return SessionStateCreated
	}
}

// IsOpen reports whether answers may still be saved.
func (s *ExamSession) IsOpen() bool {
	return s.State() == SessionStateCreated
}

// Clone returns a deep copy so store adapters never share pointers with callers.
func (s *ExamSession) Clone() *ExamSession {
	if s == nil {
		return nil
	}
	c := *s
	if s.SubmittedAt != nil {
		t := *s.SubmittedAt
		c.SubmittedAt = &t
	}
	if s.SubmitCause != nil {
		v := *s.SubmitCause
		c.SubmitCause = &v
	}
	if s.Score != nil {
		v := *s.Score
		c.Score = &v
	}
	if s.GradedBy != nil {
		v := *s.GradedBy
		c.GradedBy = &v
	}
	if s.GradingComment != nil {
		v := *s.GradingComment
		c.GradingComment = &v
	}
	if s.GradedAt != nil {
		t := *s.GradedAt
		c.GradedAt = &t
	}
	return &c
}

// OverdueSession is an open session whose deadline has passed.
type OverdueSession struct {
	SessionID uuid.UUID
	ExamID    uuid.UUID
	UserID    int
	Deadline  time.Time
}

// SessionView is what students see when starting or polling a session.
type SessionView struct {
	Session          *ExamSession `json:"session"`
	State            SessionState `json:"state"`
	ExamTitle        string       `json:"exam_title"`
	Deadline         time.Time    `json:"deadline"`
	RemainingSeconds float64      `json:"remaining_seconds"`
	ViolationCount   int          `json:"violation_count"`
	Threshold        int          `json:"violation_threshold"`
	ClientFlags      ClientFlags  `json:"client_flags"`
	Answers          []Answer     `json:"answers,omitempty"`
	Resumed          bool         `json:"resumed"`
}
