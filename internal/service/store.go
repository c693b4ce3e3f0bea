package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// SessionStore is durable keyed storage for sessions, answers and grades.
// Every per-session transition is a compare-and-set in the store; the
// service never serializes sessions with in-process locks.
type SessionStore interface {
	// CreateSessionIfAbsent inserts a session for (examID, userID) unless one
	// exists. It returns the stored session and whether this call created it.
	CreateSessionIfAbsent(ctx context.Context, examID uuid.UUID, userID int, startedAt time.Time) (*model.ExamSession, bool, error)
	GetSession(ctx context.Context, id uuid.UUID) (*model.ExamSession, error)
	GetSessionByExamAndUser(ctx context.Context, examID uuid.UUID, userID int) (*model.ExamSession, error)

	// MarkSubmitted sets submitted_at and submit_cause where submitted_at is
	// null. It returns the session as stored afterwards and whether this call
	// performed the transition.
	MarkSubmitted(ctx context.Context, id uuid.UUID, at time.Time, cause model.SubmitCause) (*model.ExamSession, bool, error)

	// UpsertAnswer writes the answer only while the session is open.
	// Returns model.ErrSessionClosed or model.ErrUnknownQuestion.
	UpsertAnswer(ctx context.Context, sessionID, questionID uuid.UUID, text string, at time.Time) (*model.Answer, error)
	ListAnswers(ctx context.Context, sessionID uuid.UUID) ([]model.Answer, error)

	// ApplyGrade persists per-answer points and the session score in one
	// atomic step guarded by "submitted and not graded".
	// Returns model.ErrNotSubmitted or model.ErrAlreadyGraded.
	ApplyGrade(ctx context.Context, sessionID uuid.UUID, grade model.Grade) (*model.ExamSession, error)

	// ListOverdueSessions returns open sessions whose deadline is not after now.
	ListOverdueSessions(ctx context.Context, now time.Time, limit int) ([]model.OverdueSession, error)
}

// EventLog is the append-only proctor event log.
type EventLog interface {
	AppendProctorEvent(ctx context.Context, ev *model.ProctorEvent) error
	// CountProctorEvents counts a session's events whose type is in types.
	// An empty types slice counts every event.
	CountProctorEvents(ctx context.Context, sessionID uuid.UUID, types []string) (int, error)
	ListProctorEvents(ctx context.Context, sessionID uuid.UUID) ([]model.ProctorEvent, error)
}

// ExamReader reads exams owned by an external service.
type ExamReader interface {
	GetExam(ctx context.Context, id uuid.UUID) (*model.Exam, error)
}

// EnrollmentChecker answers whether a user is linked to a course.
type EnrollmentChecker interface {
	IsEnrolled(ctx context.Context, courseID, userID int) (bool, error)
}

// Dispatcher sends at most one notification per dedupe identity.
// It reports whether this call enqueued a new notification.
type Dispatcher interface {
	SendOnce(ctx context.Context, req model.NotificationRequest) (bool, error)
}

// MonitorPublisher broadcasts live events to graders. Best-effort.
type MonitorPublisher interface {
	Publish(ctx context.Context, ev model.MonitorEvent) error
}

// NopMonitor drops every monitor event.
type NopMonitor struct{}

func (NopMonitor) Publish(context.Context, model.MonitorEvent) error { return nil }

func mustJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
