package service

import (
	"context"
	"time"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// AdmissionKind tells the caller whether a session was created or resumed.
type AdmissionKind string

const (
	AdmitCreate AdmissionKind = "create"
	AdmitResume AdmissionKind = "resume"
)

// Admission is a successful admission decision.
type Admission struct {
	Kind    AdmissionKind
	Session *model.ExamSession
}

// AdmissionGate decides whether a user may start or resume an exam.
type AdmissionGate struct {
	sessions    SessionStore
	enrollments EnrollmentChecker
}

// NewAdmissionGate creates a new AdmissionGate.
func NewAdmissionGate(sessions SessionStore, enrollments EnrollmentChecker) *AdmissionGate {
	return &AdmissionGate{sessions: sessions, enrollments: enrollments}
}

// Admit checks enrollment, publication and the scheduled window, then
// resumes the user's existing session or creates one with started_at = now.
// Concurrent first starts resolve to one session; the losers resume it.
func (g *AdmissionGate) Admit(ctx context.Context, exam *model.Exam, userID int, now time.Time) (*Admission, error) {
	enrolled, err := g.enrollments.IsEnrolled(ctx, exam.CourseID, userID)
	if err != nil {
		return nil, storeErr("check enrollment", err, nil)
	}
	if !enrolled {
		return nil, &AdmissionError{Reason: AdmissionNotEnrolled}
	}
	if !exam.IsPublished {
		return nil, &AdmissionError{Reason: AdmissionNotPublished}
	}

	existing, err := g.sessions.GetSessionByExamAndUser(ctx, exam.ID, userID)
	if err != nil && !isNotFound(err) {
		return nil, storeErr("get session", err, nil)
	}

	if reason := checkWindow(exam, now); reason != "" {
		denied := &AdmissionError{Reason: reason}
		if reason == AdmissionTooLate {
			denied.Late = LateMissed
			if existing != nil && !existing.IsOpen() {
				denied.Late = LateAlreadySubmitted
			}
		}
		return nil, denied
	}

	if existing != nil {
		return &Admission{Kind: AdmitResume, Session: existing}, nil
	}

	sess, created, err := g.sessions.CreateSessionIfAbsent(ctx, exam.ID, userID, now)
	if err != nil {
		return nil, storeErr("create session", err, nil)
	}
	if !created {
		return &Admission{Kind: AdmitResume, Session: sess}, nil
	}
	return &Admission{Kind: AdmitCreate, Session: sess}, nil
}

// checkWindow compares now against the scheduled window at minute
// resolution: a start in the same minute as start_time is admitted, and so
// is one in the same minute as end_time.
func checkWindow(exam *model.Exam, now time.Time) AdmissionReason {
	current := now.Truncate(time.Minute)
	if exam.StartTime != nil && current.Before(exam.StartTime.Truncate(time.Minute)) {
		return AdmissionTooEarly
	}
	if exam.EndTime != nil && current.After(exam.EndTime.Truncate(time.Minute)) {
		return AdmissionTooLate
	}
	return ""
}
