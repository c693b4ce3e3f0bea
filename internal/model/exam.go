package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Exam is the read-only view of an exam used by the session engine.
// Exam CRUD lives elsewhere; this core never writes exams.
type Exam struct {
	ID              uuid.UUID       `json:"id"`
	CourseID        int             `json:"course_id"`
	Title           string          `json:"title"`
	DurationMinutes int             `json:"duration_minutes"`
	PassingScore    float64         `json:"passing_score"`
	IsPublished     bool            `json:"is_published"`
	StartTime       *time.Time      `json:"start_time,omitempty"`
	EndTime         *time.Time      `json:"end_time,omitempty"`
	HardDeadline    bool            `json:"hard_deadline"`
	ProctorPolicy   json.RawMessage `json:"proctor_policy,omitempty"`
}

// Deadline returns the instant after which a session started at startedAt
// is closed for answers. With HardDeadline set, the exam end time caps it.
func (e *Exam) Deadline(startedAt time.Time) time.Time {
	deadline := startedAt.Add(time.Duration(e.DurationMinutes) * time.Minute)
	if e.HardDeadline && e.EndTime != nil && e.EndTime.Before(deadline) {
		return *e.EndTime
	}
	return deadline
}
