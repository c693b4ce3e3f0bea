package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExamSessionState(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	s := &ExamSession{StartedAt: now}
	assert.Equal(t, SessionStateCreated, s.State())
	assert.True(t, s.IsOpen())

	submitted := now.Add(10 * time.Minute)
	s.SubmittedAt = &submitted
	assert.Equal(t, SessionStateSubmitted, s.State())
	assert.False(t, s.IsOpen())

	s.IsGraded = true
	assert.Equal(t, SessionStateGraded, s.State())
}

func TestExamSessionCloneIsDeep(t *testing.T) {
	at := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	score := 4.5
	s := &ExamSession{SubmittedAt: &at, Score: &score}

	c := s.Clone()
	*c.Score = 1
	*c.SubmittedAt = at.Add(time.Hour)

	assert.Equal(t, 4.5, *s.Score)
	assert.Equal(t, at, *s.SubmittedAt)
	assert.Nil(t, (*ExamSession)(nil).Clone())
}

func TestExamDeadline(t *testing.T) {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	end := time.Date(2025, 3, 1, 9, 20, 0, 0, time.UTC)

	exam := &Exam{DurationMinutes: 30, EndTime: &end}
	assert.Equal(t, start.Add(30*time.Minute), exam.Deadline(start), "soft window ignores end time")

	exam.HardDeadline = true
	assert.Equal(t, end, exam.Deadline(start))

	exam.EndTime = nil
	assert.Equal(t, start.Add(30*time.Minute), exam.Deadline(start))
}

func TestNotificationDedupeKey(t *testing.T) {
	r := NotificationRequest{Category: NotificationExamSubmitted, TargetType: NotificationTargetSession, TargetID: "abc", UserID: 7}
	assert.Equal(t, "exam.submitted|exam_session|abc|7", r.DedupeKey())
}
