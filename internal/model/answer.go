package model

import (
	"time"

	"github.com/google/uuid"
)

// Answer is one row per (session, question). Re-saves overwrite Response.
type Answer struct {
	ID            uuid.UUID `json:"id"`
	SessionID     uuid.UUID `json:"session_id"`
	QuestionID    uuid.UUID `json:"question_id"`
	Response      string    `json:"response"`
	AwardedPoints *float64  `json:"awarded_points,omitempty"`
	GraderComment *string   `json:"grader_comment,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// AnswerAward is the grader's verdict for one answer.
type AnswerAward struct {
	AnswerID      uuid.UUID
	AwardedPoints float64
	Comment       *string
}

// Grade is the full grading outcome applied atomically to a session.
type Grade struct {
	Awards     []AnswerAward
	TotalScore float64
	GradedBy   int
	Comment    string
	GradedAt   time.Time
}

// SaveAnswerRequest is the payload for saving one answer.
type SaveAnswerRequest struct {
	Text string `json:"text" binding:"max=20000"`
}

// AnswerAwardRequest is one graded row in a GradeSessionRequest.
type AnswerAwardRequest struct {
	AnswerID      string  `json:"answer_id" binding:"required,uuid"`
	AwardedPoints float64 `json:"awarded_points" binding:"min=0"`
	Comment       *string `json:"comment" binding:"omitempty,max=2000"`
}

// GradeSessionRequest is the grader's payload for finalizing a session.
type GradeSessionRequest struct {
	Answers []AnswerAwardRequest `json:"answers" binding:"dive"`
	Comment string               `json:"comment" binding:"max=5000"`
}
