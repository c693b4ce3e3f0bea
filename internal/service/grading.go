package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// GradingAggregator finalizes a submitted session's score.
type GradingAggregator struct {
	sessions  SessionStore
	lifecycle *Lifecycle
}

// NewGradingAggregator creates a new GradingAggregator. Notifications and
// monitor events go through the lifecycle's dispatcher and publisher.
func NewGradingAggregator(sessions SessionStore, lifecycle *Lifecycle) *GradingAggregator {
	return &GradingAggregator{sessions: sessions, lifecycle: lifecycle}
}

// Grade validates the awards, sums them and applies the grade atomically.
// Answers the grader leaves out count as zero. A graded session cannot be
// graded again.
func (g *GradingAggregator) Grade(ctx context.Context, sess *model.ExamSession, awards []model.AnswerAward, comment string, graderID int, now time.Time) (*model.ExamSession, error) {
	switch sess.State() {
	case model.SessionStateCreated:
		return nil, ErrNotSubmitted
	case model.SessionStateGraded:
		return nil, ErrAlreadyGraded
	}

	answers, err := g.sessions.ListAnswers(ctx, sess.ID)
	if err != nil {
		return nil, storeErr("list answers", err, nil)
	}
	owned := make(map[uuid.UUID]struct{}, len(answers))
	for _, a := range answers {
		owned[a.ID] = struct{}{}
	}

	seen := make(map[uuid.UUID]struct{}, len(awards))
	var total float64
	for i, aw := range awards {
		field := fmt.Sprintf("answers[%d]", i)
		if _, ok := owned[aw.AnswerID]; !ok {
			return nil, ErrForeignAnswer
		}
		if _, dup := seen[aw.AnswerID]; dup {
			return nil, newValidationError(field+".answer_id", "answer is graded more than once")
		}
		seen[aw.AnswerID] = struct{}{}
		if math.IsNaN(aw.AwardedPoints) || math.IsInf(aw.AwardedPoints, 0) || aw.AwardedPoints < 0 {
			return nil, newValidationError(field+".awarded_points", "must be a finite number of at least 0")
		}
		total += aw.AwardedPoints
	}

	graded, err := g.sessions.ApplyGrade(ctx, sess.ID, model.Grade{
		Awards:     awards,
		TotalScore: total,
		GradedBy:   graderID,
		Comment:    comment,
		GradedAt:   now,
	})
	if err != nil {
		return nil, storeErr("apply grade", err, ErrSessionNotFound)
	}

	l := g.lifecycle
	l.log.Info().
		Str("session_id", graded.ID.String()).
		Str("exam_id", graded.ExamID.String()).
		Int("user_id", graded.UserID).
		Int("graded_by", graderID).
		Float64("score", total).
		Msg("Session graded")

	l.publish(ctx, model.MonitorEvent{
		Type:      model.MonitorSessionGraded,
		ExamID:    graded.ExamID,
		SessionID: graded.ID,
		UserID:    graded.UserID,
		Score:     graded.Score,
		At:        now,
	})
	l.notify(ctx, model.NotificationExamGraded, graded, map[string]interface{}{
		"session_id": graded.ID,
		"exam_id":    graded.ExamID,
		"score":      graded.Score,
		"graded_at":  graded.GradedAt,
	})
	return graded, nil
}
