package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ViolationTracker logs proctor events and decides when a session has
// crossed its violation threshold. The count is always recomputed from the
// durable log, so retries and concurrent reports cannot drift it.
type ViolationTracker struct {
	events EventLog
}

// NewViolationTracker creates a new ViolationTracker.
func NewViolationTracker(events EventLog) *ViolationTracker {
	return &ViolationTracker{events: events}
}

// RecordEvent appends the event and returns the post-append decision.
// The event is logged whatever the session state. The caller performs the
// auto-submit when ShouldAutoSubmit is set.
func (t *ViolationTracker) RecordEvent(ctx context.Context, sess *model.ExamSession, policy model.ProctorPolicy, eventType string, detail json.RawMessage, now time.Time) (*model.ProctorEvent, model.ViolationDecision, error) {
	ev := &model.ProctorEvent{
		ID:        uuid.New(),
		SessionID: sess.ID,
		UserID:    sess.UserID,
		Type:      eventType,
		Detail:    detail,
		CreatedAt: now,
	}
	if err := t.events.AppendProctorEvent(ctx, ev); err != nil {
		return nil, model.ViolationDecision{}, storeErr("append proctor event", err, ErrSessionNotFound)
	}

	count, err := t.Count(ctx, sess.ID, policy)
	if err != nil {
		return ev, model.ViolationDecision{}, err
	}

	return ev, model.ViolationDecision{
		Count:            count,
		Counted:          policy.Counts(eventType),
		Threshold:        policy.ViolationThreshold,
		ShouldAutoSubmit: sess.IsOpen() && count >= policy.ViolationThreshold,
	}, nil
}

// Count returns the session's violation count under policy.
func (t *ViolationTracker) Count(ctx context.Context, sessionID uuid.UUID, policy model.ProctorPolicy) (int, error) {
	count, err := t.events.CountProctorEvents(ctx, sessionID, policy.CountingTypes)
	if err != nil {
		return 0, storeErr("count proctor events", err, nil)
	}
	return count, nil
}
