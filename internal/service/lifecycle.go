package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// notifyTimeout bounds the detached context used for dispatching
// notifications after a committed transition.
const notifyTimeout = 5 * time.Second

// Lifecycle is the session state machine: Created → Submitted → Graded.
// Every transition is a store compare-and-set, so calls are idempotent and
// safe to retry.
type Lifecycle struct {
	sessions   SessionStore
	dispatcher Dispatcher
	monitor    MonitorPublisher
	log        zerolog.Logger
}

// NewLifecycle creates a new Lifecycle.
func NewLifecycle(sessions SessionStore, dispatcher Dispatcher, monitor MonitorPublisher, log zerolog.Logger) *Lifecycle {
	if monitor == nil {
		monitor = NopMonitor{}
	}
	return &Lifecycle{
		sessions:   sessions,
		dispatcher: dispatcher,
		monitor:    monitor,
		log:        log,
	}
}

// Submit closes the session. The first call sets submitted_at = now; later
// or concurrent calls return the winner's stored result. The
// "exam.submitted" notification is requested on every call and deduplicated
// by the dispatcher, so a retry after a crash between commit and dispatch
// still notifies exactly once.
func (l *Lifecycle) Submit(ctx context.Context, sessionID uuid.UUID, cause model.SubmitCause, now time.Time) (*model.ExamSession, error) {
	sess, _, err := l.submit(ctx, sessionID, cause, now)
	return sess, err
}

// submit is Submit that also reports whether this call won the transition.
func (l *Lifecycle) submit(ctx context.Context, sessionID uuid.UUID, cause model.SubmitCause, now time.Time) (*model.ExamSession, bool, error) {
	sess, won, err := l.sessions.MarkSubmitted(ctx, sessionID, now, cause)
	if err != nil {
		return nil, false, storeErr("mark submitted", err, ErrSessionNotFound)
	}

	if won {
		l.log.Info().
			Str("session_id", sess.ID.String()).
			Str("exam_id", sess.ExamID.String()).
			Int("user_id", sess.UserID).
			Str("cause", string(cause)).
			Msg("Session submitted")

		l.publish(ctx, model.MonitorEvent{
			Type:      model.MonitorSessionSubmitted,
			ExamID:    sess.ExamID,
			SessionID: sess.ID,
			UserID:    sess.UserID,
			Cause:     cause,
			At:        now,
		})
	}

	l.notify(ctx, model.NotificationExamSubmitted, sess, map[string]interface{}{
		"session_id":   sess.ID,
		"exam_id":      sess.ExamID,
		"submitted_at": sess.SubmittedAt,
		"cause":        sess.SubmitCause,
	})
	return sess, won, nil
}

// EnforceDeadline auto-submits an open session whose deadline has passed.
// It is the authoritative timeout check and runs before any mutation.
func (l *Lifecycle) EnforceDeadline(ctx context.Context, sess *model.ExamSession, exam *model.Exam, now time.Time) (*model.ExamSession, error) {
	if !sess.IsOpen() || now.Before(exam.Deadline(sess.StartedAt)) {
		return sess, nil
	}
	return l.Submit(ctx, sess.ID, model.SubmitCauseAutoTimeout, now)
}

// SaveAnswer upserts the answer while the session is open. A save that
// arrives after the deadline submits the session and is rejected.
func (l *Lifecycle) SaveAnswer(ctx context.Context, sess *model.ExamSession, exam *model.Exam, questionID uuid.UUID, text string, now time.Time) (*model.Answer, error) {
	sess, err := l.EnforceDeadline(ctx, sess, exam, now)
	if err != nil {
		return nil, err
	}
	if !sess.IsOpen() {
		return nil, ErrSessionClosed
	}

	answer, err := l.sessions.UpsertAnswer(ctx, sess.ID, questionID, text, now)
	if err != nil {
		return nil, storeErr("upsert answer", err, ErrSessionNotFound)
	}
	return answer, nil
}

// notify requests a notification for a committed transition. Failures are
// logged and never returned: the transition already happened.
func (l *Lifecycle) notify(ctx context.Context, category string, sess *model.ExamSession, payload interface{}) {
	if l.dispatcher == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	req := model.NotificationRequest{
		Category:   category,
		TargetType: model.NotificationTargetSession,
		TargetID:   sess.ID.String(),
		UserID:     sess.UserID,
		Payload:    mustJSON(payload),
	}
	queued, err := l.dispatcher.SendOnce(nctx, req)
	if err != nil {
		l.log.Error().Err(err).
			Str("category", category).
			Str("session_id", sess.ID.String()).
			Msg("Failed to dispatch notification")
		return
	}
	if queued {
		l.log.Debug().Str("category", category).Str("session_id", sess.ID.String()).Msg("Notification queued")
	}
}

func (l *Lifecycle) publish(ctx context.Context, ev model.MonitorEvent) {
	if err := l.monitor.Publish(context.WithoutCancel(ctx), ev); err != nil {
		l.log.Warn().Err(err).Str("type", string(ev.Type)).Msg("Failed to publish monitor event")
	}
}
