package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/notification"
)

const (
	PollTimeout     = 1 * time.Second // Must be >= 1s to satisfy Redis
	staleScanBatch  = 100
	redisRetryDelay = 3 * time.Second
)

// Queue is the subset of the Redis client the delivery worker uses.
type Queue interface {
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// NotificationWorker delivers outbox rows queued by the dispatcher.
// A row is claimed (pending → sending) before delivery, so each row is sent
// at most once per claim. Rows stuck in sending are failed, not retried.
type NotificationWorker struct {
	store       notification.OutboxStore
	queue       Queue
	sender      notification.Sender
	maxAttempts int
	staleAfter  time.Duration
	now         func() time.Time
	log         zerolog.Logger
}

func NewNotificationWorker(store notification.OutboxStore, queue Queue, sender notification.Sender, maxAttempts int, staleAfter time.Duration, log zerolog.Logger) *NotificationWorker {
	return &NotificationWorker{
		store:       store,
		queue:       queue,
		sender:      sender,
		maxAttempts: maxAttempts,
		staleAfter:  staleAfter,
		now:         time.Now,
		log:         logger.Component(log, "notification_worker"),
	}
}

func (w *NotificationWorker) Start(ctx context.Context) {
	w.log.Info().Msg("NotificationWorker started")

	lastScan := time.Time{}
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("NotificationWorker stopped")
			return
		default:
		}

		if time.Since(lastScan) >= w.staleAfter {
			w.Scan(ctx)
			lastScan = time.Now()
		}

		result, err := w.queue.BLPop(ctx, PollTimeout, config.WorkerKey.NotificationQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			sleepCtx(ctx, redisRetryDelay)
			continue
		}
		if len(result) < 2 {
			continue
		}

		id, err := uuid.Parse(result[1])
		if err != nil {
			w.log.Error().Str("data", result[1]).Msg("Discarding malformed notification id")
			continue
		}
		if err := w.Deliver(ctx, id); err != nil && ctx.Err() == nil {
			w.log.Error().Err(err).Str("notification_id", id.String()).Msg("Delivery bookkeeping failed")
		}
	}
}

// Deliver claims and sends one notification. A row that is not pending
// (already delivered, in flight elsewhere, or failed) is skipped.
func (w *NotificationWorker) Deliver(ctx context.Context, id uuid.UUID) error {
	n, ok, err := w.store.Claim(ctx, id, w.now())
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.staleAfter/2)
	sendErr := w.sender.Send(sendCtx, n)
	cancel()

	if sendErr == nil {
		w.log.Debug().Str("notification_id", id.String()).Str("category", n.Category).Msg("Notification delivered")
		return w.store.MarkDelivered(ctx, id, w.now())
	}

	status, err := w.store.Release(ctx, id, sendErr.Error(), w.maxAttempts, w.now())
	if err != nil {
		return err
	}
	evt := w.log.Warn()
	if status == model.NotificationFailed {
		evt = w.log.Error()
	}
	evt.Err(sendErr).
		Str("notification_id", id.String()).
		Int("attempt", n.AttemptCount).
		Str("status", string(status)).
		Msg("Notification delivery failed")
	return nil
}

// Scan fails rows stuck in sending and re-queues stale pending rows,
// including ones whose enqueue failed or whose delivery was released.
func (w *NotificationWorker) Scan(ctx context.Context) {
	now := w.now()
	before := now.Add(-w.staleAfter)

	if n, err := w.store.FailStuckSending(ctx, before, now); err != nil {
		w.log.Error().Err(err).Msg("Failed to fail stuck notifications")
	} else if n > 0 {
		w.log.Warn().Int64("count", n).Msg("Marked stuck notifications as failed")
	}

	ids, err := w.store.TouchStalePending(ctx, before, now, staleScanBatch)
	if err != nil {
		w.log.Error().Err(err).Msg("Failed to scan stale notifications")
		return
	}
	for _, id := range ids {
		if err := w.queue.RPush(ctx, config.WorkerKey.NotificationQueue, id.String()).Err(); err != nil {
			w.log.Error().Err(err).Msg("Failed to requeue notification")
			return
		}
	}
	if len(ids) > 0 {
		w.log.Info().Int("count", len(ids)).Msg("Requeued stale notifications")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
