// Package notification is the at-most-once notification boundary. Requests
// are deduplicated by (category, target type, target id, user) before
// anything is delivered.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// Sender delivers one notification to its recipient.
type Sender interface {
	Send(ctx context.Context, n *model.Notification) error
}

// OutboxStore is the durable notification outbox.
type OutboxStore interface {
	// InsertIfAbsent stores n unless a row with the same dedupe identity
	// exists, and reports whether it inserted.
	InsertIfAbsent(ctx context.Context, n *model.Notification) (bool, error)
	// Claim moves a pending row to sending and returns it. ok is false when
	// the row is missing or not pending.
	Claim(ctx context.Context, id uuid.UUID, now time.Time) (n *model.Notification, ok bool, err error)
	MarkDelivered(ctx context.Context, id uuid.UUID, now time.Time) error
	// Release returns a sending row to pending after a failed attempt, or
	// marks it failed once maxAttempts is reached.
	Release(ctx context.Context, id uuid.UUID, lastErr string, maxAttempts int, now time.Time) (model.NotificationStatus, error)
	// TouchStalePending bumps pending rows not touched since before and
	// returns their ids for re-queueing.
	TouchStalePending(ctx context.Context, before, now time.Time, limit int) ([]uuid.UUID, error)
	// FailStuckSending marks rows left in sending since before as failed.
	// Their delivery outcome is unknown, and a retry could notify twice.
	FailStuckSending(ctx context.Context, before, now time.Time) (int64, error)
}

// Pusher is the subset of the Redis client used to enqueue deliveries.
type Pusher interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// OutboxDispatcher writes requests to the outbox and queues them for the
// delivery worker.
type OutboxDispatcher struct {
	store OutboxStore
	queue Pusher
	now   func() time.Time
	log   zerolog.Logger
}

// NewOutboxDispatcher creates a new OutboxDispatcher. now defaults to the
// system clock.
func NewOutboxDispatcher(store OutboxStore, queue Pusher, now func() time.Time, log zerolog.Logger) *OutboxDispatcher {
	if now == nil {
		now = time.Now
	}
	return &OutboxDispatcher{
		store: store,
		queue: queue,
		now:   now,
		log:   logger.Component(log, "outbox_dispatcher"),
	}
}

// SendOnce records the request once per dedupe identity. A failed enqueue
// is not an error: the row stays pending and the worker picks it up on its
// stale scan.
func (d *OutboxDispatcher) SendOnce(ctx context.Context, req model.NotificationRequest) (bool, error) {
	now := d.now()
	n := &model.Notification{
		ID:         uuid.New(),
		Category:   req.Category,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		UserID:     req.UserID,
		Payload:    req.Payload,
		Status:     model.NotificationPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	created, err := d.store.InsertIfAbsent(ctx, n)
	if err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}
	if !created || d.queue == nil {
		return created, nil
	}
	if err := d.queue.RPush(ctx, config.WorkerKey.NotificationQueue, n.ID.String()).Err(); err != nil {
		d.log.Warn().
			Err(err).
			Str("notification_id", n.ID.String()).
			Str("category", n.Category).
			Str("target_id", n.TargetID).
			Msg("Enqueue failed; left pending for the stale scan")
	}
	return true, nil
}

// RedisSender publishes notifications on the recipient's Redis channel.
type RedisSender struct {
	rdb *redis.Client
}

// NewRedisSender creates a new RedisSender.
func NewRedisSender(rdb *redis.Client) *RedisSender {
	return &RedisSender{rdb: rdb}
}

func (s *RedisSender) Send(ctx context.Context, n *model.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	channel := config.CacheKey.UserNotificationChannel(n.UserID)
	if err := s.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
