package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// MemoryDispatcher deduplicates in process and delivers synchronously.
// It backs the memory store driver and the engine's tests.
type MemoryDispatcher struct {
	mu     sync.Mutex
	seen   map[string]struct{}
	sent   []model.Notification
	sender Sender
	now    func() time.Time
	log    zerolog.Logger
}

// NewMemoryDispatcher creates a MemoryDispatcher. sender may be nil; now
// defaults to the system clock.
func NewMemoryDispatcher(sender Sender, now func() time.Time, log zerolog.Logger) *MemoryDispatcher {
	if now == nil {
		now = time.Now
	}
	return &MemoryDispatcher{
		seen:   make(map[string]struct{}),
		sender: sender,
		now:    now,
		log:    logger.Component(log, "memory_dispatcher"),
	}
}

func (d *MemoryDispatcher) SendOnce(ctx context.Context, req model.NotificationRequest) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	d.mu.Lock()
	key := req.DedupeKey()
	if _, ok := d.seen[key]; ok {
		d.mu.Unlock()
		return false, nil
	}
	d.seen[key] = struct{}{}
	now := d.now().UTC()
	n := model.Notification{
		ID:         uuid.New(),
		Category:   req.Category,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		UserID:     req.UserID,
		Payload:    req.Payload,
		Status:     model.NotificationDelivered,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	d.sent = append(d.sent, n)
	d.mu.Unlock()

	if d.sender != nil {
		if err := d.sender.Send(ctx, &n); err != nil {
			d.log.Error().Err(err).Str("category", n.Category).Str("target_id", n.TargetID).Msg("Delivery failed")
		}
	}
	return true, nil
}

// Sent returns a copy of every notification accepted so far.
func (d *MemoryDispatcher) Sent() []model.Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]model.Notification(nil), d.sent...)
}

// Count returns how many notifications of category were accepted.
func (d *MemoryDispatcher) Count(category string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.sent {
		if s.Category == category {
			n++
		}
	}
	return n
}

// LogSender logs notifications instead of delivering them.
type LogSender struct {
	log zerolog.Logger
}

// NewLogSender creates a new LogSender.
func NewLogSender(log zerolog.Logger) *LogSender {
	return &LogSender{log: logger.Component(log, "log_sender")}
}

func (s *LogSender) Send(_ context.Context, n *model.Notification) error {
	payload := []byte(n.Payload)
	if len(payload) == 0 {
		payload = []byte("null")
	}
	s.log.Info().
		Str("category", n.Category).
		Str("target_type", n.TargetType).
		Str("target_id", n.TargetID).
		Int("user_id", n.UserID).
		RawJSON("payload", payload).
		Msg("Notification")
	return nil
}
