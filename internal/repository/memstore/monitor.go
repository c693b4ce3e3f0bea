package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// monitorBuffer bounds each subscriber's backlog. Slow subscribers lose
// events rather than block publishers.
const monitorBuffer = 64

// MonitorHub is an in-process stand-in for the Redis monitor channel.
type MonitorHub struct {
	mu     sync.Mutex
	nextID int
	subs   map[uuid.UUID]map[int]chan string
}

// NewMonitorHub returns a hub with no subscribers.
func NewMonitorHub() *MonitorHub {
	return &MonitorHub{subs: make(map[uuid.UUID]map[int]chan string)}
}

// Publish fans ev out to every subscriber of its exam.
func (h *MonitorHub) Publish(ctx context.Context, ev model.MonitorEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal monitor event: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[ev.ExamID] {
		select {
		case ch <- string(data):
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber for examID.
func (h *MonitorHub) Subscribe(ctx context.Context, examID uuid.UUID) (<-chan string, func() error, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	ch := make(chan string, monitorBuffer)

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.subs[examID] == nil {
		h.subs[examID] = make(map[int]chan string)
	}
	h.subs[examID][id] = ch
	h.mu.Unlock()

	var once sync.Once
	closeFn := func() error {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[examID], id)
			if len(h.subs[examID]) == 0 {
				delete(h.subs, examID)
			}
			h.mu.Unlock()
			close(ch)
		})
		return nil
	}
	return ch, closeFn, nil
}
