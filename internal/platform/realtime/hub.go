// Package realtime fans committed alert events out to live subscribers. The
// hub is in-process and best effort: a subscriber whose queue is full misses
// events and is told to resynchronise, it never slows down a publisher.
package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/medalert/medalert/internal/platform/metrics"
)

// ErrClosed is returned by Subscribe after the hub has been closed.
var ErrClosed = errors.New("realtime hub closed")

// Publisher delivers an event to interested subscribers.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Subscription is one live consumer. Events arrive on C in publish order;
// C is closed on Unsubscribe.
type Subscription struct {
	ID     string
	Filter Filter

	C      <-chan Event
	send   chan Event
	lagged atomic.Bool
}

// TakeLagged reports whether events were dropped since the last call and
// clears the flag.
func (s *Subscription) TakeLagged() bool {
	return s.lagged.Swap(false)
}

// Hub tracks subscriptions. All operations are safe for concurrent use.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]*Subscription
	closed  bool
	metrics *metrics.Metrics
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]*Subscription)}
}

func (h *Hub) SetMetrics(m *metrics.Metrics) { h.metrics = m }

// Subscribe registers a subscription with a queue of the given size. The
// queue exists before any transport handshake so nothing published after
// Subscribe returns is lost to a slow connection setup.
func (h *Hub) Subscribe(f Filter, buffer int) (*Subscription, error) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	sub := &Subscription{ID: uuid.NewString(), Filter: f, C: ch, send: ch}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	h.subs[sub.ID] = sub
	h.metrics.Subscribers(len(h.subs))
	return sub, nil
}

// Unsubscribe removes sub and closes its channel. It is idempotent.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub.ID]; !ok {
		return
	}
	delete(h.subs, sub.ID)
	close(sub.send)
	h.metrics.Subscribers(len(h.subs))
}

// Publish queues ev on every matching subscription without blocking.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if !sub.Filter.Matches(ev) {
			continue
		}
		select {
		case sub.send <- ev:
			h.metrics.Delivered()
		default:
			sub.lagged.Store(true)
			h.metrics.Dropped()
		}
	}
	return nil
}

// Close unsubscribes everyone and rejects new subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.send)
	}
	h.metrics.Subscribers(0)
}

// Count returns the number of open subscriptions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
