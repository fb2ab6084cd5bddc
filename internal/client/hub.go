package client

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultHistory is the number of events kept for late subscribers.
	DefaultHistory          = 100
	defaultSubscriberBufCap = 64
)

// Hub fans events out to subscribers and keeps the most recent events so a
// late subscriber can catch up.
type Hub struct {
	mu          sync.RWMutex
	limit       int
	history     []Event
	subscribers map[string]chan Event
}

// NewHub creates a hub keeping the last history events.
func NewHub(history int) *Hub {
	if history <= 0 {
		history = DefaultHistory
	}
	return &Hub{
		limit:       history,
		history:     make([]Event, 0, history),
		subscribers: make(map[string]chan Event),
	}
}

// Publish records ev and delivers it to every subscriber. Subscribers whose
// buffer is full miss the event.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.history) == h.limit {
		copy(h.history, h.history[1:])
		h.history[len(h.history)-1] = ev
	} else {
		h.history = append(h.history, ev)
	}
	for _, ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers a new subscriber. It returns the subscription id, the
// event channel, and the buffered history up to the moment of subscription.
func (h *Hub) Subscribe() (string, <-chan Event, []Event) {
	id := uuid.New().String()
	ch := make(chan Event, defaultSubscriberBufCap)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[id] = ch
	return id, ch, append([]Event(nil), h.history...)
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		delete(h.subscribers, id)
		close(ch)
	}
}

// History returns the buffered events in chronological order.
func (h *Hub) History() []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Event(nil), h.history...)
}
