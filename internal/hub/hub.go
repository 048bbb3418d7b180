package hub

import (
	"log/slog"
	"sync"

	"ticketbridge/internal/domain"
)

// Event names carried to dashboard subscribers. A draft-ready event is
// delivered as an unnamed SSE message; the others are named events.
const (
	EventDraftReady = "draft-ready"
	EventGenerating = "generating"
	EventError      = "error"
)

// Event is one dashboard notification.
type Event struct {
	Name     string
	Template *domain.Template
	Message  string
}

// Hub fans events out to dashboard subscribers and tracks the latest
// unclaimed draft for the polling endpoint.
type Hub struct {
	mu     sync.RWMutex
	subs   map[chan Event]struct{}
	latest *domain.Template
	logger *slog.Logger
}

func New(logger *slog.Logger) *Hub {
	return &Hub{
		subs:   make(map[chan Event]struct{}),
		logger: logger,
	}
}

// Subscribe registers a new subscriber. The channel is buffered; a slow
// consumer loses events rather than blocking the broadcaster.
func (h *Hub) Subscribe() chan Event {
	ch := make(chan Event, 16)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber. Safe to call more than once.
func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// Broadcast delivers an event to every current subscriber without blocking.
// The read lock is held across the sends: they cannot block, and Unsubscribe
// takes the write lock, so a channel is never closed mid-broadcast.
func (h *Hub) Broadcast(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.logger.Warn("dropping event for slow subscriber", "event", ev.Name)
		}
	}
}

// SubscriberCount reports the number of connected dashboard clients.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// SetLatest records the most recent generated draft.
func (h *Hub) SetLatest(tpl *domain.Template) {
	h.mu.Lock()
	h.latest = tpl
	h.mu.Unlock()
}

// Latest returns the most recent generated draft, or nil when none is
// outstanding.
func (h *Hub) Latest() *domain.Template {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest
}

// ClearLatestFor drops the latest pointer when it refers to the given
// ticket, so a claimed draft stops being served.
func (h *Hub) ClearLatestFor(ticketID string) {
	h.mu.Lock()
	if h.latest != nil && h.latest.TicketID == ticketID {
		h.latest = nil
	}
	h.mu.Unlock()
}
