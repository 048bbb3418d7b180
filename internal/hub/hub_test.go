package hub

import (
	"log/slog"
	"os"
	"sync"
	"testing"

	"ticketbridge/internal/domain"
)

func testHub() *Hub {
	return New(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
}

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	h := testHub()
	a := h.Subscribe()
	b := h.Subscribe()

	h.Broadcast(Event{Name: EventGenerating, Message: "working"})

	for _, ch := range []chan Event{a, b} {
		select {
		case ev := <-ch:
			if ev.Name != EventGenerating {
				t.Errorf("event = %q", ev.Name)
			}
		default:
			t.Error("subscriber did not receive the event")
		}
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	h := testHub()
	ch := h.Subscribe()

	// Overfill the buffer; Broadcast must return regardless.
	for i := 0; i < cap(ch)+5; i++ {
		h.Broadcast(Event{Name: EventGenerating})
	}
	if len(ch) != cap(ch) {
		t.Errorf("buffered = %d, want %d", len(ch), cap(ch))
	}
}

func TestUnsubscribeTwice(t *testing.T) {
	h := testHub()
	ch := h.Subscribe()
	h.Unsubscribe(ch)
	h.Unsubscribe(ch) // must not panic on double close

	if h.SubscriberCount() != 0 {
		t.Errorf("count = %d", h.SubscriberCount())
	}
	h.Broadcast(Event{Name: EventError, Message: "x"}) // no subscribers left
}

func TestUnsubscribeDuringBroadcast(t *testing.T) {
	h := testHub()

	// Subscribers come and go while broadcasts are in flight. A channel
	// closed between snapshot and send used to panic here.
	stop := make(chan struct{})
	var broadcasters sync.WaitGroup
	for i := 0; i < 4; i++ {
		broadcasters.Add(1)
		go func() {
			defer broadcasters.Done()
			for {
				select {
				case <-stop:
					return
				default:
					h.Broadcast(Event{Name: EventGenerating})
				}
			}
		}()
	}

	var churn sync.WaitGroup
	for i := 0; i < 4; i++ {
		churn.Add(1)
		go func() {
			defer churn.Done()
			for j := 0; j < 500; j++ {
				ch := h.Subscribe()
				h.Unsubscribe(ch)
			}
		}()
	}
	churn.Wait()
	close(stop)
	broadcasters.Wait()

	if h.SubscriberCount() != 0 {
		t.Errorf("count = %d after churn", h.SubscriberCount())
	}

	// The hub still delivers to a fresh subscriber.
	ch := h.Subscribe()
	h.Broadcast(Event{Name: EventError, Message: "x"})
	select {
	case ev := <-ch:
		if ev.Name != EventError {
			t.Errorf("event = %q", ev.Name)
		}
	default:
		t.Error("subscriber did not receive the event")
	}
}

func TestLatestPointer(t *testing.T) {
	h := testHub()
	if h.Latest() != nil {
		t.Error("fresh hub has a latest draft")
	}

	tpl := &domain.Template{ID: "tpl-1", TicketID: "tick-1", Summary: "s"}
	h.SetLatest(tpl)
	if got := h.Latest(); got == nil || got.ID != "tpl-1" {
		t.Errorf("latest = %+v", got)
	}

	h.ClearLatestFor("other-ticket")
	if h.Latest() == nil {
		t.Error("latest cleared for an unrelated ticket")
	}

	h.ClearLatestFor("tick-1")
	if h.Latest() != nil {
		t.Error("latest not cleared")
	}
}
