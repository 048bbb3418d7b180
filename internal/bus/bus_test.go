package bus

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"ticketbridge/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestPublishSubscribe(t *testing.T) {
	b := New(10, testLogger())
	defer b.Close()

	b.Publish(domain.InboundMessage{Channel: "whatsapp", From: "123", Text: "hello"})

	select {
	case msg := <-b.Subscribe():
		if msg.From != "123" || msg.Text != "hello" {
			t.Errorf("unexpected message: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
}

func TestOutboundRouting(t *testing.T) {
	b := New(10, testLogger())
	defer b.Close()

	got := make(chan domain.OutboundMessage, 1)
	b.OnOutbound("telegram", func(msg domain.OutboundMessage) {
		got <- msg
	})

	b.SendOutbound(domain.OutboundMessage{Channel: "telegram", To: "42", Content: "done"})

	select {
	case msg := <-got:
		if msg.To != "42" {
			t.Errorf("routed to wrong recipient: %s", msg.To)
		}
	case <-time.After(time.Second):
		t.Fatal("outbound handler not invoked")
	}
}

func TestOutboundUnknownChannelIsIgnored(t *testing.T) {
	b := New(10, testLogger())
	defer b.Close()

	// Must not panic or block.
	b.SendOutbound(domain.OutboundMessage{Channel: "nope", To: "x", Content: "y"})
}

func TestPublishAfterClose(t *testing.T) {
	b := New(10, testLogger())
	b.Close()
	b.Close() // double close is safe

	// Must not panic on a closed bus.
	b.Publish(domain.InboundMessage{Channel: "whatsapp", From: "1"})
}
