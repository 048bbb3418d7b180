package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"ticketbridge/internal/bus"
	"ticketbridge/internal/config"
	"ticketbridge/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startWhatsApp(t *testing.T, cfg config.WhatsAppConfig) (*WhatsApp, *bus.InMemoryBus) {
	t.Helper()
	b := bus.New(10, testLogger())
	t.Cleanup(b.Close)

	w := NewWhatsApp(cfg, testLogger())
	if err := w.Start(context.Background(), b); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return w, b
}

const waTextPayload = `{
	"object": "whatsapp_business_account",
	"entry": [{
		"id": "1",
		"changes": [{
			"field": "messages",
			"value": {
				"messaging_product": "whatsapp",
				"messages": [{
					"from": "15551234",
					"id": "wamid.1",
					"type": "text",
					"text": {"body": "the export button crashes"}
				}]
			}
		}]
	}]
}`

func TestWebhookVerification(t *testing.T) {
	w, _ := startWhatsApp(t, config.WhatsAppConfig{VerifyToken: "vt"})

	req := httptest.NewRequest("GET", "/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=vt&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	w.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "12345" {
		t.Errorf("verification failed: %d %q", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest("GET", "/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	rec = httptest.NewRecorder()
	w.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("wrong token accepted: %d", rec.Code)
	}
}

func TestWebhookPublishesTextMessage(t *testing.T) {
	w, b := startWhatsApp(t, config.WhatsAppConfig{})

	req := httptest.NewRequest("POST", "/webhook/whatsapp", bytes.NewReader([]byte(waTextPayload)))
	rec := httptest.NewRecorder()
	w.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}

	select {
	case msg := <-b.Subscribe():
		if msg.Channel != "whatsapp" || msg.From != "15551234" {
			t.Errorf("message = %+v", msg)
		}
		if msg.Kind != domain.KindText || msg.Text != "the export button crashes" {
			t.Errorf("payload = %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("message not published")
	}
}

func TestWebhookSignatureCheck(t *testing.T) {
	w, b := startWhatsApp(t, config.WhatsAppConfig{AppSecret: "secret"})

	// Bad signature is rejected.
	req := httptest.NewRequest("POST", "/webhook/whatsapp", bytes.NewReader([]byte(waTextPayload)))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	rec := httptest.NewRecorder()
	w.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("bad signature accepted: %d", rec.Code)
	}

	// Valid signature passes.
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte(waTextPayload))
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	req = httptest.NewRequest("POST", "/webhook/whatsapp", bytes.NewReader([]byte(waTextPayload)))
	req.Header.Set("X-Hub-Signature-256", sig)
	rec = httptest.NewRecorder()
	w.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid signature rejected: %d", rec.Code)
	}

	select {
	case <-b.Subscribe():
	case <-time.After(time.Second):
		t.Fatal("signed message not published")
	}
}

func TestWebhookAllowList(t *testing.T) {
	w, b := startWhatsApp(t, config.WhatsAppConfig{AllowFrom: []string{"19998888"}})

	req := httptest.NewRequest("POST", "/webhook/whatsapp", bytes.NewReader([]byte(waTextPayload)))
	rec := httptest.NewRecorder()
	w.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}

	select {
	case msg := <-b.Subscribe():
		t.Errorf("unauthorized sender published: %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWebhookIgnoresUnsupportedTypes(t *testing.T) {
	w, b := startWhatsApp(t, config.WhatsAppConfig{})

	payload := `{"entry":[{"changes":[{"value":{"messages":[{"from":"1","type":"sticker"}]}}]}]}`
	req := httptest.NewRequest("POST", "/webhook/whatsapp", bytes.NewReader([]byte(payload)))
	rec := httptest.NewRecorder()
	w.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}

	select {
	case msg := <-b.Subscribe():
		t.Errorf("unsupported type published: %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}
