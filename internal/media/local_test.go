package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"ticketbridge/internal/domain"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	ctx := context.Background()

	payload := []byte{0xff, 0xd8, 0x01, 0x02, 0x03}
	ref, err := s.Save(ctx, payload, "image/jpeg")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !strings.HasPrefix(ref, "/uploads/") || !strings.HasSuffix(ref, ".jpeg") {
		t.Errorf("unexpected ref: %q", ref)
	}

	r, err := s.Open(ctx, ref)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("content mismatch: got %v", got)
	}

	url, err := s.URL(ctx, ref)
	if err != nil {
		t.Fatalf("URL: %v", err)
	}
	if url != ref {
		t.Errorf("url = %q, want %q", url, ref)
	}
}

func TestLocalStoreFreshNames(t *testing.T) {
	s, _ := NewLocalStore(t.TempDir())
	ctx := context.Background()

	a, _ := s.Save(ctx, []byte("one"), "text/plain")
	b, _ := s.Save(ctx, []byte("two"), "text/plain")
	if a == b {
		t.Errorf("two saves produced the same reference %q", a)
	}
}

func TestLocalStoreOpenMissing(t *testing.T) {
	s, _ := NewLocalStore(t.TempDir())
	_, err := s.Open(context.Background(), "/uploads/123-abc.png")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	s, _ := NewLocalStore(t.TempDir())
	for _, ref := range []string{"/uploads/../etc/passwd", "/uploads/", "../x", "/uploads/a/b"} {
		if _, err := s.Open(context.Background(), ref); err == nil {
			t.Errorf("ref %q was accepted", ref)
		}
	}
}

func TestExtFromMime(t *testing.T) {
	tests := []struct {
		mime string
		want string
	}{
		{"image/jpeg", "jpeg"},
		{"image/png", "png"},
		{"video/mp4", "mp4"},
		{"application/pdf", "pdf"},
		{"text/plain", "txt"},
		{"image/jpeg; charset=binary", "jpeg"},
		{"application/vnd.openxmlformats-officedocument.wordprocessingml.document", "bin"},
		{"garbage", "bin"},
		{"", "bin"},
	}
	for _, tt := range tests {
		if got := extFromMime(tt.mime); got != tt.want {
			t.Errorf("extFromMime(%q) = %q, want %q", tt.mime, got, tt.want)
		}
	}
}
