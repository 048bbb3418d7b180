package media

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ticketbridge/internal/domain"
)

// LocalStore writes attachments to a directory on disk. References are
// "/uploads/<name>" paths the dashboard can fetch directly.
type LocalStore struct {
	dir string
}

func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("uploads directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &domain.StorageError{Op: "mkdir", Err: err}
	}
	return &LocalStore{dir: dir}, nil
}

func (s *LocalStore) Save(ctx context.Context, data []byte, mimeType string) (string, error) {
	name := freshName(mimeType)
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", &domain.StorageError{Op: "save", Err: err}
	}
	return "/uploads/" + name, nil
}

func (s *LocalStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	name, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrNotFound
		}
		return nil, &domain.StorageError{Op: "open", Err: err}
	}
	return f, nil
}

func (s *LocalStore) URL(ctx context.Context, ref string) (string, error) {
	if _, err := s.resolve(ref); err != nil {
		return "", err
	}
	return ref, nil
}

// Dir returns the uploads directory, for static file serving.
func (s *LocalStore) Dir() string {
	return s.dir
}

// resolve strips the /uploads/ prefix and rejects refs that would escape
// the uploads directory.
func (s *LocalStore) resolve(ref string) (string, error) {
	name := strings.TrimPrefix(ref, "/uploads/")
	if name == "" || name != filepath.Base(name) {
		return "", &domain.StorageError{Op: "resolve", Err: fmt.Errorf("invalid media reference %q", ref)}
	}
	return name, nil
}

// freshName builds a collision-free filename: <unix-ms>-<random>.<ext>.
func freshName(mimeType string) string {
	buf := make([]byte, 6)
	rand.Read(buf)
	return fmt.Sprintf("%d-%s.%s", time.Now().UnixMilli(), hex.EncodeToString(buf), extFromMime(mimeType))
}

func extFromMime(mimeType string) string {
	// "image/jpeg; codecs=..." -> "jpeg"
	mimeType, _, _ = strings.Cut(mimeType, ";")
	_, sub, ok := strings.Cut(strings.TrimSpace(mimeType), "/")
	if !ok || sub == "" {
		return "bin"
	}
	// "vnd.openxmlformats-officedocument.wordprocessingml.document" and
	// friends are not useful extensions.
	switch sub {
	case "jpeg", "jpg", "png", "gif", "webp", "mp4", "pdf", "3gpp":
		return sub
	case "plain":
		return "txt"
	default:
		if strings.ContainsAny(sub, ".+-") {
			return "bin"
		}
		return sub
	}
}
