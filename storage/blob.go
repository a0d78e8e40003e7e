// Package storage keeps message image attachments on local disk.
// Clients send images inline as base64 data URLs; the store decodes
// them once, verifies the content is really an image by sniffing its
// magic bytes, and serves the result as a static file. The database
// only ever holds the public URL.
package storage

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"chat-relay/errors"
)

type BlobStore struct {
	dir      string
	baseURL  string
	maxBytes int
	log      *slog.Logger
}

// NewBlobStore creates the backing directory if needed. baseURL is the
// public prefix under which the directory is served, e.g. "/media".
func NewBlobStore(dir, baseURL string, maxBytes int, log *slog.Logger) (*BlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &BlobStore{
		dir:      dir,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		maxBytes: maxBytes,
		log:      log,
	}, nil
}

// SaveDataURL decodes an inline "data:image/...;base64,..." payload,
// writes it under the message's id and returns the public URL. The
// declared media type in the header is ignored: only the sniffed
// content decides, so a renamed executable never lands on disk as an
// "image".
func (s *BlobStore) SaveDataURL(dataURL string, messageID uuid.UUID) (string, error) {
	payload := dataURL
	if idx := strings.Index(dataURL, ","); idx >= 0 && strings.HasPrefix(dataURL, "data:") {
		payload = dataURL[idx+1:]
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", errors.ErrInvalidImage
	}
	if len(data) == 0 || len(data) > s.maxBytes {
		return "", errors.ErrInvalidImage
	}

	mime := mimetype.Detect(data)
	if !strings.HasPrefix(mime.String(), "image/") {
		return "", errors.ErrInvalidImage
	}

	filename := messageID.String() + mime.Extension()
	if err := os.WriteFile(filepath.Join(s.dir, filename), data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}

	s.log.Debug("Stored image attachment",
		"message_id", messageID, "mime", mime.String(), "size", len(data))
	return s.baseURL + "/" + filename, nil
}

// Delete removes the blob behind a URL previously returned by
// SaveDataURL. A blob that is already gone is not an error: deletion
// retries must stay idempotent.
func (s *BlobStore) Delete(url string) error {
	if url == "" {
		return nil
	}
	// path.Base strips any directory part, so a crafted URL can never
	// reach outside the blob directory.
	filename := path.Base(url)
	err := os.Remove(filepath.Join(s.dir, filename))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// Dir returns the backing directory, for mounting as a static route.
func (s *BlobStore) Dir() string { return s.dir }
