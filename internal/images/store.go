// Package images copies preview images into durable object storage.
//
// Object keys are always derived from the owning bookmark id as
// "<id>.jpg", so image lifecycle never needs a separate key column.
package images

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sitemark/sitemark/internal/storage"
)

const (
	defaultTimeout = 15 * time.Second

	// maxImageBytes caps how much of a source image is read, so a
	// misbehaving host cannot exhaust memory.
	maxImageBytes = 20 << 20
)

// Config controls the image store's fetch behavior.
type Config struct {
	Timeout time.Duration
}

// Store implements bookmark.ImageStore over a blob storage provider.
type Store struct {
	blobs  storage.Provider
	client *http.Client
	logger *zap.Logger
}

// New builds a Store.
func New(blobs storage.Provider, cfg Config, logger *zap.Logger) *Store {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Store{
		blobs:  blobs,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// ObjectKey derives the storage key for a bookmark id.
func ObjectKey(bookmarkID string) string {
	return bookmarkID + ".jpg"
}

// UploadFromURL fetches the bytes at sourceURL and writes them under
// the bookmark's object key, overwriting any existing object. It
// returns the stable public URL, or "" on any fetch or storage failure.
func (s *Store) UploadFromURL(ctx context.Context, sourceURL, bookmarkID string) string {
	url, err := s.upload(ctx, sourceURL, bookmarkID)
	if err != nil {
		s.logger.Warn("image upload failed",
			zap.String("bookmark_id", bookmarkID),
			zap.String("source_url", sourceURL),
			zap.Error(err),
		)
		return ""
	}
	return url
}

func (s *Store) upload(ctx context.Context, sourceURL, bookmarkID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch image: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			s.logger.Warn("close image response body failed", zap.Error(closeErr))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch image: unexpected status %d", resp.StatusCode)
	}

	key := ObjectKey(bookmarkID)
	body := io.LimitReader(resp.Body, maxImageBytes)
	if err := s.blobs.Put(ctx, key, "image/jpeg", body); err != nil {
		return "", fmt.Errorf("store image: %w", err)
	}
	return s.blobs.PublicURL(key), nil
}

// Delete removes the bookmark's stored image. It reports success;
// callers treat failure as non-fatal.
func (s *Store) Delete(ctx context.Context, bookmarkID string) bool {
	if err := s.blobs.Delete(ctx, ObjectKey(bookmarkID)); err != nil {
		s.logger.Warn("image delete failed",
			zap.String("bookmark_id", bookmarkID),
			zap.Error(err),
		)
		return false
	}
	return true
}

// PublicURL derives the stable public URL for a bookmark's image.
func (s *Store) PublicURL(bookmarkID string) string {
	return s.blobs.PublicURL(ObjectKey(bookmarkID))
}
