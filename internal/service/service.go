// Package service orchestrates the bookmark enrichment pipeline:
// metadata extraction, screenshot fallback, persistence, and the
// background promotion of transient screenshots into durable storage.
package service

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sitemark/sitemark/internal/bookmark"
	"github.com/sitemark/sitemark/internal/metrics"
)

// Lifecycle event topics.
const (
	TopicBookmarkCreated = "bookmark.created"
	TopicImagePromoted   = "bookmark.image_promoted"
	TopicBookmarkDeleted = "bookmark.deleted"
)

const defaultPromoteTimeout = 60 * time.Second

// Config controls service behavior.
type Config struct {
	// PromoteTimeout bounds one background screenshot promotion.
	PromoteTimeout time.Duration
}

// Service implements the bookmark use cases over the port interfaces.
type Service struct {
	store     bookmark.Store
	extractor bookmark.MetadataExtractor
	shots     bookmark.ScreenshotProvider
	images    bookmark.ImageStore
	publisher bookmark.Publisher
	clock     bookmark.Clock
	ids       bookmark.IDGenerator
	cfg       Config
	logger    *zap.Logger

	promotions sync.WaitGroup
}

type lifecycleEvent struct {
	BookmarkID string    `json:"bookmark_id"`
	UserID     string    `json:"user_id"`
	URL        string    `json:"url,omitempty"`
	ImageURL   string    `json:"image_url,omitempty"`
	At         time.Time `json:"at"`
}

// New wires a Service from its dependencies.
func New(
	store bookmark.Store,
	extractor bookmark.MetadataExtractor,
	shots bookmark.ScreenshotProvider,
	images bookmark.ImageStore,
	publisher bookmark.Publisher,
	clock bookmark.Clock,
	ids bookmark.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if cfg.PromoteTimeout <= 0 {
		cfg.PromoteTimeout = defaultPromoteTimeout
	}
	return &Service{
		store:     store,
		extractor: extractor,
		shots:     shots,
		images:    images,
		publisher: publisher,
		clock:     clock,
		ids:       ids,
		cfg:       cfg,
		logger:    logger,
	}
}

// Create validates the URL, enriches it with scraped metadata or a
// screenshot fallback, persists the bookmark, and kicks off promotion
// of a transient screenshot in the background.
func (s *Service) Create(ctx context.Context, userID string, in bookmark.CreateInput) (bookmark.Bookmark, error) {
	if err := validateURL(in.URL); err != nil {
		return bookmark.Bookmark{}, err
	}

	meta := s.extractor.Extract(ctx, in.URL)

	imageSource := "none"
	if meta.ImageURL != "" {
		imageSource = "og"
	} else if shot := s.shots.Capture(ctx, in.URL); shot != nil {
		meta.ImageURL = shot.URL
		meta.ImageWidth = shot.Width
		meta.ImageHeight = shot.Height
		imageSource = "screenshot"
	}

	id, err := s.ids.NewID()
	if err != nil {
		return bookmark.Bookmark{}, fmt.Errorf("generate bookmark id: %w", err)
	}
	now := s.clock.Now().UTC()

	b := bookmark.Bookmark{
		ID:           id,
		UserID:       userID,
		URL:          in.URL,
		Title:        meta.Title,
		Description:  meta.Description,
		ImageURL:     meta.ImageURL,
		ImageWidth:   meta.ImageWidth,
		ImageHeight:  meta.ImageHeight,
		FaviconURL:   meta.FaviconURL,
		Domain:       meta.Domain,
		OGType:       meta.OGType,
		CollectionID: in.CollectionID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	created, err := s.store.Create(ctx, b, in.TagIDs)
	if err != nil {
		return bookmark.Bookmark{}, fmt.Errorf("persist bookmark: %w", err)
	}
	metrics.ObserveBookmarkCreated(imageSource)

	s.publish(ctx, TopicBookmarkCreated, created)

	if s.shots.IsTransient(created.ImageURL) {
		s.promotions.Add(1)
		go s.promote(created.ID, created.UserID, created.ImageURL)
	}

	return created, nil
}

// promote copies a transient screenshot into durable storage and
// patches the row's image URL, unless the row was deleted or edited in
// the meantime. Runs detached from the request context.
func (s *Service) promote(bookmarkID, userID, transientURL string) {
	defer s.promotions.Done()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PromoteTimeout)
	defer cancel()

	durableURL := s.images.UploadFromURL(ctx, transientURL, bookmarkID)
	if durableURL == "" {
		// Bookmark keeps serving the transient URL until it expires.
		metrics.ObservePromotion("upload_failed")
		return
	}

	// The durable copy exists now, so the parked capture is no longer
	// needed whatever the patch outcome.
	s.shots.Release(ctx, transientURL)

	patched, err := s.store.UpdateImageURL(ctx, bookmarkID, durableURL, transientURL)
	if err != nil {
		s.logger.Warn("screenshot promotion patch failed",
			zap.String("bookmark_id", bookmarkID),
			zap.Error(err),
		)
		metrics.ObservePromotion("patch_failed")
		return
	}
	if !patched {
		// Row deleted or image replaced since capture.
		metrics.ObservePromotion("row_gone")
		return
	}
	metrics.ObservePromotion("promoted")
	s.publish(ctx, TopicImagePromoted, bookmark.Bookmark{
		ID:       bookmarkID,
		UserID:   userID,
		ImageURL: durableURL,
	})
}

// Get fetches one bookmark owned by userID.
func (s *Service) Get(ctx context.Context, id, userID string) (bookmark.Bookmark, error) {
	return s.store.Get(ctx, id, userID)
}

// List returns a filtered page of the user's bookmarks.
func (s *Service) List(ctx context.Context, userID string, f bookmark.ListFilters) (bookmark.ListResult, error) {
	return s.store.List(ctx, userID, f)
}

// Update applies a partial edit to a bookmark.
func (s *Service) Update(ctx context.Context, userID string, in bookmark.UpdateInput) (bookmark.Bookmark, error) {
	return s.store.Update(ctx, userID, in)
}

// Delete releases the bookmark's stored image, then removes the row.
// The image delete is best-effort so storage hiccups never block the
// user from deleting a bookmark.
func (s *Service) Delete(ctx context.Context, id, userID string) error {
	b, err := s.store.Get(ctx, id, userID)
	if err != nil {
		return err
	}

	if !s.images.Delete(ctx, id) {
		s.logger.Warn("bookmark image release failed",
			zap.String("bookmark_id", id),
		)
	}
	// A capture that never got promoted still holds a parked blob.
	if s.shots.IsTransient(b.ImageURL) {
		s.shots.Release(ctx, b.ImageURL)
	}
	if err := s.store.Delete(ctx, id, userID); err != nil {
		return err
	}

	s.publish(ctx, TopicBookmarkDeleted, b)
	return nil
}

// ToggleFavorite flips the favorite flag.
func (s *Service) ToggleFavorite(ctx context.Context, id, userID string) (bookmark.Bookmark, error) {
	return s.store.ToggleFavorite(ctx, id, userID)
}

// ToggleArchive flips the archived flag.
func (s *Service) ToggleArchive(ctx context.Context, id, userID string) (bookmark.Bookmark, error) {
	return s.store.ToggleArchive(ctx, id, userID)
}

// Close waits for in-flight promotions to drain, bounded by ctx.
func (s *Service) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.promotions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain promotions: %w", ctx.Err())
	}
}

func (s *Service) publish(ctx context.Context, topic string, b bookmark.Bookmark) {
	event := lifecycleEvent{
		BookmarkID: b.ID,
		UserID:     b.UserID,
		URL:        b.URL,
		ImageURL:   b.ImageURL,
		At:         s.clock.Now().UTC(),
	}
	if _, err := s.publisher.Publish(ctx, topic, event); err != nil {
		s.logger.Warn("event publish failed",
			zap.String("topic", topic),
			zap.String("bookmark_id", b.ID),
			zap.Error(err),
		)
	}
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", bookmark.ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", bookmark.ErrInvalidURL, raw)
	}
	return nil
}
