package bookmark

import (
	"context"
	"time"
)

// Store persists bookmark rows and their tag relations.
type Store interface {
	Create(ctx context.Context, b Bookmark, tagIDs []string) (Bookmark, error)
	Get(ctx context.Context, id, userID string) (Bookmark, error)
	List(ctx context.Context, userID string, f ListFilters) (ListResult, error)
	Update(ctx context.Context, userID string, in UpdateInput) (Bookmark, error)
	// UpdateImageURL patches the image URL only when the row still exists
	// and its current image URL equals previousURL. It reports whether a
	// row was updated.
	UpdateImageURL(ctx context.Context, id, imageURL, previousURL string) (bool, error)
	Delete(ctx context.Context, id, userID string) error
	ToggleFavorite(ctx context.Context, id, userID string) (Bookmark, error)
	ToggleArchive(ctx context.Context, id, userID string) (Bookmark, error)
}

// MetadataExtractor fetches and parses page metadata. It never fails:
// unreachable or unparsable pages yield a degraded result with only
// Title and Domain populated.
type MetadataExtractor interface {
	Extract(ctx context.Context, url string) ScrapedMetadata
}

// ScreenshotProvider captures a rendered screenshot of a page.
// Capture returns nil on any failure; screenshots are best-effort.
type ScreenshotProvider interface {
	Capture(ctx context.Context, url string) *Screenshot
	// IsTransient reports whether the URL points at this provider's
	// transient hosting and should be promoted to durable storage.
	IsTransient(url string) bool
	// Release frees the transient capture behind the URL once it is no
	// longer referenced. Providers whose transient URLs are hosted
	// externally and expire on their own treat this as a no-op.
	// Best-effort; failures are logged, not returned.
	Release(ctx context.Context, url string)
}

// ImageStore copies images into durable object storage keyed by
// bookmark id. UploadFromURL returns "" and Delete returns false on
// failure; neither is fatal to the enclosing operation.
type ImageStore interface {
	UploadFromURL(ctx context.Context, sourceURL, bookmarkID string) string
	Delete(ctx context.Context, bookmarkID string) bool
	PublicURL(bookmarkID string) string
}

// Publisher pushes lifecycle events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces bookmark IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
