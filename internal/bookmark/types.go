// Package bookmark defines core types shared across subsystems.
package bookmark

import (
	"errors"
	"time"
)

// ErrInvalidURL is returned when a submitted URL is not a well-formed
// absolute http(s) URL. It is the only enrichment-path error surfaced
// to callers before persistence.
var ErrInvalidURL = errors.New("invalid url")

// ErrNotFound is returned when a bookmark does not exist or is not
// owned by the caller. Ownership violations deliberately collapse into
// not-found so record existence is never leaked.
var ErrNotFound = errors.New("bookmark not found")

// ScrapedMetadata is the extractor output for a single page.
// Title and Domain are always populated, even when the fetch failed;
// every other field degrades to its zero value.
type ScrapedMetadata struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	ImageWidth  int    `json:"image_width,omitempty"`
	ImageHeight int    `json:"image_height,omitempty"`
	FaviconURL  string `json:"favicon_url,omitempty"`
	Domain      string `json:"domain"`
	OGType      string `json:"og_type,omitempty"`
}

// Screenshot is a rendered capture of a page, hosted at a transient
// provider URL until promotion moves it into durable storage.
type Screenshot struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Bookmark is the durable record produced by the enrichment pipeline.
// ImageURL starts as either a page-native OG image or a transient
// screenshot URL; the background promotion step rewrites it at most
// once to the durable-store URL.
type Bookmark struct {
	ID           string    `json:"id"`
	UserID       string    `json:"-"`
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	ImageURL     string    `json:"image_url,omitempty"`
	ImageWidth   int       `json:"image_width,omitempty"`
	ImageHeight  int       `json:"image_height,omitempty"`
	FaviconURL   string    `json:"favicon_url,omitempty"`
	Domain       string    `json:"domain"`
	OGType       string    `json:"og_type,omitempty"`
	IsFavorite   bool      `json:"is_favorite"`
	IsArchived   bool      `json:"is_archived"`
	CollectionID string    `json:"collection_id,omitempty"`
	TagIDs       []string  `json:"tag_ids,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CreateInput captures a bookmark submission.
type CreateInput struct {
	URL          string   `json:"url"`
	CollectionID string   `json:"collection_id,omitempty"`
	TagIDs       []string `json:"tag_ids,omitempty"`
}

// UpdateInput captures a partial edit. Nil pointers leave the field
// untouched; TagIDs replaces the full tag set when ReplaceTags is set.
type UpdateInput struct {
	ID           string
	Title        *string
	Description  *string
	CollectionID *string
	TagIDs       []string
	ReplaceTags  bool
}

// Sort fields accepted by ListFilters.
const (
	SortCreatedAt = "created_at"
	SortUpdatedAt = "updated_at"
	SortTitle     = "title"
	SortDomain    = "domain"
)

// ListFilters narrows and orders a bookmark listing.
type ListFilters struct {
	Search       string
	TagIDs       []string
	CollectionID string
	Favorite     *bool
	Archived     bool
	SortBy       string
	SortDir      string
	Limit        int
	Offset       int
}

// ListResult is a page of bookmarks plus paging metadata.
type ListResult struct {
	Bookmarks []Bookmark `json:"bookmarks"`
	Total     int        `json:"total"`
	HasMore   bool       `json:"has_more"`
}
