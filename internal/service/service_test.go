package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sitemark/sitemark/internal/bookmark"
	eventsmem "github.com/sitemark/sitemark/internal/events/memory"
	"github.com/sitemark/sitemark/internal/service"
)

type fakeStore struct {
	mu        sync.Mutex
	bookmarks map[string]bookmark.Bookmark
	calls     *callRecorder
}

func newFakeStore(rec *callRecorder) *fakeStore {
	return &fakeStore{bookmarks: make(map[string]bookmark.Bookmark), calls: rec}
}

func (s *fakeStore) Create(_ context.Context, b bookmark.Bookmark, tagIDs []string) (bookmark.Bookmark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b.TagIDs = tagIDs
	s.bookmarks[b.ID] = b
	return b, nil
}

func (s *fakeStore) Get(_ context.Context, id, userID string) (bookmark.Bookmark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookmarks[id]
	if !ok || b.UserID != userID {
		return bookmark.Bookmark{}, bookmark.ErrNotFound
	}
	return b, nil
}

func (s *fakeStore) List(_ context.Context, userID string, _ bookmark.ListFilters) (bookmark.ListResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []bookmark.Bookmark
	for _, b := range s.bookmarks {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	return bookmark.ListResult{Bookmarks: out, Total: len(out)}, nil
}

func (s *fakeStore) Update(_ context.Context, userID string, in bookmark.UpdateInput) (bookmark.Bookmark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookmarks[in.ID]
	if !ok || b.UserID != userID {
		return bookmark.Bookmark{}, bookmark.ErrNotFound
	}
	if in.Title != nil {
		b.Title = *in.Title
	}
	s.bookmarks[in.ID] = b
	return b, nil
}

func (s *fakeStore) UpdateImageURL(_ context.Context, id, imageURL, previousURL string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookmarks[id]
	if !ok || b.ImageURL != previousURL {
		return false, nil
	}
	b.ImageURL = imageURL
	s.bookmarks[id] = b
	return true, nil
}

func (s *fakeStore) Delete(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls.record("store.delete")
	b, ok := s.bookmarks[id]
	if !ok || b.UserID != userID {
		return bookmark.ErrNotFound
	}
	delete(s.bookmarks, id)
	return nil
}

func (s *fakeStore) ToggleFavorite(_ context.Context, id, userID string) (bookmark.Bookmark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookmarks[id]
	if !ok || b.UserID != userID {
		return bookmark.Bookmark{}, bookmark.ErrNotFound
	}
	b.IsFavorite = !b.IsFavorite
	s.bookmarks[id] = b
	return b, nil
}

func (s *fakeStore) ToggleArchive(_ context.Context, id, userID string) (bookmark.Bookmark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookmarks[id]
	if !ok || b.UserID != userID {
		return bookmark.Bookmark{}, bookmark.ErrNotFound
	}
	b.IsArchived = !b.IsArchived
	s.bookmarks[id] = b
	return b, nil
}

func (s *fakeStore) get(id string) (bookmark.Bookmark, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookmarks[id]
	return b, ok
}

type fakeExtractor struct {
	mu    sync.Mutex
	meta  bookmark.ScrapedMetadata
	calls int
}

func (e *fakeExtractor) Extract(_ context.Context, _ string) bookmark.ScrapedMetadata {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return e.meta
}

func (e *fakeExtractor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type fakeShots struct {
	mu       sync.Mutex
	shot     *bookmark.Screenshot
	calls    int
	released []string
}

func (f *fakeShots) Capture(_ context.Context, _ string) *bookmark.Screenshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.shot
}

func (f *fakeShots) IsTransient(u string) bool {
	return strings.Contains(u, "transient.example")
}

func (f *fakeShots) Release(_ context.Context, u string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, u)
}

func (f *fakeShots) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeShots) releasedURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.released...)
}

type fakeImages struct {
	mu         sync.Mutex
	durableURL string
	failUpload bool
	uploadGate chan struct{}
	calls      *callRecorder
}

func (f *fakeImages) UploadFromURL(_ context.Context, _, _ string) string {
	if f.uploadGate != nil {
		<-f.uploadGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpload {
		return ""
	}
	return f.durableURL
}

func (f *fakeImages) Delete(_ context.Context, _ string) bool {
	f.calls.record("images.delete")
	return true
}

func (f *fakeImages) PublicURL(bookmarkID string) string {
	return "https://cdn.example.com/" + bookmarkID + ".jpg"
}

type callRecorder struct {
	mu    sync.Mutex
	order []string
}

func (r *callRecorder) record(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, name)
}

func (r *callRecorder) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

type staticClock struct{ t time.Time }

func (c staticClock) Now() time.Time { return c.t }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return string(rune('a'+g.n-1)) + "-bookmark", nil
}

type harness struct {
	svc       *service.Service
	store     *fakeStore
	extractor *fakeExtractor
	shots     *fakeShots
	images    *fakeImages
	publisher *eventsmem.Publisher
	rec       *callRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	rec := &callRecorder{}
	h := &harness{
		store:     newFakeStore(rec),
		extractor: &fakeExtractor{},
		shots:     &fakeShots{},
		images:    &fakeImages{durableURL: "https://cdn.example.com/a-bookmark.jpg", calls: rec},
		publisher: eventsmem.New(),
		rec:       rec,
	}
	h.svc = service.New(
		h.store, h.extractor, h.shots, h.images, h.publisher,
		staticClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		&seqIDs{},
		service.Config{PromoteTimeout: 5 * time.Second},
		zap.NewNop(),
	)
	return h
}

func (h *harness) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.svc.Close(ctx))
}

func TestCreateUsesOpenGraphImage(t *testing.T) {
	h := newHarness(t)
	h.extractor.meta = bookmark.ScrapedMetadata{
		Title:    "Example Post",
		ImageURL: "https://example.com/og.jpg",
		Domain:   "example.com",
	}

	b, err := h.svc.Create(context.Background(), "user-1", bookmark.CreateInput{URL: "https://example.com/post"})
	require.NoError(t, err)
	require.Equal(t, "https://example.com/og.jpg", b.ImageURL)
	require.Equal(t, "Example Post", b.Title)
	require.Zero(t, h.shots.callCount(), "screenshot must not run when the page has an image")

	h.drain(t)
	require.Len(t, h.publisher.MessagesFor(service.TopicBookmarkCreated), 1)
}

func TestCreateScreenshotFallbackIsPromoted(t *testing.T) {
	h := newHarness(t)
	h.extractor.meta = bookmark.ScrapedMetadata{Title: "No Image", Domain: "example.com"}
	h.shots.shot = &bookmark.Screenshot{
		URL:    "https://transient.example/shot.png",
		Width:  1200,
		Height: 630,
	}

	b, err := h.svc.Create(context.Background(), "user-1", bookmark.CreateInput{URL: "https://example.com/"})
	require.NoError(t, err)
	require.Equal(t, "https://transient.example/shot.png", b.ImageURL,
		"create responds with the transient URL; promotion happens in the background")

	h.drain(t)
	stored, ok := h.store.get(b.ID)
	require.True(t, ok)
	require.Equal(t, "https://cdn.example.com/a-bookmark.jpg", stored.ImageURL)
	require.Len(t, h.publisher.MessagesFor(service.TopicImagePromoted), 1)
}

func TestCreateRejectsInvalidURLBeforeExtraction(t *testing.T) {
	h := newHarness(t)

	for _, raw := range []string{"", "not a url", "ftp://example.com/file", "/relative/path"} {
		_, err := h.svc.Create(context.Background(), "user-1", bookmark.CreateInput{URL: raw})
		require.ErrorIs(t, err, bookmark.ErrInvalidURL, "url %q", raw)
	}
	require.Zero(t, h.extractor.callCount())
}

func TestCreateWithoutImageOrScreenshot(t *testing.T) {
	h := newHarness(t)
	h.extractor.meta = bookmark.ScrapedMetadata{Title: "bare", Domain: "example.com"}
	h.shots.shot = nil

	b, err := h.svc.Create(context.Background(), "user-1", bookmark.CreateInput{URL: "https://example.com/"})
	require.NoError(t, err)
	require.Empty(t, b.ImageURL)
	require.Equal(t, 1, h.shots.callCount())

	h.drain(t)
	stored, ok := h.store.get(b.ID)
	require.True(t, ok)
	require.Empty(t, stored.ImageURL)
}

func TestPromotionReleasesTransientCapture(t *testing.T) {
	h := newHarness(t)
	h.extractor.meta = bookmark.ScrapedMetadata{Domain: "example.com"}
	h.shots.shot = &bookmark.Screenshot{URL: "https://transient.example/shot.png"}

	_, err := h.svc.Create(context.Background(), "user-1", bookmark.CreateInput{URL: "https://example.com/"})
	require.NoError(t, err)

	h.drain(t)
	require.Equal(t, []string{"https://transient.example/shot.png"}, h.shots.releasedURLs(),
		"the parked capture must be freed once the durable copy exists")
}

func TestDeleteReleasesUnpromotedCapture(t *testing.T) {
	h := newHarness(t)
	h.extractor.meta = bookmark.ScrapedMetadata{Domain: "example.com"}
	h.shots.shot = &bookmark.Screenshot{URL: "https://transient.example/shot.png"}
	h.images.failUpload = true

	b, err := h.svc.Create(context.Background(), "user-1", bookmark.CreateInput{URL: "https://example.com/"})
	require.NoError(t, err)
	h.drain(t)

	require.NoError(t, h.svc.Delete(context.Background(), b.ID, "user-1"))
	require.Equal(t, []string{"https://transient.example/shot.png"}, h.shots.releasedURLs(),
		"deleting a bookmark still serving the transient URL must free the capture")
}

func TestPromotionUploadFailureKeepsTransientURL(t *testing.T) {
	h := newHarness(t)
	h.extractor.meta = bookmark.ScrapedMetadata{Domain: "example.com"}
	h.shots.shot = &bookmark.Screenshot{URL: "https://transient.example/shot.png"}
	h.images.failUpload = true

	b, err := h.svc.Create(context.Background(), "user-1", bookmark.CreateInput{URL: "https://example.com/"})
	require.NoError(t, err)

	h.drain(t)
	stored, ok := h.store.get(b.ID)
	require.True(t, ok)
	require.Equal(t, "https://transient.example/shot.png", stored.ImageURL)
}

func TestPromotionSkipsDeletedBookmark(t *testing.T) {
	h := newHarness(t)
	h.extractor.meta = bookmark.ScrapedMetadata{Domain: "example.com"}
	h.shots.shot = &bookmark.Screenshot{URL: "https://transient.example/shot.png"}
	gate := make(chan struct{})
	h.images.uploadGate = gate

	b, err := h.svc.Create(context.Background(), "user-1", bookmark.CreateInput{URL: "https://example.com/"})
	require.NoError(t, err)

	// Delete while the promotion upload is still in flight, then let it
	// finish. The conditional patch must not resurrect the row.
	require.NoError(t, h.svc.Delete(context.Background(), b.ID, "user-1"))
	close(gate)
	h.drain(t)

	_, ok := h.store.get(b.ID)
	require.False(t, ok)
}

func TestDeleteReleasesImageBeforeRow(t *testing.T) {
	h := newHarness(t)
	h.extractor.meta = bookmark.ScrapedMetadata{Title: "t", Domain: "example.com"}

	b, err := h.svc.Create(context.Background(), "user-1", bookmark.CreateInput{URL: "https://example.com/"})
	require.NoError(t, err)

	require.NoError(t, h.svc.Delete(context.Background(), b.ID, "user-1"))
	require.Equal(t, []string{"images.delete", "store.delete"}, h.rec.calls())
	require.Len(t, h.publisher.MessagesFor(service.TopicBookmarkDeleted), 1)
}

func TestDeleteUnknownBookmark(t *testing.T) {
	h := newHarness(t)
	err := h.svc.Delete(context.Background(), "missing", "user-1")
	require.ErrorIs(t, err, bookmark.ErrNotFound)
	require.Empty(t, h.rec.calls(), "no side effects for an unknown bookmark")
}

func TestDeleteEnforcesOwnership(t *testing.T) {
	h := newHarness(t)
	h.extractor.meta = bookmark.ScrapedMetadata{Domain: "example.com"}

	b, err := h.svc.Create(context.Background(), "user-1", bookmark.CreateInput{URL: "https://example.com/"})
	require.NoError(t, err)

	err = h.svc.Delete(context.Background(), b.ID, "user-2")
	require.ErrorIs(t, err, bookmark.ErrNotFound)
	_, ok := h.store.get(b.ID)
	require.True(t, ok)
}

func TestToggleFavorite(t *testing.T) {
	h := newHarness(t)
	h.extractor.meta = bookmark.ScrapedMetadata{Domain: "example.com"}

	b, err := h.svc.Create(context.Background(), "user-1", bookmark.CreateInput{URL: "https://example.com/"})
	require.NoError(t, err)
	require.False(t, b.IsFavorite)

	toggled, err := h.svc.ToggleFavorite(context.Background(), b.ID, "user-1")
	require.NoError(t, err)
	require.True(t, toggled.IsFavorite)

	toggled, err = h.svc.ToggleFavorite(context.Background(), b.ID, "user-1")
	require.NoError(t, err)
	require.False(t, toggled.IsFavorite)
}

func TestPublishFailureDoesNotFailCreate(t *testing.T) {
	rec := &callRecorder{}
	store := newFakeStore(rec)
	extractor := &fakeExtractor{meta: bookmark.ScrapedMetadata{Domain: "example.com"}}
	svc := service.New(
		store, extractor, &fakeShots{}, &fakeImages{calls: rec},
		failingPublisher{}, staticClock{t: time.Now()}, &seqIDs{},
		service.Config{}, zap.NewNop(),
	)

	_, err := svc.Create(context.Background(), "user-1", bookmark.CreateInput{URL: "https://example.com/"})
	require.NoError(t, err)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, any) (string, error) {
	return "", errors.New("broker unavailable")
}
