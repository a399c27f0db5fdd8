package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/sitemark/sitemark/internal/bookmark"
)

var bookmarkCols = []string{
	"id", "user_id", "url", "title", "description", "image_url",
	"image_width", "image_height", "favicon_url", "domain", "og_type",
	"is_favorite", "is_archived", "collection_id", "created_at", "updated_at",
}

func sampleBookmark() bookmark.Bookmark {
	now := time.Unix(1700000000, 0).UTC()
	return bookmark.Bookmark{
		ID:          "bm-1",
		UserID:      "user-1",
		URL:         "https://example.com/post",
		Title:       "Example Post",
		Description: "a post",
		ImageURL:    "https://cdn.example.com/bm-1.jpg",
		ImageWidth:  1200,
		ImageHeight: 630,
		FaviconURL:  "https://example.com/favicon.ico",
		Domain:      "example.com",
		OGType:      "article",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func bookmarkRows(b bookmark.Bookmark) *pgxmock.Rows {
	return pgxmock.NewRows(bookmarkCols).AddRow(
		b.ID, b.UserID, b.URL, b.Title, b.Description, b.ImageURL,
		b.ImageWidth, b.ImageHeight, b.FaviconURL, b.Domain, b.OGType,
		b.IsFavorite, b.IsArchived, b.CollectionID, b.CreatedAt, b.UpdatedAt,
	)
}

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *BookmarkStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewBookmarkStoreWithPool(mock)
	require.NoError(t, err)
	return mock, store
}

func TestCreateInsertsRowAndTags(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	b := sampleBookmark()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO bookmarks").
		WithArgs(
			b.ID, b.UserID, b.URL, b.Title, b.Description,
			b.ImageURL, b.ImageWidth, b.ImageHeight, b.FaviconURL,
			b.Domain, b.OGType, b.IsFavorite, b.IsArchived,
			b.CollectionID, b.CreatedAt, b.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO bookmark_tags").
		WithArgs(b.ID, "tag-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO bookmark_tags").
		WithArgs(b.ID, "tag-2").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	created, err := store.Create(context.Background(), b, []string{"tag-1", "tag-2"})
	require.NoError(t, err)
	require.Equal(t, []string{"tag-1", "tag-2"}, created.TagIDs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetReturnsRowWithTags(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	b := sampleBookmark()

	mock.ExpectQuery("SELECT id, user_id").
		WithArgs(b.ID, b.UserID).
		WillReturnRows(bookmarkRows(b))
	mock.ExpectQuery("SELECT bookmark_id, tag_id FROM bookmark_tags").
		WithArgs([]string{b.ID}).
		WillReturnRows(pgxmock.NewRows([]string{"bookmark_id", "tag_id"}).
			AddRow(b.ID, "tag-1"))

	got, err := store.Get(context.Background(), b.ID, b.UserID)
	require.NoError(t, err)
	require.Equal(t, b.Title, got.Title)
	require.Equal(t, []string{"tag-1"}, got.TagIDs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissingRowIsNotFound(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectQuery("SELECT id, user_id").
		WithArgs("nope", "user-1").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.Get(context.Background(), "nope", "user-1")
	require.ErrorIs(t, err, bookmark.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListCountsAndPages(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	b := sampleBookmark()

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("user-1", false).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery("SELECT id, user_id").
		WithArgs("user-1", false).
		WillReturnRows(bookmarkRows(b))
	mock.ExpectQuery("SELECT bookmark_id, tag_id FROM bookmark_tags").
		WithArgs([]string{b.ID}).
		WillReturnRows(pgxmock.NewRows([]string{"bookmark_id", "tag_id"}))

	result, err := store.List(context.Background(), "user-1", bookmark.ListFilters{Limit: 1})
	require.NoError(t, err)
	require.Equal(t, 3, result.Total)
	require.Len(t, result.Bookmarks, 1)
	require.True(t, result.HasMore)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateImageURLPatchesConditionally(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)

	mock.ExpectExec("UPDATE bookmarks SET image_url").
		WithArgs("bm-1", "https://cdn.example.com/bm-1.jpg", "https://transient.example/x.png").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	patched, err := store.UpdateImageURL(
		context.Background(), "bm-1",
		"https://cdn.example.com/bm-1.jpg", "https://transient.example/x.png",
	)
	require.NoError(t, err)
	require.True(t, patched)

	// Row deleted or image replaced since capture: zero rows touched.
	mock.ExpectExec("UPDATE bookmarks SET image_url").
		WithArgs("bm-1", "https://cdn.example.com/bm-1.jpg", "https://transient.example/x.png").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	patched, err = store.UpdateImageURL(
		context.Background(), "bm-1",
		"https://cdn.example.com/bm-1.jpg", "https://transient.example/x.png",
	)
	require.NoError(t, err)
	require.False(t, patched)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteMissingRowIsNotFound(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectExec("DELETE FROM bookmarks").
		WithArgs("nope", "user-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := store.Delete(context.Background(), "nope", "user-1")
	require.ErrorIs(t, err, bookmark.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestToggleFavoriteReturnsUpdatedRow(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	b := sampleBookmark()
	b.IsFavorite = true

	mock.ExpectQuery("UPDATE bookmarks SET is_favorite = NOT is_favorite").
		WithArgs(b.ID, b.UserID).
		WillReturnRows(bookmarkRows(b))
	mock.ExpectQuery("SELECT bookmark_id, tag_id FROM bookmark_tags").
		WithArgs([]string{b.ID}).
		WillReturnRows(pgxmock.NewRows([]string{"bookmark_id", "tag_id"}))

	got, err := store.ToggleFavorite(context.Background(), b.ID, b.UserID)
	require.NoError(t, err)
	require.True(t, got.IsFavorite)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAppliesPartialEdit(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	b := sampleBookmark()
	b.Title = "renamed"
	title := "renamed"

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE bookmarks SET updated_at = NOW").
		WithArgs(title, b.ID, b.UserID).
		WillReturnRows(bookmarkRows(b))
	mock.ExpectQuery("SELECT tag_id FROM bookmark_tags").
		WithArgs(b.ID).
		WillReturnRows(pgxmock.NewRows([]string{"tag_id"}).AddRow("tag-1"))
	mock.ExpectCommit()

	got, err := store.Update(context.Background(), b.UserID, bookmark.UpdateInput{
		ID:    b.ID,
		Title: &title,
	})
	require.NoError(t, err)
	require.Equal(t, "renamed", got.Title)
	require.Equal(t, []string{"tag-1"}, got.TagIDs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateReplacesTags(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	b := sampleBookmark()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE bookmarks SET updated_at = NOW").
		WithArgs(b.ID, b.UserID).
		WillReturnRows(bookmarkRows(b))
	mock.ExpectExec("DELETE FROM bookmark_tags").
		WithArgs(b.ID).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec("INSERT INTO bookmark_tags").
		WithArgs(b.ID, "tag-9").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	got, err := store.Update(context.Background(), b.UserID, bookmark.UpdateInput{
		ID:          b.ID,
		TagIDs:      []string{"tag-9"},
		ReplaceTags: true,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"tag-9"}, got.TagIDs)
	require.NoError(t, mock.ExpectationsWereMet())
}
