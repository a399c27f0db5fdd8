// Package postgres provides Postgres-backed persistence for bookmarks.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sitemark/sitemark/internal/bookmark"
)

// BookmarkStoreConfig controls the Postgres connection pool.
type BookmarkStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// BookmarkStore implements bookmark.Store on Postgres.
//
// Expected schema:
//
//	CREATE TABLE bookmarks (
//	    id            TEXT PRIMARY KEY,
//	    user_id       TEXT NOT NULL,
//	    url           TEXT NOT NULL,
//	    title         TEXT NOT NULL,
//	    description   TEXT NOT NULL DEFAULT '',
//	    image_url     TEXT NOT NULL DEFAULT '',
//	    image_width   INT  NOT NULL DEFAULT 0,
//	    image_height  INT  NOT NULL DEFAULT 0,
//	    favicon_url   TEXT NOT NULL DEFAULT '',
//	    domain        TEXT NOT NULL,
//	    og_type       TEXT NOT NULL DEFAULT '',
//	    is_favorite   BOOL NOT NULL DEFAULT FALSE,
//	    is_archived   BOOL NOT NULL DEFAULT FALSE,
//	    collection_id TEXT NOT NULL DEFAULT '',
//	    created_at    TIMESTAMPTZ NOT NULL,
//	    updated_at    TIMESTAMPTZ NOT NULL
//	);
//	CREATE TABLE bookmark_tags (
//	    bookmark_id TEXT NOT NULL REFERENCES bookmarks(id) ON DELETE CASCADE,
//	    tag_id      TEXT NOT NULL,
//	    PRIMARY KEY (bookmark_id, tag_id)
//	);
type BookmarkStore struct {
	pool querier
}

const bookmarkColumns = `id, user_id, url, title, description, image_url, image_width, image_height, favicon_url, domain, og_type, is_favorite, is_archived, collection_id, created_at, updated_at`

var sortColumns = map[string]string{
	bookmark.SortCreatedAt: "created_at",
	bookmark.SortUpdatedAt: "updated_at",
	bookmark.SortTitle:     "title",
	bookmark.SortDomain:    "domain",
}

// NewBookmarkStore creates a Postgres-backed BookmarkStore.
func NewBookmarkStore(ctx context.Context, cfg BookmarkStoreConfig) (*BookmarkStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &BookmarkStore{pool: pool}, nil
}

// NewBookmarkStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewBookmarkStoreWithPool(pool querier) (*BookmarkStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &BookmarkStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *BookmarkStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Create inserts a bookmark row and its tag relations in one transaction.
func (s *BookmarkStore) Create(ctx context.Context, b bookmark.Bookmark, tagIDs []string) (bookmark.Bookmark, error) {
	if b.ID == "" {
		return bookmark.Bookmark{}, fmt.Errorf("bookmark id is required")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return bookmark.Bookmark{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
INSERT INTO bookmarks (` + bookmarkColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`
	if _, err := tx.Exec(ctx, query,
		b.ID, b.UserID, b.URL, b.Title, b.Description,
		b.ImageURL, b.ImageWidth, b.ImageHeight, b.FaviconURL,
		b.Domain, b.OGType, b.IsFavorite, b.IsArchived,
		b.CollectionID, b.CreatedAt, b.UpdatedAt,
	); err != nil {
		return bookmark.Bookmark{}, fmt.Errorf("insert bookmark: %w", err)
	}

	for _, tagID := range tagIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO bookmark_tags (bookmark_id, tag_id) VALUES ($1,$2)`,
			b.ID, tagID,
		); err != nil {
			return bookmark.Bookmark{}, fmt.Errorf("insert bookmark tag: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return bookmark.Bookmark{}, fmt.Errorf("commit tx: %w", err)
	}
	b.TagIDs = append([]string(nil), tagIDs...)
	return b, nil
}

// Get fetches a bookmark owned by userID.
func (s *BookmarkStore) Get(ctx context.Context, id, userID string) (bookmark.Bookmark, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+bookmarkColumns+` FROM bookmarks WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	b, err := scanBookmark(row)
	if err != nil {
		return bookmark.Bookmark{}, err
	}
	tags, err := s.loadTags(ctx, []string{b.ID})
	if err != nil {
		return bookmark.Bookmark{}, err
	}
	b.TagIDs = tags[b.ID]
	return b, nil
}

// List returns a filtered, ordered page of bookmarks plus the total count.
func (s *BookmarkStore) List(ctx context.Context, userID string, f bookmark.ListFilters) (bookmark.ListResult, error) {
	where, args := buildListWhere(userID, f)

	var total int
	countQuery := `SELECT COUNT(*) FROM bookmarks WHERE ` + where
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return bookmark.ListResult{}, fmt.Errorf("count bookmarks: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(
		`SELECT %s FROM bookmarks WHERE %s ORDER BY %s %s LIMIT %d OFFSET %d`,
		bookmarkColumns, where, sortColumn(f.SortBy), sortDirection(f.SortDir), limit, offset,
	)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return bookmark.ListResult{}, fmt.Errorf("list bookmarks: %w", err)
	}
	defer rows.Close()

	var (
		bookmarks []bookmark.Bookmark
		ids       []string
	)
	for rows.Next() {
		b, err := scanBookmark(rows)
		if err != nil {
			return bookmark.ListResult{}, err
		}
		bookmarks = append(bookmarks, b)
		ids = append(ids, b.ID)
	}
	if err := rows.Err(); err != nil {
		return bookmark.ListResult{}, fmt.Errorf("iterate bookmarks: %w", err)
	}

	if len(ids) > 0 {
		tags, err := s.loadTags(ctx, ids)
		if err != nil {
			return bookmark.ListResult{}, err
		}
		for i := range bookmarks {
			bookmarks[i].TagIDs = tags[bookmarks[i].ID]
		}
	}

	return bookmark.ListResult{
		Bookmarks: bookmarks,
		Total:     total,
		HasMore:   offset+len(bookmarks) < total,
	}, nil
}

// Update applies a partial edit and optionally replaces tag relations.
func (s *BookmarkStore) Update(ctx context.Context, userID string, in bookmark.UpdateInput) (bookmark.Bookmark, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return bookmark.Bookmark{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	setParts := []string{"updated_at = NOW()"}
	args := []any{}
	arg := 1
	if in.Title != nil {
		setParts = append(setParts, fmt.Sprintf("title = $%d", arg))
		args = append(args, *in.Title)
		arg++
	}
	if in.Description != nil {
		setParts = append(setParts, fmt.Sprintf("description = $%d", arg))
		args = append(args, *in.Description)
		arg++
	}
	if in.CollectionID != nil {
		setParts = append(setParts, fmt.Sprintf("collection_id = $%d", arg))
		args = append(args, *in.CollectionID)
		arg++
	}
	query := fmt.Sprintf(
		`UPDATE bookmarks SET %s WHERE id = $%d AND user_id = $%d RETURNING %s`,
		strings.Join(setParts, ", "), arg, arg+1, bookmarkColumns,
	)
	args = append(args, in.ID, userID)

	b, err := scanBookmark(tx.QueryRow(ctx, query, args...))
	if err != nil {
		return bookmark.Bookmark{}, err
	}

	if in.ReplaceTags {
		if _, err := tx.Exec(ctx,
			`DELETE FROM bookmark_tags WHERE bookmark_id = $1`, in.ID,
		); err != nil {
			return bookmark.Bookmark{}, fmt.Errorf("clear bookmark tags: %w", err)
		}
		for _, tagID := range in.TagIDs {
			if _, err := tx.Exec(ctx,
				`INSERT INTO bookmark_tags (bookmark_id, tag_id) VALUES ($1,$2)`,
				in.ID, tagID,
			); err != nil {
				return bookmark.Bookmark{}, fmt.Errorf("insert bookmark tag: %w", err)
			}
		}
		b.TagIDs = append([]string(nil), in.TagIDs...)
	} else {
		tags, err := s.loadTagsTx(ctx, tx, in.ID)
		if err != nil {
			return bookmark.Bookmark{}, err
		}
		b.TagIDs = tags
	}

	if err := tx.Commit(ctx); err != nil {
		return bookmark.Bookmark{}, fmt.Errorf("commit tx: %w", err)
	}
	return b, nil
}

// UpdateImageURL patches the image URL only when the row still exists
// and its image URL still equals previousURL. This guards the
// background promotion against racing with a delete or edit.
func (s *BookmarkStore) UpdateImageURL(ctx context.Context, id, imageURL, previousURL string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bookmarks SET image_url = $2, updated_at = NOW() WHERE id = $1 AND image_url = $3`,
		id, imageURL, previousURL,
	)
	if err != nil {
		return false, fmt.Errorf("patch image url: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Delete removes a bookmark owned by userID. Tag relations cascade.
func (s *BookmarkStore) Delete(ctx context.Context, id, userID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM bookmarks WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("delete bookmark: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return bookmark.ErrNotFound
	}
	return nil
}

// ToggleFavorite flips the favorite flag and returns the updated row.
func (s *BookmarkStore) ToggleFavorite(ctx context.Context, id, userID string) (bookmark.Bookmark, error) {
	return s.toggle(ctx, "is_favorite", id, userID)
}

// ToggleArchive flips the archived flag and returns the updated row.
func (s *BookmarkStore) ToggleArchive(ctx context.Context, id, userID string) (bookmark.Bookmark, error) {
	return s.toggle(ctx, "is_archived", id, userID)
}

func (s *BookmarkStore) toggle(ctx context.Context, column, id, userID string) (bookmark.Bookmark, error) {
	query := fmt.Sprintf(
		`UPDATE bookmarks SET %s = NOT %s, updated_at = NOW() WHERE id = $1 AND user_id = $2 RETURNING %s`,
		column, column, bookmarkColumns,
	)
	b, err := scanBookmark(s.pool.QueryRow(ctx, query, id, userID))
	if err != nil {
		return bookmark.Bookmark{}, err
	}
	tags, err := s.loadTags(ctx, []string{b.ID})
	if err != nil {
		return bookmark.Bookmark{}, err
	}
	b.TagIDs = tags[b.ID]
	return b, nil
}

func (s *BookmarkStore) loadTags(ctx context.Context, bookmarkIDs []string) (map[string][]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT bookmark_id, tag_id FROM bookmark_tags WHERE bookmark_id = ANY($1)`,
		bookmarkIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("load bookmark tags: %w", err)
	}
	defer rows.Close()

	tags := make(map[string][]string)
	for rows.Next() {
		var bookmarkID, tagID string
		if err := rows.Scan(&bookmarkID, &tagID); err != nil {
			return nil, fmt.Errorf("scan bookmark tag: %w", err)
		}
		tags[bookmarkID] = append(tags[bookmarkID], tagID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bookmark tags: %w", err)
	}
	return tags, nil
}

func (s *BookmarkStore) loadTagsTx(ctx context.Context, tx pgx.Tx, bookmarkID string) ([]string, error) {
	rows, err := tx.Query(ctx,
		`SELECT tag_id FROM bookmark_tags WHERE bookmark_id = $1`, bookmarkID,
	)
	if err != nil {
		return nil, fmt.Errorf("load bookmark tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tagID string
		if err := rows.Scan(&tagID); err != nil {
			return nil, fmt.Errorf("scan bookmark tag: %w", err)
		}
		tags = append(tags, tagID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bookmark tags: %w", err)
	}
	return tags, nil
}

func buildListWhere(userID string, f bookmark.ListFilters) (string, []any) {
	parts := []string{"user_id = $1", "is_archived = $2"}
	args := []any{userID, f.Archived}
	arg := 3

	if f.Favorite != nil {
		parts = append(parts, fmt.Sprintf("is_favorite = $%d", arg))
		args = append(args, *f.Favorite)
		arg++
	}
	if f.CollectionID != "" {
		parts = append(parts, fmt.Sprintf("collection_id = $%d", arg))
		args = append(args, f.CollectionID)
		arg++
	}
	if len(f.TagIDs) > 0 {
		parts = append(parts, fmt.Sprintf(
			"id IN (SELECT bookmark_id FROM bookmark_tags WHERE tag_id = ANY($%d))", arg,
		))
		args = append(args, f.TagIDs)
		arg++
	}
	if f.Search != "" {
		parts = append(parts, fmt.Sprintf(
			"(title ILIKE $%d OR description ILIKE $%d OR url ILIKE $%d OR domain ILIKE $%d)",
			arg, arg, arg, arg,
		))
		args = append(args, "%"+f.Search+"%")
		arg++
	}
	return strings.Join(parts, " AND "), args
}

func sortColumn(sortBy string) string {
	if col, ok := sortColumns[sortBy]; ok {
		return col
	}
	return "created_at"
}

func sortDirection(dir string) string {
	if strings.EqualFold(dir, "asc") {
		return "ASC"
	}
	return "DESC"
}

func scanBookmark(row pgx.Row) (bookmark.Bookmark, error) {
	var b bookmark.Bookmark
	err := row.Scan(
		&b.ID, &b.UserID, &b.URL, &b.Title, &b.Description,
		&b.ImageURL, &b.ImageWidth, &b.ImageHeight, &b.FaviconURL,
		&b.Domain, &b.OGType, &b.IsFavorite, &b.IsArchived,
		&b.CollectionID, &b.CreatedAt, &b.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return bookmark.Bookmark{}, bookmark.ErrNotFound
	}
	if err != nil {
		return bookmark.Bookmark{}, fmt.Errorf("scan bookmark: %w", err)
	}
	return b, nil
}
