// Package api exposes the HTTP interface for the bookmark service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sitemark/sitemark/internal/bookmark"
	"github.com/sitemark/sitemark/internal/metrics"
)

// BookmarkService is the use-case surface the server exposes.
type BookmarkService interface {
	Create(ctx context.Context, userID string, in bookmark.CreateInput) (bookmark.Bookmark, error)
	Get(ctx context.Context, id, userID string) (bookmark.Bookmark, error)
	List(ctx context.Context, userID string, f bookmark.ListFilters) (bookmark.ListResult, error)
	Update(ctx context.Context, userID string, in bookmark.UpdateInput) (bookmark.Bookmark, error)
	Delete(ctx context.Context, id, userID string) error
	ToggleFavorite(ctx context.Context, id, userID string) (bookmark.Bookmark, error)
	ToggleArchive(ctx context.Context, id, userID string) (bookmark.Bookmark, error)
}

// Config controls server-side middleware behavior.
type Config struct {
	RequestTimeout time.Duration
	AuthEnabled    bool
	APIKey         string
}

// Server wires HTTP handlers to the bookmark service.
type Server struct {
	router chi.Router
	svc    BookmarkService
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(svc BookmarkService, cfg Config, logger *zap.Logger) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{svc: svc, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))
	if cfg.AuthEnabled {
		r.Use(apiKeyMiddleware(cfg.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(userIDMiddleware)
		r.Route("/bookmarks", func(r chi.Router) {
			r.Post("/", s.createBookmark)
			r.Get("/", s.listBookmarks)
			r.Route("/{bookmark_id}", func(r chi.Router) {
				r.Get("/", s.getBookmark)
				r.Patch("/", s.updateBookmark)
				r.Delete("/", s.deleteBookmark)
				r.Post("/favorite", s.toggleFavorite)
				r.Post("/archive", s.toggleArchive)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type createRequest struct {
	URL          string   `json:"url"`
	CollectionID string   `json:"collection_id"`
	TagIDs       []string `json:"tag_ids"`
}

func (s *Server) createBookmark(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	b, err := s.svc.Create(r.Context(), userID(r), bookmark.CreateInput{
		URL:          req.URL,
		CollectionID: req.CollectionID,
		TagIDs:       req.TagIDs,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) listBookmarks(w http.ResponseWriter, r *http.Request) {
	f, err := parseListFilters(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.svc.List(r.Context(), userID(r), f)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) getBookmark(w http.ResponseWriter, r *http.Request) {
	b, err := s.svc.Get(r.Context(), chi.URLParam(r, "bookmark_id"), userID(r))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type updateRequest struct {
	Title        *string   `json:"title"`
	Description  *string   `json:"description"`
	CollectionID *string   `json:"collection_id"`
	TagIDs       *[]string `json:"tag_ids"`
}

func (s *Server) updateBookmark(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	in := bookmark.UpdateInput{
		ID:           chi.URLParam(r, "bookmark_id"),
		Title:        req.Title,
		Description:  req.Description,
		CollectionID: req.CollectionID,
	}
	if req.TagIDs != nil {
		in.TagIDs = *req.TagIDs
		in.ReplaceTags = true
	}
	b, err := s.svc.Update(r.Context(), userID(r), in)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) deleteBookmark(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Delete(r.Context(), chi.URLParam(r, "bookmark_id"), userID(r)); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) toggleFavorite(w http.ResponseWriter, r *http.Request) {
	b, err := s.svc.ToggleFavorite(r.Context(), chi.URLParam(r, "bookmark_id"), userID(r))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) toggleArchive(w http.ResponseWriter, r *http.Request) {
	b, err := s.svc.ToggleArchive(r.Context(), chi.URLParam(r, "bookmark_id"), userID(r))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func parseListFilters(r *http.Request) (bookmark.ListFilters, error) {
	q := r.URL.Query()
	f := bookmark.ListFilters{
		Search:       q.Get("q"),
		TagIDs:       q["tag"],
		CollectionID: q.Get("collection"),
		SortBy:       q.Get("sort"),
		SortDir:      q.Get("dir"),
	}
	if v := q.Get("favorite"); v != "" {
		fav, err := strconv.ParseBool(v)
		if err != nil {
			return bookmark.ListFilters{}, errors.New("favorite must be a boolean")
		}
		f.Favorite = &fav
	}
	if v := q.Get("archived"); v != "" {
		archived, err := strconv.ParseBool(v)
		if err != nil {
			return bookmark.ListFilters{}, errors.New("archived must be a boolean")
		}
		f.Archived = archived
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return bookmark.ListFilters{}, errors.New("limit must be a non-negative integer")
		}
		f.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return bookmark.ListFilters{}, errors.New("offset must be a non-negative integer")
		}
		f.Offset = offset
	}
	return f, nil
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, bookmark.ErrInvalidURL):
		writeError(w, http.StatusBadRequest, "invalid bookmark URL")
	case errors.Is(err, bookmark.ErrNotFound):
		writeError(w, http.StatusNotFound, "bookmark not found")
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

type ctxKey int

const (
	requestIDKey ctxKey = iota
	userIDKey
)

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// userIDMiddleware scopes every /v1 request to the caller identified by
// the X-User-ID header. Identity is asserted upstream by the gateway.
func userIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-User-ID")
		if id == "" {
			writeError(w, http.StatusUnauthorized, "missing X-User-ID header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, id)))
	})
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unknown"
		}
		metrics.ObserveHTTPRequest(r.Method, route, ww.status, time.Since(start))
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
