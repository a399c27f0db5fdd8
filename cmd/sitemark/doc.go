// Package main hosts the bookmark service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, and bookmark CRUD endpoints under /v1. Every request is
//     scoped to the caller via the X-User-ID header; an optional API key gate protects the whole surface.
//   - Enrichment pipeline: internal/service.Service validates the submitted URL, scrapes Open Graph / Twitter / meta
//     tags through the Colly-based extractor (optionally fronted by a Redis cache), and falls back to a rendered
//     screenshot (Microlink API or local Chromedp) when the page carries no usable image.
//   - Persistence: bookmark rows and tag relations live in Postgres via pgx. Preview images are copied into the
//     configured blob store (memory/local/GCS) under the deterministic key "<bookmark-id>.jpg".
//   - Promotion: screenshot URLs returned by a provider are transient. A background goroutine re-hosts the capture in
//     durable storage and patches the row only if the image URL is still the transient one, so deletes and edits
//     racing the promotion win. In-flight promotions are drained on shutdown.
//   - Fanout: bookmark.created and bookmark.deleted events are published to Pub/Sub when configured; publishing is
//     best-effort and never fails the request.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     metrics are exported via the /metrics handler.
//
// Operational notes:
//   - Shutdown: the process reacts to SIGTERM by draining HTTP, then waiting up to images.shutdown_drain_seconds for
//     background promotions before exiting.
//   - Run locally: go run ./cmd/sitemark -config config.yaml, or rely solely on SITEMARK_* env overrides
//     (e.g. SITEMARK_SERVER_PORT, SITEMARK_DB_DSN, SITEMARK_STORAGE_BACKEND, SITEMARK_SCREENSHOT_PROVIDER).
package main
