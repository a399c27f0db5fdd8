// Package metrics exposes Prometheus collectors for the bookmark service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	bookmarksCreatedTotal      *prometheus.CounterVec
	scrapesTotal               *prometheus.CounterVec
	screenshotsTotal           *prometheus.CounterVec
	promotionsTotal            *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		bookmarksCreatedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitemark_bookmarks_created_total",
				Help: "Total number of bookmarks created, labeled by image source.",
			},
			[]string{"image_source"},
		)

		scrapesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitemark_scrapes_total",
				Help: "Total number of metadata extractions, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		screenshotsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitemark_screenshots_total",
				Help: "Total number of screenshot captures, labeled by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		)

		promotionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitemark_image_promotions_total",
				Help: "Total number of background image promotions, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveBookmarkCreated increments the creation counter.
// imageSource is one of "og", "screenshot", or "none".
func ObserveBookmarkCreated(imageSource string) {
	Init()
	bookmarksCreatedTotal.WithLabelValues(imageSource).Inc()
}

// ObserveScrape increments the extraction counter.
// outcome is "ok" or "degraded". Scraped domains stay out of the
// labels to keep the series count bounded.
func ObserveScrape(outcome string) {
	Init()
	scrapesTotal.WithLabelValues(outcome).Inc()
}

// ObserveScreenshot increments the capture counter.
func ObserveScreenshot(provider, outcome string) {
	Init()
	screenshotsTotal.WithLabelValues(provider, outcome).Inc()
}

// ObservePromotion increments the promotion counter.
// outcome is one of "promoted", "upload_failed", "patch_failed", or
// "row_gone".
func ObservePromotion(outcome string) {
	Init()
	promotionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
