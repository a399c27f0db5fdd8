// Package screenshot implements rendered-page capture providers used
// as the image fallback when a page carries no Open Graph image.
package screenshot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sitemark/sitemark/internal/bookmark"
	"github.com/sitemark/sitemark/internal/metrics"
)

const (
	defaultEndpoint = "https://api.microlink.io"
	defaultTimeout  = 30 * time.Second

	// Default capture dimensions when the provider omits them.
	defaultWidth  = 1200
	defaultHeight = 630
)

// MicrolinkConfig controls the rendering API client.
type MicrolinkConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Microlink captures screenshots through the Microlink rendering API.
// Captures are best-effort; every failure path returns nil.
type Microlink struct {
	endpoint *url.URL
	apiKey   string
	client   *http.Client
	// marker identifies provider-hosted transient URLs, e.g.
	// "microlink.io" for the default endpoint.
	marker string
	logger *zap.Logger
}

type microlinkResponse struct {
	Status string `json:"status"`
	Data   *struct {
		Screenshot *struct {
			URL    string `json:"url"`
			Width  int    `json:"width"`
			Height int    `json:"height"`
		} `json:"screenshot"`
	} `json:"data"`
}

// NewMicrolink builds a Microlink provider.
func NewMicrolink(cfg MicrolinkConfig, logger *zap.Logger) (*Microlink, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Hostname() == "" {
		return nil, fmt.Errorf("invalid screenshot endpoint %q", endpoint)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		// Rendering is slower than a raw HTML fetch.
		timeout = defaultTimeout
	}
	return &Microlink{
		endpoint: parsed,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
		marker:   strings.TrimPrefix(parsed.Hostname(), "api."),
		logger:   logger,
	}, nil
}

// Capture requests a rendered screenshot of target. It returns nil on
// any error, timeout, or unsuccessful provider status.
func (m *Microlink) Capture(ctx context.Context, target string) *bookmark.Screenshot {
	shot, err := m.capture(ctx, target)
	if err != nil {
		m.logger.Warn("screenshot capture failed",
			zap.String("url", target),
			zap.Error(err),
		)
		metrics.ObserveScreenshot("microlink", "failed")
		return nil
	}
	metrics.ObserveScreenshot("microlink", "ok")
	return shot
}

func (m *Microlink) capture(ctx context.Context, target string) (*bookmark.Screenshot, error) {
	reqURL := *m.endpoint
	q := reqURL.Query()
	q.Set("url", target)
	q.Set("screenshot", "true")
	q.Set("meta", "false")
	q.Set("embed", "screenshot.url")
	if m.apiKey != "" {
		q.Set("apiKey", m.apiKey)
	}
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			m.logger.Warn("close screenshot response body failed", zap.Error(closeErr))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("render request: unexpected status %d", resp.StatusCode)
	}

	var payload microlinkResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if payload.Status != "success" || payload.Data == nil || payload.Data.Screenshot == nil || payload.Data.Screenshot.URL == "" {
		return nil, fmt.Errorf("render unsuccessful: status %q", payload.Status)
	}

	shot := &bookmark.Screenshot{
		URL:    payload.Data.Screenshot.URL,
		Width:  payload.Data.Screenshot.Width,
		Height: payload.Data.Screenshot.Height,
	}
	if shot.Width == 0 {
		shot.Width = defaultWidth
	}
	if shot.Height == 0 {
		shot.Height = defaultHeight
	}
	return shot, nil
}

// IsTransient reports whether the URL is hosted by the rendering
// provider and should be promoted into durable storage.
func (m *Microlink) IsTransient(u string) bool {
	return u != "" && strings.Contains(u, m.marker)
}

// Release is a no-op: captures are hosted by the rendering provider
// and expire on its side.
func (m *Microlink) Release(_ context.Context, _ string) {}
