package screenshot

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sitemark/sitemark/internal/bookmark"
	"github.com/sitemark/sitemark/internal/metrics"
	"github.com/sitemark/sitemark/internal/storage"
)

// ChromedpConfig controls the local headless-Chrome capture provider.
type ChromedpConfig struct {
	UserAgent   string
	Width       int
	Height      int
	NavTimeout  time.Duration
	MaxParallel int
	// TransientPrefix is the blob-store prefix for captures awaiting
	// promotion to their final per-bookmark key.
	TransientPrefix string
}

// Chromedp captures screenshots with a shared headless Chrome browser.
// Captured bytes are parked in the blob store under a transient prefix
// until the background promotion step copies them to the bookmark's
// durable key.
type Chromedp struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	blobs           storage.Provider
	sem             chan struct{}
	cfg             ChromedpConfig
	logger          *zap.Logger

	// parked maps issued transient URLs back to their blob keys so
	// Release can delete the object once the capture is promoted or
	// its bookmark is gone.
	mu     sync.Mutex
	parked map[string]string
}

func (cfg ChromedpConfig) withDefaults() ChromedpConfig {
	if cfg.Width <= 0 {
		cfg.Width = defaultWidth
	}
	if cfg.Height <= 0 {
		cfg.Height = defaultHeight
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = defaultTimeout
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 1
	}
	if cfg.TransientPrefix == "" {
		cfg.TransientPrefix = "transient"
	}
	return cfg
}

// NewChromedp starts a headless browser and returns the provider.
func NewChromedp(cfg ChromedpConfig, blobs storage.Provider, logger *zap.Logger) (*Chromedp, error) {
	cfg = cfg.withDefaults()

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		allocatorCancel()
		browserCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &Chromedp{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		blobs:           blobs,
		sem:             make(chan struct{}, cfg.MaxParallel),
		cfg:             cfg,
		logger:          logger,
		parked:          make(map[string]string),
	}, nil
}

// Close tears down the browser and allocator contexts.
func (c *Chromedp) Close() {
	if c == nil {
		return
	}
	c.browserCancel()
	c.allocatorCancel()
}

// Capture renders target in a fresh tab, captures the viewport, and
// parks the bytes under the transient prefix. Returns nil on failure.
func (c *Chromedp) Capture(ctx context.Context, target string) *bookmark.Screenshot {
	shot, err := c.capture(ctx, target)
	if err != nil {
		c.logger.Warn("headless capture failed",
			zap.String("url", target),
			zap.Error(err),
		)
		metrics.ObserveScreenshot("chromedp", "failed")
		return nil
	}
	metrics.ObserveScreenshot("chromedp", "ok")
	return shot
}

func (c *Chromedp) capture(ctx context.Context, target string) (*bookmark.Screenshot, error) {
	release, err := c.acquireSlot(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	tabCtx, cancelTab := chromedp.NewContext(c.browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, c.cfg.NavTimeout)
	defer cancelTask()

	var buf []byte
	tasks := chromedp.Tasks{
		emulation.SetDeviceMetricsOverride(int64(c.cfg.Width), int64(c.cfg.Height), 1, false),
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.CaptureScreenshot(&buf),
	}
	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return nil, fmt.Errorf("chromedp run: %w", err)
	}

	key := path.Join(c.cfg.TransientPrefix, uuid.NewString()+".png")
	if err := c.blobs.Put(ctx, key, "image/png", bytes.NewReader(buf)); err != nil {
		return nil, fmt.Errorf("park capture: %w", err)
	}

	publicURL := c.blobs.PublicURL(key)
	c.mu.Lock()
	c.parked[publicURL] = key
	c.mu.Unlock()

	return &bookmark.Screenshot{
		URL:    publicURL,
		Width:  c.cfg.Width,
		Height: c.cfg.Height,
	}, nil
}

func (c *Chromedp) acquireSlot(ctx context.Context) (func(), error) {
	select {
	case c.sem <- struct{}{}:
		return func() { <-c.sem }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire capture slot: %w", ctx.Err())
	}
}

// IsTransient reports whether the URL points at a parked capture.
func (c *Chromedp) IsTransient(u string) bool {
	return u != "" && strings.Contains(u, "/"+c.cfg.TransientPrefix+"/")
}

// Release deletes the parked capture behind the URL. Unknown URLs,
// including captures parked by an earlier process, fall back to the
// transient-prefix key derived from the URL's basename.
func (c *Chromedp) Release(ctx context.Context, u string) {
	if !c.IsTransient(u) {
		return
	}
	c.mu.Lock()
	key, ok := c.parked[u]
	if ok {
		delete(c.parked, u)
	}
	c.mu.Unlock()
	if !ok {
		key = path.Join(c.cfg.TransientPrefix, path.Base(u))
	}
	if err := c.blobs.Delete(ctx, key); err != nil {
		c.logger.Warn("release parked capture failed",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}
