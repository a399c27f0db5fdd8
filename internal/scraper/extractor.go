// Package scraper implements best-effort page metadata extraction.
//
// The extractor fetches a page with colly, parses it with goquery, and
// resolves Open Graph, Twitter, and plain meta tags into a normalized
// record. It never fails outward: any network, status, or parse problem
// collapses into a degraded result carrying only the domain-derived
// title and the default favicon location.
package scraper

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/sitemark/sitemark/internal/bookmark"
	"github.com/sitemark/sitemark/internal/metrics"
)

const (
	maxTitleLen       = 500
	maxDescriptionLen = 1000

	defaultUserAgent = "Mozilla/5.0 (compatible; SiteMark/1.0; +https://sitemark.app)"
	defaultTimeout   = 10 * time.Second
)

// Config controls extractor fetch behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Extractor implements bookmark.MetadataExtractor using a colly
// collector for the fetch and goquery for tag resolution.
type Extractor struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New builds an Extractor.
func New(cfg Config, logger *zap.Logger) *Extractor {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	c := colly.NewCollector(colly.Async(false))
	// Single user-initiated fetch, not a crawl.
	c.IgnoreRobotsTxt = true
	return &Extractor{
		cfg:           cfg,
		baseCollector: c,
		logger:        logger,
	}
}

// Extract fetches rawURL and resolves its metadata. The returned record
// always has Title and Domain populated, even on total fetch failure.
func (e *Extractor) Extract(ctx context.Context, rawURL string) bookmark.ScrapedMetadata {
	page, err := url.Parse(rawURL)
	if err != nil || page.Hostname() == "" {
		// Callers validate the URL before extraction begins; this path
		// only guards direct misuse.
		return bookmark.ScrapedMetadata{Title: rawURL, Domain: rawURL}
	}

	meta := degraded(page)

	body, err := e.fetch(ctx, rawURL)
	if err != nil {
		e.logger.Warn("metadata fetch failed",
			zap.String("url", rawURL),
			zap.Error(err),
		)
		metrics.ObserveScrape("degraded")
		return meta
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		e.logger.Warn("metadata parse failed",
			zap.String("url", rawURL),
			zap.Error(err),
		)
		metrics.ObserveScrape("degraded")
		return meta
	}

	e.resolve(&meta, doc, page)
	metrics.ObserveScrape("ok")
	return meta
}

// degraded is the minimal record returned when the page is unreachable.
func degraded(page *url.URL) bookmark.ScrapedMetadata {
	domain := strings.TrimPrefix(strings.ToLower(page.Hostname()), "www.")
	return bookmark.ScrapedMetadata{
		Title:      domain,
		Domain:     domain,
		FaviconURL: origin(page) + "/favicon.ico",
	}
}

func origin(page *url.URL) string {
	return page.Scheme + "://" + page.Host
}

// fetch executes a single GET using a cloned collector. Non-2xx
// responses and transport errors both surface through the error return.
func (e *Extractor) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	collector := e.baseCollector.Clone()
	collector.UserAgent = e.cfg.UserAgent
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(e.cfg.Timeout)

	var (
		body     []byte
		fetchErr error
	)
	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml")
	})
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("metadata fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("visit %s: %w", rawURL, err)
		}
		if fetchErr != nil {
			return nil, fmt.Errorf("fetch %s: %w", rawURL, fetchErr)
		}
		return body, nil
	}
}

func (e *Extractor) resolve(meta *bookmark.ScrapedMetadata, doc *goquery.Document, page *url.URL) {
	title := metaContent(doc,
		`meta[property="og:title"]`,
		`meta[name="twitter:title"]`,
	)
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if title != "" {
		meta.Title = truncate(title, maxTitleLen)
	}

	meta.Description = truncate(metaContent(doc,
		`meta[property="og:description"]`,
		`meta[name="twitter:description"]`,
		`meta[name="description"]`,
	), maxDescriptionLen)

	if img := metaContent(doc,
		`meta[property="og:image"]`,
		`meta[property="og:image:url"]`,
		`meta[name="twitter:image"]`,
		`meta[name="twitter:image:src"]`,
	); img != "" {
		meta.ImageURL = resolveRef(page, img)
	}

	meta.ImageWidth = atoiOrZero(metaContent(doc, `meta[property="og:image:width"]`))
	meta.ImageHeight = atoiOrZero(metaContent(doc, `meta[property="og:image:height"]`))

	if href := linkHref(doc,
		`link[rel="icon"]`,
		`link[rel="shortcut icon"]`,
		`link[rel="apple-touch-icon"]`,
	); href != "" {
		meta.FaviconURL = resolveRef(page, href)
	}

	meta.OGType = metaContent(doc, `meta[property="og:type"]`)
}

// metaContent returns the first non-empty content attribute among the
// given selectors, in priority order.
func metaContent(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if v, ok := doc.Find(sel).First().Attr("content"); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

func linkHref(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if v, ok := doc.Find(sel).First().Attr("href"); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

// resolveRef makes ref absolute against the page URL. Unparsable refs
// degrade to "".
func resolveRef(page *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return page.ResolveReference(u).String()
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
