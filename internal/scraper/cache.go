package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sitemark/sitemark/internal/bookmark"
)

const cacheKeyPrefix = "sitemark:scrape:"

// CachedExtractor wraps a MetadataExtractor with a Redis read-through
// cache keyed by normalized URL. Cache failures are logged and fall
// back to a live extraction; the cache is never load-bearing.
type CachedExtractor struct {
	inner  bookmark.MetadataExtractor
	client redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedExtractor wraps inner with a Redis cache.
func NewCachedExtractor(inner bookmark.MetadataExtractor, client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *CachedExtractor {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedExtractor{
		inner:  inner,
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// Extract returns a cached record when present, otherwise extracts
// live and stores the result.
func (c *CachedExtractor) Extract(ctx context.Context, rawURL string) bookmark.ScrapedMetadata {
	key := c.cacheKey(rawURL)

	if raw, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var meta bookmark.ScrapedMetadata
		if unmarshalErr := json.Unmarshal(raw, &meta); unmarshalErr == nil {
			return meta
		}
		// Unreadable entry; drop it and re-extract.
		if delErr := c.client.Del(ctx, key).Err(); delErr != nil {
			c.logger.Warn("drop corrupt scrape cache entry failed", zap.String("key", key), zap.Error(delErr))
		}
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("scrape cache read failed", zap.String("key", key), zap.Error(err))
	}

	meta := c.inner.Extract(ctx, rawURL)

	if data, err := json.Marshal(meta); err == nil {
		if setErr := c.client.Set(ctx, key, data, c.ttl).Err(); setErr != nil {
			c.logger.Warn("scrape cache write failed", zap.String("key", key), zap.Error(setErr))
		}
	}
	return meta
}

func (c *CachedExtractor) cacheKey(rawURL string) string {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		normalized = rawURL
	}
	return cacheKeyPrefix + normalized
}
