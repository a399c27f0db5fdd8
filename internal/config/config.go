// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Scraper    ScraperConfig    `mapstructure:"scraper"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Screenshot ScreenshotConfig `mapstructure:"screenshot"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Images     ImagesConfig     `mapstructure:"images"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ScraperConfig governs the metadata extractor.
type ScraperConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// CacheConfig controls the optional Redis scrape cache.
type CacheConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

// ScreenshotConfig selects and configures the capture provider.
type ScreenshotConfig struct {
	// Provider is one of "microlink", "chromedp", or "none".
	Provider          string `mapstructure:"provider"`
	Endpoint          string `mapstructure:"endpoint"`
	APIKey            string `mapstructure:"api_key"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
	Width             int    `mapstructure:"width"`
	Height            int    `mapstructure:"height"`
	MaxParallel       int    `mapstructure:"max_parallel"`
	NavTimeoutSeconds int    `mapstructure:"nav_timeout_seconds"`
	TransientPrefix   string `mapstructure:"transient_prefix"`
}

// StorageConfig selects and configures the blob store backend.
type StorageConfig struct {
	// Backend is one of "gcs", "local", or "memory".
	Backend       string `mapstructure:"backend"`
	GCSBucket     string `mapstructure:"gcs_bucket"`
	LocalDir      string `mapstructure:"local_dir"`
	PublicBaseURL string `mapstructure:"public_base_url"`
}

// ImagesConfig controls image fetch behavior during promotion.
type ImagesConfig struct {
	FetchTimeoutSeconds   int `mapstructure:"fetch_timeout_seconds"`
	PromoteTimeoutSeconds int `mapstructure:"promote_timeout_seconds"`
	ShutdownDrainSeconds  int `mapstructure:"shutdown_drain_seconds"`
}

// DBConfig controls the Postgres pool.
type DBConfig struct {
	DSN                string `mapstructure:"dsn"`
	MaxConns           int    `mapstructure:"max_conns"`
	MinConns           int    `mapstructure:"min_conns"`
	ConnLifetimeMinute int    `mapstructure:"conn_lifetime_minutes"`
}

// PubSubConfig holds metadata for lifecycle event publishing.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SITEMARK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("scraper.user_agent", "Mozilla/5.0 (compatible; SiteMark/1.0; +https://sitemark.app)")
	v.SetDefault("scraper.timeout_seconds", 10)
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.ttl_seconds", 3600)
	v.SetDefault("screenshot.provider", "microlink")
	v.SetDefault("screenshot.timeout_seconds", 30)
	v.SetDefault("screenshot.width", 1200)
	v.SetDefault("screenshot.height", 630)
	v.SetDefault("screenshot.max_parallel", 2)
	v.SetDefault("screenshot.nav_timeout_seconds", 25)
	v.SetDefault("screenshot.transient_prefix", "transient")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.local_dir", "./data/images")
	v.SetDefault("images.fetch_timeout_seconds", 15)
	v.SetDefault("images.promote_timeout_seconds", 60)
	v.SetDefault("images.shutdown_drain_seconds", 30)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.conn_lifetime_minutes", 30)
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scraper.TimeoutSeconds <= 0 {
		return fmt.Errorf("scraper.timeout_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Screenshot.Provider {
	case "microlink", "chromedp", "none":
	default:
		return fmt.Errorf("screenshot.provider must be one of microlink, chromedp, none")
	}
	if c.Screenshot.Provider == "chromedp" && c.Screenshot.MaxParallel <= 0 {
		return fmt.Errorf("screenshot.max_parallel must be > 0 for the chromedp provider")
	}
	// Parked chromedp captures are fetched back over HTTP during
	// promotion, so the blob store must serve URLs a client can reach.
	if c.Screenshot.Provider == "chromedp" {
		if c.Storage.Backend == "memory" {
			return fmt.Errorf("screenshot.provider chromedp requires a fetchable storage backend, not memory")
		}
		if c.Storage.Backend == "local" && c.Storage.PublicBaseURL == "" {
			return fmt.Errorf("storage.public_base_url must be set when chromedp parks captures in local storage")
		}
	}
	switch c.Storage.Backend {
	case "gcs", "local", "memory":
	default:
		return fmt.Errorf("storage.backend must be one of gcs, local, memory")
	}
	if c.Storage.Backend == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
	}
	if c.Cache.Enabled && c.Cache.Addr == "" {
		return fmt.Errorf("cache.addr must be set when the cache is enabled")
	}
	if c.PubSub.Enabled && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub is enabled")
	}
	return nil
}

// ServerTimeout converts the server timeout into a duration.
func (c Config) ServerTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}
