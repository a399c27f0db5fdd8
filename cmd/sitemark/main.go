// Package main wires together the bookmark service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sitemark/sitemark/internal/api"
	"github.com/sitemark/sitemark/internal/bookmark"
	"github.com/sitemark/sitemark/internal/clock/system"
	"github.com/sitemark/sitemark/internal/config"
	eventsmem "github.com/sitemark/sitemark/internal/events/memory"
	eventspubsub "github.com/sitemark/sitemark/internal/events/pubsub"
	"github.com/sitemark/sitemark/internal/id/uuid"
	"github.com/sitemark/sitemark/internal/images"
	"github.com/sitemark/sitemark/internal/logging"
	"github.com/sitemark/sitemark/internal/postgres"
	"github.com/sitemark/sitemark/internal/scraper"
	"github.com/sitemark/sitemark/internal/screenshot"
	"github.com/sitemark/sitemark/internal/service"
	"github.com/sitemark/sitemark/internal/storage"
	gcsstore "github.com/sitemark/sitemark/internal/storage/gcs"
	localstore "github.com/sitemark/sitemark/internal/storage/local"
	memorystore "github.com/sitemark/sitemark/internal/storage/memory"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init blob store: %w", err)
	}

	var extractor bookmark.MetadataExtractor = scraper.New(scraper.Config{
		UserAgent: cfg.Scraper.UserAgent,
		Timeout:   time.Duration(cfg.Scraper.TimeoutSeconds) * time.Second,
	}, logger.Named("scraper"))
	if cfg.Cache.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("redis close failed", zap.Error(err))
			}
		}()
		extractor = scraper.NewCachedExtractor(
			extractor,
			client,
			time.Duration(cfg.Cache.TTLSeconds)*time.Second,
			logger.Named("cache"),
		)
	}

	shots, closeShots, err := newScreenshotProvider(cfg, blobs, logger)
	if err != nil {
		return fmt.Errorf("init screenshot provider: %w", err)
	}
	defer closeShots()

	imageStore := images.New(blobs, images.Config{
		Timeout: time.Duration(cfg.Images.FetchTimeoutSeconds) * time.Second,
	}, logger.Named("images"))

	var publisher bookmark.Publisher
	if cfg.PubSub.Enabled {
		client, err := gcpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("init pubsub client: %w", err)
		}
		pub, err := eventspubsub.New(client)
		if err != nil {
			return fmt.Errorf("init pubsub publisher: %w", err)
		}
		defer func() {
			if err := pub.Close(); err != nil {
				logger.Warn("pubsub close failed", zap.Error(err))
			}
		}()
		publisher = pub
	} else {
		publisher = eventsmem.New()
	}

	store, err := postgres.NewBookmarkStore(ctx, postgres.BookmarkStoreConfig{
		DSN:             cfg.DB.DSN,
		MaxConns:        int32(cfg.DB.MaxConns),
		MinConns:        int32(cfg.DB.MinConns),
		MaxConnLifetime: time.Duration(cfg.DB.ConnLifetimeMinute) * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("init bookmark store: %w", err)
	}
	defer store.Close()

	svc := service.New(
		store,
		extractor,
		shots,
		imageStore,
		publisher,
		system.New(),
		uuid.New(),
		service.Config{
			PromoteTimeout: time.Duration(cfg.Images.PromoteTimeoutSeconds) * time.Second,
		},
		logger.Named("service"),
	)

	apiServer := api.NewServer(svc, api.Config{
		RequestTimeout: cfg.ServerTimeout(),
		AuthEnabled:    cfg.Auth.Enabled,
		APIKey:         cfg.Auth.APIKey,
	}, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	drainCtx, cancelDrain := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Images.ShutdownDrainSeconds)*time.Second,
	)
	defer cancelDrain()
	if err := svc.Close(drainCtx); err != nil {
		logger.Warn("promotion drain incomplete", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

func newBlobStore(ctx context.Context, cfg config.Config) (storage.Provider, error) {
	switch cfg.Storage.Backend {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		return gcsstore.New(ctx, client, gcsstore.Config{
			Bucket:        cfg.Storage.GCSBucket,
			PublicBaseURL: cfg.Storage.PublicBaseURL,
		})
	case "local":
		return localstore.New(localstore.Config{
			BaseDir:       cfg.Storage.LocalDir,
			PublicBaseURL: cfg.Storage.PublicBaseURL,
		})
	default:
		return memorystore.NewBlobStore(), nil
	}
}

func newScreenshotProvider(
	cfg config.Config,
	blobs storage.Provider,
	logger *zap.Logger,
) (bookmark.ScreenshotProvider, func(), error) {
	switch cfg.Screenshot.Provider {
	case "chromedp":
		provider, err := screenshot.NewChromedp(screenshot.ChromedpConfig{
			UserAgent:       cfg.Scraper.UserAgent,
			Width:           cfg.Screenshot.Width,
			Height:          cfg.Screenshot.Height,
			NavTimeout:      time.Duration(cfg.Screenshot.NavTimeoutSeconds) * time.Second,
			MaxParallel:     cfg.Screenshot.MaxParallel,
			TransientPrefix: cfg.Screenshot.TransientPrefix,
		}, blobs, logger.Named("screenshot"))
		if err != nil {
			return nil, nil, err
		}
		return provider, provider.Close, nil
	case "none":
		return screenshot.NoOp{}, func() {}, nil
	default:
		provider, err := screenshot.NewMicrolink(screenshot.MicrolinkConfig{
			Endpoint: cfg.Screenshot.Endpoint,
			APIKey:   cfg.Screenshot.APIKey,
			Timeout:  time.Duration(cfg.Screenshot.TimeoutSeconds) * time.Second,
		}, logger.Named("screenshot"))
		if err != nil {
			return nil, nil, err
		}
		return provider, func() {}, nil
	}
}
