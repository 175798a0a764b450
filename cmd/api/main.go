// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/docforge/internal/api"
	"github.com/yourusername/docforge/internal/blob"
	"github.com/yourusername/docforge/internal/config"
	"github.com/yourusername/docforge/internal/ledger"
	"github.com/yourusername/docforge/internal/logging"
	"github.com/yourusername/docforge/internal/queue"
	"github.com/yourusername/docforge/internal/resolver"
	"github.com/yourusername/docforge/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.GinMode)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	gin.SetMode(cfg.GinMode)

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect database", "error", err)
	}
	if err := store.Migrate(db); err != nil {
		logger.Fatal("failed to migrate database", "error", err)
	}

	blobs, localStore, err := buildBlobStore(cfg)
	if err != nil {
		logger.Fatal("failed to init blob storage", "error", err)
	}

	var notifier *queue.Notifier
	if cfg.QueueRedisURL != "" {
		notifier, err = queue.NewNotifier(cfg.QueueRedisURL, logger)
		if err != nil {
			logger.Fatal("failed to init queue notifier", "error", err)
		}
		defer notifier.Close()
	}

	q := queue.New(db, logger, queue.Options{
		MaxAttempts: cfg.JobMaxAttempts,
		Backoff:     queue.NewBackoff(cfg.BackoffBase, cfg.BackoffCap),
		Notifier:    notifier,
	})
	led := ledger.New(db, blobs, logger)
	res := resolver.New(db, blobs, logger, cfg.PresignTTL)

	server := api.NewServer(db, led, q, res, logger, api.Options{
		MaxFileSize: cfg.MaxFileSize,
		LocalBlobs:  localStore,
	})
	router := api.NewRouter(server, cfg.CORSAllowedOrigins)

	addr := ":" + cfg.Port
	logger.Info("starting API server", "addr", addr, "mode", cfg.GinMode)
	if err := router.Run(addr); err != nil {
		logger.Fatal("failed to start server", "error", err)
	}
}

// buildBlobStore は設定に応じたストレージ実装を返します。
// ローカルドライバーの場合は配信ハンドラー用に具象型も返します。
func buildBlobStore(cfg *config.Config) (blob.Store, *blob.LocalStore, error) {
	if cfg.BlobDriver == "gcs" {
		gcs, err := blob.NewGCSStore(context.Background(), cfg.GCSBucket)
		if err != nil {
			return nil, nil, err
		}
		return gcs, nil, nil
	}
	local, err := blob.NewLocalStore(cfg.LocalBlobDir, cfg.LocalBlobBaseURL, cfg.LocalBlobSecret)
	if err != nil {
		return nil, nil, err
	}
	return local, local, nil
}
