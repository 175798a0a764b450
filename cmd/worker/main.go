// Package main はアセット生成ワーカーのエントリーポイントです。
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/yourusername/docforge/internal/blob"
	"github.com/yourusername/docforge/internal/config"
	"github.com/yourusername/docforge/internal/logging"
	"github.com/yourusername/docforge/internal/pipeline"
	"github.com/yourusername/docforge/internal/producer"
	"github.com/yourusername/docforge/internal/queue"
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

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect database", "error", err)
	}
	if err := store.Migrate(db); err != nil {
		logger.Fatal("failed to migrate database", "error", err)
	}

	blobs, err := buildBlobStore(cfg)
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
	})

	producers := []pipeline.Producer{
		producer.NewThumbnail(cfg.GhostscriptPath, cfg.ThumbnailWidth),
		producer.NewPreview(),
		producer.NewOCRText(),
	}

	worker := pipeline.NewWorker(db, q, blobs, producers, logger, pipeline.Options{
		PollInterval: cfg.WorkerPoll,
		StaleAfter:   cfg.JobStaleAfter,
		ReapInterval: cfg.ReapInterval,
		Slots:        cfg.WorkerSlots,
		Notifier:     notifier,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := worker.Run(ctx); err != nil {
		logger.Fatal("worker exited with error", "error", err)
	}
	logger.Info("worker stopped")
}

func buildBlobStore(cfg *config.Config) (blob.Store, error) {
	if cfg.BlobDriver == "gcs" {
		return blob.NewGCSStore(context.Background(), cfg.GCSBucket)
	}
	return blob.NewLocalStore(cfg.LocalBlobDir, cfg.LocalBlobBaseURL, cfg.LocalBlobSecret)
}
