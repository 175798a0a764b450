// Package main は運用タスク（滞留ジョブ回収・削除済みドキュメントの掃除）の
// エントリーポイントです。cronなどから定期実行される想定です。
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/yourusername/docforge/internal/blob"
	"github.com/yourusername/docforge/internal/config"
	"github.com/yourusername/docforge/internal/logging"
	"github.com/yourusername/docforge/internal/queue"
	"github.com/yourusername/docforge/internal/store"
)

func main() {
	task := flag.String("task", "reap-stale", "実行するタスク (reap-stale | purge-deleted)")
	retentionDays := flag.Int("retention-days", 30, "purge-deleted: 削除からこの日数を過ぎたドキュメントを完全に消す")
	flag.Parse()

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

	ctx := context.Background()

	switch *task {
	case "reap-stale":
		q := queue.New(db, logger, queue.Options{MaxAttempts: cfg.JobMaxAttempts})
		n, err := q.ReapStale(ctx, cfg.JobStaleAfter)
		if err != nil {
			logger.Fatal("failed to reap stale jobs", "error", err)
		}
		logger.Info("reaped stale jobs", "count", n)

	case "purge-deleted":
		blobs, err := buildBlobStore(ctx, cfg)
		if err != nil {
			logger.Fatal("failed to init blob storage", "error", err)
		}
		cutoff := time.Now().UTC().AddDate(0, 0, -*retentionDays)
		n, err := purgeDeleted(ctx, db, blobs, logger, cutoff)
		if err != nil {
			logger.Fatal("failed to purge deleted documents", "error", err)
		}
		logger.Info("purged deleted documents", "count", n)

	default:
		logger.Fatal("unknown task", "task", *task)
	}
}

// purgeDeleted は削除済みドキュメントの blob とレコードを完全に消します。
// blob の削除を先に行い、途中で失敗しても再実行で続きから掃除できます。
func purgeDeleted(ctx context.Context, db *gorm.DB, blobs blob.Store, logger *logging.Logger, cutoff time.Time) (int, error) {
	var docs []store.Document
	if err := db.WithContext(ctx).
		Where("deleted_at IS NOT NULL AND deleted_at < ?", cutoff).
		Find(&docs).Error; err != nil {
		return 0, err
	}

	purged := 0
	for i := range docs {
		doc := &docs[i]
		if err := purgeDocument(ctx, db, blobs, doc); err != nil {
			logger.Error("failed to purge document", "document_id", doc.ID, "error", err)
			continue
		}
		purged++
	}
	return purged, nil
}

func purgeDocument(ctx context.Context, db *gorm.DB, blobs blob.Store, doc *store.Document) error {
	var versions []store.DocumentVersion
	if err := db.WithContext(ctx).
		Where("document_id = ?", doc.ID).
		Find(&versions).Error; err != nil {
		return err
	}

	for i := range versions {
		version := &versions[i]

		var assets []store.Asset
		if err := db.WithContext(ctx).
			Where("document_version_id = ?", version.ID).
			Find(&assets).Error; err != nil {
			return err
		}

		for j := range assets {
			var objects []store.AssetObject
			if err := db.WithContext(ctx).
				Where("asset_id = ?", assets[j].ID).
				Find(&objects).Error; err != nil {
				return err
			}
			for k := range objects {
				if err := blobs.Delete(ctx, objects[k].StorageKey); err != nil {
					return err
				}
			}
			if err := db.WithContext(ctx).
				Where("asset_id = ?", assets[j].ID).
				Delete(&store.AssetObject{}).Error; err != nil {
				return err
			}
		}
		if err := db.WithContext(ctx).
			Where("document_version_id = ?", version.ID).
			Delete(&store.Asset{}).Error; err != nil {
			return err
		}

		if err := blobs.Delete(ctx, version.StorageKey); err != nil {
			return err
		}
	}

	if err := db.WithContext(ctx).
		Where("document_id = ?", doc.ID).
		Delete(&store.DocumentVersion{}).Error; err != nil {
		return err
	}
	return db.WithContext(ctx).Delete(&store.Document{}, "id = ?", doc.ID).Error
}

func buildBlobStore(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	if cfg.BlobDriver == "gcs" {
		return blob.NewGCSStore(ctx, cfg.GCSBucket)
	}
	return blob.NewLocalStore(cfg.LocalBlobDir, cfg.LocalBlobBaseURL, cfg.LocalBlobSecret)
}
