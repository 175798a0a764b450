// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// データベース設定
	DatabaseURL string // Postgres接続DSN

	// ジョブ/キュー設定
	QueueRedisURL  string        // ワーカー起床通知用Redis接続URL（空ならポーリングのみ）
	JobMaxAttempts int           // ジョブの最大試行回数
	JobStaleAfter  time.Duration // processingのまま放置されたジョブを回収するまでの時間
	WorkerPoll     time.Duration // ワーカーのポーリング間隔
	WorkerSlots    int           // 並列に動かすワーカースロット数
	BackoffBase    time.Duration // リトライバックオフの初期値
	BackoffCap     time.Duration // リトライバックオフの上限
	PresignTTL     time.Duration // 署名付きURLの有効期間
	ReapInterval   time.Duration // 滞留ジョブ回収の実行間隔

	// ストレージ設定
	BlobDriver       string // "gcs" または "local"
	GCSBucket        string // Google Cloud Storageバケット名
	LocalBlobDir     string // ローカルストレージの保存先ディレクトリ
	LocalBlobBaseURL string // ローカル署名URLのベースURL
	LocalBlobSecret  string // ローカル署名URLのHMAC鍵

	// ファイル制限
	MaxFileSize int64 // 単一ファイルの最大サイズ（バイト）

	// 変換ツール設定
	GhostscriptPath string // Ghostscript実行ファイルのパス
	ThumbnailWidth  int    // サムネイルの横幅（ピクセル）
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		QueueRedisURL:  getEnv("QUEUE_REDIS_URL", ""),
		JobMaxAttempts: getEnvAsInt("JOB_MAX_ATTEMPTS", 5),
		JobStaleAfter:  getEnvAsMinutes("JOB_STALE_MINUTES", 10),
		WorkerPoll:     getEnvAsSeconds("WORKER_POLL_SECONDS", 5),
		WorkerSlots:    getEnvAsInt("WORKER_SLOTS", 2),
		BackoffBase:    getEnvAsSeconds("BACKOFF_BASE_SECONDS", 30),
		BackoffCap:     getEnvAsMinutes("BACKOFF_CAP_MINUTES", 10),
		PresignTTL:     getEnvAsSeconds("PRESIGN_TTL_SECONDS", 300),
		ReapInterval:   getEnvAsMinutes("REAP_INTERVAL_MINUTES", 1),

		BlobDriver:       getEnv("BLOB_DRIVER", "local"),
		GCSBucket:        getEnv("GCS_BUCKET", ""),
		LocalBlobDir:     getEnv("LOCAL_BLOB_DIR", filepath.Join(os.TempDir(), "docforge-blobs")),
		LocalBlobBaseURL: getEnv("LOCAL_BLOB_BASE_URL", "http://localhost:8080"),
		LocalBlobSecret:  getEnv("LOCAL_BLOB_SECRET", ""),

		MaxFileSize: getEnvAsInt64("MAX_FILE_SIZE", 104857600), // 100MB

		GhostscriptPath: getEnv("GHOSTSCRIPT_PATH", "gs"),
		ThumbnailWidth:  getEnvAsInt("THUMBNAIL_WIDTH", 512),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.GinMode == "release" {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in release mode")
		}
		if c.BlobDriver == "gcs" && c.GCSBucket == "" {
			return fmt.Errorf("GCS_BUCKET is required when BLOB_DRIVER=gcs")
		}
		if c.BlobDriver == "local" && c.LocalBlobSecret == "" {
			return fmt.Errorf("LOCAL_BLOB_SECRET is required when BLOB_DRIVER=local")
		}
	}
	if c.BlobDriver != "gcs" && c.BlobDriver != "local" {
		return fmt.Errorf("BLOB_DRIVER must be gcs or local (received: %s)", c.BlobDriver)
	}
	if c.JobMaxAttempts < 1 {
		return fmt.Errorf("JOB_MAX_ATTEMPTS must be >= 1")
	}
	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsSeconds(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultValue)) * time.Second
}

func getEnvAsMinutes(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultValue)) * time.Minute
}
