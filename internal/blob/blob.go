// Package blob はキー指定のオブジェクトストレージ抽象化レイヤーを提供します。
package blob

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound は指定キーのオブジェクトが存在しないことを表します。
var ErrNotFound = errors.New("blob: object not found")

// SignedURL は期限付きダウンロードURLです。
type SignedURL struct {
	URL       string
	ExpiresAt time.Time
}

// Store はオブジェクトストレージの操作を定義します。
// Put が成功を返した後にのみ対応する行をコミットします（write-then-record）。
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Presign(ctx context.Context, key string, ttl time.Duration) (SignedURL, error)
}
