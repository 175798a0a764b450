package blob

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// LocalStore はローカルファイルシステム実装です（開発・テスト用）。
// 署名URLは baseURL/blobs/<key>?exp=<unix>&sig=<hmac> の形式で、
// APIサーバー側の配信ハンドラーが Verify で検証します。
type LocalStore struct {
	baseDir string
	baseURL string
	secret  []byte
	now     func() time.Time
}

// NewLocalStore はローカルストレージを初期化します。
func NewLocalStore(baseDir, baseURL, secret string) (*LocalStore, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("baseDir is required")
	}
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &LocalStore{
		baseDir: baseDir,
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  []byte(secret),
		now:     time.Now,
	}, nil
}

func (s *LocalStore) pathFor(key string) (string, error) {
	cleaned := filepath.Clean("/" + key)
	if cleaned == "/" {
		return "", fmt.Errorf("invalid key: %q", key)
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(cleaned)), nil
}

// Put はファイルを書き込みます。一時ファイル経由でリネームし、部分書き込みを残しません。
func (s *LocalStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	path, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create blob subdirectory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write blob %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to close blob %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to finalize blob %s: %w", key, err)
	}
	return nil
}

// Get はファイルの内容を読み込みます。
func (s *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := s.pathFor(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read blob %s: %w", key, err)
	}
	return data, nil
}

// Delete はファイルを削除します。存在しない場合はエラーにしません。
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	path, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob %s: %w", key, err)
	}
	return nil
}

// Presign はHMAC署名付きのダウンロードURLを発行します。
func (s *LocalStore) Presign(ctx context.Context, key string, ttl time.Duration) (SignedURL, error) {
	expires := s.now().Add(ttl)
	sig := s.sign(key, expires.Unix())

	q := url.Values{}
	q.Set("exp", strconv.FormatInt(expires.Unix(), 10))
	q.Set("sig", sig)

	escaped := strings.Join(splitAndEscape(key), "/")
	return SignedURL{
		URL:       fmt.Sprintf("%s/blobs/%s?%s", s.baseURL, escaped, q.Encode()),
		ExpiresAt: expires,
	}, nil
}

// Verify は配信ハンドラーから呼ばれ、署名と期限を検証します。
func (s *LocalStore) Verify(key string, exp int64, sig string) error {
	if s.now().Unix() > exp {
		return fmt.Errorf("signed URL expired")
	}
	expected := s.sign(key, exp)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

func (s *LocalStore) sign(key string, exp int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s|%d", key, exp)
	return hex.EncodeToString(mac.Sum(nil))
}

func splitAndEscape(key string) []string {
	parts := strings.Split(key, "/")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = url.PathEscape(p)
	}
	return out
}
