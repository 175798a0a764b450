package blob

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(t.TempDir(), "http://localhost:8080", "test-secret")
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	return s
}

func TestLocalPutGetDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := "documents/abc/v1/original"
	if err := s.Put(ctx, key, []byte("payload"), "text/plain"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	data, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("data = %q, want payload", data)
	}

	// 上書きは最後の書き込みが勝つ。
	if err := s.Put(ctx, key, []byte("updated"), "text/plain"); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}
	data, _ = s.Get(ctx, key)
	if string(data) != "updated" {
		t.Errorf("data = %q, want updated", data)
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound after delete", err)
	}

	// 存在しないキーのDeleteはエラーにしない。
	if err := s.Delete(ctx, key); err != nil {
		t.Errorf("Delete on missing key returned error: %v", err)
	}
}

func TestLocalGetMissing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(context.Background(), "no/such/key"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestLocalRejectsTraversalKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// filepath.Clean によりベースディレクトリの外には出られない。
	if err := s.Put(ctx, "../../etc/passwd", []byte("nope"), ""); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := s.Get(ctx, "etc/passwd"); err != nil {
		t.Errorf("traversal key should normalize inside the base dir: %v", err)
	}
}

func TestLocalPresignAndVerify(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := "documents/abc/v1/assets/preview/1"
	signed, err := s.Presign(ctx, key, 5*time.Minute)
	if err != nil {
		t.Fatalf("Presign failed: %v", err)
	}
	if signed.ExpiresAt.Before(time.Now()) {
		t.Error("ExpiresAt should be in the future")
	}

	u, err := url.Parse(signed.URL)
	if err != nil {
		t.Fatalf("failed to parse URL: %v", err)
	}
	exp, err := strconv.ParseInt(u.Query().Get("exp"), 10, 64)
	if err != nil {
		t.Fatalf("exp param missing: %v", err)
	}
	sig := u.Query().Get("sig")

	if err := s.Verify(key, exp, sig); err != nil {
		t.Errorf("Verify rejected a valid signature: %v", err)
	}
	if err := s.Verify(key, exp, "tampered"); err == nil {
		t.Error("Verify accepted a tampered signature")
	}
	if err := s.Verify("other/key", exp, sig); err == nil {
		t.Error("Verify accepted a signature for a different key")
	}
}

func TestLocalVerifyExpired(t *testing.T) {
	s := newTestStore(t)
	s.now = func() time.Time { return time.Unix(1000, 0) }

	signed, err := s.Presign(context.Background(), "k", time.Minute)
	if err != nil {
		t.Fatalf("Presign failed: %v", err)
	}
	u, _ := url.Parse(signed.URL)
	exp, _ := strconv.ParseInt(u.Query().Get("exp"), 10, 64)
	sig := u.Query().Get("sig")

	// 期限内。
	if err := s.Verify("k", exp, sig); err != nil {
		t.Errorf("Verify rejected an unexpired URL: %v", err)
	}

	// 期限切れ。
	s.now = func() time.Time { return time.Unix(1000, 0).Add(2 * time.Minute) }
	if err := s.Verify("k", exp, sig); err == nil {
		t.Error("Verify accepted an expired URL")
	}
}
