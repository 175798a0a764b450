package assetcache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

// blockingFetcher は解放されるまでフェッチを止めるスタブです。
// 同時要求の合流を観測するために使います。
type blockingFetcher struct {
	mu      sync.Mutex
	calls   int32
	release chan struct{}
	result  *FetchResult
}

func (f *blockingFetcher) FetchObjects(ctx context.Context, documentID, assetID uuid.UUID, start, limit int) (*FetchResult, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, nil
}

func fetchResult(assetID uuid.UUID, expiresIn time.Duration, ordinals ...int) *FetchResult {
	objects := make([]Object, 0, len(ordinals))
	for _, ord := range ordinals {
		objects = append(objects, Object{
			Ordinal:   ord,
			URL:       "http://example.invalid/obj",
			MIMEType:  "application/pdf",
			ExpiresAt: time.Now().Add(expiresIn),
		})
	}
	return &FetchResult{AssetID: assetID, Cardinality: len(ordinals), Objects: objects}
}

func TestEnsureAssetFetchesAndCaches(t *testing.T) {
	assetID := uuid.New()
	docID := uuid.New()
	fetcher := &blockingFetcher{result: fetchResult(assetID, time.Hour, 1, 2, 3)}
	cache := New(fetcher)

	entry, err := cache.EnsureAsset(context.Background(), docID, assetID, EnsureOptions{})
	if err != nil {
		t.Fatalf("EnsureAsset failed: %v", err)
	}
	if entry.Cardinality != 3 || len(entry.Objects) != 3 {
		t.Fatalf("entry = %d objects / cardinality %d, want 3/3", len(entry.Objects), entry.Cardinality)
	}

	// 2回目は期限内なのでフェッチしない。
	if _, err := cache.EnsureAsset(context.Background(), docID, assetID, EnsureOptions{}); err != nil {
		t.Fatalf("second EnsureAsset failed: %v", err)
	}
	if n := atomic.LoadInt32(&fetcher.calls); n != 1 {
		t.Errorf("fetch calls = %d, want 1", n)
	}
}

func TestEnsureAssetCoalescesConcurrentRequests(t *testing.T) {
	assetID := uuid.New()
	docID := uuid.New()
	fetcher := &blockingFetcher{
		result:  fetchResult(assetID, time.Hour, 1, 2),
		release: make(chan struct{}),
	}
	cache := New(fetcher)

	const waiters = 5
	var wg sync.WaitGroup
	errs := make(chan error, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.EnsureAsset(context.Background(), docID, assetID, EnsureOptions{})
			errs <- err
		}()
	}

	// 全ゴルーチンが合流するのを待ってから解放する。
	time.Sleep(50 * time.Millisecond)
	close(fetcher.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("EnsureAsset failed: %v", err)
		}
	}
	if n := atomic.LoadInt32(&fetcher.calls); n != 1 {
		t.Errorf("fetch calls = %d, want 1 (concurrent requests must coalesce)", n)
	}
}

func TestEnsureAssetRefetchesExpiredURLs(t *testing.T) {
	assetID := uuid.New()
	docID := uuid.New()
	fetcher := &blockingFetcher{result: fetchResult(assetID, -time.Minute, 1, 2)}
	cache := New(fetcher)

	if _, err := cache.EnsureAsset(context.Background(), docID, assetID, EnsureOptions{}); err != nil {
		t.Fatalf("EnsureAsset failed: %v", err)
	}

	// 期限切れURLはカバレッジとして数えない。
	fetcher.mu.Lock()
	fetcher.result = fetchResult(assetID, time.Hour, 1, 2)
	fetcher.mu.Unlock()

	if _, err := cache.EnsureAsset(context.Background(), docID, assetID, EnsureOptions{}); err != nil {
		t.Fatalf("second EnsureAsset failed: %v", err)
	}
	if n := atomic.LoadInt32(&fetcher.calls); n != 2 {
		t.Errorf("fetch calls = %d, want 2 (expired URLs must be refreshed)", n)
	}
}

func TestEnsureAssetFetchesBeyondKnownCardinality(t *testing.T) {
	assetID := uuid.New()
	docID := uuid.New()
	fetcher := &blockingFetcher{result: fetchResult(assetID, time.Hour, 1, 2, 3)}
	cache := New(fetcher)

	if _, err := cache.EnsureAsset(context.Background(), docID, assetID, EnsureOptions{}); err != nil {
		t.Fatalf("EnsureAsset failed: %v", err)
	}

	// アセットが追補され、サーバー側には序数4が増えているケース。
	grown := fetchResult(assetID, time.Hour, 4)
	grown.Cardinality = 4
	fetcher.mu.Lock()
	fetcher.result = grown
	fetcher.mu.Unlock()

	entry, err := cache.EnsureAsset(context.Background(), docID, assetID, EnsureOptions{Start: 4, Limit: 1})
	if err != nil {
		t.Fatalf("range EnsureAsset failed: %v", err)
	}
	if n := atomic.LoadInt32(&fetcher.calls); n != 2 {
		t.Errorf("fetch calls = %d, want 2 (ordinals beyond the cached cardinality are uncovered)", n)
	}
	if entry.Cardinality != 4 {
		t.Errorf("cardinality = %d, want 4", entry.Cardinality)
	}
	if len(entry.Objects) != 4 || entry.Objects[3].Ordinal != 4 {
		t.Errorf("entry lacks ordinal 4: %d objects", len(entry.Objects))
	}
}

func TestMergeResetsExpiryFromLatestResponse(t *testing.T) {
	assetID := uuid.New()
	docID := uuid.New()
	fetcher := &blockingFetcher{result: fetchResult(assetID, -time.Minute, 1, 2)}
	cache := New(fetcher)

	if _, err := cache.EnsureAsset(context.Background(), docID, assetID, EnsureOptions{}); err != nil {
		t.Fatalf("EnsureAsset failed: %v", err)
	}

	fetcher.mu.Lock()
	fetcher.result = fetchResult(assetID, time.Hour, 1, 2)
	fetcher.mu.Unlock()

	entry, err := cache.EnsureAsset(context.Background(), docID, assetID, EnsureOptions{})
	if err != nil {
		t.Fatalf("second EnsureAsset failed: %v", err)
	}
	// URL更新後のエントリ期限は、過去の期限を引きずらず新しいURLに揃う。
	if !entry.ExpiresAt.After(time.Now()) {
		t.Errorf("entry.ExpiresAt = %v, want a future timestamp after refresh", entry.ExpiresAt)
	}
}

func TestEnsureAssetForceBypassesCache(t *testing.T) {
	assetID := uuid.New()
	docID := uuid.New()
	fetcher := &blockingFetcher{result: fetchResult(assetID, time.Hour, 1)}
	cache := New(fetcher)

	if _, err := cache.EnsureAsset(context.Background(), docID, assetID, EnsureOptions{}); err != nil {
		t.Fatalf("EnsureAsset failed: %v", err)
	}
	if _, err := cache.EnsureAsset(context.Background(), docID, assetID, EnsureOptions{Force: true}); err != nil {
		t.Fatalf("forced EnsureAsset failed: %v", err)
	}
	if n := atomic.LoadInt32(&fetcher.calls); n != 2 {
		t.Errorf("fetch calls = %d, want 2 (force must hit the fetcher)", n)
	}
}

func TestMergeReplacesByOrdinalAndKeepsRest(t *testing.T) {
	assetID := uuid.New()
	docID := uuid.New()
	fetcher := &blockingFetcher{result: fetchResult(assetID, time.Hour, 1, 2, 3)}
	cache := New(fetcher)

	if _, err := cache.EnsureAsset(context.Background(), docID, assetID, EnsureOptions{}); err != nil {
		t.Fatalf("EnsureAsset failed: %v", err)
	}

	// 範囲フェッチの結果が一部序数だけを更新するケース。
	replacement := fetchResult(assetID, 2*time.Hour, 2)
	replacement.Cardinality = 3
	replacement.Objects[0].URL = "http://example.invalid/updated"
	fetcher.mu.Lock()
	fetcher.result = replacement
	fetcher.mu.Unlock()

	entry, err := cache.EnsureAsset(context.Background(), docID, assetID, EnsureOptions{Force: true, Start: 2, Limit: 1})
	if err != nil {
		t.Fatalf("range EnsureAsset failed: %v", err)
	}

	if len(entry.Objects) != 3 {
		t.Fatalf("objects = %d, want 3 (other ordinals must be kept)", len(entry.Objects))
	}
	if entry.Objects[1].URL != "http://example.invalid/updated" {
		t.Errorf("ordinal 2 URL = %q, want the refreshed URL", entry.Objects[1].URL)
	}
	if entry.Objects[0].URL == "http://example.invalid/updated" {
		t.Error("ordinal 1 should not have been replaced")
	}
	if entry.Cardinality != 3 {
		t.Errorf("cardinality = %d, want 3", entry.Cardinality)
	}
}

func TestEnsureAssetReturnsCopies(t *testing.T) {
	assetID := uuid.New()
	docID := uuid.New()
	fetcher := &blockingFetcher{result: fetchResult(assetID, time.Hour, 1, 2)}
	cache := New(fetcher)

	first, err := cache.EnsureAsset(context.Background(), docID, assetID, EnsureOptions{})
	if err != nil {
		t.Fatalf("EnsureAsset failed: %v", err)
	}
	first.Objects[0].URL = "mutated"

	second, err := cache.EnsureAsset(context.Background(), docID, assetID, EnsureOptions{})
	if err != nil {
		t.Fatalf("second EnsureAsset failed: %v", err)
	}
	if second.Objects[0].URL == "mutated" {
		t.Error("cache entry was mutated through a returned copy")
	}
}

func TestInvalidate(t *testing.T) {
	assetID := uuid.New()
	docID := uuid.New()
	fetcher := &blockingFetcher{result: fetchResult(assetID, time.Hour, 1)}
	cache := New(fetcher)

	if _, err := cache.EnsureAsset(context.Background(), docID, assetID, EnsureOptions{}); err != nil {
		t.Fatalf("EnsureAsset failed: %v", err)
	}
	cache.Invalidate(assetID)
	if _, err := cache.EnsureAsset(context.Background(), docID, assetID, EnsureOptions{}); err != nil {
		t.Fatalf("EnsureAsset after Invalidate failed: %v", err)
	}
	if n := atomic.LoadInt32(&fetcher.calls); n != 2 {
		t.Errorf("fetch calls = %d, want 2 after invalidation", n)
	}
}
