// Package assetcache は解決済みアセットURLのクライアント側キャッシュです。
// 同一範囲への同時要求は1回のフェッチに合流させ、期限内のURLを再利用します。
package assetcache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Object はキャッシュされたオブジェクト1件分です。
type Object struct {
	Ordinal   int
	URL       string
	MIMEType  string
	ExpiresAt time.Time
}

// FetchResult はフェッチャーが返す解決結果です。
type FetchResult struct {
	AssetID     uuid.UUID
	Cardinality int
	Objects     []Object
}

// Fetcher は範囲指定でアセットのオブジェクトURLを取得します。
type Fetcher interface {
	FetchObjects(ctx context.Context, documentID, assetID uuid.UUID, start, limit int) (*FetchResult, error)
}

// Entry はアセット1件分のキャッシュ状態です。Objects は序数の昇順です。
type Entry struct {
	AssetID     uuid.UUID
	Cardinality int
	Objects     []Object
	ExpiresAt   time.Time
}

// EnsureOptions は EnsureAsset の取得条件です。
// Start < 1 は 1 に正規化され、Limit <= 0 は既知の全序数を意味します。
type EnsureOptions struct {
	Force bool
	Start int
	Limit int
}

// Cache はアセットIDごとのエントリを保持するインメモリキャッシュです。
// すべてのメソッドは複数ゴルーチンから安全に呼べます。
type Cache struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*Entry
	group   singleflight.Group
	fetcher Fetcher
	now     func() time.Time
}

// New は Cache を初期化します。
func New(fetcher Fetcher) *Cache {
	return &Cache{
		entries: make(map[uuid.UUID]*Entry),
		fetcher: fetcher,
		now:     time.Now,
	}
}

// EnsureAsset は要求範囲のURLが期限内で揃っていればキャッシュから返し、
// 足りなければフェッチして既存エントリにマージします。
// 返り値は呼び出し側専有のコピーで、キャッシュ内部の状態とは独立しています。
func (c *Cache) EnsureAsset(ctx context.Context, documentID, assetID uuid.UUID, opts EnsureOptions) (*Entry, error) {
	if opts.Start < 1 {
		opts.Start = 1
	}

	if !opts.Force {
		if entry := c.coveredEntry(assetID, opts.Start, opts.Limit); entry != nil {
			return entry, nil
		}
	}

	key := fmt.Sprintf("%s/%s/%d/%d", documentID, assetID, opts.Start, opts.Limit)
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// 合流待ちの間に別の呼び出しが埋めた可能性を再確認する。
		if !opts.Force {
			if entry := c.coveredEntry(assetID, opts.Start, opts.Limit); entry != nil {
				return entry, nil
			}
		}
		res, err := c.fetcher.FetchObjects(ctx, documentID, assetID, opts.Start, opts.Limit)
		if err != nil {
			return nil, err
		}
		return c.merge(assetID, res), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Entry), nil
}

// Invalidate は指定アセットのキャッシュを破棄します。
func (c *Cache) Invalidate(assetID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, assetID)
}

// coveredEntry は要求範囲の全序数が期限内のURLで埋まっている場合に
// エントリのコピーを返します。そうでなければ nil を返します。
func (c *Cache) coveredEntry(assetID uuid.UUID, start, limit int) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[assetID]
	if !ok || entry.Cardinality < 1 {
		return nil
	}

	// 既知のカーディナリティを超える序数は未取得として扱い、フェッチに回す。
	if start > entry.Cardinality {
		return nil
	}

	end := entry.Cardinality
	if limit > 0 && start+limit-1 < end {
		end = start + limit - 1
	}

	now := c.now()
	covered := 0
	for _, obj := range entry.Objects {
		if obj.Ordinal < start || obj.Ordinal > end {
			continue
		}
		if !obj.ExpiresAt.After(now) {
			return nil
		}
		covered++
	}
	if covered != end-start+1 {
		return nil
	}
	return copyEntry(entry)
}

// merge はフェッチ結果を既存エントリへ序数単位で取り込み、コピーを返します。
// 同じ序数は新しい結果で置き換え、それ以外は残します。
func (c *Cache) merge(assetID uuid.UUID, res *FetchResult) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[assetID]
	if !ok {
		entry = &Entry{AssetID: assetID}
		c.entries[assetID] = entry
	}

	byOrdinal := make(map[int]Object, len(entry.Objects)+len(res.Objects))
	for _, obj := range entry.Objects {
		byOrdinal[obj.Ordinal] = obj
	}
	for _, obj := range res.Objects {
		byOrdinal[obj.Ordinal] = obj
	}

	merged := make([]Object, 0, len(byOrdinal))
	for _, obj := range byOrdinal {
		merged = append(merged, obj)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Ordinal < merged[j].Ordinal })
	entry.Objects = merged

	entry.Cardinality = res.Cardinality
	if n := len(merged); n > 0 && merged[n-1].Ordinal > entry.Cardinality {
		entry.Cardinality = merged[n-1].Ordinal
	}

	// エントリ全体の期限は、今回返されたURLの中で最も早いものに取り直す。
	// 古い期限を引き継ぐと、URLを更新済みでも期限切れ扱いのままになる。
	var earliest time.Time
	for _, obj := range res.Objects {
		if earliest.IsZero() || obj.ExpiresAt.Before(earliest) {
			earliest = obj.ExpiresAt
		}
	}
	if !earliest.IsZero() {
		entry.ExpiresAt = earliest
	}

	return copyEntry(entry)
}

func copyEntry(entry *Entry) *Entry {
	dup := &Entry{
		AssetID:     entry.AssetID,
		Cardinality: entry.Cardinality,
		Objects:     make([]Object, len(entry.Objects)),
		ExpiresAt:   entry.ExpiresAt,
	}
	copy(dup.Objects, entry.Objects)
	return dup
}
