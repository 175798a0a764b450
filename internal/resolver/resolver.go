// Package resolver はアセットIDと序数範囲を期限付きURLに解決します。
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yourusername/docforge/internal/blob"
	"github.com/yourusername/docforge/internal/logging"
	"github.com/yourusername/docforge/internal/store"
)

// ErrNotFound はアセットが存在しない、または要求範囲が完全に範囲外であることを表します。
var ErrNotFound = errors.New("resolver: asset not found")

// ResolvedObject は解決済みオブジェクト1件分です。
type ResolvedObject struct {
	Ordinal   int             `json:"ordinal"`
	URL       string          `json:"url"`
	MIMEType  string          `json:"mime_type"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Result は解決結果です。Objects には要求範囲のうち存在する序数だけが
// 昇順で含まれます。欠けている序数はエラーではなく単に省かれます。
type Result struct {
	AssetID     uuid.UUID        `json:"asset_id"`
	AssetType   store.AssetType  `json:"asset_type"`
	Cardinality int              `json:"cardinality"`
	Objects     []ResolvedObject `json:"objects"`
}

// Resolver はDB上のオブジェクト行をストレージの署名付きURLへ変換します。
type Resolver struct {
	db    *gorm.DB
	blobs blob.Store
	log   *logging.Logger
	ttl   time.Duration
}

// New は Resolver を初期化します。ttl が 0 以下なら 5 分を使います。
func New(db *gorm.DB, blobs blob.Store, log *logging.Logger, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Resolver{db: db, blobs: blobs, log: log.With("component", "resolver"), ttl: ttl}
}

// Resolve は asset の [start, start+limit) 範囲のオブジェクトを署名付きURLへ解決します。
// start < 1 は 1 に、limit <= 0 は全件に正規化されます。
// 記録上の基数を超えて実体が存在する場合は実体の側を信じます。
func (r *Resolver) Resolve(ctx context.Context, assetID uuid.UUID, start, limit int) (*Result, error) {
	var asset store.Asset
	err := r.db.WithContext(ctx).First(&asset, "id = ?", assetID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load asset: %w", err)
	}

	if start < 1 {
		start = 1
	}

	// 基数は見積もりのことがあるため、実在する最大序数と突き合わせる。
	var maxOrdinal int
	if err := r.db.WithContext(ctx).
		Model(&store.AssetObject{}).
		Where("asset_id = ?", assetID).
		Select("COALESCE(MAX(ordinal), 0)").
		Scan(&maxOrdinal).Error; err != nil {
		return nil, fmt.Errorf("failed to load max ordinal: %w", err)
	}

	cardinality := asset.Cardinality
	if maxOrdinal > cardinality {
		cardinality = maxOrdinal
	}

	if cardinality > 0 && start > cardinality {
		return nil, ErrNotFound
	}

	end := cardinality
	if limit > 0 && start+limit-1 < end {
		end = start + limit - 1
	}

	// 要求範囲の行だけを引く。大きなアセットを全行ロードしない。
	var rows []store.AssetObject
	if err := r.db.WithContext(ctx).
		Where("asset_id = ? AND ordinal BETWEEN ? AND ?", assetID, start, end).
		Order("ordinal ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load objects: %w", err)
	}

	result := &Result{
		AssetID:     asset.ID,
		AssetType:   asset.AssetType,
		Cardinality: cardinality,
		Objects:     make([]ResolvedObject, 0, len(rows)),
	}

	for _, row := range rows {
		signed, err := r.blobs.Presign(ctx, row.StorageKey, r.ttl)
		if err != nil {
			return nil, fmt.Errorf("failed to presign object %d: %w", row.Ordinal, err)
		}
		result.Objects = append(result.Objects, ResolvedObject{
			Ordinal:   row.Ordinal,
			URL:       signed.URL,
			MIMEType:  row.MIMEType,
			Metadata:  json.RawMessage(row.Metadata),
			ExpiresAt: signed.ExpiresAt,
		})
	}

	return result, nil
}
