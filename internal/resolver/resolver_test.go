package resolver

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yourusername/docforge/internal/blob"
	"github.com/yourusername/docforge/internal/logging"
	"github.com/yourusername/docforge/internal/store"
	"github.com/yourusername/docforge/internal/store/storetest"
)

// stubSigner は署名の代わりにキーをそのまま埋め込むスタブです。
type stubSigner struct {
	signs int
}

func (s *stubSigner) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return nil
}

func (s *stubSigner) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, blob.ErrNotFound
}

func (s *stubSigner) Delete(ctx context.Context, key string) error {
	return nil
}

func (s *stubSigner) Presign(ctx context.Context, key string, ttl time.Duration) (blob.SignedURL, error) {
	s.signs++
	return blob.SignedURL{
		URL:       "http://example.invalid/" + key,
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

func seedAsset(t *testing.T, db *gorm.DB, cardinality int, ordinals ...int) *store.Asset {
	t.Helper()
	now := time.Now().UTC()
	asset := &store.Asset{
		ID:                uuid.New(),
		DocumentVersionID: uuid.New(),
		AssetType:         store.AssetTypePreview,
		Cardinality:       cardinality,
		Metadata:          datatypes.JSON([]byte("{}")),
		CompletedAt:       &now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := db.Create(asset).Error; err != nil {
		t.Fatalf("failed to create asset: %v", err)
	}
	for _, ord := range ordinals {
		obj := &store.AssetObject{
			ID:         uuid.New(),
			AssetID:    asset.ID,
			Ordinal:    ord,
			StorageKey: fmt.Sprintf("assets/%s/%d", asset.ID, ord),
			MIMEType:   "application/pdf",
			Metadata:   datatypes.JSON([]byte("{}")),
			CreatedAt:  now,
		}
		if err := db.Create(obj).Error; err != nil {
			t.Fatalf("failed to create object %d: %v", ord, err)
		}
	}
	return asset
}

func TestResolveAllObjects(t *testing.T) {
	db := storetest.DB(t)
	signer := &stubSigner{}
	r := New(db, signer, logging.NewNop(), 5*time.Minute)

	asset := seedAsset(t, db, 3, 1, 2, 3)

	result, err := r.Resolve(context.Background(), asset.ID, 1, 0)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if result.Cardinality != 3 {
		t.Errorf("cardinality = %d, want 3", result.Cardinality)
	}
	if len(result.Objects) != 3 {
		t.Fatalf("objects = %d, want 3", len(result.Objects))
	}
	for i, obj := range result.Objects {
		if obj.Ordinal != i+1 {
			t.Errorf("objects[%d].ordinal = %d, want %d", i, obj.Ordinal, i+1)
		}
		if obj.URL == "" {
			t.Errorf("objects[%d] has no URL", i)
		}
		if !obj.ExpiresAt.After(time.Now()) {
			t.Errorf("objects[%d] URL already expired", i)
		}
	}
}

func TestResolveRangeWindow(t *testing.T) {
	db := storetest.DB(t)
	r := New(db, &stubSigner{}, logging.NewNop(), 5*time.Minute)

	asset := seedAsset(t, db, 5, 1, 2, 3, 4, 5)

	result, err := r.Resolve(context.Background(), asset.ID, 2, 2)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(result.Objects) != 2 {
		t.Fatalf("objects = %d, want 2", len(result.Objects))
	}
	if result.Objects[0].Ordinal != 2 || result.Objects[1].Ordinal != 3 {
		t.Errorf("ordinals = %d,%d, want 2,3", result.Objects[0].Ordinal, result.Objects[1].Ordinal)
	}
	// 範囲外に絞ってもcardinalityは全体の値を返す。
	if result.Cardinality != 5 {
		t.Errorf("cardinality = %d, want 5", result.Cardinality)
	}
}

func TestResolveMissingOrdinalsAreOmitted(t *testing.T) {
	db := storetest.DB(t)
	r := New(db, &stubSigner{}, logging.NewNop(), 5*time.Minute)

	// 序数2が未生成（部分出力）のアセット。
	asset := seedAsset(t, db, 3, 1, 3)

	result, err := r.Resolve(context.Background(), asset.ID, 1, 0)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(result.Objects) != 2 {
		t.Fatalf("objects = %d, want 2 (missing ordinal omitted, not an error)", len(result.Objects))
	}
	if result.Objects[0].Ordinal != 1 || result.Objects[1].Ordinal != 3 {
		t.Errorf("ordinals = %d,%d, want 1,3", result.Objects[0].Ordinal, result.Objects[1].Ordinal)
	}
	if result.Cardinality != 3 {
		t.Errorf("cardinality = %d, want 3", result.Cardinality)
	}
}

func TestResolveCardinalityTrustsActualObjects(t *testing.T) {
	db := storetest.DB(t)
	r := New(db, &stubSigner{}, logging.NewNop(), 5*time.Minute)

	// 記録上の基数（見積もり2）より実体が多いケース。
	asset := seedAsset(t, db, 2, 1, 2, 3)

	result, err := r.Resolve(context.Background(), asset.ID, 1, 0)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if result.Cardinality != 3 {
		t.Errorf("cardinality = %d, want 3 (actual max ordinal wins)", result.Cardinality)
	}
	if len(result.Objects) != 3 {
		t.Errorf("objects = %d, want 3", len(result.Objects))
	}
}

func TestResolveUnknownAsset(t *testing.T) {
	db := storetest.DB(t)
	r := New(db, &stubSigner{}, logging.NewNop(), 5*time.Minute)

	_, err := r.Resolve(context.Background(), uuid.New(), 1, 0)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestResolveFullyOutOfRange(t *testing.T) {
	db := storetest.DB(t)
	r := New(db, &stubSigner{}, logging.NewNop(), 5*time.Minute)

	asset := seedAsset(t, db, 3, 1, 2, 3)

	_, err := r.Resolve(context.Background(), asset.ID, 10, 5)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound for a fully out-of-range window", err)
	}
}
