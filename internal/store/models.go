// Package store は永続化対象のモデル定義とデータベース接続を提供します。
package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// JobStatus はジョブの実行状態を表します。
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSucceeded  JobStatus = "succeeded"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal は状態が終端（これ以上遷移しない）かどうかを返します。
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// ジョブ種別。payloadの形はジョブ種別ごとに決まります。
const (
	JobTypeAnalyzeDocument = "analyze-document"
	JobTypeDeriveAssets    = "derive-assets"
)

// AssetType は派生アーティファクトの種別を表します。
type AssetType string

const (
	AssetTypeThumbnail AssetType = "thumbnail"
	AssetTypePreview   AssetType = "preview"
	AssetTypeOCRText   AssetType = "ocr-text"
)

// Document は論理ドキュメントを表します。現行バージョンへのポインタを常に1つ持ちます。
type Document struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey"`
	Filename         string         `gorm:"size:255;not null"`
	OriginalName     string         `gorm:"size:255;not null"`
	ContentType      string         `gorm:"size:100"`
	Title            string         `gorm:"size:255;not null"`
	Metadata         datatypes.JSON `gorm:"type:json"`
	CurrentVersionID uuid.UUID      `gorm:"type:uuid;not null"`
	UploadedAt       time.Time      `gorm:"not null"`
	UpdatedAt        time.Time      `gorm:"not null"`
	DeletedAt        *time.Time
}

// DocumentVersion はドキュメントの不変スナップショットです。行は一度書いたら変更しません
// （メタデータのみワーカーが追記します）。
type DocumentVersion struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey"`
	DocumentID    uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_versions_doc_number,priority:1"`
	VersionNumber int            `gorm:"not null;uniqueIndex:idx_versions_doc_number,priority:2"`
	StorageKey    string         `gorm:"size:500;not null"`
	SizeBytes     int64          `gorm:"not null"`
	Checksum      string         `gorm:"size:64;not null;index"`
	Metadata      datatypes.JSON `gorm:"type:json"`
	CreatedAt     time.Time      `gorm:"not null"`
}

// Job は非同期ワークの1単位です。状態遷移は
// queued → processing → {succeeded | queued(リトライ) | failed} です。
type Job struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey"`
	JobType   string         `gorm:"size:64;not null;index"`
	Payload   datatypes.JSON `gorm:"type:json;not null"`
	Status    JobStatus      `gorm:"size:16;not null;index"`
	Attempts  int            `gorm:"not null;default:0"`
	RunAfter  time.Time      `gorm:"not null;index"`
	ClaimedBy string         `gorm:"size:128"`
	ClaimedAt *time.Time
	LastError string
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// Asset はあるバージョンに対する型付き派生アーティファクトです。
// (document_version_id, asset_type) で一意。CompletedAt が nil の間は
// オブジェクトが揃っていない可能性があり、消費側はそれを許容します。
type Asset struct {
	ID                uuid.UUID      `gorm:"type:uuid;primaryKey"`
	DocumentVersionID uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_assets_version_type,priority:1"`
	AssetType         AssetType      `gorm:"size:32;not null;uniqueIndex:idx_assets_version_type,priority:2"`
	Cardinality       int            `gorm:"not null;default:0"`
	Metadata          datatypes.JSON `gorm:"type:json"`
	CompletedAt       *time.Time
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}

// AssetObject はAsset内のアドレス可能な1単位（ページなど）です。
// (asset_id, ordinal) で一意、ordinal は 1 始まりです。
type AssetObject struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey"`
	AssetID    uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_objects_asset_ordinal,priority:1"`
	Ordinal    int            `gorm:"not null;uniqueIndex:idx_objects_asset_ordinal,priority:2"`
	StorageKey string         `gorm:"size:500;not null"`
	MIMEType   string         `gorm:"size:100;not null"`
	Metadata   datatypes.JSON `gorm:"type:json"`
	CreatedAt  time.Time      `gorm:"not null"`
}
