// Package ledger はコンテンツアドレスされた不変バージョンの台帳を提供します。
//
// 同一内容のアップロードはチェックサムで検出し、新しいblob書き込みを
// 行わずに既存バージョンを返します。新規バージョンの挿入と
// ドキュメントの現行バージョンポインタの更新は同一トランザクションで
// 行われ、分離して観測されることはありません。
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yourusername/docforge/internal/blob"
	"github.com/yourusername/docforge/internal/logging"
	"github.com/yourusername/docforge/internal/store"
)

// ErrDocumentNotFound は対象ドキュメントが存在しないことを表します。
var ErrDocumentNotFound = errors.New("ledger: document not found")

// Ledger はバージョン台帳です。
type Ledger struct {
	db    *gorm.DB
	blobs blob.Store
	log   *logging.Logger
	now   func() time.Time
}

// New は Ledger を初期化します。
func New(db *gorm.DB, blobs blob.Store, log *logging.Logger) *Ledger {
	return &Ledger{
		db:    db,
		blobs: blobs,
		log:   log.With("component", "ledger"),
		now:   time.Now,
	}
}

// SubmitInput はアップロード1件の入力です。DocumentID が nil の場合は
// 新規ドキュメントとして扱います（内容が既存と一致すれば再利用）。
type SubmitInput struct {
	DocumentID  *uuid.UUID
	Content     []byte
	Filename    string
	ContentType string
}

// SubmitResult はアップロードの結果です。Reused が true のとき、
// blobへの書き込みは発生していません。
type SubmitResult struct {
	Document *store.Document
	Version  *store.DocumentVersion
	Reused   bool
}

// SubmitVersion は内容の重複排除付きでバージョンを登録します。
func (l *Ledger) SubmitVersion(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	if len(in.Content) == 0 {
		return nil, fmt.Errorf("content is empty")
	}
	if in.Filename == "" {
		return nil, fmt.Errorf("filename is required")
	}

	sum := sha256.Sum256(in.Content)
	checksum := hex.EncodeToString(sum[:])

	contentType := in.ContentType
	if contentType == "" {
		contentType = mimetype.Detect(in.Content).String()
	}

	if in.DocumentID != nil {
		return l.submitToDocument(ctx, *in.DocumentID, in, checksum, contentType)
	}
	return l.submitNew(ctx, in, checksum, contentType)
}

// submitToDocument は既存ドキュメントへ新バージョンを積みます。
// 現行バージョンと同一チェックサムの場合は再利用します。
func (l *Ledger) submitToDocument(ctx context.Context, docID uuid.UUID, in SubmitInput, checksum, contentType string) (*SubmitResult, error) {
	var doc store.Document
	if err := l.db.WithContext(ctx).First(&doc, "id = ?", docID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}

	var current store.DocumentVersion
	if err := l.db.WithContext(ctx).First(&current, "id = ?", doc.CurrentVersionID).Error; err != nil {
		return nil, fmt.Errorf("failed to load current version: %w", err)
	}

	if current.Checksum == checksum {
		l.log.Info("version deduplicated",
			"document_id", doc.ID, "version_id", current.ID, "checksum", checksum)
		if err := l.undeleteIfNeeded(ctx, &doc); err != nil {
			return nil, err
		}
		return &SubmitResult{Document: &doc, Version: &current, Reused: true}, nil
	}

	versionID := uuid.New()
	nextNumber := current.VersionNumber + 1
	key := storageKey(doc.ID, nextNumber, versionID)

	// blobの書き込みが確定してから行をコミットする（write-then-record）。
	if err := l.blobs.Put(ctx, key, in.Content, contentType); err != nil {
		return nil, fmt.Errorf("failed to store content: %w", err)
	}

	now := l.now().UTC()
	version := &store.DocumentVersion{
		ID:            versionID,
		DocumentID:    doc.ID,
		VersionNumber: nextNumber,
		StorageKey:    key,
		SizeBytes:     int64(len(in.Content)),
		Checksum:      checksum,
		Metadata:      datatypes.JSON([]byte("{}")),
		CreatedAt:     now,
	}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 最大番号+1 をトランザクション内で取り直し、採番の欠番・重複を防ぐ。
		var maxNumber int
		if err := tx.Model(&store.DocumentVersion{}).
			Where("document_id = ?", doc.ID).
			Select("COALESCE(MAX(version_number), 0)").
			Scan(&maxNumber).Error; err != nil {
			return err
		}
		version.VersionNumber = maxNumber + 1
		version.StorageKey = storageKey(doc.ID, version.VersionNumber, versionID)
		if version.StorageKey != key {
			return fmt.Errorf("concurrent version submission for document %s", doc.ID)
		}

		if err := tx.Create(version).Error; err != nil {
			return err
		}
		return tx.Model(&store.Document{}).
			Where("id = ?", doc.ID).
			Updates(map[string]interface{}{
				"current_version_id": version.ID,
				"content_type":       contentType,
				"updated_at":         now,
				"deleted_at":         nil,
			}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record version: %w", err)
	}

	doc.CurrentVersionID = version.ID
	doc.ContentType = contentType
	doc.UpdatedAt = now
	doc.DeletedAt = nil

	l.log.Info("version created",
		"document_id", doc.ID, "version_id", version.ID, "number", version.VersionNumber)
	return &SubmitResult{Document: &doc, Version: version, Reused: false}, nil
}

// submitNew は新規ドキュメントを作成します。現行バージョンの中に同一
// チェックサムがある場合は、そのドキュメントを再利用します。
func (l *Ledger) submitNew(ctx context.Context, in SubmitInput, checksum, contentType string) (*SubmitResult, error) {
	var existing struct {
		store.Document
		VersionID uuid.UUID
	}
	row := l.db.WithContext(ctx).
		Table("documents").
		Select("documents.*, document_versions.id AS version_id").
		Joins("INNER JOIN document_versions ON document_versions.id = documents.current_version_id").
		Where("document_versions.checksum = ?", checksum).
		Limit(1).
		Scan(&existing)
	if row.Error != nil {
		return nil, row.Error
	}
	if row.RowsAffected > 0 {
		var version store.DocumentVersion
		if err := l.db.WithContext(ctx).First(&version, "id = ?", existing.VersionID).Error; err != nil {
			return nil, err
		}
		doc := existing.Document
		if err := l.undeleteIfNeeded(ctx, &doc); err != nil {
			return nil, err
		}
		l.log.Info("upload deduplicated existing document",
			"document_id", doc.ID, "checksum", checksum)
		return &SubmitResult{Document: &doc, Version: &version, Reused: true}, nil
	}

	docID := uuid.New()
	versionID := uuid.New()
	key := storageKey(docID, 1, versionID)

	if err := l.blobs.Put(ctx, key, in.Content, contentType); err != nil {
		return nil, fmt.Errorf("failed to store content: %w", err)
	}

	now := l.now().UTC()
	doc := &store.Document{
		ID:               docID,
		Filename:         in.Filename,
		OriginalName:     in.Filename,
		ContentType:      contentType,
		Title:            deriveTitle(in.Filename),
		Metadata:         datatypes.JSON([]byte("{}")),
		CurrentVersionID: versionID,
		UploadedAt:       now,
		UpdatedAt:        now,
	}
	version := &store.DocumentVersion{
		ID:            versionID,
		DocumentID:    docID,
		VersionNumber: 1,
		StorageKey:    key,
		SizeBytes:     int64(len(in.Content)),
		Checksum:      checksum,
		Metadata:      datatypes.JSON([]byte("{}")),
		CreatedAt:     now,
	}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(doc).Error; err != nil {
			return err
		}
		return tx.Create(version).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record document: %w", err)
	}

	l.log.Info("document created", "document_id", doc.ID, "version_id", version.ID)
	return &SubmitResult{Document: doc, Version: version, Reused: false}, nil
}

func (l *Ledger) undeleteIfNeeded(ctx context.Context, doc *store.Document) error {
	if doc.DeletedAt == nil {
		return nil
	}
	now := l.now().UTC()
	if err := l.db.WithContext(ctx).Model(&store.Document{}).
		Where("id = ?", doc.ID).
		Updates(map[string]interface{}{"deleted_at": nil, "updated_at": now}).Error; err != nil {
		return err
	}
	doc.DeletedAt = nil
	doc.UpdatedAt = now
	return nil
}

func storageKey(docID uuid.UUID, versionNumber int, versionID uuid.UUID) string {
	return fmt.Sprintf("documents/%s/v%d/%s", docID, versionNumber, versionID)
}

func deriveTitle(filename string) string {
	base := filepath.Base(filename)
	ext := filepath.Ext(base)
	title := strings.TrimSuffix(base, ext)
	if title == "" {
		return base
	}
	return title
}
