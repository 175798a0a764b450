package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yourusername/docforge/internal/ledger"
	"github.com/yourusername/docforge/internal/pipeline"
	"github.com/yourusername/docforge/internal/store"
)

// handleUploadDocument は POST /api/documents のハンドラーです。
// 新規ドキュメントを作成します。内容が既存ドキュメントと一致する場合は再利用します。
func (s *Server) handleUploadDocument(c *gin.Context) {
	s.submitUpload(c, nil)
}

// handleUploadVersion は POST /api/documents/:id/versions のハンドラーです。
// 既存ドキュメントへ新しいバージョンを積みます。
func (s *Server) handleUploadVersion(c *gin.Context) {
	docID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	s.submitUpload(c, &docID)
}

func (s *Server) submitUpload(c *gin.Context, docID *uuid.UUID) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "multipart/form-data でファイルを送信してください。",
		})
		return
	}
	if fileHeader.Size > s.maxFileSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"code":    "FILE_TOO_LARGE",
			"message": fmt.Sprintf("ファイルサイズが上限（%dバイト）を超えています。", s.maxFileSize),
		})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "ファイルの読み込みに失敗しました。",
		})
		return
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, s.maxFileSize+1))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "ファイルの読み込みに失敗しました。",
		})
		return
	}
	if int64(len(content)) > s.maxFileSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"code":    "FILE_TOO_LARGE",
			"message": fmt.Sprintf("ファイルサイズが上限（%dバイト）を超えています。", s.maxFileSize),
		})
		return
	}

	result, err := s.ledger.SubmitVersion(c.Request.Context(), ledger.SubmitInput{
		DocumentID:  docID,
		Content:     content,
		Filename:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
	})
	if err != nil {
		if errors.Is(err, ledger.ErrDocumentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "DOCUMENT_NOT_FOUND",
				"message": "指定されたドキュメントは存在しません。",
			})
			return
		}
		s.log.Error("failed to submit version", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "ドキュメントの保存に失敗しました。",
		})
		return
	}

	// 解析ジョブの投入失敗はアップロード自体を失敗扱いにしない。
	// 滞留分は再解析エンドポイントから回復できる。
	var jobID *uuid.UUID
	if !result.Reused {
		id, err := s.enqueueAnalyze(c, result.Document.ID, result.Version.ID, false)
		if err != nil {
			s.log.Warn("failed to enqueue analyze job",
				"document_id", result.Document.ID, "error", err)
		} else {
			jobID = &id
		}
	}

	status := http.StatusCreated
	if result.Reused {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{
		"document": documentJSON(result.Document),
		"version":  versionJSON(result.Version),
		"reused":   result.Reused,
		"job_id":   jobID,
	})
}

// handleGetDocument は GET /api/documents/:id のハンドラーです。
func (s *Server) handleGetDocument(c *gin.Context) {
	docID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var doc store.Document
	err := s.db.WithContext(c.Request.Context()).
		First(&doc, "id = ? AND deleted_at IS NULL", docID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "DOCUMENT_NOT_FOUND",
			"message": "指定されたドキュメントは存在しません。",
		})
		return
	}
	if err != nil {
		s.log.Error("failed to load document", "document_id", docID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "ドキュメント情報の取得に失敗しました。",
		})
		return
	}

	var version store.DocumentVersion
	if err := s.db.WithContext(c.Request.Context()).
		First(&version, "id = ?", doc.CurrentVersionID).Error; err != nil {
		s.log.Error("failed to load current version", "document_id", docID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "バージョン情報の取得に失敗しました。",
		})
		return
	}

	var assets []store.Asset
	if err := s.db.WithContext(c.Request.Context()).
		Where("document_version_id = ?", version.ID).
		Order("asset_type ASC").
		Find(&assets).Error; err != nil {
		s.log.Error("failed to load assets", "version_id", version.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "アセット情報の取得に失敗しました。",
		})
		return
	}

	assetList := make([]gin.H, 0, len(assets))
	for i := range assets {
		assetList = append(assetList, assetJSON(&assets[i]))
	}

	c.JSON(http.StatusOK, gin.H{
		"document": documentJSON(&doc),
		"version":  versionJSON(&version),
		"assets":   assetList,
	})
}

// handleReanalyze は POST /api/documents/:id/reanalyze のハンドラーです。
// 現行バージョンの解析ジョブを投入し直します。force=true で完成済みアセットも再生成します。
func (s *Server) handleReanalyze(c *gin.Context) {
	docID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var body struct {
		Force bool `json:"force"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "リクエストボディの形式が正しくありません。",
			})
			return
		}
	}

	var doc store.Document
	err := s.db.WithContext(c.Request.Context()).
		First(&doc, "id = ? AND deleted_at IS NULL", docID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "DOCUMENT_NOT_FOUND",
			"message": "指定されたドキュメントは存在しません。",
		})
		return
	}
	if err != nil {
		s.log.Error("failed to load document", "document_id", docID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "ドキュメント情報の取得に失敗しました。",
		})
		return
	}

	jobID, err := s.enqueueAnalyze(c, doc.ID, doc.CurrentVersionID, body.Force)
	if err != nil {
		s.log.Error("failed to enqueue analyze job", "document_id", doc.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "解析ジョブの投入に失敗しました。",
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
}

// handleDeleteDocument は DELETE /api/documents/:id のハンドラーです。
// ドキュメントを論理削除します。行とBLOBの物理削除は保守タスクが行います。
func (s *Server) handleDeleteDocument(c *gin.Context) {
	docID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	now := time.Now()
	res := s.db.WithContext(c.Request.Context()).
		Model(&store.Document{}).
		Where("id = ? AND deleted_at IS NULL", docID).
		Updates(map[string]interface{}{
			"deleted_at": now,
			"updated_at": now,
		})
	if res.Error != nil {
		s.log.Error("failed to delete document", "document_id", docID, "error", res.Error)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "ドキュメントの削除に失敗しました。",
		})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "DOCUMENT_NOT_FOUND",
			"message": "指定されたドキュメントは存在しません。",
		})
		return
	}

	s.log.Info("document soft-deleted", "document_id", docID)
	c.Status(http.StatusNoContent)
}

func (s *Server) enqueueAnalyze(c *gin.Context, docID, versionID uuid.UUID, force bool) (uuid.UUID, error) {
	return s.queue.Enqueue(c.Request.Context(), store.JobTypeAnalyzeDocument, pipeline.AnalyzePayload{
		DocumentID: docID,
		VersionID:  versionID,
		Force:      force,
	}, time.Time{})
}
