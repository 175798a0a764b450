package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yourusername/docforge/internal/store"
)

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": name + " はUUID形式で指定してください。",
		})
		return uuid.Nil, false
	}
	return id, true
}

func documentJSON(doc *store.Document) gin.H {
	return gin.H{
		"id":                 doc.ID,
		"filename":           doc.Filename,
		"original_name":      doc.OriginalName,
		"content_type":       doc.ContentType,
		"title":              doc.Title,
		"current_version_id": doc.CurrentVersionID,
		"uploaded_at":        doc.UploadedAt,
		"updated_at":         doc.UpdatedAt,
	}
}

func versionJSON(v *store.DocumentVersion) gin.H {
	return gin.H{
		"id":             v.ID,
		"document_id":    v.DocumentID,
		"version_number": v.VersionNumber,
		"size_bytes":     v.SizeBytes,
		"checksum":       v.Checksum,
		"created_at":     v.CreatedAt,
	}
}

func assetJSON(a *store.Asset) gin.H {
	return gin.H{
		"id":          a.ID,
		"asset_type":  a.AssetType,
		"cardinality": a.Cardinality,
		"completed":   a.CompletedAt != nil,
		"updated_at":  a.UpdatedAt,
	}
}
