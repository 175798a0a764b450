package pipeline

import (
	"path/filepath"
	"strings"

	"github.com/yourusername/docforge/internal/store"
)

var thumbnailMIMEs = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/gif":       true,
	"image/tiff":      true,
	"image/bmp":       true,
	"image/webp":      true,
	"application/pdf": true,
}

var thumbnailExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".tif": true, ".tiff": true, ".bmp": true, ".webp": true, ".pdf": true,
}

// supportedAssetTypes はドキュメントの種類から生成可能なアセット種別を判定します。
func supportedAssetTypes(doc *store.Document) []store.AssetType {
	var types []store.AssetType
	if thumbnailSupported(doc) {
		types = append(types, store.AssetTypeThumbnail)
	}
	if documentIsPDF(doc) {
		types = append(types, store.AssetTypePreview, store.AssetTypeOCRText)
	}
	return types
}

func thumbnailSupported(doc *store.Document) bool {
	if mime := normalizeMIME(doc.ContentType); mime != "" && thumbnailMIMEs[mime] {
		return true
	}
	ext := strings.ToLower(filepath.Ext(doc.OriginalName))
	return thumbnailExts[ext]
}

func documentIsPDF(doc *store.Document) bool {
	if normalizeMIME(doc.ContentType) == "application/pdf" {
		return true
	}
	return strings.EqualFold(filepath.Ext(doc.OriginalName), ".pdf")
}

// normalizeMIME は "application/pdf; charset=binary" のようなパラメータを落とします。
func normalizeMIME(mime string) string {
	mime = strings.TrimSpace(mime)
	if idx := strings.IndexByte(mime, ';'); idx >= 0 {
		mime = mime[:idx]
	}
	return strings.ToLower(strings.TrimSpace(mime))
}
