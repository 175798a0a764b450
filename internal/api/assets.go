package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/docforge/internal/resolver"
)

// handleAssetObjects は GET /api/assets/:id/objects のハンドラーです。
// start/limit で序数範囲を絞り込めます。範囲内に存在しない序数は省かれます。
func (s *Server) handleAssetObjects(c *gin.Context) {
	assetID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	start, ok := parseIntQuery(c, "start", 1)
	if !ok {
		return
	}
	limit, ok := parseIntQuery(c, "limit", 0)
	if !ok {
		return
	}

	result, err := s.resolver.Resolve(c.Request.Context(), assetID, start, limit)
	if err != nil {
		if errors.Is(err, resolver.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "ASSET_NOT_FOUND",
				"message": "指定されたアセットは存在しません。",
			})
			return
		}
		s.log.Error("failed to resolve asset", "asset_id", assetID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "アセットURLの解決に失敗しました。",
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

func parseIntQuery(c *gin.Context, name string, defaultValue int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return defaultValue, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": name + " には0以上の整数を指定してください。",
		})
		return 0, false
	}
	return v, true
}
