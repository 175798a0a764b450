package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/docforge/internal/blob"
)

// handleServeBlob は GET /blobs/*key のハンドラーです。
// ローカルストレージが発行したHMAC署名付きURLを検証して配信します。
func (s *Server) handleServeBlob(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "オブジェクトキーを指定してください。",
		})
		return
	}

	exp, err := strconv.ParseInt(c.Query("exp"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "expパラメータが正しくありません。",
		})
		return
	}

	if err := s.localBlobs.Verify(key, exp, c.Query("sig")); err != nil {
		c.JSON(http.StatusForbidden, gin.H{
			"code":    "FORBIDDEN",
			"message": "署名が無効か、URLの有効期限が切れています。",
		})
		return
	}

	data, err := s.localBlobs.Get(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "NOT_FOUND",
				"message": "指定されたオブジェクトは存在しません。",
			})
			return
		}
		s.log.Error("failed to read blob", "key", key, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "オブジェクトの読み込みに失敗しました。",
		})
		return
	}

	c.Data(http.StatusOK, mimetype.Detect(data).String(), data)
}
