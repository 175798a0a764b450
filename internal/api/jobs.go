package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/docforge/internal/queue"
)

// handleJobStatus は GET /api/jobs/:id のハンドラーです。
func (s *Server) handleJobStatus(c *gin.Context) {
	jobID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	job, err := s.queue.Get(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "JOB_NOT_FOUND",
				"message": "指定されたジョブは存在しません。",
			})
			return
		}
		s.log.Error("failed to load job", "job_id", jobID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "ジョブ情報の取得に失敗しました。",
		})
		return
	}

	payload := gin.H{
		"id":       job.ID,
		"job_type": job.JobType,
		"status":   job.Status,
		"attempts": job.Attempts,
	}
	if !job.Status.IsTerminal() {
		payload["run_after"] = job.RunAfter
	}
	if job.LastError != "" {
		payload["last_error"] = job.LastError
	}
	c.JSON(http.StatusOK, payload)
}
