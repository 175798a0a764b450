// Package api はHTTPハンドラーとルーティングを提供します。
package api

import (
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/yourusername/docforge/internal/blob"
	"github.com/yourusername/docforge/internal/ledger"
	"github.com/yourusername/docforge/internal/logging"
	"github.com/yourusername/docforge/internal/queue"
	"github.com/yourusername/docforge/internal/resolver"
)

// Server はAPIサーバーの依存をまとめたハンドラー集です。
type Server struct {
	db          *gorm.DB
	ledger      *ledger.Ledger
	queue       *queue.Queue
	resolver    *resolver.Resolver
	log         *logging.Logger
	maxFileSize int64

	// localBlobs が非nilのとき /blobs/*key の配信ハンドラーを有効にします。
	localBlobs *blob.LocalStore
}

// Options は Server の設定です。
type Options struct {
	MaxFileSize int64
	LocalBlobs  *blob.LocalStore
}

// NewServer は Server を初期化します。
func NewServer(db *gorm.DB, l *ledger.Ledger, q *queue.Queue, r *resolver.Resolver, log *logging.Logger, opts Options) *Server {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = 100 << 20
	}
	return &Server{
		db:          db,
		ledger:      l,
		queue:       q,
		resolver:    r,
		log:         log.With("component", "api"),
		maxFileSize: opts.MaxFileSize,
		localBlobs:  opts.LocalBlobs,
	}
}

// NewRouter はCORSとルーティングを設定済みのginエンジンを返します。
func NewRouter(s *Server, corsAllowedOrigins string) *gin.Engine {
	router := gin.Default()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = strings.Split(corsAllowedOrigins, ",")
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
	}
	router.Use(cors.New(corsConfig))

	s.RegisterRoutes(router)
	return router
}

// RegisterRoutes はすべてのエンドポイントを登録します。
func (s *Server) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", s.handleHealth)

	if s.localBlobs != nil {
		router.GET("/blobs/*key", s.handleServeBlob)
	}

	api := router.Group("/api")
	{
		api.POST("/documents", s.handleUploadDocument)
		api.GET("/documents/:id", s.handleGetDocument)
		api.DELETE("/documents/:id", s.handleDeleteDocument)
		api.POST("/documents/:id/versions", s.handleUploadVersion)
		api.POST("/documents/:id/reanalyze", s.handleReanalyze)
		api.GET("/assets/:id/objects", s.handleAssetObjects)
		api.GET("/jobs/:id", s.handleJobStatus)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "docforge-api",
		"version": "0.1.0",
	})
}
