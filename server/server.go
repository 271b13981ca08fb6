// Package server exposes the chat UI, the websocket chat and the knowledge
// admin API over HTTP.
package server

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/xhad/deptbot/internal/logger"
	"github.com/xhad/deptbot/internal/types"
	"github.com/xhad/deptbot/pkg/ingest"
	"github.com/xhad/deptbot/pkg/rag"
)

//go:embed static/index.html
var indexHTML []byte

type Config struct {
	Port           string
	CORSOrigins    []string
	Typing         rag.Typewriter
	MaxUploadBytes int64
	ReleaseMode    bool
}

// Dependencies are the components the handlers drive.
type Dependencies struct {
	Chain    *rag.Chain
	Prober   *rag.Prober
	Pipeline *ingest.Pipeline
	Vectors  types.VectorStore
}

type Server struct {
	config   Config
	chain    *rag.Chain
	prober   *rag.Prober
	pipeline *ingest.Pipeline
	vectors  types.VectorStore
	router   *gin.Engine
	logger   *slog.Logger
}

func New(config Config, deps Dependencies) (*Server, error) {
	if deps.Chain == nil || deps.Prober == nil || deps.Pipeline == nil || deps.Vectors == nil {
		return nil, errors.New("server: chain, prober, pipeline and vector store are required")
	}
	if config.Port == "" {
		config.Port = "8080"
	}
	if len(config.CORSOrigins) == 0 {
		config.CORSOrigins = []string{"*"}
	}
	if config.MaxUploadBytes == 0 {
		config.MaxUploadBytes = 50 << 20
	}
	if config.Typing.Mode == "" {
		config.Typing.Mode = rag.TypeChar
	}

	s := &Server{
		config:   config,
		chain:    deps.Chain,
		prober:   deps.Prober,
		pipeline: deps.Pipeline,
		vectors:  deps.Vectors,
		logger:   logger.Component("server"),
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	if s.config.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(s.requestLogger())
	router.Use(gin.Recovery())

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	if len(s.config.CORSOrigins) == 1 && s.config.CORSOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = s.config.CORSOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "X-Requested-With"}
	router.Use(cors.New(corsConfig))

	router.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
	})
	router.GET("/health", s.handleHealth)
	router.GET("/ws", s.handleWebSocket)

	api := router.Group("/api")
	{
		api.POST("/documents/upload", s.handleUpload)
		api.GET("/documents", s.handleListDocuments)
		api.PUT("/documents/:id", s.handleUpdateDocument)
		api.DELETE("/documents/:id", s.handleDeleteDocument)
		api.POST("/ask", s.handleAsk)
	}

	return router
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.config.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "port", s.config.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	s.logger.Info("server exited")
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	n, err := s.vectors.Count(c.Request.Context())
	if err != nil {
		s.logger.Error("health check failed", "error", err)
		apiError(c, http.StatusServiceUnavailable, "vector_store_unavailable", "Vector store is unavailable", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now(), "documents": n})
}
