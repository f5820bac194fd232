package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chrimage/discord-voice-scribe/internal/auth"
	"github.com/chrimage/discord-voice-scribe/internal/config"
	"github.com/chrimage/discord-voice-scribe/internal/metrics"
	"github.com/chrimage/discord-voice-scribe/internal/session"
	"github.com/chrimage/discord-voice-scribe/internal/storage"
	"github.com/chrimage/discord-voice-scribe/internal/store"
)

// Server is the HTTP control plane: session control, recording listings,
// download link minting, and artifact downloads.
type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	sessionMgr *session.Manager
	store      *store.Store
	storage    storage.Provider
	signer     *auth.Signer
	metrics    *metrics.Metrics

	router *gin.Engine
	http   *http.Server
}

// New creates the HTTP server and registers all routes.
func New(cfg *config.Config, logger *slog.Logger, mgr *session.Manager,
	st *store.Store, sp storage.Provider, signer *auth.Signer, m *metrics.Metrics) *Server {

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		sessionMgr: mgr,
		store:      st,
		storage:    sp,
		signer:     signer,
		metrics:    m,
		router:     gin.New(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.http = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port),
		Handler: s.router,
	}

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	s.router.Use(cors.New(corsConfig))

	s.router.Use(s.observe())
}

// observe records per-request metrics against the route template.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}

		status := c.Writer.Status()
		s.metrics.RecordHTTPRequest(c.Request.Method, endpoint,
			strconv.Itoa(status), time.Since(start).Seconds())

		if status >= http.StatusInternalServerError {
			s.metrics.RecordHTTPError(c.Request.Method, endpoint, "server_error")
		}
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/v1")
	{
		v1.POST("/sessions", s.handleStartSession)
		v1.GET("/sessions", s.handleListSessions)
		v1.GET("/sessions/:channelID", s.handleSessionStatus)
		v1.POST("/sessions/:channelID/stop", s.handleStopSession)

		v1.GET("/guilds/:guildID/recordings", s.handleListRecordings)
		v1.POST("/recordings/:id/link", s.handleCreateLink)
	}

	s.router.GET("/download/:token", s.handleDownload)
}

// Start begins serving HTTP requests. Blocks until the listener closes.
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting",
		slog.String("address", s.http.Addr),
	)

	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server...")
	return s.http.Shutdown(ctx)
}
