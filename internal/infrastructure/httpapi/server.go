// Package httpapi exposes the record service over HTTP with gin.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"DropTracker/internal/metrics"
)

const (
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// Config holds listener and middleware settings.
type Config struct {
	Address         string
	AllowedOrigins  []string
	JWTSecret       string
	Debug           bool
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.Address == "" {
		c.Address = ":4000"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
}

// Server is the HTTP listener with lifecycle management.
type Server struct {
	router *gin.Engine
	server *http.Server
	logger *zap.Logger
	cfg    Config
}

// NewServer builds the router with the standard middleware chain and every
// API route.
func NewServer(cfg Config, svc RecordService, m *metrics.Metrics, logger *zap.Logger) *Server {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	switch {
	case cfg.Debug:
		if gin.Mode() != gin.DebugMode {
			gin.SetMode(gin.DebugMode)
		}
	case gin.Mode() == gin.DebugMode:
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(recoveryMiddleware(logger))
	router.Use(requestIDMiddleware())
	router.Use(loggerMiddleware(logger))
	router.Use(metricsMiddleware(m))
	router.Use(corsMiddleware(cfg.AllowedOrigins))

	h := &handlers{svc: svc}
	router.GET("/health", h.health)
	router.GET("/metrics", gin.WrapH(m.Handler()))

	api := router.Group("/api/v1")
	if cfg.JWTSecret != "" {
		api.Use(authMiddleware(cfg.JWTSecret))
	}
	api.GET("/collections", h.collections)
	api.GET("/urls", h.list)
	api.POST("/urls", h.insert)
	api.POST("/urls/extract", h.requestExtraction)
	api.GET("/urls/:id", h.get)
	api.PUT("/urls/:id", h.updateStage)
	api.DELETE("/urls/:id", h.delete)
	api.PUT("/urls/:id/extraction", h.completeExtraction)
	api.GET("/assets", h.asset)

	return &Server{
		router: router,
		server: &http.Server{
			Addr:         cfg.Address,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  defaultIdleTimeout,
		},
		logger: logger,
		cfg:    cfg,
	}
}

// Handler returns the router for in-process use.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("address", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}
