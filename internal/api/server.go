// Package api exposes the scoring operations over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/badal-health/risk-server/internal/domain"
	"github.com/badal-health/risk-server/internal/metrics"
	"github.com/badal-health/risk-server/internal/middleware"
	"github.com/badal-health/risk-server/internal/service"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

const shutdownTimeout = 30 * time.Second

// HealthChecker reports whether a backing store is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of the HTTP server. Database and Metrics are
// optional.
type Deps struct {
	Analysis *service.AnalysisService
	Database HealthChecker
	Metrics  *metrics.Recorder
	Logger   *logrus.Logger
}

// Server represents the HTTP server
type Server struct {
	cfg      *domain.Config
	router   *gin.Engine
	server   *http.Server
	analysis *service.AnalysisService
	database HealthChecker
	metrics  *metrics.Recorder
	logger   *logrus.Logger
}

// NewServer creates a new HTTP server instance
func NewServer(cfg *domain.Config, deps Deps) (*Server, error) {
	if deps.Analysis == nil {
		return nil, errors.New("api server requires an analysis service")
	}
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.AuditLogger())
	router.Use(middleware.SecurityHeaders())
	router.Use(cors.New(corsConfig(cfg.Server.AllowedOrigins)))
	if deps.Metrics != nil {
		router.Use(deps.Metrics.Middleware())
	}
	if cfg.RateLimit.Enabled {
		limiter, err := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, cfg.RateLimit.MaxClients)
		if err != nil {
			return nil, fmt.Errorf("creating rate limiter: %w", err)
		}
		router.Use(limiter.Middleware())
	}
	router.Use(middleware.LimitBodySize(cfg.Server.MaxUploadBytes))
	router.Use(middleware.RequestTimeout(cfg.Server.RequestTimeout))

	s := &Server{
		cfg:      cfg,
		router:   router,
		analysis: deps.Analysis,
		database: deps.Database,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
	}

	s.setupRoutes()

	return s, nil
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "X-Correlation-ID", "X-Request-ID"},
		ExposeHeaders: []string{"Content-Length", "X-Correlation-ID"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.cfg.Server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ready", s.handleReady)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	v1 := s.router.Group("/api/v1")
	{
		predict := v1.Group("/predict")
		predict.POST("/genetic", s.handlePredictGenetic)
		predict.POST("/skin", s.handlePredictSkin)
		predict.POST("/condition", s.handlePredictCondition)

		patients := v1.Group("/patients/:id")
		patients.POST("/genetic", s.handleUploadGenetic)
		patients.GET("/genetic", s.handleGetGenetic)
		patients.POST("/skin", s.handleUploadSkin)
		patients.GET("/skin", s.handleListSkin)
		patients.PUT("/vitals", s.handleUpdateVitals)

		v1.GET("/analyses", s.handleListAnalyses)
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   Version,
	})
}

// handleReady reports 503 when a configured database cannot be reached.
func (s *Server) handleReady(c *gin.Context) {
	if s.database == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ready", "db": "disabled"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.database.Ping(ctx); err != nil {
		s.logger.WithError(err).Warn("Readiness check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "db": "unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "db": "ok"})
}
