// Package mcp exposes the scoring operations as Model Context Protocol tools.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/badal-health/risk-server/internal/domain"
	"github.com/badal-health/risk-server/internal/service"
)

// Tool names.
const (
	ToolScoreGeneticMarkers = "score_genetic_markers"
	ToolClassifyLesion      = "classify_lesion"
	ToolPredictCondition    = "predict_condition"
)

// Server represents the risk scoring MCP server
type Server struct {
	config    domain.MCPConfig
	mcpServer *mcp.Server
	analysis  *service.AnalysisService
	logger    *logrus.Logger
}

// NewServer creates a new MCP server instance with every tool registered.
func NewServer(cfg domain.MCPConfig, analysis *service.AnalysisService, logger *logrus.Logger) (*Server, error) {
	if analysis == nil {
		return nil, errors.New("mcp server requires an analysis service")
	}
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = "badal-risk"
	}
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "1.0.0"
	}

	serverInfo := &mcp.Implementation{
		Name:    cfg.ServerName,
		Version: cfg.ServerVersion,
	}

	s := &Server{
		config:    cfg,
		mcpServer: mcp.NewServer(serverInfo, nil),
		analysis:  analysis,
		logger:    logger,
	}
	s.registerTools()

	return s, nil
}

// registerTools registers the scoring tools with the MCP SDK.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolScoreGeneticMarkers,
		Description: "Score genetic marker names (e.g. spreadsheet column headers) against the weighted marker rules and return the risk level, score, findings and recommendations.",
	}, s.handleScoreGeneticMarkers)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolClassifyLesion,
		Description: "Classify a skin lesion from per-class probabilities (akiec, bcc, bkl, df, mel, nv, vasc) and return the lesion type, confidence, risk level and recommendations.",
	}, s.handleClassifyLesion)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolPredictCondition,
		Description: "Predict a patient condition (stable, critical, recovered) from age and vital signs.",
	}, s.handlePredictCondition)

	s.logger.WithField("tool_count", 3).Info("Registered MCP tools")
}

// Start runs the server over stdio until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting risk scoring MCP server on stdio")
	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

// StartHTTP serves the streamable HTTP transport on addr until ctx is cancelled.
func (s *Server) StartHTTP(ctx context.Context, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcpServer
	}, nil)
	httpServer := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("Starting risk scoring MCP server on HTTP")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("MCP HTTP server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// toolContext bounds a tool call by the configured request timeout.
func (s *Server) toolContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.config.RequestTimeout)
}
