// Package main provides the MCP entry point of the risk scoring server.
// It requires no external databases; results are archived in SQLite.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/badal-health/risk-server/internal/archive"
	"github.com/badal-health/risk-server/internal/cache"
	"github.com/badal-health/risk-server/internal/config"
	"github.com/badal-health/risk-server/internal/mcp"
	"github.com/badal-health/risk-server/internal/service"
)

func main() {
	cfg := config.LoadLiteConfig()
	logger := cfg.NewLiteLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("MCP server failed")
		stop()
		os.Exit(1)
	}
	logger.Info("Risk scoring MCP server stopped")
}

func run(ctx context.Context, cfg *config.LiteConfig, logger *logrus.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	engine, err := cfg.NewRuleEngine()
	if err != nil {
		return err
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := archive.NewSQLiteStore(cfg.ArchiveDBPath())
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer store.Close()

	resultCache := cache.NewTieredCache(cfg.CacheConfig(), nil, logger)
	defer resultCache.Close()

	analysis, err := service.NewAnalysisService(service.AnalysisDeps{
		Classifier: engine,
		Archive:    store,
		Cache:      resultCache,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	server, err := mcp.NewServer(cfg.MCPConfig(), analysis, logger)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"data_dir":    cfg.DataDir,
		"transport":   cfg.Transport,
		"fingerprint": engine.Fingerprint(),
	}).Info("Starting risk scoring MCP server")

	if cfg.Transport == config.TransportHTTP {
		return server.StartHTTP(ctx, cfg.HTTPAddr())
	}
	return server.Start(ctx)
}
