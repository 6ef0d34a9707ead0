package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/badal-health/risk-server/internal/api"
	"github.com/badal-health/risk-server/internal/archive"
	"github.com/badal-health/risk-server/internal/cache"
	"github.com/badal-health/risk-server/internal/config"
	"github.com/badal-health/risk-server/internal/database"
	"github.com/badal-health/risk-server/internal/metrics"
	"github.com/badal-health/risk-server/internal/repository"
	"github.com/badal-health/risk-server/internal/service"
)

func main() {
	// A missing .env file is fine; the environment may already be set
	_ = godotenv.Load()

	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, configManager, logger); err != nil {
		logger.WithError(err).Error("Server failed")
		os.Exit(1)
	}
	logger.Info("Server stopped")
}

func run(ctx context.Context, configManager *config.Manager, logger *logrus.Logger) error {
	cfg := configManager.GetConfig()

	engine, err := service.NewRuleEngine(cfg.Classifier)
	if err != nil {
		return err
	}
	logger.WithField("fingerprint", engine.Fingerprint()).Info("Classifier tables loaded")

	deps := service.AnalysisDeps{
		Classifier: engine,
		Logger:     logger,
	}
	apiDeps := api.Deps{Logger: logger}

	// Patient storage is optional
	if cfg.Database.Host != "" {
		db, err := database.NewConnection(ctx, database.ConfigFromDomain(cfg.Database), logger)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.EnsureSchema(ctx); err != nil {
			return err
		}
		deps.Patients = repository.NewPatientRepository(db.Pool, logger)
		apiDeps.Database = db
	} else {
		logger.Warn("Database host not configured, patient storage disabled")
	}

	store, err := archive.New(cfg.Archive)
	if err != nil {
		return err
	}
	defer store.Close()
	deps.Archive = store

	var redisTier *cache.RedisTier
	if url := configManager.GetRedisConnectionString(); url != "" {
		redisTier, err = cache.NewRedisTier(cfg.Cache, logger)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, caching in memory only")
			redisTier = nil
		}
	}
	resultCache := cache.NewTieredCache(cfg.Cache, redisTier, logger)
	defer resultCache.Close()
	deps.Cache = resultCache

	recorder := metrics.NewRecorder()
	deps.Observer = recorder
	apiDeps.Metrics = recorder

	analysis, err := service.NewAnalysisService(deps)
	if err != nil {
		return err
	}
	apiDeps.Analysis = analysis

	server, err := api.NewServer(cfg, apiDeps)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"host":        cfg.Server.Host,
		"port":        cfg.Server.Port,
		"environment": cfg.Environment,
		"storage":     analysis.StorageEnabled(),
		"archive":     cfg.Archive.Driver,
	}).Info("Starting Badal risk server")

	return server.Start(ctx)
}
