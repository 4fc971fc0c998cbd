package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/drug-interaction-engine/internal/api"
	"github.com/drug-interaction-engine/internal/audit"
	"github.com/drug-interaction-engine/internal/cache"
	"github.com/drug-interaction-engine/internal/config"
	"github.com/drug-interaction-engine/internal/database"
	"github.com/drug-interaction-engine/internal/domain"
	"github.com/drug-interaction-engine/internal/knowledge"
	"github.com/drug-interaction-engine/internal/override"
	"github.com/drug-interaction-engine/internal/registry"
	"github.com/drug-interaction-engine/internal/report"
	"github.com/drug-interaction-engine/internal/repository"
	"github.com/drug-interaction-engine/internal/service"
)

func main() {
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()

	logger := newLogger(cfg.Logging)
	logger.WithFields(logrus.Fields{
		"host":    cfg.Server.Host,
		"port":    cfg.Server.Port,
		"profile": cfg.Storage.Profile,
	}).Info("Starting drug interaction engine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Knowledge base
	kb := knowledge.NewStore(logger)
	if err := kb.Swap(knowledge.SeedSnapshot()); err != nil {
		logger.WithError(err).Fatal("Failed to load knowledge base")
	}

	// Model registry with the bundled predictor
	models := registry.New(logger)
	activeModel := domain.MLModel{
		ModelType:           cfg.Engine.ModelType,
		Version:             "gradient-2025.07",
		Status:              domain.ModelActive,
		ConfidenceThreshold: cfg.Engine.ConfidenceThreshold,
		PerformanceMetrics:  domain.ModelMetrics{CalibrationScore: 0.9},
	}
	if err := models.Register(activeModel); err != nil {
		logger.WithError(err).Fatal("Failed to register model")
	}

	features := service.NewFeatureRegistry()
	predictors := map[string]service.Predictor{
		activeModel.Version: service.NewGradientPredictor(),
	}
	scorer := service.NewMLScorer(logger, features, predictors, cfg.Engine.ScoringTimeout)
	if err := scorer.ValidateSchemas(); err != nil {
		logger.WithError(err).Fatal("Model schema validation failed")
	}

	normalizer, err := service.NewNormalizer(logger, 1024)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create normalizer")
	}

	// Storage
	runStore, overrideStore := newStores(ctx, cfg, configManager, logger)
	defer runStore.Close()

	resultCache, err := cache.New(cache.Config{
		RedisURL:   cfg.Cache.RedisURL,
		DefaultTTL: cfg.Cache.DefaultTTL,
		MemorySize: cfg.Cache.MemorySize,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create result cache")
	}
	defer resultCache.Close()

	checker := service.NewChecker(logger, service.CheckerDeps{
		Normalizer:   normalizer,
		Rules:        service.NewRuleEngine(logger),
		Scorer:       scorer,
		Personalizer: service.NewPersonalizer(logger),
		Aggregator:   service.NewAggregator(logger, domain.SeverityModerate),
		Recommender:  service.NewRecommender(logger, cfg.Engine.EquivalenceFloor),
		Knowledge:    kb,
		Models:       models,
		ModelType:    cfg.Engine.ModelType,
		Cache:        resultCache,
		Audit:        runStore,
	})

	explainer := service.NewExplainer(logger, features)
	explainer.RegisterStrategy(cfg.Engine.ModelType, &service.LinearAttribution{
		Weights: gradientWeights(),
	})

	batches := service.NewBatchRunner(logger, checker, service.NewStaticPatientSource(nil),
		kb, models, cfg.Engine.ModelType, cfg.Engine.BatchConcurrency)

	server := api.NewServer(logger, cfg, api.Deps{
		Checker:   checker,
		Batches:   batches,
		Overrides: override.NewManager(logger, overrideStore, override.DefaultPolicy()),
		Reports:   report.NewGenerator(logger, runStore, overrideStore, cfg.Reports.OutputDir),
		Explainer: explainer,
		Features:  features,
		Norm:      normalizer,
		Knowledge: kb,
		Models:    models,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("Server stopped")
}

// newStores builds the run-log and override stores for the configured profile.
func newStores(ctx context.Context, cfg *domain.Config, manager *config.Manager, logger *logrus.Logger) (audit.Store, override.Store) {
	switch cfg.Storage.Profile {
	case "postgres":
		if err := database.Migrate(manager.GetDatabaseURL(), cfg.Storage.MigrationsPath, logger); err != nil {
			logger.WithError(err).Fatal("Failed to migrate schema")
		}

		pool, err := database.Connect(ctx, cfg.Storage.Database, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to database")
		}

		runStore, err := audit.NewPostgresStoreFromURL(manager.GetDatabaseURL())
		if err != nil {
			logger.WithError(err).Fatal("Failed to create run-log store")
		}
		return runStore, repository.NewOverrideRepository(pool, logger)
	default:
		runStore, err := audit.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create run-log store")
		}
		return runStore, override.NewMemoryStore()
	}
}

func newLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	}
	return logger
}

// gradientWeights mirrors the bundled predictor's weights for attribution.
func gradientWeights() map[string]float64 {
	return map[string]float64{
		"age_years":          0.004,
		"renal_impaired":     0.35,
		"hepatic_impaired":   0.3,
		"comorbidity_count":  0.05,
		"drug_count":         0.03,
		"shared_class_pairs": 0.25,
		"poor_metabolizer":   0.3,
	}
}
