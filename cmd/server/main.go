package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loomworks/api/internal/cache"
	"github.com/loomworks/api/internal/config"
	"github.com/loomworks/api/internal/database"
	"github.com/loomworks/api/internal/eventbus"
	"github.com/loomworks/api/internal/fingerprint"
	"github.com/loomworks/api/internal/handlers"
	"github.com/loomworks/api/internal/ledger"
	"github.com/loomworks/api/internal/middleware"
	"github.com/loomworks/api/internal/models"
	"github.com/loomworks/api/internal/orchestrator"
	"github.com/loomworks/api/internal/provenance"
	"github.com/loomworks/api/internal/providers"
	"github.com/loomworks/api/internal/quality"
	"github.com/loomworks/api/internal/registry"
	"github.com/loomworks/api/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	// Initialize logger with stdout sync
	zapConfig := zap.NewProductionConfig()
	zapConfig.OutputPaths = []string{"stdout"}
	zapConfig.ErrorOutputPaths = []string{"stderr"}
	logger, err := zapConfig.Build()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("loom API starting...",
		zap.String("version", "0.1.0"),
		zap.String("environment", os.Getenv("GO_ENV")),
	)

	cfg := config.Load()

	// Telemetry is best-effort: the collector being down must not stop the
	// service.
	shutdownTelemetry, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, "loom-api")
	if err != nil {
		logger.Error("failed to initialize telemetry", zap.Error(err))
	} else {
		defer func() {
			if err := shutdownTelemetry(ctx); err != nil {
				logger.Error("failed to shutdown telemetry", zap.Error(err))
			}
		}()
	}

	promRegistry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(promRegistry)

	// Event bus is best-effort for the same reason.
	bus, err := eventbus.Connect(cfg.NATSURL, logger)
	if err != nil {
		logger.Error("failed to connect to NATS", zap.Error(err))
		bus = nil
	} else {
		defer bus.Close()
		logger.Info("connected to NATS")
	}

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	rdb, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Core engine wiring
	store := cache.NewRedisStore(rdb.Client(), cfg.CacheCapacity, cfg.CacheEvictFraction, logger)
	led := ledger.NewRedisLedger(rdb.Client(), ledger.Ceilings{
		Free:          cfg.BudgetFree,
		Creator:       cfg.BudgetCreator,
		Business:      cfg.BudgetBusiness,
		Agency:        cfg.BudgetAgency,
		AlertFraction: cfg.AlertThreshold,
	}, cfg.LedgerKeyExpiry, logger)
	journal := ledger.NewJournal(db, logger)

	reg := registry.New(cfg.DegradedCooldown, cfg.UnavailableAfter, logger)
	registerProviders(reg, cfg, logger)

	orch := orchestrator.New(orchestrator.Config{
		Fingerprinter:        fingerprint.New(cfg.SimilarityShingleSize, cfg.ComplexityBucketWidth),
		Cache:                store,
		Ledger:               led,
		Registry:             reg,
		Router:               registry.NewRouter(reg, logger),
		Gate:                 quality.NewGate(cfg.AdmissionThreshold, cfg.StructureHardFloor, logger),
		Journal:              journal,
		Bus:                  bus,
		Metrics:              metrics,
		Logger:               logger,
		MaxAttempts:          cfg.MaxAttempts,
		ProviderTimeout:      cfg.ProviderTimeout,
		SimilarityMinQuality: cfg.SimilarityMinQuality,
		CacheTTL:             cfg.CacheTTL,
	})

	// Background cache maintenance
	evictCtx, stopEviction := context.WithCancel(ctx)
	defer stopEviction()
	go cache.RunEvictionLoop(evictCtx, store, cfg.CacheEvictInterval, logger)

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.CORS())

	healthHandler := handlers.NewHealthHandler(db, rdb, reg)
	router.GET("/health", healthHandler.Health)
	router.GET("/health/deep", healthHandler.DeepHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})))

	certificates := provenance.NewService(cfg.JWTSecret)
	generationHandler := handlers.NewGenerationHandler(orch, certificates, cfg.RequestTimeout, logger)
	cacheHandler := handlers.NewCacheHandler(store, logger)
	budgetHandler := handlers.NewBudgetHandler(led, reg, logger)
	providersHandler := handlers.NewProvidersHandler(reg)

	v1 := router.Group("/api/v1")
	{
		protected := v1.Group("")
		protected.Use(middleware.AuthMiddleware(cfg.JWTSecret, logger))
		protected.Use(middleware.RateLimitMiddleware(middleware.NewRateLimiter(100, 10, time.Minute)))
		{
			protected.GET("/budget", budgetHandler.GetBudget)
			protected.POST("/cost/estimate", budgetHandler.EstimateCost)
			protected.GET("/providers", providersHandler.List)

			cacheRoutes := protected.Group("/cache")
			{
				cacheRoutes.GET("/stats", cacheHandler.Stats)
				cacheRoutes.POST("/evict", cacheHandler.Evict)
			}

			// Generation is the expensive path: stricter rate limit plus a
			// circuit breaker over repeated backend failure.
			generation := protected.Group("")
			generation.Use(middleware.RateLimitMiddleware(middleware.NewRateLimiter(20, 2, time.Minute)))
			generation.Use(middleware.CircuitBreakerMiddleware(middleware.NewCircuitBreaker()))
			{
				generation.POST("/generate", generationHandler.Generate)
			}
		}
	}

	// WriteTimeout must outlast the synchronous generation path.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	stopEviction()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited gracefully")
}

// registerProviders wires the generation backends. A provider whose API key
// is missing gets a static stand-in during development so the service stays
// runnable without credentials; in production it is skipped.
func registerProviders(reg *registry.Registry, cfg *config.Config, logger *zap.Logger) {
	descriptors := []models.ProviderDescriptor{
		{
			ID:              "deepseek-v3",
			InputCostPer1M:  0.14,
			OutputCostPer1M: 0.28,
			CapabilityTags:  []string{"markup", "component", "template"},
			MaxComplexity:   3,
		},
		{
			ID:              "gemini-flash",
			InputCostPer1M:  0.075,
			OutputCostPer1M: 0.30,
			CapabilityTags:  []string{"markup", "component", "template"},
			MaxComplexity:   4,
			SupportsVision:  true,
		},
		{
			ID:              "gemini-pro",
			InputCostPer1M:  1.25,
			OutputCostPer1M: 10.00,
			CapabilityTags:  []string{"markup", "component", "template"},
			MaxComplexity:   5,
			SupportsVision:  true,
		},
	}

	for _, d := range descriptors {
		apiKey := cfg.ProviderAPIKeys[d.ID]
		if apiKey == "" {
			if cfg.Environment == "production" {
				logger.Warn("provider skipped, no API key", zap.String("provider", d.ID))
				continue
			}
			logger.Info("provider running in static mode", zap.String("provider", d.ID))
			reg.Register(d, &providers.StaticProvider{
				Descriptor: d,
				Artifact:   "<!DOCTYPE html><html><body><p>placeholder artifact</p></body></html>",
			})
			continue
		}
		reg.Register(d, providers.NewHTTPProvider(d, cfg.ProviderEndpoints[d.ID], apiKey, cfg.ProviderTimeout, logger))
	}
}
