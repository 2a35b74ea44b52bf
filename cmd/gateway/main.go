package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/shopsense/shopsense/internal/api"
	"github.com/shopsense/shopsense/internal/backends"
	"github.com/shopsense/shopsense/internal/cache"
	"github.com/shopsense/shopsense/internal/fallback"
	"github.com/shopsense/shopsense/pkg/config"
	"github.com/shopsense/shopsense/pkg/logging"
	"github.com/shopsense/shopsense/pkg/metrics"
	"github.com/shopsense/shopsense/pkg/tracing"
)

const version = "1.0.0"

func main() {
	// Load .env if present; real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "shopsense-gateway",
		Version:     version,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	m := metrics.NewMetrics(nil)

	tracer, err := tracing.NewTracingService(&tracing.Config{
		ServiceName:    "shopsense-gateway",
		ServiceVersion: version,
		JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	// Shared cache tier; a Redis outage at startup degrades to in-process only
	var sharedTier cache.SharedTier
	if redisClient, err := cache.NewRedisClient(&cfg.Redis); err != nil {
		logger.WithError(err).Warn("Redis unavailable, shared cache tier disabled")
		sharedTier = cache.NewMemorySharedTier()
	} else {
		defer redisClient.Close()
		sharedTier = cache.NewRedisTier(redisClient, cfg.Cache.KeyPrefix)
		logger.Info("Redis connection established", "addr", cfg.RedisAddr())
	}

	tieredCache := cache.NewTieredCache(sharedTier, &cache.Config{
		FastTierSize:   cfg.Cache.FastTierSize,
		EvictionPolicy: cache.EvictionPolicy(cfg.Cache.EvictionPolicy),
		BaseTTL:        cfg.Cache.BaseTTL,
		SharedTTL:      cfg.Cache.SharedTTL,
		JitterFraction: cfg.Cache.JitterFraction,
	}, logger, m)

	events := fallback.NewEventBus(cfg.Engine.EventBufferSize, logger, m)

	orch, err := fallback.NewOrchestrator(
		buildStages(cfg),
		fallback.Config{
			DefaultStageTimeout: cfg.Engine.DefaultStageTimeout,
			Breaker: fallback.BreakerConfig{
				FailureThreshold: cfg.Breaker.FailureThreshold,
				ResetTimeout:     cfg.Breaker.ResetTimeout,
			},
			Collector: &fallback.CollectorConfig{
				SampleSize: cfg.Engine.MetricsSampleSize,
				SampleRate: cfg.Engine.MetricsSampleRate,
			},
		},
		tieredCache,
		events,
		tracer,
		logger,
		m,
	)
	if err != nil {
		log.Fatalf("Failed to build orchestrator: %v", err)
	}

	busCtx, busCancel := context.WithCancel(context.Background())
	defer busCancel()
	go events.Run(busCtx)

	router := api.NewRouter(cfg, orch, logger, m, tracer)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting gateway", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down gateway")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	events.Close()
	if err := tracer.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("Tracer shutdown failed")
	}

	logger.Info("Gateway exited")
}

// buildStages assembles the fallback chain: primary API, secondary API, local
// inference placeholder, then the static catalog. Backend endpoints come from
// the environment so deployments can point at their own upstreams.
func buildStages(cfg *config.Config) []fallback.StageDescriptor {
	primaryURL := getenvDefault("BACKEND_PRIMARY_URL", "http://localhost:9001")
	secondaryURL := getenvDefault("BACKEND_SECONDARY_URL", "http://localhost:9002")

	catalog := backends.NewStaticCatalog(map[string]interface{}{
		"assistant.answer": map[string]string{
			"answer": "The assistant is temporarily unavailable. Please try again shortly.",
		},
	})
	catalog.SetCatchAll(map[string]string{"status": "unavailable"})

	localInference := fallback.NewLocalFallbackStage(func(ctx context.Context, req *fallback.Request) (interface{}, error) {
		// Placeholder until an embedded model ships; defers to the static tier
		return nil, fmt.Errorf("local inference not configured")
	})

	return []fallback.StageDescriptor{
		{
			ID:       "primary-api",
			Priority: 10,
			Stage:    fallback.NewRemoteBackendStage(backends.NewHTTPBackend("primary-api", primaryURL)),
			Timeout:  cfg.Engine.DefaultStageTimeout,
			Retry: &fallback.RetryPolicy{
				MaxAttempts:       2,
				InitialDelay:      100 * time.Millisecond,
				BackoffMultiplier: 2.0,
			},
		},
		{
			ID:       "secondary-api",
			Priority: 20,
			Stage:    fallback.NewRemoteBackendStage(backends.NewHTTPBackend("secondary-api", secondaryURL)),
			Timeout:  cfg.Engine.DefaultStageTimeout,
		},
		{
			ID:       "local-inference",
			Priority: 30,
			Stage:    localInference,
			Timeout:  2 * time.Second,
		},
		{
			ID:       "static-default",
			Priority: 40,
			Stage:    fallback.NewStaticDefaultStage(catalog),
			Timeout:  time.Second,
		},
	}
}

func getenvDefault(key, fallbackValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallbackValue
}
