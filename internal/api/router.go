package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/shopsense/shopsense/internal/fallback"
	"github.com/shopsense/shopsense/pkg/config"
	"github.com/shopsense/shopsense/pkg/logging"
	"github.com/shopsense/shopsense/pkg/metrics"
	"github.com/shopsense/shopsense/pkg/tracing"
)

// NewRouter creates and configures the API router
func NewRouter(
	cfg *config.Config,
	orch *fallback.Orchestrator,
	logger *logging.Logger,
	m *metrics.Metrics,
	tracer *tracing.TracingService,
) *gin.Engine {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(RequestIDMiddleware())
	router.Use(LoggingMiddleware(logger))
	router.Use(ErrorHandlingMiddleware())
	router.Use(SecurityHeadersMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	if m != nil {
		router.Use(m.PrometheusMiddleware())
	}
	if tracer != nil {
		router.Use(tracer.TracingMiddleware())
	}

	executeHandler := NewExecuteHandler(orch)
	healthHandler := NewHealthHandler(orch, "1.0.0")
	adminHandler := NewAdminHandler(orch)

	if m != nil {
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	v1 := router.Group("/api/v1")
	{
		v1.POST("/execute", executeHandler.Execute)
		v1.GET("/health", healthHandler.GetHealth)
		v1.GET("/metrics", executeHandler.GetMetrics)

		admin := v1.Group("/admin")
		{
			admin.POST("/breakers/:stage/reset", adminHandler.ResetBreaker)
			admin.POST("/cache/clear", adminHandler.ClearCache)
			admin.POST("/cache/keys/:key/invalidate", adminHandler.InvalidateKey)
			admin.POST("/cache/tags/:tag/invalidate", adminHandler.InvalidateTag)
		}
	}

	return router
}
