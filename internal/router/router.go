package router

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"registrar/internal/config"
	"registrar/internal/handler"
	"registrar/internal/middleware"
)

// Setup configures the Gin engine with all routes and middleware.
func Setup(
	cfg *config.Config,
	logger *slog.Logger,
	extractionH *handler.ExtractionHandler,
	registryH *handler.RegistryHandler,
	healthH *handler.HealthHandler,
) *gin.Engine {
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS(cfg.CORS.AllowedOrigins))

	// Health checks
	r.GET("/healthz", healthH.Liveness)
	r.GET("/readyz", healthH.Readiness)

	v1 := r.Group("/api/v1")

	extractions := v1.Group("/extractions")
	extractions.POST("", extractionH.Create)
	extractions.GET("", extractionH.List)
	extractions.GET("/:id", extractionH.GetByID)

	v1.GET("/registry", registryH.List)
	v1.GET("/signatures/:id", registryH.GetSignature)

	return r
}
