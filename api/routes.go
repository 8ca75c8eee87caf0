package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"exchangesync/api/handlers"
	"exchangesync/api/middleware"
	"exchangesync/internal/repository"
	"exchangesync/internal/tracing"
	"exchangesync/services"
)

// RegisterRoutes sets up all API endpoints
func RegisterRoutes(ctx context.Context, r *gin.Engine, s *services.Services, repos *repository.Repositories, apikey string) {
	if s == nil {
		panic("Services cannot be nil")
	}
	if repos == nil {
		panic("Repositories cannot be nil")
	}

	// Add recovery middlewares
	r.Use(gin.Recovery())
	r.Use(tracing.RecoveryWithJaeger(opentracing.GlobalTracer()))

	// Health check and status endpoints
	r.GET("/health", handlers.HealthCheck)
	r.GET("/status", tracing.TracingEnhancer(ctx, "GET /status"), handlers.Status(repos.AccountRepository))

	apiKeyMiddleware := middleware.APIKeyMiddleware(middleware.APIKeyConfig{
		HeaderName:  "X-EXCHANGESYNC-API-KEY",
		ValidAPIKey: apikey,
	})

	// API group with version
	api := r.Group("/v1")
	api.Use(apiKeyMiddleware)
	{
		accounts := api.Group("/accounts")
		{
			accounts.GET("", tracing.TracingEnhancer(ctx, "GET /v1/accounts"), handlers.ListAccounts(repos.AccountRepository))
			accounts.POST("", tracing.TracingEnhancer(ctx, "POST /v1/accounts"), handlers.AddAccount(repos.AccountRepository))
			accounts.POST("/:id/sync", tracing.TracingEnhancer(ctx, "POST /v1/accounts/:id/sync"), handlers.SyncAccount(s, repos.AccountRepository))
		}
	}
}
