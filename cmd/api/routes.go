package main

import (
	"database/sql"
	"net/http"
	"time"

	"matchcall/internal/auth"
	"matchcall/internal/httpapi"
	"matchcall/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type registerDeps struct {
	handlers httpapi.Handlers
	authMW   gin.HandlerFunc
	db       *sql.DB
	rdb      *redis.Client
	registry *prometheus.Registry
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps registerDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), deps.db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "postgres": err.Error()})
			return
		}
		if err := deps.rdb.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.registry, promhttp.HandlerOpts{})))

	// Provider webhooks (public).
	// NOTE: Production deployments should restrict this route to the
	// provider's source IP ranges at the load balancer.
	r.POST("/webhooks/voice/status", deps.handlers.VoiceStatusWebhook)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(deps.authMW)
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(http.StatusOK, gin.H{"user_id": uid, "role": role})
		})

		callGroup := v1.Group("/calls")
		{
			callGroup.POST("", deps.handlers.InitiateCall)
			callGroup.GET("/:id", deps.handlers.GetCall)
		}

		v1.GET("/credits", deps.handlers.GetCredits)

		admin := v1.Group("/admin")
		admin.Use(auth.RequireAdmin())
		{
			admin.POST("/credits/grant", deps.handlers.AdminGrantCredits)
			admin.POST("/credits/adjust", deps.handlers.AdminAdjustCredits)
		}
	}
}
