package handler

import (
	"github.com/GoPolymarket/relaygate/internal/config"
	"github.com/GoPolymarket/relaygate/internal/domain"
	"github.com/GoPolymarket/relaygate/internal/middleware"
	"github.com/GoPolymarket/relaygate/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the read-only ops API.
func NewRouter(cfg *config.Config, store repository.OrderStore, registry *domain.Registry, events Subscriber) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.MetricsMiddleware())
	r.Use(middleware.ReadOnlyMiddleware())

	health := NewHealthHandler(registry)
	r.GET("/health", health.Health)

	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	orders := NewOrderHandler(store, events)
	v1 := r.Group("/v1")
	v1.Use(middleware.RateLimitMiddleware(cfg.Server.RateLimitQPS, cfg.Server.RateLimitBurst))
	{
		v1.GET("/domains", health.Domains)
		v1.GET("/orders", orders.List)
		v1.GET("/orders/stream", orders.Stream)
		v1.GET("/orders/:id", orders.Get)
	}
	return r
}
