package handler

import (
	"callguard/internal/metrics"
	"callguard/internal/middleware"
	"callguard/internal/realtime"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouterConfig selects the optional parts of the HTTP surface
type RouterConfig struct {
	AllowOrigin string
	// nil disables bearer auth on /api
	AuthSecret []byte
	// nil disables /api/alerts/ws
	Hub *realtime.Hub
	// nil disables /metrics
	Metrics *metrics.Metrics
}

// NewRouter builds the gin engine serving the API
func NewRouter(h *Handler, cfg RouterConfig, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(logger), middleware.CORS(cfg.AllowOrigin))

	router.GET("/health", h.HealthCheck)
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	api := router.Group("/api")
	if cfg.AuthSecret != nil {
		api.Use(middleware.AuthMiddleware(cfg.AuthSecret, logger))
	}
	h.RegisterRoutes(api)

	if cfg.Hub != nil {
		api.GET("/alerts/ws", cfg.Hub.ServeWS)
	}

	return router
}
