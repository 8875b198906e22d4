package routes

import (
	"net/http"
	"time"

	"guardian/internal/config"
	"guardian/internal/handlers"
	"guardian/internal/middleware"
	"guardian/internal/utils"
	"guardian/pkg/logger"
	"guardian/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers bundles every HTTP handler the API exposes.
type Handlers struct {
	Tracking      *handlers.TrackingHandler
	Position      *handlers.PositionHandler
	Alert         *handlers.AlertHandler
	Capture       *handlers.CaptureHandler
	Notification  *handlers.NotificationHandler
	Profile       *handlers.ProfileHandler
	WebSocket     gin.HandlerFunc
	HealthChecker func() map[string]string
}

// NewRouter builds the gin engine with the global middleware chain and all
// API groups.
func NewRouter(cfg *config.Config, h *Handlers, log *logger.Logger, m *metrics.Metrics, gatherer prometheus.Gatherer) *gin.Engine {
	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	if len(cfg.Security.TrustedProxies) > 0 {
		_ = router.SetTrustedProxies(cfg.Security.TrustedProxies)
	}

	router.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware(),
		middleware.LoggingMiddleware(log),
		middleware.MetricsMiddleware(m),
		middleware.CORSMiddleware(cfg.Security.CORSAllowedOrigins),
	)

	router.GET("/health", func(c *gin.Context) {
		status := http.StatusOK
		checks := map[string]string{}
		if h.HealthChecker != nil {
			checks = h.HealthChecker()
			for _, v := range checks {
				if v != "ok" {
					status = http.StatusServiceUnavailable
				}
			}
		}
		c.JSON(status, gin.H{
			"status":    http.StatusText(status),
			"service":   cfg.App.Name,
			"version":   cfg.App.Version,
			"checks":    checks,
			"timestamp": time.Now().UTC(),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	if h.WebSocket != nil {
		router.GET("/ws", h.WebSocket)
	}

	limiter := middleware.NewRateLimiter(cfg.Security.RateLimitPerMinute, cfg.Security.RateLimitBurst)
	api := router.Group("/api/v1")
	api.Use(middleware.AuthRequired(cfg.Security.JWTSecret), limiter.Middleware())

	SetupTrackingRoutes(api, h.Tracking, h.Position)
	SetupAlertRoutes(api, h.Alert, h.Capture)
	SetupNotificationRoutes(api, h.Notification)
	SetupProfileRoutes(api, h.Profile)

	router.NoRoute(func(c *gin.Context) {
		utils.NotFoundResponse(c, "route")
	})

	return router
}
