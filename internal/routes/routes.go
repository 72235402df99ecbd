package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rebalancer/internal/handlers"
	"rebalancer/internal/middleware"
)

// Handlers groups everything the router serves.
type Handlers struct {
	Bots       *handlers.BotHandler
	KillSwitch *handlers.KillSwitchHandler
	Trades     *handlers.TradeHandler
	Health     *handlers.HealthHandler
}

// Options configures the router's middleware.
type Options struct {
	AllowedOrigins []string
	RateLimit      middleware.RateLimiterConfig
}

// SetupRouter initializes and returns the Gin router with all routes configured
func SetupRouter(h Handlers, opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.GET("/health", h.Health.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(middleware.CORS(opts.AllowedOrigins))
	if opts.RateLimit.RequestsPerSecond > 0 {
		r.Use(middleware.RateLimiterMiddleware(opts.RateLimit))
	}

	SetupBotRoutes(r, h.Bots)
	SetupKillSwitchRoutes(r, h.KillSwitch)
	SetupTradeRoutes(r, h.Trades)

	return r
}
