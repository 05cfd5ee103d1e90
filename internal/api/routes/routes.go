package routes

import (
	"log/slog"
	"time"

	"room-relay/internal/api/handlers"
	"room-relay/internal/api/middleware"
	"room-relay/internal/config"
	"room-relay/internal/websocket"

	"github.com/gin-gonic/gin"
)

type Router struct {
	engine        *gin.Engine
	wsHandler     *handlers.WSHandler
	healthHandler *handlers.HealthHandler
	rateLimitMW   *middleware.RateLimitMiddleware
	cfg           config.RelayConfig
}

// NewRouter builds the HTTP surface. limiter may be nil when the connection
// rate limit is disabled.
func NewRouter(
	hub *websocket.Hub,
	broker handlers.Pinger,
	limiter middleware.RateLimiter,
	cfg config.RelayConfig,
	logger *slog.Logger,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(cfg.AllowedOrigins))
	engine.Use(middleware.LogApi(logger.With("component", "http")))

	r := &Router{
		engine:        engine,
		wsHandler:     handlers.NewWSHandler(hub, websocket.NewUpgrader(cfg.AllowedOrigins)),
		healthHandler: handlers.NewHealthHandler(hub, broker, logger.With("component", "health")),
		cfg:           cfg,
	}
	if limiter != nil && cfg.ConnectRateLimit > 0 {
		r.rateLimitMW = middleware.NewRateLimitMiddleware(limiter, logger.With("component", "ratelimit"))
	}
	return r
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/healthz", r.healthHandler.Health)
	r.engine.GET("/stats", r.healthHandler.Stats)

	wsChain := []gin.HandlerFunc{}
	if r.rateLimitMW != nil {
		window := r.cfg.ConnectRateWindow
		if window <= 0 {
			window = time.Minute
		}
		wsChain = append(wsChain, r.rateLimitMW.WebSocketRateLimitIP(r.cfg.ConnectRateLimit, window))
	}
	wsChain = append(wsChain, r.wsHandler.HandleWebSocket)

	r.engine.GET("/ws", wsChain...)
	r.engine.GET("/", wsChain...)
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
