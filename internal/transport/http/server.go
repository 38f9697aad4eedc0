package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiregate/internal/conference"
	"github.com/vovakirdan/wiregate/internal/config"
	"github.com/vovakirdan/wiregate/internal/core"
	"github.com/vovakirdan/wiregate/internal/identity"
	"github.com/vovakirdan/wiregate/internal/ratelimit"
)

// Deps are the components the HTTP layer serves.
type Deps struct {
	Hub      *core.Hub
	Resolver *identity.Resolver
	// Limiter throttles join and msg; nil disables throttling.
	Limiter *ratelimit.Limiter
	// Conferences is nil when the FreeSWITCH bridge is disabled.
	Conferences *conference.Registry
}

// NewServer builds the gateway HTTP server.
func NewServer(deps Deps, cfg config.Config, logger *zerolog.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", healthHandler)

	chat := NewChatHandler(deps.Hub, deps.Limiter, logger)
	router.GET("/chat", IdentityMiddleware(deps.Resolver, true), chat.Handle)

	introspection := NewIntrospectionHandlers(deps.Hub, deps.Conferences, logger)
	api := router.Group("/api")
	{
		api.GET("/rooms", introspection.Rooms)
		api.GET("/conferences", introspection.Conferences)
	}

	if deps.Conferences != nil {
		conf := NewConfHandler(deps.Conferences, logger)
		router.GET("/conf", IdentityMiddleware(deps.Resolver, false), conf.Handle)
	}

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}
