package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiregate/internal/identity"
)

// ContextKeyIdentity is the gin context key holding the resolved identity.
const ContextKeyIdentity = "identity"

// monitorName is the identity of monitor connections without a session.
const monitorName = "monitor"

// IdentityMiddleware resolves the connection identity before the upgrade.
// With guests set, unauthenticated requests consume an anonymous name;
// otherwise they get a shared non-staff monitor identity.
func IdentityMiddleware(resolver *identity.Resolver, guests bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		hs := identity.HandshakeFromRequest(c.Request)
		hs.RemoteAddr = c.ClientIP()

		var ident identity.Identity
		if guests {
			ident = resolver.Resolve(c.Request.Context(), hs)
		} else if id, ok := resolver.Lookup(c.Request.Context(), hs); ok {
			ident = id
		} else {
			ident = identity.Identity{Name: monitorName}
		}
		c.Set(ContextKeyIdentity, ident)
		c.Next()
	}
}

func identityFrom(c *gin.Context) identity.Identity {
	v, ok := c.Get(ContextKeyIdentity)
	if !ok {
		return identity.Identity{}
	}
	id, _ := v.(identity.Identity)
	return id
}

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("remote", c.ClientIP()).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	}
}
