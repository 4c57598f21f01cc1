package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/mark3748/servicedesk/internal/ticket"
)

// Identity headers set by the gateway in front of the api.
const (
	ActorIDHeader   = "X-Actor-ID"
	ActorRoleHeader = "X-Actor-Role"
)

// RequestID assigns a UUID to each request and stores it in the context and response headers.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.New().String()
		c.Set("request_id", id)
		c.Writer.Header().Set("X-Request-ID", id)
		logger := log.With().Str("request_id", id).Logger()
		ctx := logger.WithContext(c.Request.Context())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RateLimit applies a token bucket limiter to incoming requests.
func RateLimit(l *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

// Logger emits a structured log entry for each request.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		dur := time.Since(start)
		logger := log.Ctx(c.Request.Context()).Info()
		logger.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", dur).
			Msg("request")
	}
}

// Actor reads the caller identity from the gateway headers.
func Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		a := ticket.Actor{
			ID:   strings.TrimSpace(c.GetHeader(ActorIDHeader)),
			Role: strings.ToLower(strings.TrimSpace(c.GetHeader(ActorRoleHeader))),
		}
		c.Set("actor", a)
		if a.ID != "" {
			logger := log.Ctx(c.Request.Context()).With().Str("actor", a.ID).Logger()
			c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context()))
		}
		c.Next()
	}
}

// ActorFrom returns the actor stored by the Actor middleware.
func ActorFrom(c *gin.Context) ticket.Actor {
	if v, ok := c.Get("actor"); ok {
		if a, ok := v.(ticket.Actor); ok {
			return a
		}
	}
	return ticket.SystemActor
}

// RequireActor rejects anonymous requests.
func RequireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if ActorFrom(c).IsSystem() {
			AbortError(c, http.StatusUnauthorized, "unauthenticated", "missing "+ActorIDHeader, nil)
			return
		}
		c.Next()
	}
}

// RequireRole allows only actors holding one of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		a := ActorFrom(c)
		for _, r := range roles {
			if a.Role == r {
				c.Next()
				return
			}
		}
		AbortError(c, http.StatusForbidden, "forbidden", "insufficient role", nil)
	}
}
