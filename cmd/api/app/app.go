package app

import (
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/mark3748/servicedesk/internal/config"
	"github.com/mark3748/servicedesk/internal/desk"
)

// App wires dependencies and the Gin router.
type App struct {
	Cfg  config.Config
	Desk *desk.Service
	Q    *redis.Client
	R    *gin.Engine
}

// NewApp constructs an App with injected dependencies. q may be nil when
// Redis is not configured.
func NewApp(cfg config.Config, d *desk.Service, q *redis.Client) *App {
	a := &App{Cfg: cfg, Desk: d, Q: q, R: gin.New()}
	a.R.Use(gin.Recovery())
	a.R.Use(RequestID())
	if cfg.RateLimitRPS > 0 && cfg.RateLimitBurst > 0 {
		rl := rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
		a.R.Use(RateLimit(rl))
	}
	a.R.Use(Logger())
	a.R.Use(Errors())
	a.R.Use(Actor())
	return a
}
