package main

import (
	"github.com/gin-gonic/gin"

	apppkg "github.com/mark3748/servicedesk/cmd/api/app"
	"github.com/mark3748/servicedesk/cmd/api/handlers"
	"github.com/mark3748/servicedesk/cmd/api/metrics"
	"github.com/mark3748/servicedesk/cmd/api/slas"
	"github.com/mark3748/servicedesk/cmd/api/tickets"
	"github.com/mark3748/servicedesk/internal/ratelimit"
)

var staff = []string{"agent", "manager", "admin"}

// registerRoutes mounts the SLA api. writes limits mutating calls per actor;
// nil disables it.
func registerRoutes(a *apppkg.App, writes *ratelimit.Limiter) {
	a.R.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })
	a.R.GET("/metrics", metrics.Handler())

	limit := func(c *gin.Context) { c.Next() }
	if writes != nil {
		limit = writes.Middleware(ratelimit.ByActor)
	}

	api := a.R.Group("/")
	api.Use(apppkg.RequireActor())
	api.GET("/features", handlers.Features(a))
	api.GET("/events", handlers.Events(a.Q))

	api.POST("/tickets", limit, tickets.Create(a))
	api.GET("/tickets/:id", tickets.Get(a))
	api.POST("/tickets/:id/transition", limit, tickets.Transition(a))
	api.POST("/tickets/:id/confirm", limit, tickets.Confirm(a))
	api.POST("/tickets/:id/acknowledge", apppkg.RequireRole(staff...), tickets.Acknowledge(a))
	api.GET("/tickets/:id/escalations", tickets.Escalations(a))
	api.POST("/tickets/:id/escalations", apppkg.RequireRole(staff...), limit, tickets.Escalate(a))
	api.GET("/tickets/:id/history", tickets.History(a))

	api.GET("/sla/rules", slas.List(a))
	api.PUT("/sla/rules", apppkg.RequireRole("manager", "admin"), slas.Upsert(a))
	api.DELETE("/sla/rules/:id", apppkg.RequireRole("admin"), slas.Delete(a))
	api.GET("/sla/deadlines", slas.Deadlines(a))
}
