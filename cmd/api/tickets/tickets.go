package tickets

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	app "github.com/mark3748/servicedesk/cmd/api/app"
	"github.com/mark3748/servicedesk/cmd/api/handlers"
	"github.com/mark3748/servicedesk/cmd/api/metrics"
	"github.com/mark3748/servicedesk/internal/desk"
	"github.com/mark3748/servicedesk/internal/notify"
	"github.com/mark3748/servicedesk/internal/ticket"
)

// createTicketReq mirrors the JSON body for creating a ticket.
type createTicketReq struct {
	Title    string   `json:"title" binding:"required,min=3,max=500"`
	Priority string   `json:"priority" binding:"required,oneof=P1 P2 P3 P4"`
	Category *string  `json:"category" binding:"omitempty,max=100"`
	Location string   `json:"location" binding:"max=10"`
	Tags     []string `json:"tags" binding:"omitempty,dive,max=50"`
}

type transitionReq struct {
	Status     string   `json:"status" binding:"required"`
	Reason     string   `json:"reason" binding:"max=2000"`
	Resolution string   `json:"resolution" binding:"max=10000"`
	Tags       []string `json:"tags" binding:"omitempty,dive,max=50"`
}

type confirmReq struct {
	Accepted *bool  `json:"accepted" binding:"required"`
	Reason   string `json:"reason" binding:"max=2000"`
}

type escalateReq struct {
	Reason   string `json:"reason" binding:"required,max=2000"`
	Severity string `json:"severity" binding:"omitempty,oneof=low medium high critical"`
}

func updated(c *gin.Context, a *app.App, t ticket.Ticket) {
	handlers.PublishEvent(c.Request.Context(), a.Q, notify.Event{
		Type: "ticket_updated",
		Data: gin.H{"ticket_id": t.ID, "status": t.Status},
	})
}

// Create opens a ticket with its SLA due dates stamped.
func Create(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in createTicketReq
		if err := c.ShouldBindJSON(&in); err != nil {
			app.BindError(c, err)
			return
		}
		if in.Category != nil && strings.TrimSpace(*in.Category) == "" {
			in.Category = nil
		}
		t, err := a.Desk.CreateTicket(c.Request.Context(), desk.NewTicket{
			Title:    in.Title,
			Priority: ticket.Priority(in.Priority),
			Category: in.Category,
			Location: strings.ToUpper(strings.TrimSpace(in.Location)),
			Tags:     in.Tags,
		}, app.ActorFrom(c))
		if err != nil {
			app.Fail(c, err)
			return
		}
		metrics.TicketsCreatedTotal.Inc()
		updated(c, a, t)
		c.JSON(http.StatusCreated, t)
	}
}

// Get returns the ticket with its live SLA status.
func Get(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, err := a.Desk.SLAStatus(c.Request.Context(), c.Param("id"))
		if err != nil {
			app.Fail(c, err)
			return
		}
		c.JSON(http.StatusOK, v)
	}
}

// Transition moves the ticket to another status.
func Transition(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in transitionReq
		if err := c.ShouldBindJSON(&in); err != nil {
			app.BindError(c, err)
			return
		}
		to := ticket.Status(in.Status)
		t, err := a.Desk.Transition(c.Request.Context(), c.Param("id"), ticket.TransitionRequest{
			To:         to,
			Actor:      app.ActorFrom(c),
			Reason:     in.Reason,
			Resolution: in.Resolution,
			Tags:       in.Tags,
		})
		if err != nil {
			app.Fail(c, err)
			return
		}
		metrics.TicketTransitionsTotal.WithLabelValues(string(to)).Inc()
		updated(c, a, t)
		c.JSON(http.StatusOK, t)
	}
}

// Confirm records the requester accepting or rejecting a resolution.
func Confirm(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in confirmReq
		if err := c.ShouldBindJSON(&in); err != nil {
			app.BindError(c, err)
			return
		}
		t, err := a.Desk.ConfirmResolution(c.Request.Context(), c.Param("id"), app.ActorFrom(c), *in.Accepted, in.Reason)
		if err != nil {
			app.Fail(c, err)
			return
		}
		metrics.TicketTransitionsTotal.WithLabelValues(string(t.Status)).Inc()
		updated(c, a, t)
		c.JSON(http.StatusOK, t)
	}
}

// Acknowledge stamps the first response time.
func Acknowledge(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, err := a.Desk.Acknowledge(c.Request.Context(), c.Param("id"), app.ActorFrom(c))
		if err != nil {
			app.Fail(c, err)
			return
		}
		c.JSON(http.StatusOK, t)
	}
}

func Escalations(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := a.Desk.Escalations(c.Request.Context(), c.Param("id"))
		if err != nil {
			app.Fail(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

// Escalate raises a manual escalation.
func Escalate(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in escalateReq
		if err := c.ShouldBindJSON(&in); err != nil {
			app.BindError(c, err)
			return
		}
		e, err := a.Desk.Escalate(c.Request.Context(), c.Param("id"), app.ActorFrom(c), in.Reason, ticket.Severity(in.Severity))
		if err != nil {
			app.Fail(c, err)
			return
		}
		metrics.ManualEscalationsTotal.Inc()
		c.JSON(http.StatusCreated, e)
	}
}

func History(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		h, err := a.Desk.History(c.Request.Context(), c.Param("id"))
		if err != nil {
			app.Fail(c, err)
			return
		}
		c.JSON(http.StatusOK, h)
	}
}
