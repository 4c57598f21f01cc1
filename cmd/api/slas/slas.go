package slas

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	apppkg "github.com/mark3748/servicedesk/cmd/api/app"
	"github.com/mark3748/servicedesk/internal/sla"
	"github.com/mark3748/servicedesk/internal/ticket"
)

type ruleReq struct {
	Priority                   string  `json:"priority" binding:"required,oneof=P1 P2 P3 P4"`
	Category                   *string `json:"category" binding:"omitempty,max=100"`
	ResponseTimeHours          int     `json:"response_time_hours" binding:"required,min=1"`
	ResolutionTimeHours        int     `json:"resolution_time_hours" binding:"required,min=1"`
	EscalationThresholdPercent int     `json:"escalation_threshold_percent" binding:"omitempty,min=1,max=100"`
	IsActive                   *bool   `json:"is_active"`
}

// List returns every SLA rule, active or not.
func List(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		rules, err := a.Desk.Rules().ListRules(c.Request.Context())
		if err != nil {
			apppkg.Fail(c, err)
			return
		}
		c.JSON(http.StatusOK, rules)
	}
}

// Upsert creates or replaces the rule for a priority/category pair.
func Upsert(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in ruleReq
		if err := c.ShouldBindJSON(&in); err != nil {
			apppkg.BindError(c, err)
			return
		}
		if in.Category != nil && strings.TrimSpace(*in.Category) == "" {
			in.Category = nil
		}
		r := sla.Rule{
			Priority:                   ticket.Priority(in.Priority),
			Category:                   in.Category,
			ResponseTimeHours:          in.ResponseTimeHours,
			ResolutionTimeHours:        in.ResolutionTimeHours,
			EscalationThresholdPercent: in.EscalationThresholdPercent,
			IsActive:                   in.IsActive == nil || *in.IsActive,
		}
		saved, err := a.Desk.Rules().UpsertRule(c.Request.Context(), r)
		if err != nil {
			apppkg.Fail(c, err)
			return
		}
		c.JSON(http.StatusOK, saved)
	}
}

func Delete(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := a.Desk.Rules().DeleteRule(c.Request.Context(), c.Param("id")); err != nil {
			apppkg.Fail(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type deadlineResp struct {
	Rule          sla.Target `json:"rule"`
	Location      string     `json:"location"`
	Timezone      string     `json:"timezone"`
	ResponseDue   time.Time  `json:"response_due"`
	ResolutionDue time.Time  `json:"resolution_due"`
}

// Deadlines previews the due dates of a ticket created with the given
// priority, category and location. created defaults to now.
func Deadlines(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		q := sla.Query{
			Priority: ticket.Priority(strings.ToUpper(c.Query("priority"))),
			Location: strings.ToUpper(strings.TrimSpace(c.Query("location"))),
		}
		if cat := strings.TrimSpace(c.Query("category")); cat != "" {
			q.Category = &cat
		}
		var at time.Time
		if v := c.Query("created"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				apppkg.AbortError(c, http.StatusBadRequest, "validation", "created must be RFC3339", map[string]string{"created": "rfc3339"})
				return
			}
			at = t
		}
		target, d, err := a.Desk.Preview(c.Request.Context(), q, at)
		if err != nil {
			apppkg.Fail(c, err)
			return
		}
		loc := sla.TimezoneFor(q.Location)
		c.JSON(http.StatusOK, deadlineResp{
			Rule:          target,
			Location:      q.Location,
			Timezone:      loc.String(),
			ResponseDue:   d.ResponseDue.In(loc),
			ResolutionDue: d.ResolutionDue.In(loc),
		})
	}
}
