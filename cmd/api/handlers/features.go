package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apppkg "github.com/mark3748/servicedesk/cmd/api/app"
	"github.com/mark3748/servicedesk/internal/sla"
	"github.com/mark3748/servicedesk/internal/ticket"
)

// Features reports capability flags and the SLA settings the UI renders.
func Features(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"events":                       a.Q != nil,
			"store":                        a.Cfg.Store,
			"business_hours":               gin.H{"start": sla.BusinessStartHour, "end": sla.BusinessEndHour},
			"escalation_threshold_percent": a.Cfg.SLA.EscalationThresholdPercent,
			"auto_close_business_days":     a.Cfg.SLA.AutoCloseBusinessDays,
			"auto_close_confirmation_days": a.Cfg.SLA.AutoCloseConfirmationDays,
			"statuses":                     ticket.Statuses,
		})
	}
}
