package sla

import (
	"time"

	"github.com/mark3748/servicedesk/internal/ticket"
)

// Status is the live SLA view of a ticket. Nil minute fields mean the
// countdown is frozen or cannot be evaluated.
type Status struct {
	ResponseRemainingMinutes   *int     `json:"response_remaining_minutes"`
	ResolutionRemainingMinutes *int     `json:"resolution_remaining_minutes"`
	ResponseBreached           bool     `json:"response_breached"`
	ResolutionBreached         bool     `json:"resolution_breached"`
	Escalated                  bool     `json:"escalated"`
	ElapsedPercent             *float64 `json:"elapsed_percent"`
}

// Evaluate computes the live SLA status of t under target at now.
func Evaluate(t ticket.Ticket, target *Target, now time.Time) Status {
	var st Status
	if t.SLADueDate == nil || target == nil || t.Status.Paused() {
		return st
	}
	if t.SLAResponseDue != nil {
		m := remainingMinutes(*t.SLAResponseDue, now)
		st.ResponseRemainingMinutes = &m
		st.ResponseBreached = now.After(*t.SLAResponseDue)
	}
	m := remainingMinutes(*t.SLADueDate, now)
	st.ResolutionRemainingMinutes = &m
	st.ResolutionBreached = now.After(*t.SLADueDate)

	elapsed := now.Sub(t.CreatedAt).Milliseconds()
	total := t.SLADueDate.Sub(t.CreatedAt).Milliseconds()
	pct := 0.0
	if total > 0 {
		pct = float64(elapsed) / float64(total) * 100
		st.Escalated = elapsed*100 >= int64(target.EscalationThresholdPercent)*total
	}
	st.ElapsedPercent = &pct
	return st
}

// remainingMinutes is ceil((due - now) / 1m); negative once overdue.
func remainingMinutes(due, now time.Time) int {
	ms := due.Sub(now).Milliseconds()
	q := ms / 60000
	if ms%60000 > 0 {
		q++
	}
	return int(q)
}
