package ticket

import (
	"fmt"
	"strings"
	"time"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// SeverityFor derives the auto-escalation severity from priority.
func SeverityFor(p Priority) Severity {
	switch p {
	case P1:
		return SeverityCritical
	case P2:
		return SeverityHigh
	case P3:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// SLAReasonPrefix marks system escalations; at most one per ticket.
const SLAReasonPrefix = "SLA threshold"

// SLAThresholdReason is the reason recorded on SLA auto-escalations.
func SLAThresholdReason(threshold int) string {
	return fmt.Sprintf("%s %d%% reached", SLAReasonPrefix, threshold)
}

// Escalation flags a ticket for managerial attention. EscalatedBy is nil for
// system generated escalations.
type Escalation struct {
	ID          string    `json:"id"`
	TicketID    string    `json:"ticket_id"`
	Reason      string    `json:"reason"`
	Severity    Severity  `json:"severity"`
	EscalatedBy *string   `json:"escalated_by,omitempty"`
	EscalatedAt time.Time `json:"escalated_at"`
}

// IsSLAAuto reports whether e counts toward SLA auto-escalation idempotency.
func (e Escalation) IsSLAAuto() bool { return strings.HasPrefix(e.Reason, SLAReasonPrefix) }
