package ticket

import (
	"strings"
	"time"
)

// Status is a lifecycle state.
type Status string

const (
	New        Status = "New"
	InProgress Status = "InProgress"
	Pending    Status = "Pending"
	Resolved   Status = "Resolved"
	Closed     Status = "Closed"
	Reopened   Status = "Reopened"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{New, InProgress, Pending, Resolved, Closed, Reopened}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Paused reports whether the SLA countdown is frozen in this status.
func (s Status) Paused() bool { return s == Resolved || s == Closed }

// ParseStatuses splits a comma separated list, dropping unknown entries.
func ParseStatuses(csv string) []Status {
	out := []Status{}
	for _, part := range strings.Split(csv, ",") {
		s := Status(strings.TrimSpace(part))
		if s.Valid() {
			out = append(out, s)
		}
	}
	return out
}

// Priority is the SLA urgency class.
type Priority string

const (
	P1 Priority = "P1"
	P2 Priority = "P2"
	P3 Priority = "P3"
	P4 Priority = "P4"
)

func (p Priority) Valid() bool {
	switch p {
	case P1, P2, P3, P4:
		return true
	}
	return false
}

// Tags applied by the auto-close scheduler and honoured by it.
const (
	TagAutoClosed               = "auto-closed"
	TagAutoClosedNoConfirmation = "auto-closed-no-confirmation"
	TagNoAutoClose              = "no-auto-close"
)

// Ticket is an immutable snapshot of the fields the SLA engine cares about.
// Mutations are expressed as a Patch and applied with Patch.Apply.
type Ticket struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Priority Priority `json:"priority"`
	Category *string  `json:"category,omitempty"`
	Location string   `json:"location"`
	Status   Status   `json:"status"`
	Tags     []string `json:"tags"`

	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	FirstResponseAt *time.Time `json:"first_response_at,omitempty"`

	SLAResponseDue                  *time.Time `json:"sla_response_due,omitempty"`
	SLADueDate                      *time.Time `json:"sla_due_date,omitempty"`
	SLAResponseBreached             bool       `json:"sla_response_breached"`
	SLABreached                     bool       `json:"sla_breached"`
	SLAPausedAt                     *time.Time `json:"sla_paused_at,omitempty"`
	SLAPausedDurationMinutes        int        `json:"sla_paused_duration_minutes"`
	Resolution                      string     `json:"resolution,omitempty"`
	ResolvedAt                      *time.Time `json:"resolved_at,omitempty"`
	ClosedAt                        *time.Time `json:"closed_at,omitempty"`
	ResolutionPendingConfirmationAt *time.Time `json:"resolution_pending_confirmation_at,omitempty"`
	UserConfirmedResolution         bool       `json:"user_confirmed_resolution"`
	UserConfirmedAt                 *time.Time `json:"user_confirmed_at,omitempty"`
	ReopenedCount                   int        `json:"reopened_count"`
	IsArchived                      bool       `json:"is_archived"`
	ArchivedAt                      *time.Time `json:"archived_at,omitempty"`
}

// HasTag reports whether tag is attached to the ticket.
func (t Ticket) HasTag(tag string) bool {
	for _, v := range t.Tags {
		if v == tag {
			return true
		}
	}
	return false
}

// Actor identifies who performs an action. An empty ID means the system.
type Actor struct {
	ID   string `json:"id,omitempty"`
	Role string `json:"role,omitempty"`
}

// SystemActor is used by the background schedulers.
var SystemActor = Actor{Role: "system"}

// IsSystem reports whether the action is system generated.
func (a Actor) IsSystem() bool { return a.ID == "" }

// IsStaff reports whether the actor's role counts toward first response.
func (a Actor) IsStaff() bool {
	switch a.Role {
	case "agent", "manager", "admin":
		return true
	}
	return false
}

// StatusHistory is an append-only record of one transition.
type StatusHistory struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticket_id"`
	OldStatus Status    `json:"old_status"`
	NewStatus Status    `json:"new_status"`
	ChangedBy *string   `json:"changed_by,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}
