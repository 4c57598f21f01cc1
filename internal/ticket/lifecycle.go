package ticket

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrValidation        = errors.New("invalid transition request")
)

var transitions = map[Status][]Status{
	New:        {InProgress, Pending, Resolved, Closed},
	InProgress: {Pending, Resolved, Closed},
	Pending:    {InProgress, Resolved, Closed},
	Resolved:   {Closed, Reopened},
	Closed:     {Reopened},
	Reopened:   {InProgress, Pending, Resolved, Closed},
}

// Targets returns the legal next states from s.
func Targets(s Status) []Status {
	return append([]Status(nil), transitions[s]...)
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionRequest describes a requested status change.
type TransitionRequest struct {
	To         Status
	Actor      Actor
	Reason     string
	Resolution string
	Tags       []string
	// Unconfirmed closes without recording user acceptance of the resolution.
	Unconfirmed bool
}

// Change is the outcome of a transition: the diff to persist plus the history
// entry to append.
type Change struct {
	From    Status
	To      Status
	Patch   Patch
	History StatusHistory
}

// Transition validates req against t and computes the resulting diff. t is
// never modified.
func Transition(t Ticket, req TransitionRequest, now time.Time) (Change, error) {
	if !req.To.Valid() {
		return Change{}, fmt.Errorf("%w: unknown status %q", ErrValidation, req.To)
	}
	if !CanTransition(t.Status, req.To) {
		return Change{}, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, t.Status, req.To)
	}
	if req.To == Resolved && strings.TrimSpace(req.Resolution) == "" && strings.TrimSpace(t.Resolution) == "" {
		return Change{}, fmt.Errorf("%w: resolution is required", ErrValidation)
	}

	p := Patch{Status: Some(req.To), UpdatedAt: Some(now)}
	switch req.To {
	case Resolved:
		p = p.Merge(enterResolved(t, req, now))
	case Closed:
		p = p.Merge(enterClosed(t, req, now))
	case Reopened:
		p = p.Merge(enterReopened(t, now))
	}
	p = p.Merge(RecordStaffAction(t, req.Actor, now))
	if len(req.Tags) > 0 {
		p.Tags = Some(mergeTags(t.Tags, req.Tags))
	}

	h := StatusHistory{
		TicketID:  t.ID,
		OldStatus: t.Status,
		NewStatus: req.To,
		Reason:    req.Reason,
		ChangedAt: now,
	}
	if !req.Actor.IsSystem() {
		id := req.Actor.ID
		h.ChangedBy = &id
	}
	return Change{From: t.Status, To: req.To, Patch: p, History: h}, nil
}

func enterResolved(t Ticket, req TransitionRequest, now time.Time) Patch {
	p := Patch{
		ResolvedAt:                      Some(&now),
		IsArchived:                      Some(true),
		ArchivedAt:                      Some(&now),
		ResolutionPendingConfirmationAt: Some(&now),
		UserConfirmedResolution:         Some(false),
		UserConfirmedAt:                 Some[*time.Time](nil),
	}
	if r := strings.TrimSpace(req.Resolution); r != "" {
		p.Resolution = Some(r)
	}
	return p.Merge(pause(t, now)).Merge(BreachPatch(t, now))
}

func enterClosed(t Ticket, req TransitionRequest, now time.Time) Patch {
	p := Patch{
		ClosedAt:   Some(&now),
		IsArchived: Some(true),
		ArchivedAt: Some(&now),
	}
	switch {
	case req.Unconfirmed:
		p.UserConfirmedResolution = Some(false)
	case !t.UserConfirmedResolution:
		p.UserConfirmedResolution = Some(true)
		p.UserConfirmedAt = Some(&now)
	}
	return p.Merge(pause(t, now)).Merge(BreachPatch(t, now))
}

func enterReopened(t Ticket, now time.Time) Patch {
	p := Patch{
		ReopenedCount:                   Some(t.ReopenedCount + 1),
		IsArchived:                      Some(false),
		ArchivedAt:                      Some[*time.Time](nil),
		ClosedAt:                        Some[*time.Time](nil),
		UserConfirmedResolution:         Some(false),
		UserConfirmedAt:                 Some[*time.Time](nil),
		ResolutionPendingConfirmationAt: Some[*time.Time](nil),
	}
	return p.Merge(resume(t, now))
}

// pause freezes the countdown. Already paused tickets keep their original
// pause instant.
func pause(t Ticket, now time.Time) Patch {
	if t.SLADueDate == nil || t.SLAPausedAt != nil {
		return Patch{}
	}
	return Patch{SLAPausedAt: Some(&now)}
}

// resume shifts both due dates forward by exactly the paused wall-clock
// duration. The shifted due dates are authoritative; the paused-minutes
// counter is kept for reporting only.
func resume(t Ticket, now time.Time) Patch {
	if t.SLAPausedAt == nil {
		return Patch{}
	}
	d := now.Sub(*t.SLAPausedAt)
	if d < 0 {
		d = 0
	}
	p := Patch{
		SLAPausedAt:              Some[*time.Time](nil),
		SLAPausedDurationMinutes: Some(t.SLAPausedDurationMinutes + int(math.Round(d.Minutes()))),
	}
	if t.SLADueDate != nil {
		due := t.SLADueDate.Add(d)
		p.SLADueDate = Some(&due)
	}
	if t.SLAResponseDue != nil {
		due := t.SLAResponseDue.Add(d)
		p.SLAResponseDue = Some(&due)
	}
	return p
}

// BreachPatch records breaches for due dates already in the past. Breach flags
// are never cleared.
func BreachPatch(t Ticket, now time.Time) Patch {
	var p Patch
	if t.SLAResponseDue != nil && now.After(*t.SLAResponseDue) && !t.SLAResponseBreached {
		p.SLAResponseBreached = Some(true)
	}
	if t.SLADueDate != nil && now.After(*t.SLADueDate) && !t.SLABreached {
		p.SLABreached = Some(true)
	}
	return p
}

// RecordStaffAction stamps first_response_at the first time staff act on t.
func RecordStaffAction(t Ticket, actor Actor, now time.Time) Patch {
	if !actor.IsStaff() || t.FirstResponseAt != nil {
		return Patch{}
	}
	return Patch{FirstResponseAt: Some(&now)}
}

func mergeTags(have, add []string) []string {
	out := append([]string(nil), have...)
	for _, tag := range add {
		dup := false
		for _, v := range out {
			if v == tag {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, tag)
		}
	}
	return out
}
