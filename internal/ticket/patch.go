package ticket

import "time"

// Opt is a field that is either left alone or set to Val. For pointer types a
// set nil value clears the column.
type Opt[T any] struct {
	Set bool
	Val T
}

// Some returns a set Opt.
func Some[T any](v T) Opt[T] { return Opt[T]{Set: true, Val: v} }

// Patch is the diff a transition produces. Unset fields are untouched.
type Patch struct {
	Status                          Opt[Status]
	Tags                            Opt[[]string]
	UpdatedAt                       Opt[time.Time]
	FirstResponseAt                 Opt[*time.Time]
	SLAResponseDue                  Opt[*time.Time]
	SLADueDate                      Opt[*time.Time]
	SLAResponseBreached             Opt[bool]
	SLABreached                     Opt[bool]
	SLAPausedAt                     Opt[*time.Time]
	SLAPausedDurationMinutes        Opt[int]
	Resolution                      Opt[string]
	ResolvedAt                      Opt[*time.Time]
	ClosedAt                        Opt[*time.Time]
	ResolutionPendingConfirmationAt Opt[*time.Time]
	UserConfirmedResolution         Opt[bool]
	UserConfirmedAt                 Opt[*time.Time]
	ReopenedCount                   Opt[int]
	IsArchived                      Opt[bool]
	ArchivedAt                      Opt[*time.Time]
}

func over[T any](dst *Opt[T], src Opt[T]) {
	if src.Set {
		*dst = src
	}
}

func apply[T any](dst *T, o Opt[T]) {
	if o.Set {
		*dst = o.Val
	}
}

func put[T any](f map[string]any, col string, o Opt[T]) {
	if o.Set {
		f[col] = o.Val
	}
}

// Merge returns p with every field set in q overriding p.
func (p Patch) Merge(q Patch) Patch {
	over(&p.Status, q.Status)
	over(&p.Tags, q.Tags)
	over(&p.UpdatedAt, q.UpdatedAt)
	over(&p.FirstResponseAt, q.FirstResponseAt)
	over(&p.SLAResponseDue, q.SLAResponseDue)
	over(&p.SLADueDate, q.SLADueDate)
	over(&p.SLAResponseBreached, q.SLAResponseBreached)
	over(&p.SLABreached, q.SLABreached)
	over(&p.SLAPausedAt, q.SLAPausedAt)
	over(&p.SLAPausedDurationMinutes, q.SLAPausedDurationMinutes)
	over(&p.Resolution, q.Resolution)
	over(&p.ResolvedAt, q.ResolvedAt)
	over(&p.ClosedAt, q.ClosedAt)
	over(&p.ResolutionPendingConfirmationAt, q.ResolutionPendingConfirmationAt)
	over(&p.UserConfirmedResolution, q.UserConfirmedResolution)
	over(&p.UserConfirmedAt, q.UserConfirmedAt)
	over(&p.ReopenedCount, q.ReopenedCount)
	over(&p.IsArchived, q.IsArchived)
	over(&p.ArchivedAt, q.ArchivedAt)
	return p
}

// Apply returns a copy of t with the patch applied. t is not modified.
func (p Patch) Apply(t Ticket) Ticket {
	t.Tags = append([]string(nil), t.Tags...)
	apply(&t.Status, p.Status)
	apply(&t.Tags, p.Tags)
	apply(&t.UpdatedAt, p.UpdatedAt)
	apply(&t.FirstResponseAt, p.FirstResponseAt)
	apply(&t.SLAResponseDue, p.SLAResponseDue)
	apply(&t.SLADueDate, p.SLADueDate)
	apply(&t.SLAResponseBreached, p.SLAResponseBreached)
	apply(&t.SLABreached, p.SLABreached)
	apply(&t.SLAPausedAt, p.SLAPausedAt)
	apply(&t.SLAPausedDurationMinutes, p.SLAPausedDurationMinutes)
	apply(&t.Resolution, p.Resolution)
	apply(&t.ResolvedAt, p.ResolvedAt)
	apply(&t.ClosedAt, p.ClosedAt)
	apply(&t.ResolutionPendingConfirmationAt, p.ResolutionPendingConfirmationAt)
	apply(&t.UserConfirmedResolution, p.UserConfirmedResolution)
	apply(&t.UserConfirmedAt, p.UserConfirmedAt)
	apply(&t.ReopenedCount, p.ReopenedCount)
	apply(&t.IsArchived, p.IsArchived)
	apply(&t.ArchivedAt, p.ArchivedAt)
	return t
}

// Fields maps every set field to its column name. Used for store updates and
// audit diffs.
func (p Patch) Fields() map[string]any {
	f := map[string]any{}
	if p.Status.Set {
		f["status"] = string(p.Status.Val)
	}
	put(f, "tags", p.Tags)
	put(f, "updated_at", p.UpdatedAt)
	put(f, "first_response_at", p.FirstResponseAt)
	put(f, "sla_response_due", p.SLAResponseDue)
	put(f, "sla_due_date", p.SLADueDate)
	put(f, "sla_response_breached", p.SLAResponseBreached)
	put(f, "sla_breached", p.SLABreached)
	put(f, "sla_paused_at", p.SLAPausedAt)
	put(f, "sla_paused_duration_minutes", p.SLAPausedDurationMinutes)
	put(f, "resolution", p.Resolution)
	put(f, "resolved_at", p.ResolvedAt)
	put(f, "closed_at", p.ClosedAt)
	put(f, "resolution_pending_confirmation_at", p.ResolutionPendingConfirmationAt)
	put(f, "user_confirmed_resolution", p.UserConfirmedResolution)
	put(f, "user_confirmed_at", p.UserConfirmedAt)
	put(f, "reopened_count", p.ReopenedCount)
	put(f, "is_archived", p.IsArchived)
	put(f, "archived_at", p.ArchivedAt)
	return f
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool { return len(p.Fields()) == 0 }
