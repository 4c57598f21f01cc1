package desk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mark3748/servicedesk/internal/notify"
	"github.com/mark3748/servicedesk/internal/sla"
	"github.com/mark3748/servicedesk/internal/store"
	"github.com/mark3748/servicedesk/internal/ticket"
)

type recorder struct {
	mu          sync.Mutex
	escalations []ticket.Escalation
}

func (r *recorder) EscalationCreated(_ context.Context, _ ticket.Ticket, e ticket.Escalation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.escalations = append(r.escalations, e)
}
func (r *recorder) TicketAutoClosed(context.Context, ticket.Ticket, string) {}
func (r *recorder) Broadcast(context.Context, notify.Event)                 {}

type fixture struct {
	svc   *Service
	store *store.Memory
	now   time.Time
	notes *recorder
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	loc := sla.TimezoneFor("US")
	f := &fixture{
		store: store.NewMemory(),
		now:   time.Date(2024, 6, 10, 16, 30, 0, 0, loc),
		notes: &recorder{},
	}
	resolver := sla.NewResolver(f.store, sla.BuiltInTarget)
	f.svc = New(f.store, resolver, sla.NewCalendars(), f.notes, WithClock(func() time.Time { return f.now }))
	return f
}

var (
	agent     = ticket.Actor{ID: "agent-1", Role: "agent"}
	requester = ticket.Actor{ID: "req-1", Role: "requester"}
)

func TestCreateTicketStampsDeadlines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.store.UpsertRule(ctx, sla.Rule{Priority: ticket.P1, ResponseTimeHours: 1, ResolutionTimeHours: 4, IsActive: true}); err != nil {
		t.Fatal(err)
	}
	tk, err := f.svc.CreateTicket(ctx, NewTicket{Title: "<b>VPN</b> down", Priority: ticket.P1, Location: "US"}, requester)
	if err != nil {
		t.Fatal(err)
	}
	loc := sla.TimezoneFor("US")
	if want := time.Date(2024, 6, 11, 11, 30, 0, 0, loc); !tk.SLADueDate.Equal(want) {
		t.Fatalf("due %v, want %v", tk.SLADueDate.In(loc), want)
	}
	if want := time.Date(2024, 6, 11, 8, 30, 0, 0, loc); !tk.SLAResponseDue.Equal(want) {
		t.Fatalf("response due %v, want %v", tk.SLAResponseDue.In(loc), want)
	}
	if tk.Title != "VPN down" || tk.Status != ticket.New {
		t.Fatalf("unexpected ticket %+v", tk)
	}
	hist, _ := f.svc.History(ctx, tk.ID)
	if len(hist) != 1 || hist[0].NewStatus != ticket.New {
		t.Fatalf("expected creation history, got %+v", hist)
	}
	if log := f.store.AuditLog(); len(log) != 1 || log[0].Action != "create" {
		t.Fatalf("expected create audit entry, got %+v", log)
	}
}

func TestCreateTicketValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := []NewTicket{
		{Title: "  ", Priority: ticket.P2},
		{Title: "<script></script>", Priority: ticket.P2},
		{Title: "printer", Priority: "urgent"},
	}
	for _, in := range cases {
		if _, err := f.svc.CreateTicket(ctx, in, requester); !errors.Is(err, ticket.ErrValidation) {
			t.Fatalf("%+v: expected validation error, got %v", in, err)
		}
	}
}

func TestTransitionFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk, err := f.svc.CreateTicket(ctx, NewTicket{Title: "Laptop", Priority: ticket.P3, Location: "US"}, requester)
	if err != nil {
		t.Fatal(err)
	}
	origDue := *tk.SLADueDate

	f.advance(time.Hour)
	tk, err = f.svc.Transition(ctx, tk.ID, ticket.TransitionRequest{To: ticket.Resolved, Resolution: "replaced battery", Actor: agent})
	if err != nil {
		t.Fatal(err)
	}
	if tk.FirstResponseAt == nil || tk.SLAPausedAt == nil {
		t.Fatalf("expected first response and pause, got %+v", tk)
	}

	if _, err := f.svc.Transition(ctx, tk.ID, ticket.TransitionRequest{To: ticket.InProgress, Actor: agent}); !errors.Is(err, ticket.ErrIllegalTransition) {
		t.Fatalf("expected illegal transition, got %v", err)
	}

	f.advance(48 * time.Hour)
	tk, err = f.svc.ConfirmResolution(ctx, tk.ID, requester, false, "")
	if err != nil {
		t.Fatal(err)
	}
	if tk.Status != ticket.Reopened || !tk.SLADueDate.Equal(origDue.Add(48*time.Hour)) {
		t.Fatalf("reopen did not shift due date: %+v", tk)
	}
	stored, _ := f.svc.Get(ctx, tk.ID)
	if stored.ReopenedCount != 1 || stored.SLAPausedDurationMinutes != 48*60 {
		t.Fatalf("store not updated: %+v", stored)
	}
	hist, _ := f.svc.History(ctx, tk.ID)
	if len(hist) != 3 || hist[2].Reason != "Resolution rejected" {
		t.Fatalf("unexpected history %+v", hist)
	}
}

func TestApplyStaleSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk, _ := f.svc.CreateTicket(ctx, NewTicket{Title: "Mail", Priority: ticket.P2, Location: "UK"}, requester)
	snap := tk
	if _, err := f.svc.Transition(ctx, tk.ID, ticket.TransitionRequest{To: ticket.InProgress, Actor: agent}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Apply(ctx, snap, ticket.TransitionRequest{To: ticket.Pending, Actor: agent}); !errors.Is(err, store.ErrStaleTransition) {
		t.Fatalf("expected stale transition, got %v", err)
	}
}

func TestSLAStatusView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk, _ := f.svc.CreateTicket(ctx, NewTicket{Title: "Disk full", Priority: ticket.P4, Location: "US"}, requester)
	f.advance(17*time.Hour + 30*time.Minute) // Tuesday 10:00
	v, err := f.svc.SLAStatus(ctx, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if v.Rule == nil || v.Rule.Source != "default" {
		t.Fatalf("expected built-in default rule, got %+v", v.Rule)
	}
	if v.BusinessMinutesOpen != 150 {
		t.Fatalf("business minutes open = %d, want 150", v.BusinessMinutesOpen)
	}
	if v.SLA.ResolutionRemainingMinutes == nil || v.SLA.ResolutionBreached {
		t.Fatalf("unexpected live status %+v", v.SLA)
	}
	if _, err := f.svc.SLAStatus(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAcknowledge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk, _ := f.svc.CreateTicket(ctx, NewTicket{Title: "Phone", Priority: ticket.P2, Location: "US"}, requester)
	if _, err := f.svc.Acknowledge(ctx, tk.ID, requester); !errors.Is(err, ticket.ErrValidation) {
		t.Fatalf("requester acknowledged: %v", err)
	}
	f.advance(10 * time.Minute)
	got, err := f.svc.Acknowledge(ctx, tk.ID, agent)
	if err != nil {
		t.Fatal(err)
	}
	first := *got.FirstResponseAt
	f.advance(time.Hour)
	got, _ = f.svc.Acknowledge(ctx, tk.ID, ticket.Actor{ID: "m", Role: "manager"})
	if !got.FirstResponseAt.Equal(first) {
		t.Fatalf("first response overwritten")
	}
}

func TestEscalate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk, _ := f.svc.CreateTicket(ctx, NewTicket{Title: "Server", Priority: ticket.P2, Location: "US"}, requester)

	cases := []struct {
		name   string
		actor  ticket.Actor
		reason string
		sev    ticket.Severity
	}{
		{"system actor", ticket.SystemActor, "help", ""},
		{"empty reason", agent, "<p></p>", ""},
		{"reserved prefix", agent, "SLA threshold 10% reached", ""},
		{"bad severity", agent, "help", "apocalyptic"},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.Escalate(ctx, tk.ID, tt.actor, tt.reason, tt.sev); !errors.Is(err, ticket.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}

	e, err := f.svc.Escalate(ctx, tk.ID, agent, "VIP <i>customer</i>", "")
	if err != nil {
		t.Fatal(err)
	}
	if e.Reason != "VIP customer" || e.Severity != ticket.SeverityHigh || e.EscalatedBy == nil || *e.EscalatedBy != "agent-1" {
		t.Fatalf("unexpected escalation %+v", e)
	}
	if ok, _ := f.store.HasExistingSlaEscalation(ctx, tk.ID); ok {
		t.Fatalf("manual escalation counted as sla escalation")
	}
	list, _ := f.svc.Escalations(ctx, tk.ID)
	if len(list) != 1 || len(f.notes.escalations) != 1 {
		t.Fatalf("expected one stored and notified escalation, got %d/%d", len(list), len(f.notes.escalations))
	}
}
