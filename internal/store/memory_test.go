package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mark3748/servicedesk/internal/sla"
	"github.com/mark3748/servicedesk/internal/ticket"
)

func tp(t time.Time) *time.Time { return &t }

func seed(t *testing.T, m *Memory, tickets ...ticket.Ticket) {
	t.Helper()
	for _, tk := range tickets {
		if err := m.CreateTicket(context.Background(), tk); err != nil {
			t.Fatal(err)
		}
	}
}

func TestMemoryFindActiveTicketsPastThreshold(t *testing.T) {
	created := time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)
	now := created.Add(8 * time.Hour)
	m := NewMemory()
	seed(t, m,
		ticket.Ticket{ID: "at-80", Status: ticket.InProgress, CreatedAt: created, SLADueDate: tp(created.Add(10 * time.Hour))},
		ticket.Ticket{ID: "below", Status: ticket.New, CreatedAt: created, SLADueDate: tp(created.Add(11 * time.Hour))},
		ticket.Ticket{ID: "overdue", Status: ticket.Reopened, CreatedAt: created, SLADueDate: tp(created.Add(2 * time.Hour))},
		ticket.Ticket{ID: "resolved", Status: ticket.Resolved, CreatedAt: created, SLADueDate: tp(created.Add(2 * time.Hour)), SLAPausedAt: tp(now)},
		ticket.Ticket{ID: "no-due", Status: ticket.New, CreatedAt: created},
		ticket.Ticket{ID: "zero-window", Status: ticket.New, CreatedAt: created, SLADueDate: tp(created)},
	)
	open := []ticket.Status{ticket.New, ticket.InProgress, ticket.Pending, ticket.Reopened}
	got, err := m.FindActiveTicketsPastThreshold(context.Background(), 80, open, now)
	if err != nil {
		t.Fatal(err)
	}
	ids := []string{}
	for _, tk := range got {
		ids = append(ids, tk.ID)
	}
	if len(ids) != 2 || ids[0] != "overdue" || ids[1] != "at-80" {
		t.Fatalf("unexpected candidates %v", ids)
	}
}

func TestMemoryAutoCloseQueries(t *testing.T) {
	now := time.Date(2024, 6, 20, 12, 0, 0, 0, time.UTC)
	m := NewMemory()
	seed(t, m,
		ticket.Ticket{ID: "old", Status: ticket.Resolved, ResolvedAt: tp(now.AddDate(0, 0, -6)), ResolutionPendingConfirmationAt: tp(now.AddDate(0, 0, -8))},
		ticket.Ticket{ID: "recent", Status: ticket.Resolved, ResolvedAt: tp(now.AddDate(0, 0, -2)), ResolutionPendingConfirmationAt: tp(now.AddDate(0, 0, -2))},
		ticket.Ticket{ID: "excluded", Status: ticket.Resolved, ResolvedAt: tp(now.AddDate(0, 0, -30)), Tags: []string{ticket.TagNoAutoClose}},
		ticket.Ticket{ID: "closed", Status: ticket.Closed, ResolvedAt: tp(now.AddDate(0, 0, -30)), ClosedAt: tp(now.AddDate(0, 0, -29))},
	)
	res, err := m.FindResolvedPastBusinessDays(context.Background(), 5, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].ID != "old" {
		t.Fatalf("unexpected resolved candidates %+v", res)
	}
	pend, err := m.FindPendingConfirmationPastDays(context.Background(), 7, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(pend) != 1 || pend[0].ID != "old" {
		t.Fatalf("unexpected pending candidates %+v", pend)
	}
}

func TestMemoryUpdateTicket(t *testing.T) {
	m := NewMemory()
	seed(t, m, ticket.Ticket{ID: "t1", Status: ticket.Resolved, Tags: []string{"vip"}})
	ctx := context.Background()

	err := m.UpdateTicket(ctx, "t1", ticket.Resolved, ticket.Patch{
		Status: ticket.Some(ticket.Closed),
		Tags:   ticket.Some([]string{"vip", ticket.TagAutoClosed}),
	})
	if err != nil {
		t.Fatal(err)
	}
	got, _ := m.FindTicketByID(ctx, "t1")
	if got.Status != ticket.Closed || !got.HasTag(ticket.TagAutoClosed) {
		t.Fatalf("update not applied: %+v", got)
	}
	if err := m.UpdateTicket(ctx, "t1", ticket.Resolved, ticket.Patch{Status: ticket.Some(ticket.Closed)}); !errors.Is(err, ErrStaleTransition) {
		t.Fatalf("expected stale transition, got %v", err)
	}
	if err := m.UpdateTicket(ctx, "nope", "", ticket.Patch{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	got.Tags[0] = "mutated"
	again, _ := m.FindTicketByID(ctx, "t1")
	if again.Tags[0] != "vip" {
		t.Fatalf("store shares tag slices with callers")
	}
}

func TestMemoryEscalationIdempotencyKey(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	by := "mgr"
	_ = m.InsertEscalation(ctx, ticket.Escalation{ID: "e1", TicketID: "t1", Reason: "customer is angry", EscalatedBy: &by})
	if ok, _ := m.HasExistingSlaEscalation(ctx, "t1"); ok {
		t.Fatalf("manual escalation must not count")
	}
	_ = m.InsertEscalation(ctx, ticket.Escalation{ID: "e2", TicketID: "t1", Reason: ticket.SLAThresholdReason(80)})
	if ok, _ := m.HasExistingSlaEscalation(ctx, "t1"); !ok {
		t.Fatalf("expected sla escalation")
	}
	if ok, _ := m.HasExistingSlaEscalation(ctx, "t2"); ok {
		t.Fatalf("escalation leaked across tickets")
	}
	list, _ := m.ListEscalations(ctx, "t1")
	if len(list) != 2 {
		t.Fatalf("expected 2 escalations, got %d", len(list))
	}
}

func TestMemoryAuditChain(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for i, action := range []string{"create", "transition", "escalate"} {
		err := m.InsertAuditLog(ctx, AuditEntry{ActorType: "system", EntityType: "ticket", EntityID: "t1", Action: action, Diff: map[string]any{"n": i}})
		if err != nil {
			t.Fatal(err)
		}
	}
	log := m.AuditLog()
	if len(log) != 3 || log[0].PrevHash != nil || *log[2].PrevHash != log[1].Hash {
		t.Fatalf("chain not linked: %+v", log)
	}
	if err := VerifyChain(log); err != nil {
		t.Fatalf("verify: %v", err)
	}
	log[1].Diff = map[string]any{"n": 42}
	if err := VerifyChain(log); err == nil {
		t.Fatalf("tampered entry not detected")
	}
}

func TestMemoryRules(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	net := "Network"
	r1, err := m.UpsertRule(ctx, sla.Rule{Priority: ticket.P1, ResponseTimeHours: 1, ResolutionTimeHours: 4, IsActive: true})
	if err != nil {
		t.Fatal(err)
	}
	if r1.ID == "" || r1.EscalationThresholdPercent != sla.DefaultThresholdPercent {
		t.Fatalf("defaults not applied: %+v", r1)
	}
	if _, err := m.UpsertRule(ctx, sla.Rule{Priority: ticket.P1, Category: &net, ResponseTimeHours: 1, ResolutionTimeHours: 2, IsActive: false}); err != nil {
		t.Fatal(err)
	}
	r1b, err := m.UpsertRule(ctx, sla.Rule{Priority: ticket.P1, ResponseTimeHours: 2, ResolutionTimeHours: 6, IsActive: true})
	if err != nil {
		t.Fatal(err)
	}
	if r1b.ID != r1.ID {
		t.Fatalf("upsert on same key created a new rule")
	}
	all, _ := m.ListRules(ctx)
	if len(all) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(all))
	}
	active, _ := m.ActiveRules(ctx, ticket.P1)
	if len(active) != 1 || active[0].ResolutionTimeHours != 6 {
		t.Fatalf("unexpected active rules %+v", active)
	}
	if err := m.DeleteRule(ctx, r1.ID); err != nil {
		t.Fatal(err)
	}
	if err := m.DeleteRule(ctx, r1.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := m.UpsertRule(ctx, sla.Rule{Priority: ticket.P2}); !errors.Is(err, sla.ErrInvalidRule) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMemoryRuleKeys(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	upper, lower := "Network", "network"
	r1, err := m.UpsertRule(ctx, sla.Rule{Priority: ticket.P1, Category: &upper, ResponseTimeHours: 1, ResolutionTimeHours: 4, IsActive: true})
	if err != nil {
		t.Fatal(err)
	}
	r2, err := m.UpsertRule(ctx, sla.Rule{Priority: ticket.P1, Category: &lower, ResponseTimeHours: 2, ResolutionTimeHours: 8, IsActive: true})
	if err != nil {
		t.Fatal(err)
	}
	if r2.ID != r1.ID {
		t.Fatalf("category case created a second rule")
	}

	_, err = m.UpsertRule(ctx, sla.Rule{ID: r1.ID, Priority: ticket.P2, Category: &upper, ResponseTimeHours: 1, ResolutionTimeHours: 4})
	if !errors.Is(err, sla.ErrInvalidRule) {
		t.Fatalf("expected invalid rule for id with another key, got %v", err)
	}
	all, _ := m.ListRules(ctx)
	if len(all) != 1 || all[0].Priority != ticket.P1 || all[0].ResolutionTimeHours != 8 {
		t.Fatalf("rule moved or duplicated: %+v", all)
	}

	// an unknown id is kept for a new key
	r3, err := m.UpsertRule(ctx, sla.Rule{ID: "p3-global", Priority: ticket.P3, ResponseTimeHours: 8, ResolutionTimeHours: 40})
	if err != nil || r3.ID != "p3-global" {
		t.Fatalf("unexpected rule %+v %v", r3, err)
	}
}
