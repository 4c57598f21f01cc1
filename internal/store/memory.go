package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mark3748/servicedesk/internal/sla"
	"github.com/mark3748/servicedesk/internal/ticket"
)

// Memory is an in-process Store used by tests and STORE=memory.
type Memory struct {
	mu          sync.RWMutex
	tickets     map[string]ticket.Ticket
	escalations []ticket.Escalation
	history     []ticket.StatusHistory
	audit       []AuditEntry
	rules       map[string]sla.Rule
}

func NewMemory() *Memory {
	return &Memory{
		tickets: map[string]ticket.Ticket{},
		rules:   map[string]sla.Rule{},
	}
}

func clone(t ticket.Ticket) ticket.Ticket {
	t.Tags = append([]string(nil), t.Tags...)
	return t
}

func (m *Memory) CreateTicket(ctx context.Context, t ticket.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tickets[t.ID]; ok {
		return fmt.Errorf("ticket %s already exists", t.ID)
	}
	m.tickets[t.ID] = clone(t)
	return nil
}

func (m *Memory) FindTicketByID(ctx context.Context, id string) (ticket.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tickets[id]
	if !ok {
		return ticket.Ticket{}, ErrNotFound
	}
	return clone(t), nil
}

func (m *Memory) filter(keep func(ticket.Ticket) bool, less func(a, b ticket.Ticket) bool) []ticket.Ticket {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []ticket.Ticket{}
	for _, t := range m.tickets {
		if keep(t) {
			out = append(out, clone(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if less(out[i], out[j]) {
			return true
		}
		if less(out[j], out[i]) {
			return false
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Memory) FindActiveTicketsPastThreshold(ctx context.Context, thresholdPercent int, statuses []ticket.Status, now time.Time) ([]ticket.Ticket, error) {
	open := map[ticket.Status]bool{}
	for _, s := range statuses {
		open[s] = true
	}
	return m.filter(func(t ticket.Ticket) bool {
		if !open[t.Status] || t.SLADueDate == nil || t.SLAPausedAt != nil {
			return false
		}
		total := t.SLADueDate.Sub(t.CreatedAt).Milliseconds()
		if total <= 0 {
			return false
		}
		return now.Sub(t.CreatedAt).Milliseconds()*100 >= int64(thresholdPercent)*total
	}, func(a, b ticket.Ticket) bool { return a.SLADueDate.Before(*b.SLADueDate) }), nil
}

func (m *Memory) FindResolvedPastBusinessDays(ctx context.Context, days int, now time.Time) ([]ticket.Ticket, error) {
	cutoff := now.AddDate(0, 0, -days)
	return m.filter(func(t ticket.Ticket) bool {
		return t.Status == ticket.Resolved && t.ResolvedAt != nil && t.ClosedAt == nil &&
			!t.HasTag(ticket.TagNoAutoClose) && !t.ResolvedAt.After(cutoff)
	}, func(a, b ticket.Ticket) bool { return a.ResolvedAt.Before(*b.ResolvedAt) }), nil
}

func (m *Memory) FindPendingConfirmationPastDays(ctx context.Context, days int, now time.Time) ([]ticket.Ticket, error) {
	cutoff := now.Add(-time.Duration(days) * 24 * time.Hour)
	return m.filter(func(t ticket.Ticket) bool {
		p := t.ResolutionPendingConfirmationAt
		return t.Status == ticket.Resolved && p != nil && !p.After(cutoff)
	}, func(a, b ticket.Ticket) bool {
		return a.ResolutionPendingConfirmationAt.Before(*b.ResolutionPendingConfirmationAt)
	}), nil
}

func (m *Memory) UpdateTicket(ctx context.Context, id string, expected ticket.Status, p ticket.Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return ErrNotFound
	}
	if expected != "" && t.Status != expected {
		return fmt.Errorf("%w: ticket %s is %s, expected %s", ErrStaleTransition, id, t.Status, expected)
	}
	m.tickets[id] = p.Apply(t)
	return nil
}

func (m *Memory) InsertEscalation(ctx context.Context, e ticket.Escalation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.escalations = append(m.escalations, e)
	return nil
}

func (m *Memory) HasExistingSlaEscalation(ctx context.Context, ticketID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.escalations {
		if e.TicketID == ticketID && e.IsSLAAuto() {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) ListEscalations(ctx context.Context, ticketID string) ([]ticket.Escalation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []ticket.Escalation{}
	for _, e := range m.escalations {
		if e.TicketID == ticketID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) InsertStatusHistory(ctx context.Context, h ticket.StatusHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, h)
	return nil
}

func (m *Memory) ListStatusHistory(ctx context.Context, ticketID string) ([]ticket.StatusHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []ticket.StatusHistory{}
	for _, h := range m.history {
		if h.TicketID == ticketID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *Memory) InsertAuditLog(ctx context.Context, e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := len(m.audit); n > 0 {
		prev := m.audit[n-1].Hash
		e.PrevHash = &prev
	} else {
		e.PrevHash = nil
	}
	e.Hash = chainHash(diffJSON(e.Diff), e.PrevHash)
	if e.At.IsZero() {
		e.At = time.Now()
	}
	m.audit = append(m.audit, e)
	return nil
}

// AuditLog returns a copy of the audit chain.
func (m *Memory) AuditLog() []AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]AuditEntry(nil), m.audit...)
}

func (m *Memory) sortedRules(keep func(sla.Rule) bool) []sla.Rule {
	out := []sla.Rule{}
	for _, r := range m.rules {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

func (m *Memory) ActiveRules(ctx context.Context, p ticket.Priority) ([]sla.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedRules(func(r sla.Rule) bool { return r.Priority == p && r.IsActive }), nil
}

func (m *Memory) ListRules(ctx context.Context) ([]sla.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedRules(func(sla.Rule) bool { return true }), nil
}

func (m *Memory) UpsertRule(ctx context.Context, r sla.Rule) (sla.Rule, error) {
	if err := r.Validate(); err != nil {
		return sla.Rule{}, err
	}
	if r.EscalationThresholdPercent == 0 {
		r.EscalationThresholdPercent = sla.DefaultThresholdPercent
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.rules[r.ID]; ok && !cur.SameKey(r) {
		return sla.Rule{}, fmt.Errorf("%w: rule %s belongs to %s", sla.ErrInvalidRule, r.ID, cur.Key())
	}
	now := time.Now()
	r.UpdatedAt = now
	for id, cur := range m.rules {
		if cur.SameKey(r) {
			r.ID = id
			r.CreatedAt = cur.CreatedAt
			m.rules[id] = r
			return r, nil
		}
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.CreatedAt = now
	m.rules[r.ID] = r
	return r, nil
}

func (m *Memory) DeleteRule(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return ErrNotFound
	}
	delete(m.rules, id)
	return nil
}
