package desk

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"

	"github.com/mark3748/servicedesk/internal/notify"
	"github.com/mark3748/servicedesk/internal/sla"
	"github.com/mark3748/servicedesk/internal/store"
	"github.com/mark3748/servicedesk/internal/ticket"
)

// Service runs the request-driven side of the engine: ticket creation,
// transitions, acknowledgements and manual escalations.
type Service struct {
	store    store.Store
	rules    *sla.Resolver
	cals     *sla.Calendars
	notifier notify.Notifier
	now      func() time.Time
	policy   *bluemonday.Policy
}

type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(st store.Store, rules *sla.Resolver, cals *sla.Calendars, n notify.Notifier, opts ...Option) *Service {
	if cals == nil {
		cals = sla.DefaultCalendars
	}
	if n == nil {
		n = notify.Noop{}
	}
	s := &Service{
		store:    st,
		rules:    rules,
		cals:     cals,
		notifier: n,
		now:      time.Now,
		policy:   bluemonday.StrictPolicy(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// clean strips markup from free text. The result is stored as plain text.
func (s *Service) clean(in string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(in)))
}

func actorID(a ticket.Actor) *string {
	if a.IsSystem() {
		return nil
	}
	id := a.ID
	return &id
}

func (s *Service) audit(ctx context.Context, actor ticket.Actor, entityID, action string, diff any) {
	actorType := "user"
	if actor.IsSystem() {
		actorType = "system"
	}
	err := s.store.InsertAuditLog(ctx, store.AuditEntry{
		ActorType:  actorType,
		ActorID:    actorID(actor),
		EntityType: "ticket",
		EntityID:   entityID,
		Action:     action,
		Diff:       diff,
		At:         s.now(),
	})
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("ticket", entityID).Str("action", action).Msg("audit")
	}
}

// NewTicket is the input of CreateTicket.
type NewTicket struct {
	Title    string
	Priority ticket.Priority
	Category *string
	Location string
	Tags     []string
}

// CreateTicket resolves the SLA rule for in and stamps both due dates.
func (s *Service) CreateTicket(ctx context.Context, in NewTicket, actor ticket.Actor) (ticket.Ticket, error) {
	title := s.clean(in.Title)
	if title == "" {
		return ticket.Ticket{}, fmt.Errorf("%w: title is required", ticket.ErrValidation)
	}
	if !in.Priority.Valid() {
		return ticket.Ticket{}, fmt.Errorf("%w: priority %q", ticket.ErrValidation, in.Priority)
	}
	target, err := s.rules.Resolve(ctx, sla.Query{Priority: in.Priority, Category: in.Category, Location: in.Location})
	if err != nil {
		return ticket.Ticket{}, err
	}
	now := s.now()
	d, err := s.cals.For(in.Location).ComputeDeadlines(now, target)
	if err != nil {
		return ticket.Ticket{}, err
	}
	t := ticket.Ticket{
		ID:             uuid.NewString(),
		Title:          title,
		Priority:       in.Priority,
		Category:       in.Category,
		Location:       in.Location,
		Status:         ticket.New,
		Tags:           append([]string{}, in.Tags...),
		CreatedAt:      now,
		UpdatedAt:      now,
		SLAResponseDue: &d.ResponseDue,
		SLADueDate:     &d.ResolutionDue,
	}
	if err := s.store.CreateTicket(ctx, t); err != nil {
		return ticket.Ticket{}, err
	}
	if err := s.store.InsertStatusHistory(ctx, ticket.StatusHistory{
		ID:        uuid.NewString(),
		TicketID:  t.ID,
		NewStatus: ticket.New,
		ChangedBy: actorID(actor),
		Reason:    "created",
		ChangedAt: now,
	}); err != nil {
		return t, err
	}
	s.audit(ctx, actor, t.ID, "create", map[string]any{
		"title":            t.Title,
		"priority":         t.Priority,
		"sla_rule":         target.Source,
		"sla_response_due": t.SLAResponseDue,
		"sla_due_date":     t.SLADueDate,
	})
	return t, nil
}

// Preview returns the rule and deadlines a ticket matching q would get if
// created at at. A zero at means now.
func (s *Service) Preview(ctx context.Context, q sla.Query, at time.Time) (sla.Target, sla.Deadlines, error) {
	if !q.Priority.Valid() {
		return sla.Target{}, sla.Deadlines{}, fmt.Errorf("%w: priority %q", ticket.ErrValidation, q.Priority)
	}
	if at.IsZero() {
		at = s.now()
	}
	target, err := s.rules.Resolve(ctx, q)
	if err != nil {
		return sla.Target{}, sla.Deadlines{}, err
	}
	d, err := s.cals.For(q.Location).ComputeDeadlines(at, target)
	return target, d, err
}

func (s *Service) Get(ctx context.Context, id string) (ticket.Ticket, error) {
	return s.store.FindTicketByID(ctx, id)
}

// View is a ticket together with its live SLA status.
type View struct {
	Ticket              ticket.Ticket `json:"ticket"`
	SLA                 sla.Status    `json:"sla"`
	Rule                *sla.Target   `json:"rule,omitempty"`
	BusinessMinutesOpen int           `json:"business_minutes_open"`
}

// SLAStatus evaluates the live SLA view of a ticket. A ticket without a
// usable rule is reported with an empty status.
func (s *Service) SLAStatus(ctx context.Context, id string) (View, error) {
	t, err := s.store.FindTicketByID(ctx, id)
	if err != nil {
		return View{}, err
	}
	now := s.now()
	v := View{Ticket: t}
	target, err := s.rules.Resolve(ctx, sla.Query{Priority: t.Priority, Category: t.Category, Location: t.Location})
	switch {
	case err == nil:
		v.Rule = &target
	case errors.Is(err, sla.ErrConfiguration):
		log.Ctx(ctx).Error().Err(err).Str("ticket", t.ID).Str("priority", string(t.Priority)).Msg("sla rule")
	default:
		return View{}, err
	}
	v.SLA = sla.Evaluate(t, v.Rule, now)
	end := now
	if t.SLAPausedAt != nil {
		end = *t.SLAPausedAt
	}
	v.BusinessMinutesOpen = int(s.cals.For(t.Location).BusinessDuration(t.CreatedAt, end) / time.Minute)
	return v, nil
}

// Transition loads the ticket and applies req to it.
func (s *Service) Transition(ctx context.Context, id string, req ticket.TransitionRequest) (ticket.Ticket, error) {
	t, err := s.store.FindTicketByID(ctx, id)
	if err != nil {
		return ticket.Ticket{}, err
	}
	return s.Apply(ctx, t, req)
}

// Apply transitions the snapshot t. The update only succeeds while the stored
// ticket still has t's status; otherwise store.ErrStaleTransition is returned.
func (s *Service) Apply(ctx context.Context, t ticket.Ticket, req ticket.TransitionRequest) (ticket.Ticket, error) {
	req.Reason = s.clean(req.Reason)
	req.Resolution = s.clean(req.Resolution)
	now := s.now()
	ch, err := ticket.Transition(t, req, now)
	if err != nil {
		return ticket.Ticket{}, err
	}
	if err := s.store.UpdateTicket(ctx, t.ID, t.Status, ch.Patch); err != nil {
		return ticket.Ticket{}, err
	}
	ch.History.ID = uuid.NewString()
	if err := s.store.InsertStatusHistory(ctx, ch.History); err != nil {
		return ticket.Ticket{}, fmt.Errorf("status history: %w", err)
	}
	s.audit(ctx, req.Actor, t.ID, "transition", map[string]any{
		"from":   ch.From,
		"to":     ch.To,
		"reason": req.Reason,
		"fields": ch.Patch.Fields(),
	})
	return ch.Patch.Apply(t), nil
}

// Acknowledge records a staff action on the ticket for first response
// reporting.
func (s *Service) Acknowledge(ctx context.Context, id string, actor ticket.Actor) (ticket.Ticket, error) {
	t, err := s.store.FindTicketByID(ctx, id)
	if err != nil {
		return ticket.Ticket{}, err
	}
	if !actor.IsStaff() {
		return ticket.Ticket{}, fmt.Errorf("%w: only staff can acknowledge", ticket.ErrValidation)
	}
	p := ticket.RecordStaffAction(t, actor, s.now())
	if p.IsEmpty() {
		return t, nil
	}
	if err := s.store.UpdateTicket(ctx, id, "", p); err != nil {
		return ticket.Ticket{}, err
	}
	s.audit(ctx, actor, id, "acknowledge", p.Fields())
	return p.Apply(t), nil
}

// ConfirmResolution records the requester's answer to a resolution: accepted
// closes the ticket, rejected reopens it.
func (s *Service) ConfirmResolution(ctx context.Context, id string, actor ticket.Actor, accepted bool, reason string) (ticket.Ticket, error) {
	t, err := s.store.FindTicketByID(ctx, id)
	if err != nil {
		return ticket.Ticket{}, err
	}
	if t.Status != ticket.Resolved {
		return ticket.Ticket{}, fmt.Errorf("%w: ticket is %s, not awaiting confirmation", ticket.ErrIllegalTransition, t.Status)
	}
	req := ticket.TransitionRequest{Actor: actor, Reason: reason}
	if accepted {
		req.To = ticket.Closed
		if req.Reason == "" {
			req.Reason = "Resolution confirmed"
		}
	} else {
		req.To = ticket.Reopened
		if req.Reason == "" {
			req.Reason = "Resolution rejected"
		}
	}
	return s.Apply(ctx, t, req)
}

// Escalate records a manual escalation. Manual reasons may not use the
// prefix reserved for SLA escalations.
func (s *Service) Escalate(ctx context.Context, id string, actor ticket.Actor, reason string, sev ticket.Severity) (ticket.Escalation, error) {
	t, err := s.store.FindTicketByID(ctx, id)
	if err != nil {
		return ticket.Escalation{}, err
	}
	if actor.IsSystem() {
		return ticket.Escalation{}, fmt.Errorf("%w: manual escalations need an actor", ticket.ErrValidation)
	}
	reason = s.clean(reason)
	switch {
	case reason == "":
		return ticket.Escalation{}, fmt.Errorf("%w: reason is required", ticket.ErrValidation)
	case strings.HasPrefix(reason, ticket.SLAReasonPrefix):
		return ticket.Escalation{}, fmt.Errorf("%w: reason prefix %q is reserved", ticket.ErrValidation, ticket.SLAReasonPrefix)
	}
	if sev == "" {
		sev = ticket.SeverityFor(t.Priority)
	}
	if !sev.Valid() {
		return ticket.Escalation{}, fmt.Errorf("%w: severity %q", ticket.ErrValidation, sev)
	}
	e := ticket.Escalation{
		ID:          uuid.NewString(),
		TicketID:    t.ID,
		Reason:      reason,
		Severity:    sev,
		EscalatedBy: actorID(actor),
		EscalatedAt: s.now(),
	}
	if err := s.store.InsertEscalation(ctx, e); err != nil {
		return ticket.Escalation{}, err
	}
	s.notifier.EscalationCreated(ctx, t, e)
	s.audit(ctx, actor, t.ID, "escalate", map[string]any{"reason": e.Reason, "severity": e.Severity})
	return e, nil
}

func (s *Service) Escalations(ctx context.Context, id string) ([]ticket.Escalation, error) {
	if _, err := s.store.FindTicketByID(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListEscalations(ctx, id)
}

func (s *Service) History(ctx context.Context, id string) ([]ticket.StatusHistory, error) {
	if _, err := s.store.FindTicketByID(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListStatusHistory(ctx, id)
}

// Rules exposes rule administration to the api.
func (s *Service) Rules() RuleAdmin { return s.store }

// RuleAdmin is the rule CRUD subset of the store.
type RuleAdmin interface {
	ListRules(ctx context.Context) ([]sla.Rule, error)
	UpsertRule(ctx context.Context, r sla.Rule) (sla.Rule, error)
	DeleteRule(ctx context.Context, id string) error
}
