package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mark3748/servicedesk/internal/notify"
	"github.com/mark3748/servicedesk/internal/store"
	"github.com/mark3748/servicedesk/internal/ticket"
)

type EscalationConfig struct {
	ThresholdPercent int
	OpenStatuses     []ticket.Status
	Interval         time.Duration
}

// Escalation raises one SLA escalation per ticket once the elapsed share of
// its resolution window crosses the configured threshold.
type Escalation struct {
	store    store.Store
	notifier notify.Notifier
	clock    Clock
	cfg      EscalationConfig
	loop     *loop
}

func NewEscalation(st store.Store, n notify.Notifier, clock Clock, cfg EscalationConfig) *Escalation {
	if clock == nil {
		clock = RealClock{}
	}
	if n == nil {
		n = notify.Noop{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if len(cfg.OpenStatuses) == 0 {
		cfg.OpenStatuses = []ticket.Status{ticket.New, ticket.InProgress, ticket.Pending, ticket.Reopened}
	}
	return &Escalation{
		store:    st,
		notifier: n,
		clock:    clock,
		cfg:      cfg,
		loop:     &loop{job: "escalation", interval: cfg.Interval, clock: clock},
	}
}

// Start runs the job on every interval until ctx is done or Stop is called.
func (s *Escalation) Start(ctx context.Context) { s.loop.start(ctx, s.tick) }

func (s *Escalation) Stop() { s.loop.stop() }

func (s *Escalation) tick(ctx context.Context) {
	if _, err := s.Run(ctx); err != nil && !errors.Is(err, ErrSkipped) {
		log.Error().Err(err).Str("job", "escalation").Msg("run failed")
	}
}

// Run is RunOnce followed by a UI refresh broadcast when anything was
// escalated.
func (s *Escalation) Run(ctx context.Context) (int, error) {
	n, err := s.RunOnce(ctx)
	if n > 0 {
		s.notifier.Broadcast(ctx, notify.Event{Type: "sla_escalations", Data: map[string]int{"count": n}})
	}
	return n, err
}

// RunOnce performs a single scan and returns how many tickets were escalated.
// It returns ErrSkipped if another run is in flight. Failures on individual
// tickets are logged and do not stop the scan.
func (s *Escalation) RunOnce(ctx context.Context) (int, error) {
	var count int
	err := s.loop.guard(ctx, func(ctx context.Context) error {
		now := s.clock.Now()
		candidates, err := s.store.FindActiveTicketsPastThreshold(ctx, s.cfg.ThresholdPercent, s.cfg.OpenStatuses, now)
		if err != nil {
			return fmt.Errorf("find candidates: %w", err)
		}
		for _, t := range candidates {
			ok, err := s.escalate(ctx, t, now)
			if err != nil {
				log.Error().Err(err).
					Str("ticket", t.ID).
					Str("priority", string(t.Priority)).
					Str("location", t.Location).
					Msg("sla escalation")
				continue
			}
			if ok {
				count++
			}
		}
		return nil
	})
	if count > 0 {
		log.Info().Int("count", count).Msg("sla escalations created")
	}
	return count, err
}

func (s *Escalation) escalate(ctx context.Context, t ticket.Ticket, now time.Time) (bool, error) {
	exists, err := s.store.HasExistingSlaEscalation(ctx, t.ID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	e := ticket.Escalation{
		ID:          uuid.NewString(),
		TicketID:    t.ID,
		Reason:      ticket.SLAThresholdReason(s.cfg.ThresholdPercent),
		Severity:    ticket.SeverityFor(t.Priority),
		EscalatedAt: now,
	}
	if err := s.store.InsertEscalation(ctx, e); err != nil {
		return false, err
	}
	escalationsCreated.Inc()

	if p := ticket.BreachPatch(t, now); !p.IsEmpty() {
		p.UpdatedAt = ticket.Some(now)
		if err := s.store.UpdateTicket(ctx, t.ID, "", p); err != nil {
			log.Error().Err(err).Str("ticket", t.ID).Msg("persist breach flags")
		} else {
			t = p.Apply(t)
		}
	}

	s.notifier.EscalationCreated(ctx, t, e)
	if err := s.store.InsertAuditLog(ctx, store.AuditEntry{
		ActorType:  "system",
		EntityType: "ticket",
		EntityID:   t.ID,
		Action:     "sla_escalate",
		Diff:       map[string]any{"reason": e.Reason, "severity": e.Severity},
		At:         now,
	}); err != nil {
		log.Error().Err(err).Str("ticket", t.ID).Msg("audit")
	}
	return true, nil
}
