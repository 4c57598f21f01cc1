package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mark3748/servicedesk/internal/notify"
	"github.com/mark3748/servicedesk/internal/sla"
	"github.com/mark3748/servicedesk/internal/store"
	"github.com/mark3748/servicedesk/internal/ticket"
)

// Transitioner applies a lifecycle transition to a ticket snapshot. The
// desk service satisfies it.
type Transitioner interface {
	Apply(ctx context.Context, t ticket.Ticket, req ticket.TransitionRequest) (ticket.Ticket, error)
}

type AutoCloseConfig struct {
	BusinessDays     int
	ConfirmationDays int
	Interval         time.Duration
}

// AutoCloseResult counts what a single run did.
type AutoCloseResult struct {
	ClosedAfterBusinessDays int `json:"closed_after_business_days"`
	ClosedUnconfirmed       int `json:"closed_unconfirmed"`
	Skipped                 int `json:"skipped"`
	Failed                  int `json:"failed"`
}

func (r AutoCloseResult) Closed() int { return r.ClosedAfterBusinessDays + r.ClosedUnconfirmed }

// AutoClose closes resolved tickets nobody came back to.
type AutoClose struct {
	store    store.Store
	tr       Transitioner
	notifier notify.Notifier
	cals     *sla.Calendars
	clock    Clock
	cfg      AutoCloseConfig
	loop     *loop
}

func NewAutoClose(st store.Store, tr Transitioner, n notify.Notifier, cals *sla.Calendars, clock Clock, cfg AutoCloseConfig) *AutoClose {
	if clock == nil {
		clock = RealClock{}
	}
	if n == nil {
		n = notify.Noop{}
	}
	if cals == nil {
		cals = sla.DefaultCalendars
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.BusinessDays <= 0 {
		cfg.BusinessDays = 5
	}
	if cfg.ConfirmationDays <= 0 {
		cfg.ConfirmationDays = 7
	}
	return &AutoClose{
		store:    st,
		tr:       tr,
		notifier: n,
		cals:     cals,
		clock:    clock,
		cfg:      cfg,
		loop:     &loop{job: "autoclose", interval: cfg.Interval, clock: clock},
	}
}

func (s *AutoClose) Start(ctx context.Context) { s.loop.start(ctx, s.tick) }

func (s *AutoClose) Stop() { s.loop.stop() }

func (s *AutoClose) tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrSkipped) {
		log.Error().Err(err).Str("job", "autoclose").Msg("run failed")
	}
}

// RunOnce closes tickets resolved more than the configured number of business
// days ago, then tickets left awaiting confirmation for the configured number
// of calendar days.
func (s *AutoClose) RunOnce(ctx context.Context) (AutoCloseResult, error) {
	var res AutoCloseResult
	err := s.loop.guard(ctx, func(ctx context.Context) error {
		if err := s.closeResolved(ctx, &res); err != nil {
			return err
		}
		return s.closeUnconfirmed(ctx, &res)
	})
	if res.Closed() > 0 {
		log.Info().
			Int("business_days", res.ClosedAfterBusinessDays).
			Int("no_confirmation", res.ClosedUnconfirmed).
			Msg("tickets auto-closed")
	}
	return res, err
}

func (s *AutoClose) closeResolved(ctx context.Context, res *AutoCloseResult) error {
	now := s.clock.Now()
	n := s.cfg.BusinessDays
	candidates, err := s.store.FindResolvedPastBusinessDays(ctx, n, now)
	if err != nil {
		return fmt.Errorf("find resolved: %w", err)
	}
	for _, t := range candidates {
		if t.Status != ticket.Resolved || t.ResolvedAt == nil || t.ClosedAt != nil || t.HasTag(ticket.TagNoAutoClose) {
			continue
		}
		due, err := s.cals.For(t.Location).AddBusinessDays(*t.ResolvedAt, n)
		if err != nil {
			res.Failed++
			log.Error().Err(err).Str("ticket", t.ID).Str("location", t.Location).Msg("auto-close due date")
			continue
		}
		if now.Before(due) {
			continue
		}
		s.close(ctx, t, ticket.TransitionRequest{
			To:     ticket.Closed,
			Actor:  ticket.SystemActor,
			Reason: fmt.Sprintf("Auto-closed after %d business days", n),
			Tags:   []string{ticket.TagAutoClosed},
		}, "business_days", &res.ClosedAfterBusinessDays, res)
	}
	return nil
}

func (s *AutoClose) closeUnconfirmed(ctx context.Context, res *AutoCloseResult) error {
	now := s.clock.Now()
	d := s.cfg.ConfirmationDays
	candidates, err := s.store.FindPendingConfirmationPastDays(ctx, d, now)
	if err != nil {
		return fmt.Errorf("find pending confirmation: %w", err)
	}
	window := time.Duration(d) * 24 * time.Hour
	for _, t := range candidates {
		p := t.ResolutionPendingConfirmationAt
		if t.Status != ticket.Resolved || p == nil || now.Sub(*p) < window {
			continue
		}
		s.close(ctx, t, ticket.TransitionRequest{
			To:          ticket.Closed,
			Actor:       ticket.SystemActor,
			Reason:      fmt.Sprintf("Auto-closed after %d days without confirmation", d),
			Tags:        []string{ticket.TagAutoClosedNoConfirmation},
			Unconfirmed: true,
		}, "no_confirmation", &res.ClosedUnconfirmed, res)
	}
	return nil
}

func (s *AutoClose) close(ctx context.Context, t ticket.Ticket, req ticket.TransitionRequest, reason string, counter *int, res *AutoCloseResult) {
	closed, err := s.tr.Apply(ctx, t, req)
	switch {
	case errors.Is(err, store.ErrStaleTransition):
		res.Skipped++
		log.Debug().Str("ticket", t.ID).Msg("ticket changed before auto-close, skipping")
		return
	case err != nil:
		res.Failed++
		log.Error().Err(err).Str("ticket", t.ID).Str("reason", reason).Msg("auto-close")
		return
	}
	*counter++
	ticketsAutoClosed.WithLabelValues(reason).Inc()
	s.notifier.TicketAutoClosed(ctx, closed, req.Reason)
}
