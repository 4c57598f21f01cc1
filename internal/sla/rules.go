package sla

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3748/servicedesk/internal/ticket"
)

// DefaultThresholdPercent applies to rules stored without a threshold.
const DefaultThresholdPercent = 80

var ErrInvalidRule = errors.New("invalid sla rule")

// Rule represents an SLA rule. A nil Category applies to every category of
// the priority.
type Rule struct {
	ID                         string          `json:"id"`
	Priority                   ticket.Priority `json:"priority"`
	Category                   *string         `json:"category,omitempty"`
	ResponseTimeHours          int             `json:"response_time_hours"`
	ResolutionTimeHours        int             `json:"resolution_time_hours"`
	EscalationThresholdPercent int             `json:"escalation_threshold_percent"`
	IsActive                   bool            `json:"is_active"`
	CreatedAt                  time.Time       `json:"created_at"`
	UpdatedAt                  time.Time       `json:"updated_at"`
}

func (r Rule) Validate() error {
	switch {
	case !r.Priority.Valid():
		return fmt.Errorf("%w: priority %q", ErrInvalidRule, r.Priority)
	case r.ResponseTimeHours < 1:
		return fmt.Errorf("%w: response_time_hours must be >= 1", ErrInvalidRule)
	case r.ResolutionTimeHours < 1:
		return fmt.Errorf("%w: resolution_time_hours must be >= 1", ErrInvalidRule)
	case r.EscalationThresholdPercent < 0 || r.EscalationThresholdPercent > 100:
		return fmt.Errorf("%w: escalation_threshold_percent must be within 1-100, or 0 for the default", ErrInvalidRule)
	}
	return nil
}

// Key is the uniqueness key of the rule: priority plus category or GLOBAL.
func (r Rule) Key() string {
	if r.Category == nil {
		return string(r.Priority) + "/GLOBAL"
	}
	return string(r.Priority) + "/" + *r.Category
}

// SameKey reports whether r and o share a key. Categories compare
// case-insensitively.
func (r Rule) SameKey(o Rule) bool { return strings.EqualFold(r.Key(), o.Key()) }

func (r Rule) target() Target {
	th := r.EscalationThresholdPercent
	if th == 0 {
		th = DefaultThresholdPercent
	}
	return Target{
		ResponseHours:              r.ResponseTimeHours,
		ResolutionHours:            r.ResolutionTimeHours,
		EscalationThresholdPercent: th,
		Source:                     r.ID,
	}
}

// Target is a resolved SLA rule.
type Target struct {
	ResponseHours              int    `json:"response_hours"`
	ResolutionHours            int    `json:"resolution_hours"`
	EscalationThresholdPercent int    `json:"escalation_threshold_percent"`
	Source                     string `json:"source"`
}

// BuiltInTarget is used when no rule matches.
var BuiltInTarget = Target{ResponseHours: 4, ResolutionHours: 24, EscalationThresholdPercent: 100, Source: "default"}

type Query struct {
	Priority ticket.Priority
	Category *string
	Location string
}

// Strategy is one step of the resolution chain.
type Strategy interface {
	Name() string
	Resolve(rules []Rule, q Query) (Target, bool)
}

// ExactMatch matches priority and category.
type ExactMatch struct{}

func (ExactMatch) Name() string { return "exact" }

func (ExactMatch) Resolve(rules []Rule, q Query) (Target, bool) {
	if q.Category == nil {
		return Target{}, false
	}
	for _, r := range rules {
		if r.Priority == q.Priority && r.Category != nil && strings.EqualFold(*r.Category, *q.Category) {
			return r.target(), true
		}
	}
	return Target{}, false
}

// PriorityWide matches the priority's category-less rule.
type PriorityWide struct{}

func (PriorityWide) Name() string { return "priority" }

func (PriorityWide) Resolve(rules []Rule, q Query) (Target, bool) {
	for _, r := range rules {
		if r.Priority == q.Priority && r.Category == nil {
			return r.target(), true
		}
	}
	return Target{}, false
}

// BuiltInDefault always matches unless its target is unusable.
type BuiltInDefault struct{ Target Target }

func (BuiltInDefault) Name() string { return "default" }

func (d BuiltInDefault) Resolve(_ []Rule, _ Query) (Target, bool) {
	if d.Target.ResponseHours < 1 || d.Target.ResolutionHours < 1 {
		return Target{}, false
	}
	t := d.Target
	if t.EscalationThresholdPercent == 0 {
		t.EscalationThresholdPercent = BuiltInTarget.EscalationThresholdPercent
	}
	if t.Source == "" {
		t.Source = "default"
	}
	return t, true
}

// RuleSource lists the active rules of a priority.
type RuleSource interface {
	ActiveRules(ctx context.Context, p ticket.Priority) ([]Rule, error)
}

// Resolver tries each strategy in order and returns the first match.
type Resolver struct {
	src   RuleSource
	chain []Strategy
}

// NewResolver builds the exact, priority-wide, default chain.
func NewResolver(src RuleSource, defaults Target) *Resolver {
	return NewResolverChain(src, ExactMatch{}, PriorityWide{}, BuiltInDefault{Target: defaults})
}

func NewResolverChain(src RuleSource, chain ...Strategy) *Resolver {
	return &Resolver{src: src, chain: chain}
}

func (r *Resolver) Resolve(ctx context.Context, q Query) (Target, error) {
	var rules []Rule
	if r.src != nil {
		all, err := r.src.ActiveRules(ctx, q.Priority)
		if err != nil {
			return Target{}, fmt.Errorf("load sla rules: %w", err)
		}
		for _, rule := range all {
			if rule.IsActive {
				rules = append(rules, rule)
			}
		}
	}
	for _, s := range r.chain {
		if t, ok := s.Resolve(rules, q); ok {
			return t, nil
		}
	}
	cat := "<nil>"
	if q.Category != nil {
		cat = *q.Category
	}
	return Target{}, fmt.Errorf("%w: no rule for priority=%s category=%s location=%s", ErrConfiguration, q.Priority, cat, q.Location)
}
