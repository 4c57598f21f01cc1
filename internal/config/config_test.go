package config

import (
	"testing"
	"time"

	"github.com/mark3748/servicedesk/internal/ticket"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"ENV", "ADDR", "STORE", "RUN_MIGRATIONS", "SLA_ESCALATION_INTERVAL_MINUTES", "SLA_OPEN_STATUSES", "SLA_ESCALATION_THRESHOLD_PERCENT"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	if cfg.Addr != ":8080" || cfg.Store != "postgres" || !cfg.RunMigrations {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.SLA.EscalationInterval() != 5*time.Minute || cfg.SLA.AutoCloseInterval() != time.Hour {
		t.Fatalf("unexpected intervals %v %v", cfg.SLA.EscalationInterval(), cfg.SLA.AutoCloseInterval())
	}
	if cfg.SLA.EscalationThresholdPercent != 80 || cfg.SLA.AutoCloseBusinessDays != 5 || cfg.SLA.AutoCloseConfirmationDays != 7 {
		t.Fatalf("unexpected sla defaults %+v", cfg.SLA)
	}
	if len(cfg.SLA.OpenStatuses) != 4 {
		t.Fatalf("unexpected open statuses %v", cfg.SLA.OpenStatuses)
	}
}

func TestLoadOverrides(t *testing.T) {
	cases := []struct {
		name  string
		env   map[string]string
		check func(t *testing.T, cfg Config)
	}{
		{
			name: "typed values",
			env: map[string]string{
				"STORE":                           "memory",
				"RUN_MIGRATIONS":                  "false",
				"SLA_ESCALATION_INTERVAL_MINUTES": "1",
				"SLA_AUTOCLOSE_BUSINESS_DAYS":     "3",
				"RATE_LIMIT_RPS":                  "2.5",
			},
			check: func(t *testing.T, cfg Config) {
				if cfg.Store != "memory" || cfg.RunMigrations || cfg.SLA.EscalationInterval() != time.Minute || cfg.SLA.AutoCloseBusinessDays != 3 || cfg.RateLimitRPS != 2.5 {
					t.Fatalf("overrides not applied: %+v", cfg)
				}
			},
		},
		{
			name: "invalid values fall back",
			env: map[string]string{
				"SLA_ESCALATION_INTERVAL_MINUTES":  "soon",
				"SLA_ESCALATION_THRESHOLD_PERCENT": "150",
			},
			check: func(t *testing.T, cfg Config) {
				if cfg.SLA.EscalationIntervalMinutes != 5 || cfg.SLA.EscalationThresholdPercent != 80 {
					t.Fatalf("expected fallbacks, got %+v", cfg.SLA)
				}
			},
		},
		{
			name: "open statuses",
			env:  map[string]string{"SLA_OPEN_STATUSES": "New, Reopened,Bogus"},
			check: func(t *testing.T, cfg Config) {
				got := cfg.SLA.OpenStatuses
				if len(got) != 2 || got[0] != ticket.New || got[1] != ticket.Reopened {
					t.Fatalf("unexpected statuses %v", got)
				}
			},
		},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			tt.check(t, Load())
		})
	}
}

func TestDefaultTarget(t *testing.T) {
	s := SLA{DefaultResponseHours: 2, DefaultResolutionHours: 16}
	got := s.DefaultTarget()
	if got.ResponseHours != 2 || got.ResolutionHours != 16 || got.Source != "default" {
		t.Fatalf("unexpected target %+v", got)
	}
}
