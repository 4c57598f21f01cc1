package sla

import (
	"testing"
	"time"

	"github.com/mark3748/servicedesk/internal/ticket"
)

func tp(t time.Time) *time.Time { return &t }

func TestEvaluateEscalationThreshold(t *testing.T) {
	created := time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)
	tk := ticket.Ticket{
		Status:         ticket.InProgress,
		CreatedAt:      created,
		SLAResponseDue: tp(created.Add(2 * time.Hour)),
		SLADueDate:     tp(created.Add(10 * time.Hour)),
	}
	target := &Target{ResponseHours: 2, ResolutionHours: 10, EscalationThresholdPercent: 80}

	st := Evaluate(tk, target, created.Add(7*time.Hour+30*time.Minute))
	if st.Escalated {
		t.Fatalf("75%% elapsed should not escalate")
	}
	if *st.ElapsedPercent != 75 {
		t.Fatalf("elapsed = %v", *st.ElapsedPercent)
	}
	if *st.ResolutionRemainingMinutes != 150 || st.ResolutionBreached {
		t.Fatalf("unexpected resolution status %+v", st)
	}
	if *st.ResponseRemainingMinutes != -330 || !st.ResponseBreached {
		t.Fatalf("unexpected response status %d %v", *st.ResponseRemainingMinutes, st.ResponseBreached)
	}

	st = Evaluate(tk, target, created.Add(8*time.Hour))
	if !st.Escalated {
		t.Fatalf("80%% elapsed should escalate")
	}
}

func TestEvaluateFrozen(t *testing.T) {
	created := time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)
	for _, s := range []ticket.Status{ticket.Resolved, ticket.Closed} {
		tk := ticket.Ticket{
			Status:         s,
			CreatedAt:      created,
			SLAResponseDue: tp(created.Add(time.Hour)),
			SLADueDate:     tp(created.Add(2 * time.Hour)),
		}
		st := Evaluate(tk, &Target{EscalationThresholdPercent: 10}, created.Add(300*24*time.Hour))
		if st.ResponseRemainingMinutes != nil || st.ResolutionRemainingMinutes != nil || st.ElapsedPercent != nil {
			t.Fatalf("%s: countdown not frozen: %+v", s, st)
		}
		if st.ResponseBreached || st.ResolutionBreached || st.Escalated {
			t.Fatalf("%s: flags must be false: %+v", s, st)
		}
	}
}

func TestEvaluateInsufficientData(t *testing.T) {
	now := time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)
	if st := Evaluate(ticket.Ticket{Status: ticket.New, CreatedAt: now}, &Target{EscalationThresholdPercent: 80}, now); st != (Status{}) {
		t.Fatalf("expected empty status without due date, got %+v", st)
	}
	tk := ticket.Ticket{Status: ticket.New, CreatedAt: now, SLADueDate: tp(now.Add(time.Hour))}
	if st := Evaluate(tk, nil, now); st != (Status{}) {
		t.Fatalf("expected empty status without a rule, got %+v", st)
	}
}

func TestEvaluateZeroWindow(t *testing.T) {
	now := time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)
	tk := ticket.Ticket{Status: ticket.New, CreatedAt: now, SLADueDate: tp(now)}
	st := Evaluate(tk, &Target{EscalationThresholdPercent: 80}, now)
	if st.ElapsedPercent == nil || *st.ElapsedPercent != 0 || st.Escalated {
		t.Fatalf("zero window should report 0%% and not escalate: %+v", st)
	}
}

func TestRemainingMinutesRoundsUp(t *testing.T) {
	now := time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)
	cases := []struct {
		d    time.Duration
		want int
	}{
		{90 * time.Second, 2},
		{60 * time.Second, 1},
		{0, 0},
		{-30 * time.Second, 0},
		{-90 * time.Second, -1},
	}
	for _, c := range cases {
		if got := remainingMinutes(now.Add(c.d), now); got != c.want {
			t.Fatalf("remainingMinutes(%v) = %d, want %d", c.d, got, c.want)
		}
	}
}
