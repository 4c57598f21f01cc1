package sla

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConfiguration means no SLA rule or default could be resolved.
	ErrConfiguration = errors.New("sla configuration error")
	// ErrInvariant means a calendar walk exceeded MaxWalkSteps.
	ErrInvariant = errors.New("sla invariant violation")
)

// MaxWalkSteps bounds every calendar walk.
const MaxWalkSteps = 365 * 24 * 60

// AddBusinessDuration moves start forward by d of business time. Whole
// non-business periods are skipped in one step; the result matches a
// minute-by-minute walk. Starting outside business hours counts from the
// next opening.
func (c *Calendar) AddBusinessDuration(start time.Time, d time.Duration) (time.Time, error) {
	if d <= 0 {
		return start, nil
	}
	cur := start.In(c.Location)
	left := d
	for steps := 0; steps < MaxWalkSteps; steps++ {
		open, close, ok := c.window(cur)
		if !ok || !cur.Before(close) {
			cur = c.nextMidnight(cur)
			continue
		}
		if cur.Before(open) {
			cur = open
		}
		avail := close.Sub(cur)
		if avail >= left {
			return cur.Add(left), nil
		}
		left -= avail
		cur = c.nextMidnight(cur)
	}
	return time.Time{}, fmt.Errorf("%w: adding %s from %s in %s", ErrInvariant, d, start.Format(time.RFC3339), c.Location)
}

// AddBusinessHours returns the instant hours business hours after start.
func (c *Calendar) AddBusinessHours(start time.Time, hours int) (time.Time, error) {
	return c.AddBusinessDuration(start, time.Duration(hours)*time.Hour)
}

// AddBusinessDays walks forward until days business days have passed and
// returns that day at start's local time of day. The time of day is not
// clamped to business hours.
func (c *Calendar) AddBusinessDays(start time.Time, days int) (time.Time, error) {
	if days <= 0 {
		return start, nil
	}
	cur := start.In(c.Location)
	n := 0
	for steps := 0; steps < MaxWalkSteps; steps++ {
		cur = cur.AddDate(0, 0, 1)
		if c.IsBusinessDay(cur) {
			n++
			if n == days {
				return cur, nil
			}
		}
	}
	return time.Time{}, fmt.Errorf("%w: adding %d business days from %s in %s", ErrInvariant, days, start.Format(time.RFC3339), c.Location)
}

// AddBusinessHours uses the default calendar for location.
func AddBusinessHours(start time.Time, hours int, location string) (time.Time, error) {
	return DefaultCalendars.For(location).AddBusinessHours(start, hours)
}

// AddBusinessDays uses the default calendar for location.
func AddBusinessDays(start time.Time, days int, location string) (time.Time, error) {
	return DefaultCalendars.For(location).AddBusinessDays(start, days)
}

// Deadlines are the due dates stamped on a new ticket.
type Deadlines struct {
	ResponseDue   time.Time
	ResolutionDue time.Time
}

// ComputeDeadlines applies target to a ticket created at createdAt.
func (c *Calendar) ComputeDeadlines(createdAt time.Time, target Target) (Deadlines, error) {
	resp, err := c.AddBusinessHours(createdAt, target.ResponseHours)
	if err != nil {
		return Deadlines{}, err
	}
	res, err := c.AddBusinessHours(createdAt, target.ResolutionHours)
	if err != nil {
		return Deadlines{}, err
	}
	return Deadlines{ResponseDue: resp, ResolutionDue: res}, nil
}
