package sla

import (
	"strings"
	"sync"
	"time"
	_ "time/tzdata"
)

const (
	BusinessStartHour = 8
	BusinessEndHour   = 17
)

// BusinessMinutesPerDay is the length of the fixed business window.
func BusinessMinutesPerDay() int { return (BusinessEndHour - BusinessStartHour) * 60 }

var timezones = map[string]string{
	"US": "America/New_York",
	"UK": "Europe/London",
	"IN": "Asia/Kolkata",
	"DE": "Europe/Berlin",
	"SG": "Asia/Singapore",
	"AU": "Australia/Sydney",
	"JP": "Asia/Tokyo",
	"AE": "Asia/Dubai",
}

func locationKey(location string) string {
	return strings.ToUpper(strings.TrimSpace(location))
}

// TimezoneFor maps a ticket location to its timezone. Unknown locations use UTC.
func TimezoneFor(location string) *time.Location {
	name, ok := timezones[locationKey(location)]
	if !ok {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

type Hours struct {
	StartSec int
	EndSec   int
}

// Calendar describes when SLA clocks run for one location. Holidays are keyed
// by local midnight.
type Calendar struct {
	Location *time.Location
	Hours    map[time.Weekday]Hours
	Holidays map[time.Time]struct{}
}

// NewCalendar returns the Monday to Friday 08:00-17:00 calendar for location.
func NewCalendar(location string) *Calendar {
	hrs := Hours{StartSec: BusinessStartHour * 3600, EndSec: BusinessEndHour * 3600}
	return &Calendar{
		Location: TimezoneFor(location),
		Hours: map[time.Weekday]Hours{
			time.Monday:    hrs,
			time.Tuesday:   hrs,
			time.Wednesday: hrs,
			time.Thursday:  hrs,
			time.Friday:    hrs,
		},
		Holidays: map[time.Time]struct{}{},
	}
}

func (c *Calendar) midnight(t time.Time) time.Time {
	t = t.In(c.Location)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.Location)
}

func (c *Calendar) nextMidnight(t time.Time) time.Time {
	return c.midnight(t).AddDate(0, 0, 1)
}

// window returns the business open and close instants for t's local day.
func (c *Calendar) window(t time.Time) (open, close time.Time, ok bool) {
	day := c.midnight(t)
	if _, holiday := c.Holidays[day]; holiday {
		return time.Time{}, time.Time{}, false
	}
	hrs, ok := c.Hours[day.Weekday()]
	if !ok || hrs.EndSec <= hrs.StartSec {
		return time.Time{}, time.Time{}, false
	}
	open = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, hrs.StartSec, 0, c.Location)
	close = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, hrs.EndSec, 0, c.Location)
	return open, close, true
}

// IsBusinessDay reports whether t falls on a working, non-holiday day.
func (c *Calendar) IsBusinessDay(t time.Time) bool {
	_, _, ok := c.window(t)
	return ok
}

// IsBusinessMoment reports whether t is inside business hours.
func (c *Calendar) IsBusinessMoment(t time.Time) bool {
	open, close, ok := c.window(t)
	return ok && !t.Before(open) && t.Before(close)
}

// RemainingBusinessMinutesToday is the business time left in t's local day:
// the whole window before opening, zero after closing or on non-business days.
func (c *Calendar) RemainingBusinessMinutesToday(t time.Time) int {
	open, close, ok := c.window(t)
	if !ok || !t.Before(close) {
		return 0
	}
	if t.Before(open) {
		t = open
	}
	return int(close.Sub(t) / time.Minute)
}

// BusinessDuration returns the business time elapsed between start and end.
func (c *Calendar) BusinessDuration(start, end time.Time) time.Duration {
	if end.Before(start) {
		start, end = end, start
	}
	total := time.Duration(0)
	cur := start.In(c.Location)
	for cur.Before(end) {
		open, close, ok := c.window(cur)
		if !ok || !cur.Before(close) {
			cur = c.nextMidnight(cur)
			continue
		}
		if cur.Before(open) {
			cur = open
		}
		e := minTime(end, close)
		if e.After(cur) {
			total += e.Sub(cur)
		}
		cur = c.nextMidnight(cur)
	}
	return total
}

func (c *Calendar) withHoliday(day time.Time) *Calendar {
	cp := &Calendar{
		Location: c.Location,
		Hours:    c.Hours,
		Holidays: make(map[time.Time]struct{}, len(c.Holidays)+1),
	}
	for d := range c.Holidays {
		cp.Holidays[d] = struct{}{}
	}
	// the calendar date is taken as given; database dates arrive as UTC midnights
	cp.Holidays[time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, c.Location)] = struct{}{}
	return cp
}

// Calendars caches one calendar per location. Calendars are never mutated once
// published, so callers may hold on to the value returned by For.
type Calendars struct {
	mu   sync.RWMutex
	cals map[string]*Calendar
}

func NewCalendars() *Calendars {
	return &Calendars{cals: map[string]*Calendar{}}
}

// DefaultCalendars backs the package level helpers.
var DefaultCalendars = NewCalendars()

// For returns the calendar for location, building the default one on first use.
func (cs *Calendars) For(location string) *Calendar {
	key := locationKey(location)
	cs.mu.RLock()
	c, ok := cs.cals[key]
	cs.mu.RUnlock()
	if ok {
		return c
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if c, ok := cs.cals[key]; ok {
		return c
	}
	c = NewCalendar(location)
	cs.cals[key] = c
	return c
}

// Set replaces the calendar used for location.
func (cs *Calendars) Set(location string, c *Calendar) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.cals[locationKey(location)] = c
}

// AddHoliday marks day as a non-business day for location.
func (cs *Calendars) AddHoliday(location string, day time.Time) {
	cur := cs.For(location)
	key := locationKey(location)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if c, ok := cs.cals[key]; ok {
		cur = c
	}
	cs.cals[key] = cur.withHoliday(day)
}

// IsBusinessMoment reports whether t is inside business hours at location.
func IsBusinessMoment(t time.Time, location string) bool {
	return DefaultCalendars.For(location).IsBusinessMoment(t)
}

// RemainingBusinessMinutesToday is the business time left in t's day at location.
func RemainingBusinessMinutesToday(t time.Time, location string) int {
	return DefaultCalendars.For(location).RemainingBusinessMinutesToday(t)
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
