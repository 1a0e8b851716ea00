// Package calendar provides trading-day awareness for rebalance scheduling.
// Calendars are immutable after construction so they can be shared across
// concurrent backtest runs.
package calendar

import (
	"sort"
	"time"

	"meridian/internal/domain"
)

// Calendar reports whether a given date is a trading session. All dates are
// interpreted at day granularity (midnight UTC).
type Calendar interface {
	IsTradingDay(date time.Time) bool
}

// ---------------------------------------------------------------------------
// WeekdayCalendar
// ---------------------------------------------------------------------------

// WeekdayCalendar treats every Monday through Friday as a trading day. It
// ignores exchange holidays, which makes it fully deterministic with no
// external data. It is the default for tests and offline runs.
type WeekdayCalendar struct{}

// IsTradingDay returns true for Monday through Friday.
func (WeekdayCalendar) IsTradingDay(date time.Time) bool {
	wd := domain.Day(date).Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// ---------------------------------------------------------------------------
// SessionCalendar
// ---------------------------------------------------------------------------

// SessionCalendar is backed by an explicit list of trading sessions, e.g.
// fetched from the Alpaca calendar API before a run starts. Lookups outside
// the covered range return false.
type SessionCalendar struct {
	days  map[time.Time]struct{}
	first time.Time
	last  time.Time
}

// NewSessionCalendar builds a SessionCalendar from the given session dates.
func NewSessionCalendar(sessions []time.Time) *SessionCalendar {
	c := &SessionCalendar{days: make(map[time.Time]struct{}, len(sessions))}

	sorted := make([]time.Time, len(sessions))
	copy(sorted, sessions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	for _, s := range sorted {
		c.days[domain.Day(s)] = struct{}{}
	}
	if len(sorted) > 0 {
		c.first = domain.Day(sorted[0])
		c.last = domain.Day(sorted[len(sorted)-1])
	}
	return c
}

// IsTradingDay returns true if the date is one of the known sessions.
func (c *SessionCalendar) IsTradingDay(date time.Time) bool {
	_, ok := c.days[domain.Day(date)]
	return ok
}

// Covers reports whether the date falls inside the range of known sessions.
// Callers should not trust IsTradingDay answers outside this range.
func (c *SessionCalendar) Covers(date time.Time) bool {
	if len(c.days) == 0 {
		return false
	}
	d := domain.Day(date)
	return !d.Before(c.first) && !d.After(c.last)
}
