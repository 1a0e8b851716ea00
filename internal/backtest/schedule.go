package backtest

import (
	"fmt"
	"time"

	"meridian/internal/calendar"
	"meridian/internal/domain"
)

// Frequency is the rebalancing cadence of a run.
type Frequency string

const (
	Monthly   Frequency = "monthly"
	Quarterly Frequency = "quarterly"
	Annual    Frequency = "annual"
)

// ParseFrequency validates a frequency string from configuration.
func ParseFrequency(s string) (Frequency, error) {
	switch Frequency(s) {
	case Monthly, Quarterly, Annual:
		return Frequency(s), nil
	}
	return "", fmt.Errorf("unknown rebalance frequency %q", s)
}

// months returns the nominal step between rebalance dates.
func (f Frequency) months() int {
	switch f {
	case Monthly:
		return 1
	case Quarterly:
		return 3
	default:
		return 12
	}
}

// PeriodsPerYear returns the number of rebalance periods in a year, used to
// annualize per-period statistics.
func (f Frequency) PeriodsPerYear() float64 {
	switch f {
	case Monthly:
		return 12
	case Quarterly:
		return 4
	default:
		return 1
	}
}

// maxForwardAdjustDays bounds how far a nominal rebalance date may be pushed
// forward to reach a trading day before the schedule is considered broken.
const maxForwardAdjustDays = 30

// Scheduler produces the ordered sequence of rebalance dates for a run.
type Scheduler struct {
	Calendar calendar.Calendar
}

// Dates returns a strictly increasing sequence of trading days between start
// and end at the given frequency. Nominal dates falling on non-trading days
// are adjusted forward, never backward, so a rebalance can never act on a
// date before its information was scheduled to be used. Adjusted dates past
// the end date are dropped.
func (s *Scheduler) Dates(start, end time.Time, freq Frequency) ([]time.Time, error) {
	start = domain.Day(start)
	end = domain.Day(end)
	if end.Before(start) {
		return nil, fmt.Errorf("end date %s before start date %s",
			end.Format("2006-01-02"), start.Format("2006-01-02"))
	}

	var dates []time.Time
	for nominal := start; !nominal.After(end); nominal = nominal.AddDate(0, freq.months(), 0) {
		adjusted, err := s.forwardAdjust(nominal)
		if err != nil {
			return nil, err
		}
		if adjusted.After(end) {
			break
		}
		// Adjustment can collapse two nominal dates onto one trading day;
		// keep the sequence strictly increasing.
		if len(dates) > 0 && !adjusted.After(dates[len(dates)-1]) {
			continue
		}
		dates = append(dates, adjusted)
	}
	return dates, nil
}

func (s *Scheduler) forwardAdjust(nominal time.Time) (time.Time, error) {
	d := nominal
	for i := 0; i <= maxForwardAdjustDays; i++ {
		if s.Calendar.IsTradingDay(d) {
			return d, nil
		}
		d = d.AddDate(0, 0, 1)
	}
	return time.Time{}, fmt.Errorf("no trading day within %d days after %s",
		maxForwardAdjustDays, nominal.Format("2006-01-02"))
}
