package us

import (
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"meridian/internal/calendar"
)

// FetchSessions fetches trading sessions in [start, end] from the Alpaca
// trading calendar API and builds a session calendar for rebalance
// scheduling.
func FetchSessions(apiKey, apiSecret, baseURL string, start, end time.Time) (*calendar.SessionCalendar, error) {
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})

	days, err := client.GetCalendar(alpaca.GetCalendarRequest{
		Start: start,
		End:   end,
	})
	if err != nil {
		return nil, fmt.Errorf("GetCalendar: %w", err)
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("no trading days in %s..%s",
			start.Format("2006-01-02"), end.Format("2006-01-02"))
	}

	sessions := make([]time.Time, 0, len(days))
	for _, day := range days {
		d, err := time.Parse("2006-01-02", day.Date)
		if err != nil {
			continue
		}
		sessions = append(sessions, d)
	}
	return calendar.NewSessionCalendar(sessions), nil
}

// LatestFinishedTradingDay returns the most recent trading day whose market
// session has ended (after 20:05 ET, so extended-hours data has settled). It
// is the natural end bound for a daily gather run.
func LatestFinishedTradingDay(apiKey, apiSecret, baseURL string) (time.Time, error) {
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})

	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.Time{}, fmt.Errorf("loading ET timezone: %w", err)
	}

	now := time.Now().In(et)
	start := now.AddDate(0, 0, -7)

	days, err := client.GetCalendar(alpaca.GetCalendarRequest{
		Start: start,
		End:   now,
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("GetCalendar: %w", err)
	}
	if len(days) == 0 {
		return time.Time{}, fmt.Errorf("no trading days returned from calendar")
	}

	today := now.Format("2006-01-02")
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), 20, 5, 0, 0, et)

	for i := len(days) - 1; i >= 0; i-- {
		day := days[i]
		if day.Date == today {
			if now.After(cutoff) {
				t, _ := time.Parse("2006-01-02", day.Date)
				return t, nil
			}
			continue
		}
		dayDate, err := time.Parse("2006-01-02", day.Date)
		if err != nil {
			continue
		}
		if dayDate.Before(now) {
			return dayDate, nil
		}
	}

	return time.Time{}, fmt.Errorf("could not determine latest finished trading day")
}
