package us

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func calendarStub(t *testing.T, dates []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/calendar" {
			t.Errorf("path = %s", r.URL.Path)
		}
		type day struct {
			Date  string `json:"date"`
			Open  string `json:"open"`
			Close string `json:"close"`
		}
		days := make([]day, 0, len(dates))
		for _, d := range dates {
			days = append(days, day{Date: d, Open: "09:30", Close: "16:00"})
		}
		json.NewEncoder(w).Encode(days)
	}))
}

func TestFetchSessions(t *testing.T) {
	// 2024-01-01 is a holiday; the first session of the year is the 2nd.
	srv := calendarStub(t, []string{"2024-01-02", "2024-01-03", "2024-01-04"})
	defer srv.Close()

	cal, err := FetchSessions("key", "secret", srv.URL,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("FetchSessions: %v", err)
	}

	if !cal.IsTradingDay(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Error("2024-01-02 not a trading day")
	}
	if cal.IsTradingDay(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Error("holiday 2024-01-01 reported as a trading day")
	}
	if !cal.Covers(time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)) {
		t.Error("mid-range date not covered")
	}
}

func TestFetchSessionsEmptyRange(t *testing.T) {
	srv := calendarStub(t, nil)
	defer srv.Close()

	_, err := FetchSessions("key", "secret", srv.URL,
		time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC))
	if err == nil {
		t.Fatal("expected an error for a range with no sessions")
	}
}
