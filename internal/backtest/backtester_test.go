package backtest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"reflect"
	"testing"
	"time"

	"meridian/internal/calendar"
	"meridian/internal/domain"
	"meridian/internal/pit"
	"meridian/internal/util"
)

// stubRanker returns fixed scores regardless of date.
type stubRanker struct {
	scores map[string]float64
}

func (s *stubRanker) Name() string { return "stub" }

func (s *stubRanker) Rank(_ context.Context, _ *pit.AsOfView, universe []string) ([]domain.Pick, error) {
	var picks []domain.Pick
	for _, sym := range universe {
		if score, ok := s.scores[sym]; ok {
			picks = append(picks, domain.Pick{Symbol: sym, Score: score})
		}
	}
	return picks, nil
}

// snapshotRanker scores by a fundamental field, seeing only what the view
// exposes.
type snapshotRanker struct {
	field string
}

func (s *snapshotRanker) Name() string { return "snapshot" }

func (s *snapshotRanker) Rank(_ context.Context, view *pit.AsOfView, universe []string) ([]domain.Pick, error) {
	var picks []domain.Pick
	for _, sym := range universe {
		snap, err := view.Snapshot(sym, 0)
		if err != nil {
			continue
		}
		if v, ok := snap.Fields[s.field]; ok {
			picks = append(picks, domain.Pick{Symbol: sym, Score: v})
		}
	}
	return picks, nil
}

type failingRanker struct{}

func (failingRanker) Name() string { return "failing" }

func (failingRanker) Rank(context.Context, *pit.AsOfView, []string) ([]domain.Pick, error) {
	return nil, errors.New("model unavailable")
}

func testLogger() *slog.Logger {
	return util.NewLoggerTo(io.Discard, "error", "text")
}

// quarterlyABCView builds the canonical three-symbol fixture: A rises 10%
// per quarter, B stays flat, C has no price data at all.
func quarterlyABCView() *pit.View {
	v := pit.NewView(60)
	dates := []time.Time{
		date(2020, 1, 1), date(2020, 4, 1), date(2020, 7, 1), date(2020, 10, 1),
	}
	priceA := 100.0
	for _, d := range dates {
		v.AddPrices([]domain.PricePoint{
			{Symbol: "A", Date: d, Close: priceA},
			{Symbol: "B", Date: d, Close: 50},
		})
		priceA *= 1.10
	}
	return v
}

func quarterlyABCConfig() Config {
	return Config{
		StartDate:      date(2020, 1, 1),
		EndDate:        date(2020, 12, 31),
		InitialCapital: 10000,
		Universe:       []string{"A", "B", "C"},
		Frequency:      Quarterly,
		SelectionRule:  TopN,
		TopN:           2,
		WeightScheme:   EqualWeight,
		CommissionRate: 0.001,
		SlippageRate:   0.0005,
	}
}

func TestBacktesterEndToEnd(t *testing.T) {
	view := quarterlyABCView()
	ranker := &stubRanker{scores: map[string]float64{"A": 0.9, "B": 0.5, "C": 0.1}}

	bt, err := New(quarterlyABCConfig(), view, ranker, calendar.WeekdayCalendar{}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := bt.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateCompleted {
		t.Fatalf("state = %s, want completed", res.State)
	}
	if bt.State() != StateCompleted {
		t.Errorf("backtester state = %s", bt.State())
	}

	if len(res.Summary) != 4 {
		t.Fatalf("summary has %d rows, want 4", len(res.Summary))
	}

	// Q1: $5,000 budgeted per symbol; friction eats ~$15, cash goes to ~0.
	q1 := res.Summary[0]
	if math.Abs(q1.TotalValue-9985) > 1 {
		t.Errorf("Q1 total value = %.2f, want ~9985", q1.TotalValue)
	}
	if q1.Cash > 1e-6 {
		t.Errorf("Q1 cash = %v, want ~0 (fully invested)", q1.Cash)
	}

	// C has no prices: excluded on every one of the 4 dates, visibly.
	for i, row := range res.Summary {
		if row.Excluded != 1 {
			t.Errorf("summary[%d].Excluded = %d, want 1", i, row.Excluded)
		}
	}
	if len(res.Exclusions) != 4 {
		t.Fatalf("exclusion log has %d entries, want 4", len(res.Exclusions))
	}
	for _, ex := range res.Exclusions {
		if ex.Symbol != "C" || ex.Reason != "missing price" {
			t.Errorf("unexpected exclusion %+v", ex)
		}
	}

	// Q1 trades: buys in symbol order, no sells from an empty book.
	if len(res.Transactions) < 2 {
		t.Fatalf("transactions = %v", res.Transactions)
	}
	if res.Transactions[0].Symbol != "A" || res.Transactions[0].Side != domain.SideBuy ||
		res.Transactions[1].Symbol != "B" || res.Transactions[1].Side != domain.SideBuy {
		t.Errorf("Q1 trades = %+v, want buy A then buy B", res.Transactions[:2])
	}

	// Later rebalances sell the outperformer before buying the laggard.
	var q2Trades []domain.Trade
	for _, tr := range res.Transactions {
		if tr.Date.Equal(date(2020, 4, 1)) {
			q2Trades = append(q2Trades, tr)
		}
	}
	if len(q2Trades) != 2 || q2Trades[0].Side != domain.SideSell || q2Trades[0].Symbol != "A" ||
		q2Trades[1].Side != domain.SideBuy || q2Trades[1].Symbol != "B" {
		t.Errorf("Q2 trades = %+v, want sell A then buy B", q2Trades)
	}

	// A/B equal-weight compounding at ~5% per quarter after the first.
	final := res.Summary[3].TotalValue
	if final < 11400 || final > 11700 {
		t.Errorf("final value = %.2f, want ~11550", final)
	}

	if res.Metrics.RebalanceDays != 4 {
		t.Errorf("metrics rebalance days = %d", res.Metrics.RebalanceDays)
	}
	if res.LastSnapshot == nil || !res.LastSnapshot.Date.Equal(date(2020, 10, 1)) {
		t.Errorf("last snapshot = %+v", res.LastSnapshot)
	}
}

func TestBacktesterDeterminism(t *testing.T) {
	view := quarterlyABCView()
	run := func() *Result {
		ranker := &stubRanker{scores: map[string]float64{"A": 0.9, "B": 0.5, "C": 0.1}}
		bt, err := New(quarterlyABCConfig(), view, ranker, calendar.WeekdayCalendar{}, testLogger())
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		res, err := bt.Run(context.Background())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return res
	}

	first, second := run(), run()
	if !reflect.DeepEqual(first.Transactions, second.Transactions) {
		t.Error("trade sequences differ between identical runs")
	}
	if !reflect.DeepEqual(first.Snapshots, second.Snapshots) {
		t.Error("snapshot sequences differ between identical runs")
	}
}

func TestBacktesterNoLookAhead(t *testing.T) {
	v := pit.NewView(60)
	d := date(2020, 6, 1) // Monday
	v.AddPrices([]domain.PricePoint{
		{Symbol: "GOOD", Date: d, Close: 100},
		{Symbol: "FUT", Date: d, Close: 100},
	})
	v.AddSnapshots([]domain.FundamentalSnapshot{
		// Available 2020-03-31: knowable on the rebalance date.
		{Symbol: "GOOD", AsOfDate: date(2020, 1, 31), Fields: map[string]float64{"score": 0.2}},
		// Available 2020-07-14: a spectacular score the simulation must not
		// be able to see on 2020-06-01.
		{Symbol: "FUT", AsOfDate: date(2020, 5, 15), Fields: map[string]float64{"score": 99}},
	})

	cfg := Config{
		StartDate:      d,
		EndDate:        date(2020, 6, 30),
		InitialCapital: 10000,
		Universe:       []string{"FUT", "GOOD"},
		Frequency:      Monthly,
		SelectionRule:  TopN,
		TopN:           1,
		WeightScheme:   EqualWeight,
	}
	bt, err := New(cfg, v, &snapshotRanker{field: "score"}, calendar.WeekdayCalendar{}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := bt.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, tr := range res.Transactions {
		if tr.Symbol == "FUT" {
			t.Fatalf("future snapshot influenced selection: traded %+v", tr)
		}
	}
	if len(res.Transactions) == 0 || res.Transactions[0].Symbol != "GOOD" {
		t.Errorf("transactions = %+v, want a buy of GOOD", res.Transactions)
	}
}

func TestBacktesterAbortsOnRankerError(t *testing.T) {
	bt, err := New(quarterlyABCConfig(), quarterlyABCView(), failingRanker{}, calendar.WeekdayCalendar{}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := bt.Run(context.Background())
	if err == nil {
		t.Fatal("Run succeeded with a failing ranker")
	}
	if res.State != StateAborted {
		t.Errorf("state = %s, want aborted", res.State)
	}
	if res.Reason == "" {
		t.Error("aborted result missing reason")
	}
}

func TestBacktesterAbortsOnCancel(t *testing.T) {
	bt, err := New(quarterlyABCConfig(), quarterlyABCView(),
		&stubRanker{scores: map[string]float64{"A": 1}}, calendar.WeekdayCalendar{}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := bt.Run(ctx)
	if err == nil {
		t.Fatal("Run succeeded with a canceled context")
	}
	if res.State != StateAborted {
		t.Errorf("state = %s, want aborted", res.State)
	}
}

func TestBacktesterRunsOnce(t *testing.T) {
	bt, err := New(quarterlyABCConfig(), quarterlyABCView(),
		&stubRanker{scores: map[string]float64{"A": 1, "B": 0.5}}, calendar.WeekdayCalendar{}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := bt.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if _, err := bt.Run(context.Background()); err == nil {
		t.Error("second Run on the same backtester succeeded")
	}
}

func TestBacktesterCapFallback(t *testing.T) {
	// Two positions capped at 0.2 is infeasible: the date falls back to
	// uncapped equal weight instead of aborting.
	cfg := quarterlyABCConfig()
	cfg.MaxWeight = 0.2

	bt, err := New(cfg, quarterlyABCView(),
		&stubRanker{scores: map[string]float64{"A": 0.9, "B": 0.5}}, calendar.WeekdayCalendar{}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := bt.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateCompleted {
		t.Fatalf("state = %s, want completed", res.State)
	}
	// Equal-weight fallback still invests fully.
	if res.Summary[0].Cash > 1e-6 {
		t.Errorf("Q1 cash = %v, want ~0 under equal-weight fallback", res.Summary[0].Cash)
	}
}

func TestConfigValidate(t *testing.T) {
	valid := quarterlyABCConfig()
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"end before start", func(c *Config) { c.EndDate = c.StartDate.AddDate(-1, 0, 0) }},
		{"zero capital", func(c *Config) { c.InitialCapital = 0 }},
		{"empty universe", func(c *Config) { c.Universe = nil }},
		{"bad frequency", func(c *Config) { c.Frequency = "weekly" }},
		{"bad selection rule", func(c *Config) { c.SelectionRule = "best" }},
		{"top-n without n", func(c *Config) { c.TopN = 0 }},
		{"bad weight scheme", func(c *Config) { c.WeightScheme = "random" }},
		{"negative commission", func(c *Config) { c.CommissionRate = -0.01 }},
		{"min above max", func(c *Config) { c.MinWeight = 0.5; c.MaxWeight = 0.3 }},
		{"cap above one", func(c *Config) { c.MaxWeight = 1.5 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := quarterlyABCConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("invalid config accepted")
			}
		})
	}
}
