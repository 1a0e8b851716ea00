// Package backtest implements the point-in-time backtesting engine: the
// rebalance scheduler, friction model, portfolio ledger, weighting policies,
// the Backtester state machine driving the simulation loop, and the
// performance metrics computed from its output.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"meridian/internal/calendar"
	"meridian/internal/domain"
	"meridian/internal/pit"
	"meridian/internal/strategy"
)

// State is the lifecycle phase of a Backtester.
type State int

const (
	StateInitialized State = iota
	StateRunning
	StateCompleted
	StateAborted
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Config is the full parameterization of one run.
type Config struct {
	StartDate      time.Time
	EndDate        time.Time
	InitialCapital float64
	Universe       []string

	Frequency     Frequency
	SelectionRule SelectionRule
	TopN          int
	Threshold     float64

	WeightScheme WeightScheme
	MinWeight    float64
	MaxWeight    float64
	VolLookback  int

	CommissionRate float64
	SlippageRate   float64

	// MaxSnapshotAgeDays also requires every universe member to have a
	// qualifying fundamental snapshot on each rebalance date; 0 disables
	// the requirement for price-only strategies.
	MaxSnapshotAgeDays int

	RiskFreeRate float64
}

// Validate fails fast on configuration errors, before any simulation state
// is created.
func (c *Config) Validate() error {
	if c.EndDate.Before(c.StartDate) {
		return fmt.Errorf("end date %s before start date %s",
			c.EndDate.Format("2006-01-02"), c.StartDate.Format("2006-01-02"))
	}
	if c.InitialCapital <= 0 {
		return fmt.Errorf("initial capital must be positive, got %g", c.InitialCapital)
	}
	if len(c.Universe) == 0 {
		return errors.New("universe must not be empty")
	}
	if _, err := ParseFrequency(string(c.Frequency)); err != nil {
		return err
	}
	if _, err := ParseSelectionRule(string(c.SelectionRule)); err != nil {
		return err
	}
	if c.SelectionRule == TopN && c.TopN <= 0 {
		return fmt.Errorf("top_n selection requires a positive N, got %d", c.TopN)
	}
	if _, err := ParseWeightScheme(string(c.WeightScheme)); err != nil {
		return err
	}
	if c.WeightScheme == InverseVolWeight && c.VolLookback < 2 {
		return fmt.Errorf("inverse-volatility weighting requires a lookback of at least 2 days, got %d", c.VolLookback)
	}
	if c.CommissionRate < 0 || c.SlippageRate < 0 {
		return errors.New("commission and slippage rates must not be negative")
	}
	if c.MinWeight < 0 || c.MaxWeight < 0 || c.MinWeight > 1 || c.MaxWeight > 1 {
		return errors.New("weight caps must be within [0, 1]")
	}
	if c.MinWeight > 0 && c.MaxWeight > 0 && c.MinWeight > c.MaxWeight {
		return fmt.Errorf("min weight %g above max weight %g", c.MinWeight, c.MaxWeight)
	}
	return nil
}

// Backtester drives one simulation run. It owns its ledger and result for
// the lifetime of the run; the data view is shared read-only, so independent
// runs may execute concurrently, but one run is strictly sequential: each
// date's decisions depend on the committed state of the previous date.
type Backtester struct {
	cfg      Config
	view     *pit.View
	ranker   strategy.Ranker
	sched    *Scheduler
	friction *FrictionModel
	weighter *Weighter
	logger   *slog.Logger

	state State
}

// New validates the configuration and returns a Backtester in the
// Initialized state.
func New(cfg Config, view *pit.View, ranker strategy.Ranker, cal calendar.Calendar, logger *slog.Logger) (*Backtester, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid backtest config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Backtester{
		cfg:      cfg,
		view:     view,
		ranker:   ranker,
		sched:    &Scheduler{Calendar: cal},
		friction: &FrictionModel{CommissionRate: cfg.CommissionRate, SlippageRate: cfg.SlippageRate},
		weighter: &Weighter{
			Scheme:      cfg.WeightScheme,
			MinWeight:   cfg.MinWeight,
			MaxWeight:   cfg.MaxWeight,
			VolLookback: cfg.VolLookback,
		},
		logger: logger.With("ranker", ranker.Name()),
		state:  StateInitialized,
	}, nil
}

// State returns the current lifecycle state.
func (b *Backtester) State() State {
	return b.state
}

// Run executes the simulation loop. It always returns a Result; when the
// run aborts, the Result carries the reason and the last committed snapshot,
// and the triggering error is returned alongside it. Data gaps inside the
// loop never abort a run — affected symbols are excluded, counted, and
// logged.
func (b *Backtester) Run(ctx context.Context) (*Result, error) {
	if b.state != StateInitialized {
		return nil, fmt.Errorf("backtester already ran (state %s)", b.state)
	}
	b.state = StateRunning

	res := &Result{State: StateRunning}

	dates, err := b.sched.Dates(b.cfg.StartDate, b.cfg.EndDate, b.cfg.Frequency)
	if err != nil {
		return b.abort(res, fmt.Errorf("building rebalance schedule: %w", err))
	}
	if len(dates) == 0 {
		return b.abort(res, errors.New("no rebalance dates in range"))
	}

	universe := normalizeUniverse(b.cfg.Universe)
	ledger := NewLedger(b.cfg.InitialCapital)

	for _, d := range dates {
		// Cancellation is checked once per iteration; the ledger is always
		// left in the last fully-committed state.
		if err := ctx.Err(); err != nil {
			return b.abort(res, fmt.Errorf("run canceled before %s: %w", d.Format("2006-01-02"), err))
		}

		asOf := b.view.At(d)
		candidates, excluded := b.buildCandidates(asOf, universe, res)

		picks, err := b.ranker.Rank(ctx, asOf, candidates)
		if err != nil {
			return b.abort(res, fmt.Errorf("ranking on %s: %w", d.Format("2006-01-02"), err))
		}
		selected := Select(picks, b.cfg.SelectionRule, b.cfg.TopN, b.cfg.Threshold)

		weights, err := b.weighter.Weights(asOf, selected)
		if errors.Is(err, ErrWeightConvergence) {
			b.logger.Warn("weight caps infeasible, using uncapped equal weights",
				"date", d.Format("2006-01-02"), "error", err)
			weights = EqualWeights(selected)
		} else if err != nil {
			return b.abort(res, fmt.Errorf("weighting on %s: %w", d.Format("2006-01-02"), err))
		}

		trades, err := b.planTrades(d, asOf, ledger, weights)
		if err != nil {
			return b.abort(res, err)
		}
		for _, t := range trades {
			if err := ledger.Apply(t); err != nil {
				return b.abort(res, fmt.Errorf("applying %s %s qty=%g on %s: %w",
					t.Side, t.Symbol, t.Quantity, d.Format("2006-01-02"), err))
			}
			res.Transactions = append(res.Transactions, t)
		}

		snap, stale := ledger.Snapshot(d, asOf)
		if len(stale) > 0 {
			b.logger.Warn("positions valued at stale marks",
				"date", d.Format("2006-01-02"), "symbols", stale)
		}
		res.Snapshots = append(res.Snapshots, snap)
		res.Summary = append(res.Summary, SummaryRow{
			Date:       d,
			TotalValue: snap.TotalValue,
			Cash:       snap.Cash,
			Return:     snap.TotalValue/b.cfg.InitialCapital - 1,
			Excluded:   excluded,
		})

		b.logger.Info("rebalance committed",
			"date", d.Format("2006-01-02"),
			"total_value", snap.TotalValue,
			"cash", snap.Cash,
			"positions", len(snap.Positions),
			"trades", len(trades),
			"excluded", excluded)
	}

	res.Metrics = ComputeMetrics(res.Snapshots, res.Transactions, b.cfg.Frequency.PeriodsPerYear(), b.cfg.RiskFreeRate)
	last := res.Snapshots[len(res.Snapshots)-1]
	res.LastSnapshot = &last
	res.State = StateCompleted
	b.state = StateCompleted
	return res, nil
}

// buildCandidates filters the universe down to symbols tradeable on the
// date: a price must exist, and when the run requires fundamentals, a
// qualifying snapshot too. Every drop is counted and recorded — exclusions
// are a first-class output, not a log line.
func (b *Backtester) buildCandidates(asOf *pit.AsOfView, universe []string, res *Result) ([]string, int) {
	var candidates []string
	excluded := 0
	for _, sym := range universe {
		reason := ""
		if _, err := asOf.Price(sym); err != nil {
			reason = "missing price"
		} else if b.cfg.MaxSnapshotAgeDays > 0 {
			if _, err := asOf.Snapshot(sym, b.cfg.MaxSnapshotAgeDays); err != nil {
				reason = "no qualifying snapshot"
			}
		}
		if reason != "" {
			excluded++
			res.Exclusions = append(res.Exclusions, Exclusion{Date: asOf.Date(), Symbol: sym, Reason: reason})
			b.logger.Warn("excluding symbol",
				"date", asOf.Date().Format("2006-01-02"), "symbol", sym, "reason", reason)
			continue
		}
		candidates = append(candidates, sym)
	}
	return candidates, excluded
}

// Trades below this notional are rebalancing noise and are skipped rather
// than routed through the friction model.
const minTradeNotional = 1e-6

// planTrades diffs the target weights against current holdings and produces
// the fills for this date, sells before buys so sale proceeds fund the buys.
// Buy quantities are sized so the cash outflow including slippage and
// commission exactly equals the budgeted notional, and the total buy budget
// is scaled down to the cash available after sells, so the ledger's cash
// invariant holds by construction.
func (b *Backtester) planTrades(date time.Time, asOf *pit.AsOfView, ledger *Ledger, weights []TargetWeight) ([]domain.Trade, error) {
	total, _ := ledger.MarkToMarket(asOf)

	targets := make(map[string]float64, len(weights))
	for _, w := range weights {
		targets[w.Symbol] = w.Weight * total
	}

	var trades []domain.Trade
	sellProceeds := 0.0

	// Sells: held symbols leaving the portfolio or shrinking. A held symbol
	// with no price today cannot be traded; it rides at its stale mark.
	for _, sym := range ledger.Symbols() {
		pos, _ := ledger.Position(sym)
		price, err := asOf.Price(sym)
		if err != nil {
			b.logger.Warn("holding untradeable symbol at stale mark",
				"date", date.Format("2006-01-02"), "symbol", sym)
			delete(targets, sym)
			continue
		}

		current := pos.Quantity * price.Close
		delta := targets[sym] - current
		if delta >= -minTradeNotional {
			continue
		}
		qty := -delta / price.Close
		if qty > pos.Quantity {
			qty = pos.Quantity
		}
		t, err := b.friction.Execute(date, sym, domain.SideSell, qty, price.Close)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
		sellProceeds += t.Notional() - t.Cost
	}

	// Buys, in symbol order for determinism. weights is already sorted.
	type buyIntent struct {
		symbol string
		price  float64
		outlay float64
	}
	var buys []buyIntent
	buyBudget := 0.0
	for _, w := range weights {
		if _, ok := targets[w.Symbol]; !ok {
			continue
		}
		price, err := asOf.Price(w.Symbol)
		if err != nil {
			// Weights come from the candidate universe, which was filtered
			// on price availability.
			return nil, fmt.Errorf("price for selected symbol %s on %s: %w",
				w.Symbol, date.Format("2006-01-02"), err)
		}
		current := 0.0
		if pos, ok := ledger.Position(w.Symbol); ok {
			current = pos.Quantity * price.Close
		}
		delta := targets[w.Symbol] - current
		if delta <= minTradeNotional {
			continue
		}
		buys = append(buys, buyIntent{symbol: w.Symbol, price: price.Close, outlay: delta})
		buyBudget += delta
	}

	cashAfterSells := ledger.Cash() + sellProceeds
	scale := 1.0
	if buyBudget > cashAfterSells {
		if cashAfterSells <= 0 {
			return trades, nil
		}
		scale = cashAfterSells / buyBudget
	}

	for _, intent := range buys {
		outlay := intent.outlay * scale
		if outlay <= minTradeNotional {
			continue
		}
		// Outflow is qty * price * (1+slippage) * (1+commission); invert so
		// the outflow equals the budgeted outlay exactly.
		qty := outlay / (intent.price * (1 + b.friction.SlippageRate) * (1 + b.friction.CommissionRate))
		t, err := b.friction.Execute(date, intent.symbol, domain.SideBuy, qty, intent.price)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}

	return trades, nil
}

func (b *Backtester) abort(res *Result, err error) (*Result, error) {
	b.state = StateAborted
	res.State = StateAborted
	res.Reason = err.Error()
	if n := len(res.Snapshots); n > 0 {
		last := res.Snapshots[n-1]
		res.LastSnapshot = &last
	}
	b.logger.Error("run aborted", "reason", err)
	return res, err
}

// normalizeUniverse sorts and deduplicates the configured universe so every
// per-date pass iterates in a stable order.
func normalizeUniverse(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
