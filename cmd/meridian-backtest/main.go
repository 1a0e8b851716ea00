package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"meridian/internal/backtest"
	"meridian/internal/calendar"
	"meridian/internal/config"
	"meridian/internal/gather/us"
	"meridian/internal/pit"
	"meridian/internal/store"
	"meridian/internal/strategy"
	"meridian/internal/strategy/builtins"
	"meridian/internal/util"
)

// Price history is loaded this many days before the run start so trailing
// windows have data on the first rebalance date.
const lookbackDays = 400

func main() {
	var (
		strategyName      = flag.String("strategy", "momentum", "ranker to use (see -list)")
		list              = flag.Bool("list", false, "list available rankers and exit")
		name              = flag.String("name", "", "run name recorded with the result")
		outDir            = flag.String("out", "", "directory for summary/transactions CSV export")
		momentumLookback  = flag.Int("momentum-lookback", 63, "momentum lookback in trading days")
		fundamentalFields = flag.String("fundamental-fields", "", "comma-separated snapshot fields to register rankers for")
	)
	flag.Parse()

	cfgPath := "config/meridian.yaml"
	if p := os.Getenv("MERIDIAN_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))

	registry := buildRegistry(*momentumLookback, *fundamentalFields, cfg.Backtest.MaxSnapshotAgeDays)
	if *list {
		for _, n := range registry.List() {
			fmt.Println(n)
		}
		return
	}
	ranker, ok := registry.Get(*strategyName)
	if !ok {
		log.Fatalf("unknown strategy %q (use -list)", *strategyName)
	}

	btCfg, err := engineConfig(&cfg.Backtest)
	if err != nil {
		log.Fatalf("invalid backtest config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	prices := store.NewParquetStore(cfg.Storage.DataDir)
	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening sqlite store: %v", err)
	}
	defer db.Close()

	view, err := pit.Load(ctx, prices, db, btCfg.Universe,
		btCfg.StartDate.AddDate(0, 0, -lookbackDays), btCfg.EndDate, cfg.Backtest.FilingLagDays)
	if err != nil {
		log.Fatalf("loading data: %v", err)
	}

	cal, err := tradingCalendar(cfg, btCfg.StartDate, btCfg.EndDate)
	if err != nil {
		log.Fatalf("building trading calendar: %v", err)
	}

	bt, err := backtest.New(btCfg, view, ranker, cal, nil)
	if err != nil {
		log.Fatalf("creating backtester: %v", err)
	}
	res, err := bt.Run(ctx)
	if err != nil {
		log.Fatalf("run aborted: %v", err)
	}

	printMetrics(res)

	if *outDir != "" {
		if err := exportCSV(res, *outDir); err != nil {
			log.Fatalf("exporting CSV: %v", err)
		}
		fmt.Printf("wrote summary.csv, transactions.csv, equity.parquet to %s\n", *outDir)
	}

	id, err := saveRun(ctx, db, res, *name, *strategyName, &cfg.Backtest)
	if err != nil {
		log.Fatalf("saving run: %v", err)
	}
	fmt.Printf("saved run %d\n", id)
}

// tradingCalendar fetches real exchange sessions when Alpaca credentials are
// configured and approximates with weekdays otherwise. Sessions are fetched
// past the run end because nominal rebalance dates forward-adjust.
func tradingCalendar(cfg *config.Config, start, end time.Time) (calendar.Calendar, error) {
	if cfg.Alpaca.APIKey == "" || cfg.Alpaca.APISecret == "" {
		return calendar.WeekdayCalendar{}, nil
	}
	return us.FetchSessions(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL,
		start, end.AddDate(0, 0, 45))
}

func buildRegistry(momentumLookback int, fundamentalFields string, maxAgeDays int) *strategy.Registry {
	registry := strategy.NewRegistry()
	registry.Register(builtins.NewMomentum(momentumLookback))
	for _, field := range strings.Split(fundamentalFields, ",") {
		if field = strings.TrimSpace(field); field != "" {
			registry.Register(builtins.NewFundamentalField(field, maxAgeDays))
		}
	}
	return registry
}

func engineConfig(bc *config.BacktestConfig) (backtest.Config, error) {
	start, err := time.Parse("2006-01-02", bc.StartDate)
	if err != nil {
		return backtest.Config{}, fmt.Errorf("parsing start_date %q: %w", bc.StartDate, err)
	}
	end, err := time.Parse("2006-01-02", bc.EndDate)
	if err != nil {
		return backtest.Config{}, fmt.Errorf("parsing end_date %q: %w", bc.EndDate, err)
	}

	return backtest.Config{
		StartDate:          start,
		EndDate:            end,
		InitialCapital:     bc.InitialCapital,
		Universe:           bc.Universe,
		Frequency:          backtest.Frequency(bc.Frequency),
		SelectionRule:      backtest.SelectionRule(bc.Selection.Rule),
		TopN:               bc.Selection.TopN,
		Threshold:          bc.Selection.Threshold,
		WeightScheme:       backtest.WeightScheme(bc.Weighting.Scheme),
		MinWeight:          bc.Weighting.MinWeight,
		MaxWeight:          bc.Weighting.MaxWeight,
		VolLookback:        bc.Weighting.VolLookback,
		CommissionRate:     bc.CommissionRate,
		SlippageRate:       bc.SlippageRate,
		MaxSnapshotAgeDays: bc.MaxSnapshotAgeDays,
		RiskFreeRate:       bc.RiskFreeRate,
	}, nil
}

func printMetrics(res *backtest.Result) {
	m := res.Metrics
	fmt.Printf("rebalances:    %d\n", m.RebalanceDays)
	fmt.Printf("total return:  %.2f%%\n", m.TotalReturn*100)
	fmt.Printf("cagr:          %.2f%%\n", m.CAGR*100)
	fmt.Printf("volatility:    %.2f%%\n", m.Volatility*100)
	fmt.Printf("sharpe:        %.2f\n", m.Sharpe)
	fmt.Printf("max drawdown:  %.2f%%\n", m.MaxDrawdown*100)
	fmt.Printf("turnover:      %.2f\n", m.Turnover)
	fmt.Printf("win rate:      %.2f%% (%d round trips)\n", m.WinRate*100, m.RoundTrips)
	if n := len(res.Exclusions); n > 0 {
		fmt.Printf("exclusions:    %d (see summary)\n", n)
	}
}

func exportCSV(res *backtest.Result, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	sf, err := os.Create(filepath.Join(dir, "summary.csv"))
	if err != nil {
		return err
	}
	defer sf.Close()
	if err := res.WriteSummaryCSV(sf); err != nil {
		return err
	}

	tf, err := os.Create(filepath.Join(dir, "transactions.csv"))
	if err != nil {
		return err
	}
	defer tf.Close()
	if err := res.WriteTransactionsCSV(tf); err != nil {
		return err
	}

	return store.WriteEquityCurve(filepath.Join(dir, "equity.parquet"), res.SummaryRows())
}

func saveRun(ctx context.Context, runs store.RunStore, res *backtest.Result, name, strategyName string, bc *config.BacktestConfig) (int64, error) {
	configJSON, err := json.Marshal(bc)
	if err != nil {
		return 0, err
	}
	metricsJSON, err := json.Marshal(res.Metrics)
	if err != nil {
		return 0, err
	}
	if name == "" {
		name = fmt.Sprintf("%s-%s", strategyName, time.Now().UTC().Format("20060102-150405"))
	}

	return runs.SaveRun(ctx, &store.RunRecord{
		RunHeader: store.RunHeader{
			Name:     name,
			Strategy: strategyName,
		},
		ConfigJSON:   string(configJSON),
		MetricsJSON:  string(metricsJSON),
		Summary:      res.SummaryRows(),
		Transactions: res.TransactionRows(),
	})
}
