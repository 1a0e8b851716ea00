package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"meridian/internal/config"
	"meridian/internal/gather"
	"meridian/internal/gather/us"
	"meridian/internal/store"
	"meridian/internal/util"
)

func main() {
	var (
		startFlag = flag.String("start", "", "fetch window start (YYYY-MM-DD, overrides config)")
		endFlag   = flag.String("end", "", "fetch window end (YYYY-MM-DD, default: latest finished trading day)")
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

	job := cfg.Gather.USDaily
	if len(job.Symbols) == 0 {
		log.Fatal("no symbols configured under gather.us_daily.symbols")
	}

	startDate := job.StartDate
	if *startFlag != "" {
		startDate = *startFlag
	}
	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		log.Fatalf("invalid start date %q: %v", startDate, err)
	}

	var end time.Time
	if *endFlag != "" {
		if end, err = time.Parse("2006-01-02", *endFlag); err != nil {
			log.Fatalf("invalid end date %q: %v", *endFlag, err)
		}
	} else {
		end, err = us.LatestFinishedTradingDay(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL)
		if err != nil {
			log.Fatalf("determining end date: %v", err)
		}
	}

	prices := store.NewParquetStore(cfg.Storage.DataDir)
	gatherer := us.NewDailyBarGatherer(
		cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL,
		prices, job.Symbols, job.BatchSize, job.RateLimitPerMin,
		gather.DateRange{Start: start, End: end},
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := gatherer.Run(ctx); err != nil {
		log.Fatalf("%s failed: %v", gatherer.Name(), err)
	}
}
