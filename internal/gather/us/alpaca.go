// Package us gathers US equity market data from the Alpaca APIs into the
// local stores used by backtest runs.
package us

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"meridian/internal/domain"
	"meridian/internal/gather"
	"meridian/internal/store"
	"meridian/internal/util"
)

// Compile-time interface check.
var _ gather.Gatherer = (*DailyBarGatherer)(nil)

const (
	fetchAttempts  = 3
	fetchBaseDelay = 2 * time.Second
)

// DailyBarGatherer fetches daily closing bars for a configured symbol list
// via the Alpaca market-data API and writes them to the price store. Reruns
// are idempotent: the store merges by (symbol, date).
type DailyBarGatherer struct {
	client    *marketdata.Client
	store     store.PriceStore
	symbols   []string
	batchSize int
	limiter   *util.RateLimiter
	rng       gather.DateRange
	log       *slog.Logger
}

// NewDailyBarGatherer creates a DailyBarGatherer with the given Alpaca
// credentials, target store, symbol list, and fetch window.
func NewDailyBarGatherer(apiKey, apiSecret, dataURL string, s store.PriceStore, symbols []string, batchSize, rateLimitPerMin int, rng gather.DateRange) *DailyBarGatherer {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	if rateLimitPerMin <= 0 {
		rateLimitPerMin = 200
	}

	return &DailyBarGatherer{
		client:    marketdata.NewClient(opts),
		store:     s,
		symbols:   symbols,
		batchSize: batchSize,
		limiter:   util.NewRateLimiter(rateLimitPerMin),
		rng:       rng,
		log:       slog.Default().With("gatherer", "us-daily"),
	}
}

// Name returns the gatherer identifier.
func (g *DailyBarGatherer) Name() string { return "us-daily" }

// Run fetches daily bars for every configured symbol and writes them to the
// price store, batch by batch.
func (g *DailyBarGatherer) Run(ctx context.Context) error {
	if len(g.symbols) == 0 {
		return fmt.Errorf("no symbols configured")
	}

	totalBatches := (len(g.symbols) + g.batchSize - 1) / g.batchSize
	g.log.Info("starting us-daily",
		"symbols", len(g.symbols),
		"batches", totalBatches,
		"start", g.rng.Start.Format("2006-01-02"),
		"end", g.rng.End.Format("2006-01-02"),
	)

	runStart := time.Now()
	written := 0
	for i := 0; i < len(g.symbols); i += g.batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(i+g.batchSize, len(g.symbols))
		batch := g.symbols[i:end]

		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}

		var points []domain.PricePoint
		err := util.Retry(ctx, fetchAttempts, fetchBaseDelay, func() error {
			var err error
			points, err = g.fetchMultiBars(ctx, batch)
			return err
		})
		if err != nil {
			return fmt.Errorf("fetching batch %d/%d: %w", i/g.batchSize+1, totalBatches, err)
		}

		if len(points) > 0 {
			if err := g.store.WritePrices(ctx, points); err != nil {
				return fmt.Errorf("writing batch %d/%d: %w", i/g.batchSize+1, totalBatches, err)
			}
			written += len(points)
		}

		g.log.Info("batch done",
			"batch", fmt.Sprintf("%d/%d", i/g.batchSize+1, totalBatches),
			"points", len(points),
			"elapsed", time.Since(runStart).Round(time.Second),
		)
	}

	g.log.Info("complete", "points", written, "elapsed", time.Since(runStart).Round(time.Second))
	return nil
}

// fetchMultiBars fetches daily bars for multiple symbols in a single API
// call and flattens them into price points.
func (g *DailyBarGatherer) fetchMultiBars(ctx context.Context, symbols []string) ([]domain.PricePoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	multiBars, err := g.client.GetMultiBars(symbols, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     g.rng.Start,
		End:       g.rng.End,
		Feed:      "sip",
	})
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}

	var points []domain.PricePoint
	for symbol, bars := range multiBars {
		for _, b := range bars {
			points = append(points, domain.PricePoint{
				Symbol: strings.ToUpper(symbol),
				Date:   domain.Day(b.Timestamp),
				Close:  b.Close,
				Volume: int64(b.Volume),
			})
		}
	}
	return points, nil
}
