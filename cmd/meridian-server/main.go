package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"meridian/internal/calendar"
	"meridian/internal/config"
	"meridian/internal/httpapi"
	"meridian/internal/store"
	"meridian/internal/strategy"
	"meridian/internal/strategy/builtins"
	"meridian/internal/util"
)

func main() {
	cfgPath := "config/meridian.yaml"
	if p := os.Getenv("MERIDIAN_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	prices := store.NewParquetStore(cfg.Storage.DataDir)
	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening sqlite store: %v", err)
	}
	defer db.Close()

	registry := strategy.NewRegistry()
	registry.Register(builtins.NewMomentum(63))
	registry.Register(builtins.NewMomentum(252))
	registry.Register(builtins.NewFundamentalField("eps", cfg.Backtest.MaxSnapshotAgeDays))
	registry.Register(builtins.NewFundamentalField("revenue", cfg.Backtest.MaxSnapshotAgeDays))

	api := httpapi.NewServer(registry, prices, db, db, calendar.WeekdayCalendar{}, logger)
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: api.Handler(),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}
