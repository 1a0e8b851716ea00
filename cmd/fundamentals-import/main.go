package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"meridian/internal/config"
	"meridian/internal/gather/us"
	"meridian/internal/store"
	"meridian/internal/util"
)

func main() {
	file := flag.String("file", "", "long-format fundamentals CSV (symbol,as_of,field,value)")
	flag.Parse()
	if *file == "" {
		log.Fatal("usage: fundamentals-import -file <fundamentals.csv>")
	}

	cfgPath := "config/meridian.yaml"
	if p := os.Getenv("MERIDIAN_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))

	f, err := os.Open(*file)
	if err != nil {
		log.Fatalf("opening %s: %v", *file, err)
	}
	defer f.Close()

	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening sqlite store: %v", err)
	}
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	importer := us.NewFundamentalsImporter(f, db)
	if err := importer.Run(ctx); err != nil {
		log.Fatalf("%s failed: %v", importer.Name(), err)
	}
}
