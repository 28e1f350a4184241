package main

// Run periodic mailbox scans:
//   go run ./cmd/scheduler          # loop every SCAN_SCHEDULE_INTERVAL
//   go run ./cmd/scheduler -once    # one pass, for cron

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"mail-ingest/internal/bootstrap"
	"mail-ingest/internal/shared/config"
)

func main() {
	once := flag.Bool("once", false, "run a single pass and exit")
	flag.Parse()

	cfg := config.Load()
	app, err := bootstrap.Build(cfg)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Printf("close: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *once {
		n, err := app.Scheduler.RunOnce(ctx)
		if err != nil {
			log.Printf("scheduler pass failed: %v", err)
			os.Exit(1)
		}
		log.Printf("scheduler pass done connections=%d", n)
		return
	}

	log.Printf("scheduler started interval=%s", cfg.ScanScheduleInterval)
	if err := app.Scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("scheduler: %v", err)
		os.Exit(1)
	}
}
