package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mail-ingest/internal/bootstrap"
	"mail-ingest/internal/queue"
	"mail-ingest/internal/shared/config"
	"mail-ingest/internal/shared/server"
	"mail-ingest/internal/shared/telemetry"
	"mail-ingest/internal/workerproc"
)

const shutdownTimeout = 15 * time.Second

func main() {
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

	// With the in-memory backend nobody else can see the tasks this process sends.
	if app.MemoryQueue != nil {
		go consumeMemory(ctx, app.MemoryQueue, app.Processor)
	}
	if cfg.ScanSchedulerEnabled {
		log.Printf("scan scheduler enabled interval=%s", cfg.ScanScheduleInterval)
		go func() {
			if err := app.Scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("scheduler: %v", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              server.Addr(cfg.Port),
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	log.Printf("Starting API server on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

func consumeMemory(ctx context.Context, q *queue.MemoryQueue, proc *workerproc.Processor) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-q.Tasks():
			if err := proc.Handle(ctx, t); err != nil {
				telemetry.Warn("api.task.failed", map[string]any{
					"kind":  string(t.Kind),
					"error": err.Error(),
				})
			}
		}
	}
}
