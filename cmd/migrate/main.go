package main

// Run database migrations:
//   go run ./cmd/migrate            apply pending migrations
//   go run ./cmd/migrate -status    print the applied version
//   go run ./cmd/migrate -down      roll back the latest migration

import (
	"context"
	"flag"
	"log"
	"os"

	"mail-ingest/internal/shared/config"
	"mail-ingest/internal/shared/storage/db"
)

func main() {
	status := flag.Bool("status", false, "print the applied schema version and exit")
	down := flag.Bool("down", false, "roll back the latest migration")
	flag.Parse()

	cfg := config.Load()
	ctx := context.Background()

	if cfg.DatabaseURL == "" {
		log.Printf("DATABASE_URL is required")
		os.Exit(1)
	}

	opts := db.OptionsFromEnv(db.DefaultMigrateOptions())
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		log.Printf("failed to connect database: %v", err)
		os.Exit(1)
	}
	defer sqlDB.Close()

	switch {
	case *status:
		version, err := db.SchemaVersion(ctx, sqlDB)
		if err != nil {
			log.Printf("failed to read schema version: %v", err)
			os.Exit(1)
		}
		log.Printf("schema version %d", version)
	case *down:
		if err := db.RollbackMigration(ctx, sqlDB); err != nil {
			log.Printf("failed to roll back migration: %v", err)
			os.Exit(1)
		}
		log.Printf("rolled back one migration")
	default:
		if err := db.RunMigrations(ctx, sqlDB); err != nil {
			log.Printf("failed to run migrations: %v", err)
			os.Exit(1)
		}
		log.Printf("migrations applied")
	}
}
