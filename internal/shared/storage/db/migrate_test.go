package db

import (
	"context"
	"fmt"
	"io/fs"
	"strings"
	"testing"
)

func TestEmbeddedMigrationsAreSequentialAndReversible(t *testing.T) {
	entries, err := fs.ReadDir(migrationFiles, migrationsDir)
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("expected embedded migrations")
	}
	for i, entry := range entries {
		prefix := fmt.Sprintf("%05d_", i+1)
		if !strings.HasPrefix(entry.Name(), prefix) {
			t.Fatalf("migration %d named %s, expected prefix %s", i, entry.Name(), prefix)
		}
		data, err := fs.ReadFile(migrationFiles, migrationsDir+"/"+entry.Name())
		if err != nil {
			t.Fatalf("read %s: %v", entry.Name(), err)
		}
		body := string(data)
		if !strings.Contains(body, "-- +goose Up") || !strings.Contains(body, "-- +goose Down") {
			t.Fatalf("%s must declare Up and Down sections", entry.Name())
		}
	}
}

func TestMigrationHelpersRequireDatabase(t *testing.T) {
	if err := RunMigrations(context.Background(), nil); err != nil {
		t.Fatalf("RunMigrations(nil) should be a no-op, got %v", err)
	}
	if err := RollbackMigration(context.Background(), nil); err == nil {
		t.Fatalf("expected rollback without database to fail")
	}
	if _, err := SchemaVersion(context.Background(), nil); err == nil {
		t.Fatalf("expected version without database to fail")
	}
}
