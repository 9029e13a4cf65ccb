package db

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// openTestDatabase opens a migrated database in a temp directory.
func openTestDatabase(t *testing.T) *Database {
	t.Helper()
	database, err := Open(filepath.Join(t.TempDir(), "images.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

// TestOpen tests database creation and migration.
func TestOpen(t *testing.T) {
	t.Run("creates parent directories and migrates", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "nested", "dir", "images.db")

		database, err := Open(dbPath)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer database.Close()

		if _, err := os.Stat(dbPath); err != nil {
			t.Errorf("database file not created: %v", err)
		}
		if err := database.Ping(context.Background()); err != nil {
			t.Errorf("Ping() error = %v", err)
		}

		version, dirty, err := MigrationVersion(dbPath)
		if err != nil {
			t.Fatalf("MigrationVersion() error = %v", err)
		}
		if version != 1 || dirty {
			t.Errorf("MigrationVersion() = (%d, %v), want (1, false)", version, dirty)
		}
	})

	t.Run("reopening is idempotent", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "images.db")
		first, err := Open(dbPath)
		if err != nil {
			t.Fatalf("first Open() error = %v", err)
		}
		first.Close()

		second, err := Open(dbPath)
		if err != nil {
			t.Fatalf("second Open() error = %v", err)
		}
		second.Close()
	})

	t.Run("rejects empty path", func(t *testing.T) {
		if _, err := Open(""); err == nil {
			t.Error("Open(\"\") expected error")
		}
	})
}

// TestDatabaseClose tests Close idempotence and use after close.
func TestDatabaseClose(t *testing.T) {
	database, err := Open(filepath.Join(t.TempDir(), "images.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := database.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := database.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	ctx := context.Background()
	if err := database.Ping(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Ping() after close = %v, want ErrClosed", err)
	}
	var n int
	if err := database.QueryRowContext(ctx, "SELECT 1").Scan(&n); !errors.Is(err, ErrClosed) {
		t.Errorf("QueryRowContext() after close = %v, want ErrClosed", err)
	}
}
