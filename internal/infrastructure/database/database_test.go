package database

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nerrad567/gray-logic-comm/internal/infrastructure/config"
)

func TestOpen(t *testing.T) {
	tests := []struct {
		name string
		rel  string
		wal  bool
	}{
		{name: "flat path with WAL", rel: "comm.db", wal: true},
		{name: "nested directories", rel: filepath.Join("a", "b", "comm.db"), wal: true},
		{name: "rollback journal", rel: "plain.db", wal: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dbPath := filepath.Join(t.TempDir(), tt.rel)

			db, err := Open(context.Background(), config.DatabaseConfig{
				Path:        dbPath,
				WALMode:     tt.wal,
				BusyTimeout: 5,
			})
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer db.Close() //nolint:errcheck // test cleanup

			if _, err := os.Stat(dbPath); err != nil {
				t.Errorf("database file not created: %v", err)
			}
			if db.Path() != dbPath {
				t.Errorf("Path() = %q, want %q", db.Path(), dbPath)
			}
			if got := db.Stats().MaxOpenConnections; got != 1 {
				t.Errorf("MaxOpenConnections = %d, want 1", got)
			}
		})
	}
}

func TestDSN(t *testing.T) {
	got := dsn(config.DatabaseConfig{Path: "/tmp/x.db", WALMode: true, BusyTimeout: 2})
	if !strings.Contains(got, "_busy_timeout=2000") {
		t.Errorf("dsn missing busy timeout: %s", got)
	}
	if !strings.Contains(got, "_journal_mode=WAL") {
		t.Errorf("dsn missing WAL: %s", got)
	}

	got = dsn(config.DatabaseConfig{Path: "/tmp/x.db"})
	if strings.Contains(got, "WAL") {
		t.Errorf("dsn has WAL when disabled: %s", got)
	}
}

func TestHealthCheck(t *testing.T) {
	db := openTestDB(t)

	if err := db.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestClose(t *testing.T) {
	db := openTestDB(t)

	if err := db.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	var nilDB *DB
	if err := nilDB.Close(); err != nil {
		t.Errorf("Close() on nil DB error = %v", err)
	}
}

func TestInTx(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "CREATE TABLE tx_test (id INTEGER PRIMARY KEY, value TEXT)"); err != nil {
		t.Fatalf("CREATE TABLE error = %v", err)
	}

	insert := func(v string) func(tx *sql.Tx) error {
		return func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, "INSERT INTO tx_test (value) VALUES (?)", v)
			return err
		}
	}

	if err := db.InTx(ctx, insert("committed")); err != nil {
		t.Fatalf("InTx() error = %v", err)
	}

	errBoom := errors.New("boom")
	err := db.InTx(ctx, func(tx *sql.Tx) error {
		if err := insert("rolled_back")(tx); err != nil {
			return err
		}
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("InTx() error = %v, want %v", err, errBoom)
	}

	counts := map[string]int{"committed": 1, "rolled_back": 0}
	for value, want := range counts {
		var n int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tx_test WHERE value = ?", value).Scan(&n); err != nil {
			t.Fatalf("SELECT error = %v", err)
		}
		if n != want {
			t.Errorf("rows with %q = %d, want %d", value, n, want)
		}
	}
}

func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(context.Background(), config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	return db
}
