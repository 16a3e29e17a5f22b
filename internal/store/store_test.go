package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/candykush2025/pos-candy-kush-sub005/internal/model"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_OpensExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer s2.Close()

	var count int
	if err := s2.db.QueryRow("SELECT COUNT(*) FROM mutations").Scan(&count); err != nil {
		t.Errorf("query failed: %v", err)
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/directory/ledger.db")
	if err == nil {
		t.Error("Open() should fail for invalid path")
	}
}

func TestOpen_Memory(t *testing.T) {
	s, err := Open(MemoryPath)
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	defer s.Close()

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM entities").Scan(&count); err != nil {
		t.Errorf("query failed: %v", err)
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should succeed, got: %v", err)
	}
}

func TestPragma_JournalMode(t *testing.T) {
	s := openTestStore(t)
	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
}

func TestPragma_Synchronous(t *testing.T) {
	s := openTestStore(t)
	// FULL = 2
	if err := s.verifyPragma("synchronous", "2"); err != nil {
		t.Error(err)
	}
}

func TestOpen_PathWithURIDelimiters(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "shift #2?night")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "ledger.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("database not created at %s: %v", path, err)
	}
}

func TestDSN(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{MemoryPath, MemoryPath},
		{"file:custom.db?mode=ro", "file:custom.db?mode=ro"},
		{"posync.db", "file:posync.db?_txlock=immediate"},
		{"/var/lib/posync/ledger.db", "file:/var/lib/posync/ledger.db?_txlock=immediate"},
		{"/tmp/a?b#c/ledger.db", "file:/tmp/a%3Fb%23c/ledger.db?_txlock=immediate"},
	}
	for _, tt := range tests {
		if got := dsn(tt.path); got != tt.want {
			t.Errorf("dsn(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestMigrate_V1DatabaseGainsOriginColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	remote := "2026-03-01T09:00:00Z"

	old, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	stmts := []string{
		`CREATE TABLE entities (
			collection TEXT NOT NULL, entity_id TEXT NOT NULL, data TEXT NOT NULL,
			remote_updated_at TEXT NOT NULL DEFAULT '', inconsistent INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL, PRIMARY KEY (collection, entity_id))`,
		`CREATE TABLE mutations (
			seq INTEGER PRIMARY KEY AUTOINCREMENT, id TEXT NOT NULL UNIQUE,
			collection TEXT NOT NULL, entity_id TEXT NOT NULL, kind TEXT NOT NULL,
			payload TEXT NOT NULL, created_at TEXT NOT NULL, attempt_count INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL, reason TEXT NOT NULL DEFAULT '',
			next_attempt_at TEXT NOT NULL DEFAULT '', updated_at TEXT NOT NULL)`,
		`INSERT INTO entities VALUES ('customers', 'c1', '{"customer_id":"c1"}', '` + remote + `', 0, '` + remote + `')`,
		`INSERT INTO mutations (id, collection, entity_id, kind, payload, created_at, status, updated_at)
			VALUES ('m1', 'customers', 'c1', 'CustomerUpdate', '{"name":"Ann"}', '` + remote + `', 'Queued', '` + remote + `')`,
		`PRAGMA user_version = 1`,
	}
	for _, stmt := range stmts {
		if _, err := old.Exec(stmt); err != nil {
			t.Fatalf("seed v1 database: %v", err)
		}
	}
	old.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()
	if err := s.verifyPragma("user_version", "2"); err != nil {
		t.Error(err)
	}

	ctx := context.Background()
	want, _ := time.Parse(time.RFC3339, remote)
	snap, err := s.Reader().Entity(ctx, model.Ref(model.CollectionCustomers, "c1"))
	if err != nil {
		t.Fatalf("Entity() failed: %v", err)
	}
	if !snap.ForeignUpdatedAt.Equal(want) || !snap.OwnWriteAt.IsZero() {
		t.Errorf("origin markers = (%v, %v), want (%v, zero)", snap.ForeignUpdatedAt, snap.OwnWriteAt, want)
	}
	m, err := s.Reader().Mutation(ctx, "m1")
	if err != nil {
		t.Fatalf("Mutation() failed: %v", err)
	}
	if !m.BaseUpdatedAt.Equal(want) {
		t.Errorf("BaseUpdatedAt = %v, want %v", m.BaseUpdatedAt, want)
	}
}

func TestPragma_BusyTimeout(t *testing.T) {
	s := openTestStore(t)
	if err := s.verifyPragma("busy_timeout", "5000"); err != nil {
		t.Error(err)
	}
}

func TestSchema_UserVersion(t *testing.T) {
	s := openTestStore(t)
	if err := s.verifyPragma("user_version", "2"); err != nil {
		t.Error(err)
	}
}

func TestSchema_Tables(t *testing.T) {
	s := openTestStore(t)

	for _, table := range []string{"entities", "mutations", "mutation_history", "sync_meta"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestSchema_Indexes(t *testing.T) {
	s := openTestStore(t)

	for _, index := range []string{"idx_mutations_target", "idx_mutations_status", "idx_history_target"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='index' AND name=?", index,
		).Scan(&name)
		if err != nil {
			t.Errorf("index %s not found: %v", index, err)
		}
	}
}

func TestConstraint_MutationStatus(t *testing.T) {
	s := openTestStore(t)

	_, err := s.db.Exec(`
		INSERT INTO mutations (id, collection, entity_id, kind, payload, created_at, status, updated_at)
		VALUES ('m1', 'stock', 'sku-1', 'StockDelta', '{}', '', 'Applied', '')
	`)
	if err == nil {
		t.Error("Applied is not a storable active status")
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
