package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database. Placement checks are
// skipped for it and for file: URIs with mode=memory.
const MemoryPath = ":memory:"

// OpenSQLite opens (and creates if needed) the state database at path and
// ensures required tables exist. A path on a network mount is refused with
// ErrNetworkFilesystem before anything is created.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	return openSQLite(ctx, path, probeFilesystem)
}

func openSQLite(ctx context.Context, path string, probe fsProbe) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("state database path is empty")
	}
	memory := IsMemory(path)
	if !memory {
		file := diskPath(path)
		if err := checkPlacement(file, probe); err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if memory {
		// Each pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pragmas := []string{
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(pctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS dispatcher_snapshot (
  id         INTEGER PRIMARY KEY AUTOINCREMENT,
  version    INTEGER NOT NULL,
  taken_at   REAL NOT NULL,
  checksum   TEXT NOT NULL,
  payload    JSON NOT NULL,
  created_at TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS task_log (
  id           TEXT PRIMARY KEY,
  pool         TEXT NOT NULL,
  type         TEXT NOT NULL DEFAULT '',
  target_ref   TEXT NOT NULL DEFAULT '',
  status       TEXT NOT NULL,
  worker_id    TEXT,
  reason       TEXT,
  rewards      JSON,
  finished_at  REAL NOT NULL,
  logged_at    TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS task_log_pool_logged_at_idx ON task_log(pool, logged_at);`,
		`CREATE INDEX IF NOT EXISTS task_log_logged_at_idx ON task_log(logged_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
