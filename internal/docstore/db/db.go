// Package db provides the embedded SQLite store behind taskd's local state.
//
// The database runs in embedded mode through the ncruces/go-sqlite3 driver
// with WAL enabled, so the daemon and one-shot CLI commands can share it.
//
// Architecture:
//   - Database file: <data_dir>/taskd.db
//   - snapshots: one JSON blob per document kind (last write wins)
//   - sync_queue: the durable FIFO of pending remote batches
//   - sync_inflight: at most one row, the batch currently being sent
//   - queue_lease: at most one row, the process currently draining the queue
//   - documents, document_kinds: the local remote used without a remote url
//
// Snapshot blobs are opaque here; the document store encodes and decodes
// them. The queue tables back queue.Processor through QueueBacking.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a database connection at path and initializes the schema.
//
// The caller MUST call Close() when done to ensure proper cleanup.
//
// Example:
//
//	store, err := db.Open(filepath.Join(dataDir, "taskd.db"))
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	pragmas := []struct{ stmt, what string }{
		{"PRAGMA journal_mode=WAL", "enable WAL mode"},
		{"PRAGMA busy_timeout=5000", "set busy timeout"},
		{"PRAGMA synchronous=NORMAL", "set synchronous mode"},
	}
	for _, p := range pragmas {
		if _, err := db.conn.Exec(p.stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to %s: %w", p.what, err)
		}
	}

	if err := db.InitSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the tables if they don't exist. Idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the tables with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		kind TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_queue (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		batch TEXT NOT NULL,
		enqueued_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_inflight (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		seq INTEGER NOT NULL,
		batch TEXT NOT NULL,
		started_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS queue_lease (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		owner TEXT NOT NULL,
		expires_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS documents (
		kind TEXT NOT NULL,
		id TEXT NOT NULL,
		doc TEXT NOT NULL,
		PRIMARY KEY (kind, id)
	);

	CREATE TABLE IF NOT EXISTS document_kinds (
		kind TEXT PRIMARY KEY
	);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// SaveSnapshot stores the blob for kind, replacing any previous one.
func (db *DB) SaveSnapshot(ctx context.Context, kind string, data []byte) error {
	query := `
	INSERT INTO snapshots (kind, data, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(kind) DO UPDATE SET
		data = excluded.data,
		updated_at = excluded.updated_at
	`
	if _, err := db.conn.ExecContext(ctx, query, kind, data, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", kind, err)
	}
	return nil
}

// LoadSnapshot returns the blob for kind. ok is false when none is stored.
func (db *DB) LoadSnapshot(ctx context.Context, kind string) (data []byte, ok bool, err error) {
	err = db.conn.QueryRowContext(ctx, `SELECT data FROM snapshots WHERE kind = ?`, kind).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load snapshot %s: %w", kind, err)
	}
	return data, true, nil
}

// SnapshotInfo describes one stored snapshot.
type SnapshotInfo struct {
	Kind      string
	Size      int
	UpdatedAt time.Time
}

// ListSnapshots returns every stored snapshot ordered by kind.
func (db *DB) ListSnapshots(ctx context.Context) ([]SnapshotInfo, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT kind, length(data), updated_at FROM snapshots ORDER BY kind`)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotInfo
	for rows.Next() {
		var info SnapshotInfo
		var updatedAt string
		if err := rows.Scan(&info.Kind, &info.Size, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			info.UpdatedAt = t
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}
	return out, nil
}
