package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aneuhold/taskd/internal/docstore/queue"
)

// QueueBacking is a durable queue.Backing stored in the sync_queue and
// sync_inflight tables. Every transition commits before returning.
type QueueBacking struct {
	db *DB
}

// NewQueueBacking returns a backing over db.
func NewQueueBacking(db *DB) *QueueBacking {
	return &QueueBacking{db: db}
}

var (
	_ queue.Backing = (*QueueBacking)(nil)
	_ queue.Leaser  = (*QueueBacking)(nil)
)

// AcquireLease implements queue.Leaser. The lease is taken when nobody
// holds it, renewed when owner already does, and stolen once it expired.
func (q *QueueBacking) AcquireLease(owner string, ttl time.Duration) (bool, error) {
	now := time.Now()
	r, err := q.db.conn.Exec(`
	INSERT INTO queue_lease (id, owner, expires_at) VALUES (1, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		owner = excluded.owner,
		expires_at = excluded.expires_at
	WHERE queue_lease.owner = excluded.owner OR queue_lease.expires_at < ?`,
		owner, now.Add(ttl).UnixNano(), now.UnixNano())
	if err != nil {
		return false, fmt.Errorf("failed to acquire queue lease: %w", err)
	}
	n, err := r.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to acquire queue lease: %w", err)
	}
	return n == 1, nil
}

// ReleaseLease implements queue.Leaser.
func (q *QueueBacking) ReleaseLease(owner string) error {
	if _, err := q.db.conn.Exec(`DELETE FROM queue_lease WHERE owner = ?`, owner); err != nil {
		return fmt.Errorf("failed to release queue lease: %w", err)
	}
	return nil
}

// LeaseOwner returns the current lease holder, or "" when the queue is free.
func (q *QueueBacking) LeaseOwner() (string, error) {
	var owner string
	var expires int64
	err := q.db.conn.QueryRow(`SELECT owner, expires_at FROM queue_lease WHERE id = 1`).Scan(&owner, &expires)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read queue lease: %w", err)
	}
	if expires < time.Now().UnixNano() {
		return "", nil
	}
	return owner, nil
}

// Append implements queue.Backing.
func (q *QueueBacking) Append(batch queue.Batch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}
	_, err = q.db.conn.Exec(`INSERT INTO sync_queue (batch, enqueued_at) VALUES (?, ?)`,
		string(data), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to append batch: %w", err)
	}
	return nil
}

// PopToInFlight implements queue.Backing.
func (q *QueueBacking) PopToInFlight() (queue.Batch, bool, error) {
	ctx := context.Background()
	tx, err := q.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	var raw string
	err = tx.QueryRowContext(ctx, `SELECT seq, batch FROM sync_queue ORDER BY seq ASC LIMIT 1`).Scan(&seq, &raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read queue head: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_queue WHERE seq = ?`, seq); err != nil {
		return nil, false, fmt.Errorf("failed to pop batch %d: %w", seq, err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO sync_inflight (id, seq, batch, started_at) VALUES (1, ?, ?, ?)`,
		seq, raw, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, false, fmt.Errorf("failed to mark batch %d in flight: %w", seq, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	batch, err := decodeBatch(raw)
	if err != nil {
		return nil, false, err
	}
	return batch, true, nil
}

// ClearInFlight implements queue.Backing.
func (q *QueueBacking) ClearInFlight() error {
	if _, err := q.db.conn.Exec(`DELETE FROM sync_inflight`); err != nil {
		return fmt.Errorf("failed to clear in-flight batch: %w", err)
	}
	return nil
}

// InFlight implements queue.Backing.
func (q *QueueBacking) InFlight() (queue.Batch, bool, error) {
	var raw string
	err := q.db.conn.QueryRow(`SELECT batch FROM sync_inflight WHERE id = 1`).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read in-flight batch: %w", err)
	}
	batch, err := decodeBatch(raw)
	if err != nil {
		return nil, false, err
	}
	return batch, true, nil
}

// RequeueInFlight implements queue.Backing. The batch returns under its
// original sequence number, ahead of everything appended after it.
func (q *QueueBacking) RequeueInFlight() error {
	ctx := context.Background()
	tx, err := q.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	var raw, startedAt string
	err = tx.QueryRowContext(ctx, `SELECT seq, batch, started_at FROM sync_inflight WHERE id = 1`).Scan(&seq, &raw, &startedAt)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read in-flight batch: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO sync_queue (seq, batch, enqueued_at) VALUES (?, ?, ?)`,
		seq, raw, startedAt); err != nil {
		return fmt.Errorf("failed to requeue batch %d: %w", seq, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_inflight`); err != nil {
		return fmt.Errorf("failed to clear in-flight batch: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Len implements queue.Backing.
func (q *QueueBacking) Len() (int, error) {
	var n int
	if err := q.db.conn.QueryRow(`SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return n, nil
}

// Pending returns the queued batches, oldest first, without removing them.
func (q *QueueBacking) Pending() ([]queue.Batch, error) {
	rows, err := q.db.conn.Query(`SELECT batch FROM sync_queue ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	defer rows.Close()

	var out []queue.Batch
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		b, err := decodeBatch(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue: %w", err)
	}
	return out, nil
}

func decodeBatch(raw string) (queue.Batch, error) {
	var b queue.Batch
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return nil, fmt.Errorf("failed to decode batch: %w", err)
	}
	return b, nil
}
