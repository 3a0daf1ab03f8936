package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/aneuhold/taskd/internal/docstore/queue"
)

// Documents is the remote used when no remote url is configured. It keeps
// the latest version of every document in the documents table, so every
// process opened on the same data directory sees the same remote state.
type Documents struct {
	db *DB
}

// NewDocuments returns the document remote over db.
func NewDocuments(db *DB) *Documents {
	return &Documents{db: db}
}

var _ queue.Remote = (*Documents)(nil)

type docOp struct {
	kind, id string
	doc      json.RawMessage
	del      bool
}

// Apply implements queue.Remote. Every write of the batch commits in one
// transaction together with the full lists returned for each kind the
// batch touched or requested.
func (d *Documents) Apply(ctx context.Context, batch queue.Batch) (queue.Result, error) {
	var ops []docOp
	for kind, delta := range batch {
		if delta == nil {
			continue
		}
		for _, list := range [][]json.RawMessage{delta.Insert, delta.Update} {
			for _, doc := range list {
				id, err := documentID(doc)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", kind, err)
				}
				ops = append(ops, docOp{kind: kind, id: id, doc: doc})
			}
		}
		for _, doc := range delta.Delete {
			id, err := documentID(doc)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", kind, err)
			}
			ops = append(ops, docOp{kind: kind, id: id, del: true})
		}
	}

	tx, err := d.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Writes come first so the transaction takes the write lock before it
	// reads anything.
	for _, op := range ops {
		if op.del {
			_, err = tx.ExecContext(ctx, `DELETE FROM documents WHERE kind = ? AND id = ?`, op.kind, op.id)
		} else {
			_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (kind, id, doc) VALUES (?, ?, ?)
			ON CONFLICT(kind, id) DO UPDATE SET doc = excluded.doc`,
				op.kind, op.id, string(op.doc))
		}
		if err != nil {
			return nil, fmt.Errorf("failed to write %s %s: %w", op.kind, op.id, err)
		}
	}

	res := queue.Result{}
	for kind, delta := range batch {
		if delta.Empty() {
			continue
		}
		docs, err := listDocuments(ctx, tx, kind)
		if err != nil {
			return nil, err
		}
		res[kind] = docs
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return res, nil
}

// Seed stores docs as the initial content of kind. It only takes effect the
// first time kind is seeded in this database; afterwards the table is the
// source of truth and seeded reports false.
func (d *Documents) Seed(ctx context.Context, kind string, docs []json.RawMessage) (seeded bool, err error) {
	tx, err := d.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	r, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO document_kinds (kind) VALUES (?)`, kind)
	if err != nil {
		return false, fmt.Errorf("failed to mark %s seeded: %w", kind, err)
	}
	if n, err := r.RowsAffected(); err != nil || n == 0 {
		return false, err
	}

	for _, doc := range docs {
		id, err := documentID(doc)
		if err != nil {
			return false, fmt.Errorf("%s: %w", kind, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO documents (kind, id, doc) VALUES (?, ?, ?)`,
			kind, id, string(doc)); err != nil {
			return false, fmt.Errorf("failed to seed %s %s: %w", kind, id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// List returns every document of kind ordered by id.
func (d *Documents) List(ctx context.Context, kind string) ([]json.RawMessage, error) {
	return listDocuments(ctx, d.db.conn, kind)
}

// Count returns the number of documents of kind.
func (d *Documents) Count(ctx context.Context, kind string) (int, error) {
	var n int
	if err := d.db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE kind = ?`, kind).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", kind, err)
	}
	return n, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listDocuments(ctx context.Context, q querier, kind string) ([]json.RawMessage, error) {
	rows, err := q.QueryContext(ctx, `SELECT doc FROM documents WHERE kind = ? ORDER BY id`, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind, err)
	}
	defer rows.Close()

	out := []json.RawMessage{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", kind, err)
		}
		out = append(out, json.RawMessage(doc))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", kind, err)
	}
	return out, nil
}

func documentID(doc json.RawMessage) (string, error) {
	var head struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(doc, &head); err != nil {
		return "", fmt.Errorf("malformed document: %w", err)
	}
	if head.ID == "" {
		return "", fmt.Errorf("document has no id")
	}
	return head.ID, nil
}
