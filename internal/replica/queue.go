// Package replica manages the local embedded replica's mutation queue.
//
// Every local write lands in the _sync_queue table as part of a replica
// transaction. The sync connector drains the queue in emission order and
// acknowledges a transaction only after every one of its mutations has
// been applied remotely, so a partially uploaded batch is replayed in
// full on the next pass.
package replica

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// OpKind is the kind of a queued local mutation.
type OpKind string

const (
	// OpPut is a full-record upsert.
	OpPut OpKind = "put"
	// OpPatch is a partial update of named fields.
	OpPatch OpKind = "patch"
	// OpDelete removes a row by id.
	OpDelete OpKind = "delete"
)

// Mutation is one queued local write.
type Mutation struct {
	Seq    int64
	Op     OpKind
	Table  string
	RowID  string
	Fields map[string]any
}

// Transaction is one ordered batch of mutations emitted by a single local
// write transaction. Mutations must be applied in slice order.
type Transaction struct {
	ID        string
	Mutations []Mutation
}

// Queue is the mutation queue inside the local replica database.
type Queue struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the replica database at path and
// ensures the queue table exists.
func Open(path string) (*Queue, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create replica directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open replica: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping replica: %w", err)
	}

	q := &Queue{db: conn, path: path}
	if err := q.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return q, nil
}

// newQueue wraps an already-open connection (used by the connected
// embedded-replica mode).
func newQueue(conn *sql.DB, path string) (*Queue, error) {
	q := &Queue{db: conn, path: path}
	if err := q.init(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) init() error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := q.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS _sync_queue (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		tx_id TEXT NOT NULL,
		op TEXT NOT NULL,
		tbl TEXT NOT NULL,
		row_id TEXT NOT NULL,
		payload TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sync_queue_tx ON _sync_queue(tx_id);
	`
	if _, err := q.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize queue schema: %w", err)
	}
	return nil
}

// Path returns the replica database file path.
func (q *Queue) Path() string { return q.path }

// Close closes the replica database.
func (q *Queue) Close() error {
	if q.db == nil {
		return nil
	}
	if err := q.db.Close(); err != nil {
		return fmt.Errorf("failed to close replica: %w", err)
	}
	q.db = nil
	return nil
}

// NewTxID returns a fresh transaction id for grouping enqueued mutations.
func NewTxID() string { return uuid.NewString() }

// Enqueue appends one mutation to the queue under txID.
func (q *Queue) Enqueue(ctx context.Context, txID string, op OpKind, table, rowID string, fields map[string]any) error {
	var payload any
	if fields != nil {
		b, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("failed to marshal mutation payload: %w", err)
		}
		payload = string(b)
	}

	_, err := q.db.ExecContext(ctx,
		`INSERT INTO _sync_queue (tx_id, op, tbl, row_id, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		txID, string(op), table, rowID, payload, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to enqueue mutation: %w", err)
	}
	return nil
}

// NextTransaction returns the oldest pending transaction, or nil when the
// queue is empty. The connector is expected to poll; this never blocks.
func (q *Queue) NextTransaction(ctx context.Context) (*Transaction, error) {
	var txID string
	err := q.db.QueryRowContext(ctx,
		`SELECT tx_id FROM _sync_queue ORDER BY seq ASC LIMIT 1`).Scan(&txID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to peek queue: %w", err)
	}

	rows, err := q.db.QueryContext(ctx,
		`SELECT seq, op, tbl, row_id, payload FROM _sync_queue WHERE tx_id = ? ORDER BY seq ASC`, txID)
	if err != nil {
		return nil, fmt.Errorf("failed to read transaction %s: %w", txID, err)
	}
	defer rows.Close()

	tx := &Transaction{ID: txID}
	for rows.Next() {
		var m Mutation
		var op string
		var payload sql.NullString
		if err := rows.Scan(&m.Seq, &op, &m.Table, &m.RowID, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan mutation: %w", err)
		}
		m.Op = OpKind(op)
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &m.Fields); err != nil {
				return nil, fmt.Errorf("failed to unmarshal mutation payload: %w", err)
			}
		}
		tx.Mutations = append(tx.Mutations, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mutations: %w", err)
	}
	return tx, nil
}

// Complete acknowledges a transaction, removing its mutations from the
// queue so they are not replayed.
func (q *Queue) Complete(ctx context.Context, txID string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM _sync_queue WHERE tx_id = ?`, txID); err != nil {
		return fmt.Errorf("failed to complete transaction %s: %w", txID, err)
	}
	return nil
}

// Pending returns the number of queued mutations.
func (q *Queue) Pending(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM _sync_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return n, nil
}
