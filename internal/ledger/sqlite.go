package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteWriter is the durable Writer. It backs the trace command and
// survives process restarts.
//
// SQLite allows one writer at a time; the connection pool is pinned to a
// single connection and appends additionally serialize under a mutex, so
// seq assignment and insert are one indivisible step per plan.
type SQLiteWriter struct {
	mu  sync.Mutex
	db  *sql.DB
	now func() time.Time
}

// SQLiteOption configures a SQLiteWriter.
type SQLiteOption func(*SQLiteWriter)

// WithSQLiteClock injects the timestamp source.
func WithSQLiteClock(now func() time.Time) SQLiteOption {
	return func(w *SQLiteWriter) {
		w.now = now
	}
}

// OpenSQLite creates or opens the ledger database at path, applying
// pragmas and schema. Safe to call on an existing database.
func OpenSQLite(path string, opts ...SQLiteOption) (*SQLiteWriter, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: connect %s: %w", path, err)
	}

	// One writer; avoids SQLITE_BUSY under concurrent appends.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("ledger: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: apply schema: %w", err)
	}

	w := &SQLiteWriter{db: db, now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Append implements Writer. Seq assignment and insert happen in one
// transaction, so a crash commits either the whole event or nothing.
func (w *SQLiteWriter) Append(ctx context.Context, ev Event) (Event, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if ev.Timestamp.IsZero() {
		ev.Timestamp = w.now()
	}

	payload, err := json.Marshal(payloadOrEmpty(ev.Payload))
	if err != nil {
		return Event{}, fmt.Errorf("ledger: marshal payload: %w", err)
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return Event{}, fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed.

	var next int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM ledger_events WHERE plan_id = ?`,
		ev.PlanID,
	).Scan(&next)
	if err != nil {
		return Event{}, fmt.Errorf("ledger: next seq: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_events
		(plan_id, seq, kind, transition_id, attempt_idx, timestamp, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		ev.PlanID,
		next,
		string(ev.Kind),
		ev.TransitionID,
		ev.AttemptIdx,
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
		string(payload),
	)
	if err != nil {
		return Event{}, fmt.Errorf("ledger: insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Event{}, fmt.Errorf("ledger: commit: %w", err)
	}

	ev.Seq = next
	return ev, nil
}

// Events implements Writer.
func (w *SQLiteWriter) Events(ctx context.Context, planID string) ([]Event, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT plan_id, seq, kind, transition_id, attempt_idx, timestamp, payload
		FROM ledger_events
		WHERE plan_id = ?
		ORDER BY seq
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("ledger: query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var kind, ts, payload string
		if err := rows.Scan(&ev.PlanID, &ev.Seq, &kind, &ev.TransitionID, &ev.AttemptIdx, &ts, &payload); err != nil {
			return nil, fmt.Errorf("ledger: scan event: %w", err)
		}
		ev.Kind = Kind(kind)
		ev.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("ledger: parse timestamp %q: %w", ts, err)
		}
		if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
			return nil, fmt.Errorf("ledger: decode payload: %w", err)
		}
		if len(ev.Payload) == 0 {
			ev.Payload = nil
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate events: %w", err)
	}
	return out, nil
}

// Close implements Writer.
func (w *SQLiteWriter) Close() error {
	if w.db == nil {
		return nil
	}
	return w.db.Close()
}

func payloadOrEmpty(p map[string]any) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	return p
}
