// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sigil-dev/steward/internal/store"
	"github.com/sigil-dev/steward/pkg/health"
)

// Compile-time interface check.
var _ store.Journal = (*Journal)(nil)

// DefaultRetain is the number of snapshots kept when retain is not positive.
const DefaultRetain = 1000

// Journal implements store.Journal backed by SQLite. The connection can be
// swapped by Reconnect, so every access goes through conn().
type Journal struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	retain int
}

// NewJournal opens (or creates) a SQLite database at dbPath and initialises
// the journal tables.
func NewJournal(dbPath string, retain int) (*Journal, error) {
	if retain <= 0 {
		retain = DefaultRetain
	}

	db, err := open(dbPath)
	if err != nil {
		return nil, err
	}

	return &Journal{db: db, path: dbPath, retain: retain}, nil
}

func open(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating sqlite db: %w", err)
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS snapshots (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	taken_at  TEXT NOT NULL,
	overall   TEXT NOT NULL,
	score     INTEGER NOT NULL,
	body      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS breaker_events (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	name      TEXT NOT NULL,
	open      INTEGER NOT NULL,
	failures  INTEGER NOT NULL DEFAULT 0,
	reason    TEXT NOT NULL DEFAULT '',
	at        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_breaker_events_name ON breaker_events(name, at);

CREATE TABLE IF NOT EXISTS task_outcomes (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id   TEXT NOT NULL,
	type      TEXT NOT NULL,
	state     TEXT NOT NULL,
	reason    TEXT NOT NULL DEFAULT '',
	children  INTEGER NOT NULL DEFAULT 0,
	failed    INTEGER NOT NULL DEFAULT 0,
	at        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_task_outcomes_task ON task_outcomes(task_id);
`
	_, err := db.Exec(ddl)
	return err
}

func (j *Journal) conn() *sql.DB {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.db
}

// RecordSnapshot appends snap and prunes snapshots beyond the retention cap.
func (j *Journal) RecordSnapshot(ctx context.Context, snap health.Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", store.ErrInvalidInput)
	}

	db := j.conn()
	if _, err := db.ExecContext(ctx,
		`INSERT INTO snapshots (taken_at, overall, score, body) VALUES (?, ?, ?, ?)`,
		snap.Timestamp.UTC().Format(time.RFC3339Nano), string(snap.Overall), snap.Score, string(body),
	); err != nil {
		return fmt.Errorf("inserting snapshot: %w: %w", store.ErrDatabase, err)
	}

	if _, err := db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE id NOT IN (SELECT id FROM snapshots ORDER BY id DESC LIMIT ?)`,
		j.retain,
	); err != nil {
		return fmt.Errorf("pruning snapshots: %w: %w", store.ErrDatabase, err)
	}
	return nil
}

// RecordBreakerEvent appends a breaker transition.
func (j *Journal) RecordBreakerEvent(ctx context.Context, ev store.BreakerEvent) error {
	if ev.Name == "" {
		return fmt.Errorf("breaker event without name: %w", store.ErrInvalidInput)
	}
	_, err := j.conn().ExecContext(ctx,
		`INSERT INTO breaker_events (name, open, failures, reason, at) VALUES (?, ?, ?, ?, ?)`,
		ev.Name, ev.Open, ev.Failures, ev.Reason, ev.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting breaker event: %w: %w", store.ErrDatabase, err)
	}
	return nil
}

// RecordTaskOutcome appends a terminal task state.
func (j *Journal) RecordTaskOutcome(ctx context.Context, out store.TaskOutcome) error {
	if out.TaskID == "" {
		return fmt.Errorf("task outcome without id: %w", store.ErrInvalidInput)
	}
	_, err := j.conn().ExecContext(ctx,
		`INSERT INTO task_outcomes (task_id, type, state, reason, children, failed, at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		out.TaskID, out.Type, out.State, out.Reason, out.Children, out.Failed, out.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting task outcome: %w: %w", store.ErrDatabase, err)
	}
	return nil
}

// RecentSnapshots returns up to limit snapshots, oldest first.
func (j *Journal) RecentSnapshots(ctx context.Context, limit int) ([]health.Snapshot, error) {
	if limit <= 0 {
		limit = j.retain
	}

	rows, err := j.conn().QueryContext(ctx,
		`SELECT body FROM snapshots ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w: %w", store.ErrDatabase, err)
	}
	defer func() { _ = rows.Close() }()

	var out []health.Snapshot
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w: %w", store.ErrDatabase, err)
		}
		var snap health.Snapshot
		if err := json.Unmarshal([]byte(body), &snap); err != nil {
			return nil, fmt.Errorf("decoding snapshot: %w: %w", store.ErrDatabase, err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshots: %w: %w", store.ErrDatabase, err)
	}

	slices.Reverse(out)
	return out, nil
}

// BreakerEvents returns up to limit breaker events, oldest first.
func (j *Journal) BreakerEvents(ctx context.Context, limit int) ([]store.BreakerEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := j.conn().QueryContext(ctx,
		`SELECT name, open, failures, reason, at FROM breaker_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying breaker events: %w: %w", store.ErrDatabase, err)
	}
	defer func() { _ = rows.Close() }()

	var out []store.BreakerEvent
	for rows.Next() {
		var (
			ev store.BreakerEvent
			at string
		)
		if err := rows.Scan(&ev.Name, &ev.Open, &ev.Failures, &ev.Reason, &at); err != nil {
			return nil, fmt.Errorf("scanning breaker event: %w: %w", store.ErrDatabase, err)
		}
		ev.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating breaker events: %w: %w", store.ErrDatabase, err)
	}

	slices.Reverse(out)
	return out, nil
}

// Ping checks that the current connection is usable.
func (j *Journal) Ping(ctx context.Context) error {
	if err := j.conn().PingContext(ctx); err != nil {
		return fmt.Errorf("pinging journal: %w: %w", store.ErrDatabase, err)
	}
	return nil
}

// Reconnect closes the current connection pool and opens a fresh one.
// The old pool is kept if the new one cannot be opened.
func (j *Journal) Reconnect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fresh, err := open(j.path)
	if err != nil {
		return fmt.Errorf("reconnecting journal: %w: %w", store.ErrDatabase, err)
	}

	j.mu.Lock()
	old := j.db
	j.db = fresh
	j.mu.Unlock()

	_ = old.Close()
	return nil
}

// Close releases the database connection.
func (j *Journal) Close() error {
	return j.conn().Close()
}
