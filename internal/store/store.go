// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"context"
	"time"

	"github.com/sigil-dev/steward/pkg/health"
)

// Journal durably records what the control loop observed and decided.
// Its database connection doubles as the target of the database health check.
type Journal interface {
	RecordSnapshot(ctx context.Context, snap health.Snapshot) error
	RecordBreakerEvent(ctx context.Context, ev BreakerEvent) error
	RecordTaskOutcome(ctx context.Context, out TaskOutcome) error

	// RecentSnapshots returns up to limit snapshots, most recent last.
	RecentSnapshots(ctx context.Context, limit int) ([]health.Snapshot, error)
	// BreakerEvents returns up to limit breaker events, most recent last.
	BreakerEvents(ctx context.Context, limit int) ([]BreakerEvent, error)

	Ping(ctx context.Context) error
	Reconnect(ctx context.Context) error
	Close() error
}

// BreakerEvent records a circuit breaker opening or closing.
type BreakerEvent struct {
	Name     string    `json:"name"`
	Open     bool      `json:"open"`
	Failures int       `json:"failures"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

// TaskOutcome records the terminal state of a reproduction task.
type TaskOutcome struct {
	TaskID   string    `json:"task_id"`
	Type     string    `json:"type"`
	State    string    `json:"state"`
	Reason   string    `json:"reason,omitempty"`
	Children int       `json:"children"`
	Failed   int       `json:"failed"`
	At       time.Time `json:"at"`
}
