// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/sigil-dev/steward/internal/events"
	"github.com/sigil-dev/steward/pkg/health"
)

// recordTimeout bounds a single journal write so a stuck database cannot
// stall the recorder.
const recordTimeout = 5 * time.Second

// Recorder copies control loop events from the bus into a Journal.
type Recorder struct {
	journal Journal
}

// NewRecorder creates a recorder writing to j.
func NewRecorder(j Journal) *Recorder {
	return &Recorder{journal: j}
}

// Run consumes ch until it is closed or ctx is done. Write failures are
// logged and skipped; the journal is an audit trail, not a source of truth.
func (r *Recorder) Run(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := r.record(ctx, ev); err != nil {
				slog.Warn("journal write failed", "event_type", ev.Type, "error", err)
			}
		}
	}
}

func (r *Recorder) record(ctx context.Context, ev events.Event) error {
	ctx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()

	switch data := ev.Data.(type) {
	case health.Snapshot:
		return r.journal.RecordSnapshot(ctx, data)
	case events.BreakerChange:
		return r.journal.RecordBreakerEvent(ctx, BreakerEvent{
			Name:     data.Name,
			Open:     data.Open,
			Failures: data.Failures,
			Reason:   data.Reason,
			At:       ev.Time,
		})
	case events.TaskChange:
		if data.State != "completed" && data.State != "failed" {
			return nil
		}
		return r.journal.RecordTaskOutcome(ctx, TaskOutcome{
			TaskID:   data.TaskID,
			Type:     data.Type,
			State:    data.State,
			Reason:   data.Reason,
			Children: data.Children,
			Failed:   data.Failed,
			At:       ev.Time,
		})
	default:
		return nil
	}
}
