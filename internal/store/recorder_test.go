// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sigil-dev/steward/internal/events"
	"github.com/sigil-dev/steward/internal/store"
	"github.com/sigil-dev/steward/pkg/health"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJournal struct {
	mu        sync.Mutex
	snapshots []health.Snapshot
	breakers  []store.BreakerEvent
	outcomes  []store.TaskOutcome
}

func (f *fakeJournal) RecordSnapshot(_ context.Context, s health.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, s)
	return nil
}

func (f *fakeJournal) RecordBreakerEvent(_ context.Context, ev store.BreakerEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.breakers = append(f.breakers, ev)
	return nil
}

func (f *fakeJournal) RecordTaskOutcome(_ context.Context, out store.TaskOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, out)
	return nil
}

func (f *fakeJournal) RecentSnapshots(context.Context, int) ([]health.Snapshot, error) {
	return nil, nil
}

func (f *fakeJournal) BreakerEvents(context.Context, int) ([]store.BreakerEvent, error) {
	return nil, nil
}

func (f *fakeJournal) Ping(context.Context) error      { return nil }
func (f *fakeJournal) Reconnect(context.Context) error { return nil }
func (f *fakeJournal) Close() error                    { return nil }

func TestRecorder_RoutesEventsByPayload(t *testing.T) {
	j := &fakeJournal{}
	ch := make(chan events.Event, 8)
	at := time.Now()

	ch <- events.Event{Type: events.TypeHealthSnapshot, Time: at, Data: health.Snapshot{Score: 91}}
	ch <- events.Event{Type: events.TypeBreakerOpened, Time: at, Data: events.BreakerChange{Name: "memory", Open: true, Failures: 5}}
	ch <- events.Event{Type: events.TypeTaskState, Time: at, Data: events.TaskChange{TaskID: "t1", State: "running"}}
	ch <- events.Event{Type: events.TypeTaskState, Time: at, Data: events.TaskChange{TaskID: "t1", State: "completed", Children: 3}}
	ch <- events.Event{Type: events.TypeChildState, Time: at, Data: events.ChildChange{TaskID: "t1"}}
	close(ch)

	store.NewRecorder(j).Run(context.Background(), ch)

	require.Len(t, j.snapshots, 1)
	assert.Equal(t, 91, j.snapshots[0].Score)
	require.Len(t, j.breakers, 1)
	assert.Equal(t, "memory", j.breakers[0].Name)
	assert.True(t, j.breakers[0].At.Equal(at))
	require.Len(t, j.outcomes, 1, "only terminal task states are journaled")
	assert.Equal(t, 3, j.outcomes[0].Children)
}

func TestRecorder_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		store.NewRecorder(&fakeJournal{}).Run(ctx, make(chan events.Event))
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("recorder did not stop")
	}
}
