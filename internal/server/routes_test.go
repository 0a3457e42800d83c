// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sigil-dev/steward/internal/events"
	"github.com/sigil-dev/steward/internal/gate"
	"github.com/sigil-dev/steward/internal/remediation"
	"github.com/sigil-dev/steward/internal/scheduler"
	"github.com/sigil-dev/steward/internal/server"
	"github.com/sigil-dev/steward/internal/store"
	"github.com/sigil-dev/steward/pkg/health"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHealth struct {
	mu    sync.Mutex
	snaps []health.Snapshot
	ticks int
}

func (f *fakeHealth) Current() (health.Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.snaps) == 0 {
		return health.Snapshot{}, false
	}
	return f.snaps[len(f.snaps)-1], true
}

func (f *fakeHealth) History(limit int) []health.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snaps[max(0, len(f.snaps)-limit):]
}

func (f *fakeHealth) Trend() health.Trend { return health.TrendStable }

func (f *fakeHealth) Tick(context.Context) health.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks++
	snap := health.Snapshot{Overall: health.StatusHealthy, Score: 100, Timestamp: time.Now()}
	f.snaps = append(f.snaps, snap)
	return snap
}

type fakeJournal struct {
	events []store.BreakerEvent
	err    error
}

func (f *fakeJournal) BreakerEvents(_ context.Context, limit int) ([]store.BreakerEvent, error) {
	return f.events[:min(limit, len(f.events))], f.err
}

type testServices struct {
	services *server.Services
	health   *fakeHealth
	ctrl     *remediation.Controller
	sched    *scheduler.Scheduler
	bus      *events.Bus
}

func newTestServices(t *testing.T) *testServices {
	t.Helper()
	bus := events.NewBus()
	t.Cleanup(bus.Close)

	h := &fakeHealth{}
	ctrl := remediation.New(remediation.Config{MaxAutoFixAttempts: 1, CircuitBreakerThreshold: 2}, nil, bus)
	g := gate.New(gate.Config{}, h, ctrl)
	sched := scheduler.New(scheduler.Config{}, scheduler.Deps{Gate: g, Breakers: ctrl, Events: bus})
	t.Cleanup(sched.Close)

	svc, err := server.NewServices(h, ctrl, g, sched)
	require.NoError(t, err)
	svc.WithEvents(bus)

	return &testServices{services: svc, health: h, ctrl: ctrl, sched: sched, bus: bus}
}

func newAPIServer(t *testing.T) (*server.Server, *testServices) {
	t.Helper()
	ts := newTestServices(t)
	srv := newTestServer(t)
	srv.RegisterServices(ts.services)
	return srv, ts
}

func do(t *testing.T, srv *server.Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// stripSchema removes the $schema link huma adds to response bodies.
func stripSchema(t *testing.T, raw []byte) string {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	delete(m, "$schema")
	out, err := json.Marshal(m)
	require.NoError(t, err)
	return string(out)
}

func failTwice(ctrl *remediation.Controller, name string) {
	for i := 1; i <= 2; i++ {
		ctrl.Remediate(context.Background(), []health.Check{{Name: name, Status: health.StatusCritical, ConsecutiveFailures: i}})
	}
}

func TestNewServices_RequiresAll(t *testing.T) {
	ts := newTestServices(t)
	_, err := server.NewServices(nil, ts.ctrl, gate.New(gate.Config{}, nil, nil), ts.sched)
	assert.Error(t, err)
	_, err = server.NewServices(ts.health, ts.ctrl, nil, ts.sched)
	assert.Error(t, err)
}

func TestRoutes_HealthBeforeAndAfterTick(t *testing.T) {
	srv, ts := newAPIServer(t)

	assert.Equal(t, http.StatusServiceUnavailable, do(t, srv, http.MethodGet, "/api/v1/health", "").Code)

	w := do(t, srv, http.MethodPost, "/api/v1/health/tick", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, ts.health.ticks)

	w = do(t, srv, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	snap := decode[health.Snapshot](t, w)
	assert.Equal(t, 100, snap.Score)

	w = do(t, srv, http.MethodGet, "/health", "")
	assert.JSONEq(t, `{"status":"ok","overall":"healthy","score":100}`, stripSchema(t, w.Body.Bytes()))

	w = do(t, srv, http.MethodGet, "/api/v1/health/history?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	hist := decode[struct {
		Snapshots []health.Snapshot `json:"snapshots"`
	}](t, w)
	assert.Len(t, hist.Snapshots, 1)

	assert.Equal(t, http.StatusUnprocessableEntity, do(t, srv, http.MethodGet, "/api/v1/health/history?limit=0", "").Code)

	w = do(t, srv, http.MethodGet, "/api/v1/health/trend", "")
	assert.Contains(t, w.Body.String(), `"stable"`)
}

func TestRoutes_Breakers(t *testing.T) {
	srv, ts := newAPIServer(t)

	w := do(t, srv, http.MethodGet, "/api/v1/breakers", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"breakers":[]`)

	failTwice(ts.ctrl, "memory")
	require.True(t, ts.ctrl.IsOpen("memory"))

	w = do(t, srv, http.MethodGet, "/api/v1/breakers", "")
	assert.Contains(t, w.Body.String(), `"name":"memory"`)

	w = do(t, srv, http.MethodDelete, "/api/v1/breakers/memory", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.False(t, ts.ctrl.IsOpen("memory"))

	w = do(t, srv, http.MethodDelete, "/api/v1/breakers/memory", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "remediation.breaker.not_found")
}

func TestRoutes_BreakerHistory(t *testing.T) {
	srv, ts := newAPIServer(t)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, srv, http.MethodGet, "/api/v1/breakers/history", "").Code)

	ts.services.WithJournal(&fakeJournal{events: []store.BreakerEvent{{Name: "disk", Open: true, Failures: 5}}})
	w := do(t, srv, http.MethodGet, "/api/v1/breakers/history?limit=10", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"name":"disk"`)

	ts.services.WithJournal(&fakeJournal{err: errors.New("db gone")})
	assert.Equal(t, http.StatusInternalServerError, do(t, srv, http.MethodGet, "/api/v1/breakers/history", "").Code)
}

func TestRoutes_Recovery(t *testing.T) {
	srv, ts := newAPIServer(t)
	failTwice(ts.ctrl, "database")

	w := do(t, srv, http.MethodPost, "/api/v1/recovery", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[remediation.RecoveryResult](t, w)
	assert.Equal(t, 2, res.Attempted)
	assert.Equal(t, 1, res.BreakersReset)
	assert.Empty(t, ts.ctrl.OpenBreakers())
}

func TestRoutes_Validate(t *testing.T) {
	srv, ts := newAPIServer(t)
	ts.health.Tick(context.Background())

	tests := []struct {
		name    string
		body    string
		verdict gate.Verdict
	}{
		{"valid config", `{"kind":"config","format":"json","payload":"{\"a\":1}"}`, gate.VerdictProceed},
		{"broken config", `{"kind":"config","format":"json","payload":"{\"a\":"}`, gate.VerdictBlocked},
		{"code needs approval", `{"kind":"code","format":"go","payload":"package main\n"}`, gate.VerdictProceedWithWarnings},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv, http.MethodPost, "/api/v1/validate", tt.body)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			got := decode[struct {
				Verdict gate.Verdict `json:"verdict"`
			}](t, w)
			assert.Equal(t, tt.verdict, got.Verdict)
		})
	}

	assert.Equal(t, http.StatusUnprocessableEntity,
		do(t, srv, http.MethodPost, "/api/v1/validate", `{"kind":"binary","payload":"x"}`).Code)
}

func TestRoutes_AnalyzeTask(t *testing.T) {
	srv, _ := newAPIServer(t)

	w := do(t, srv, http.MethodPost, "/api/v1/tasks/analyze",
		`{"data":{"items":[1,2,3,4,5,6,7,8,9,10]},"policy":{"min_items_to_split":5,"max_children":3}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	d := decode[scheduler.Decision](t, w)
	assert.True(t, d.ShouldSplit)
	assert.Equal(t, 3, d.ChildCount)
}

func TestRoutes_TaskLifecycle(t *testing.T) {
	srv, ts := newAPIServer(t)
	ts.health.Tick(context.Background())

	w := do(t, srv, http.MethodPost, "/api/v1/tasks",
		`{"id":"t1","type":"identity","data":{"items":[1,2,3,4,5,6,7,8,9,10]},"policy":{"min_items_to_split":5,"max_children":3}}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := ts.sched.Wait(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, scheduler.StateCompleted, out.State)

	w = do(t, srv, http.MethodGet, "/api/v1/tasks/t1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"completed"`)

	w = do(t, srv, http.MethodGet, "/api/v1/children", "")
	children := decode[struct {
		Children []scheduler.Child `json:"children"`
	}](t, w)
	assert.Len(t, children.Children, 3)

	w = do(t, srv, http.MethodGet, "/api/v1/statistics", "")
	stats := decode[scheduler.Statistics](t, w)
	assert.Equal(t, 3, stats.Completed)

	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/api/v1/tasks/nope", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPost, "/api/v1/tasks/t1/cancel", "").Code)
}

func TestRoutes_ApprovalFlow(t *testing.T) {
	srv, ts := newAPIServer(t)
	ts.health.Tick(context.Background())

	for _, id := range []string{"a", "b"} {
		w := do(t, srv, http.MethodPost, "/api/v1/tasks",
			`{"id":"`+id+`","type":"identity","data":{"items":[1]},"policy":{"requires_approval":true}}`)
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
		assert.Contains(t, w.Body.String(), `"state":"awaiting_approval"`)
	}

	w := do(t, srv, http.MethodGet, "/api/v1/approvals", "")
	approvals := decode[struct {
		Approvals []scheduler.PendingApproval `json:"approvals"`
	}](t, w)
	assert.Len(t, approvals.Approvals, 2)

	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/api/v1/tasks/a/approve", "").Code)
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/api/v1/tasks/b/deny", `{"reason":"too risky"}`).Code)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := ts.sched.Wait(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "denied: too risky", out.Reason)

	w = do(t, srv, http.MethodPost, "/api/v1/tasks/b/approve", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "scheduler.approval.not_found")
}

func TestRoutes_SubmitRejections(t *testing.T) {
	srv, _ := newAPIServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"schema: no items", `{"id":"x","type":"identity","data":{"items":[]}}`, http.StatusUnprocessableEntity},
		{"schema: missing id", `{"type":"identity","data":{"items":[1]}}`, http.StatusUnprocessableEntity},
		{"unknown type", `{"id":"x","type":"teleport","data":{"items":[1]}}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, do(t, srv, http.MethodPost, "/api/v1/tasks", tt.body).Code)
		})
	}
}

func TestRoutes_OpenBreakerFailsSubmittedTask(t *testing.T) {
	srv, ts := newAPIServer(t)
	ts.health.Tick(context.Background())
	failTwice(ts.ctrl, "database")

	w := do(t, srv, http.MethodPost, "/api/v1/tasks",
		`{"id":"db","type":"identity","data":{"items":[1]},"subsystems":["database"]}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"state":"failed"`)
	assert.Contains(t, w.Body.String(), "circuit breaker")
}
