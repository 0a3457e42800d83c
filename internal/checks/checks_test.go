// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package checks_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"github.com/sigil-dev/steward/internal/checks"
	"github.com/sigil-dev/steward/internal/config"
	stewarderr "github.com/sigil-dev/steward/pkg/errors"
	"github.com/sigil-dev/steward/pkg/health"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind_WeightsAndNames(t *testing.T) {
	total := 0
	for _, k := range checks.Kinds() {
		total += k.Weight()
		got, ok := checks.ParseKind(k.String())
		require.True(t, ok)
		assert.Equal(t, k, got)
	}
	assert.Equal(t, 100, total)
	assert.Greater(t, checks.KindDatabase.Weight(), checks.KindDependencies.Weight())

	_, ok := checks.ParseKind("cpu")
	assert.False(t, ok)
	assert.Equal(t, "unknown", checks.Kind(99).String())
	assert.Zero(t, checks.Kind(99).Weight())
}

type fakePinger struct {
	pingErr      error
	reconnectErr error
	reconnects   int
}

func (f *fakePinger) Ping(context.Context) error { return f.pingErr }

func (f *fakePinger) Reconnect(context.Context) error {
	f.reconnects++
	if f.reconnectErr == nil {
		f.pingErr = nil
	}
	return f.reconnectErr
}

func TestDatabase_RunAndFix(t *testing.T) {
	ctx := context.Background()
	db := &fakePinger{pingErr: errors.New("database is locked")}
	c := checks.NewDatabase(db)

	res := c.Run(ctx)
	assert.Equal(t, health.StatusCritical, res.Status)
	assert.Contains(t, res.Message, "database is locked")

	ok, err := c.Fix(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, db.reconnects)
	assert.Equal(t, health.StatusHealthy, c.Run(ctx).Status)
}

func TestDatabase_FixFailure(t *testing.T) {
	db := &fakePinger{pingErr: errors.New("gone"), reconnectErr: errors.New("no such file")}

	ok, err := checks.NewDatabase(db).Fix(context.Background())
	assert.False(t, ok)
	require.Error(t, err)
	assert.True(t, stewarderr.HasCode(err, stewarderr.CodeCheckFixFailure))
	assert.Equal(t, "database", stewarderr.FieldsOf(err)["check"])
}

func TestMemory_Thresholds(t *testing.T) {
	tests := []struct {
		name string
		heap uint64
		want health.Status
	}{
		{"below degraded", 100 << 20, health.StatusHealthy},
		{"at degraded", 512 << 20, health.StatusDegraded},
		{"at critical", 1024 << 20, health.StatusCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := checks.NewMemory(512, 1024)
			m.SetStatsFunc(func(st *runtime.MemStats) { st.HeapAlloc = tt.heap })
			assert.Equal(t, tt.want, m.Run(context.Background()).Status)
		})
	}
}

func TestMemory_FixReclaims(t *testing.T) {
	heap := uint64(800 << 20)
	reclaimed := false

	m := checks.NewMemory(512, 1024)
	m.SetStatsFunc(func(st *runtime.MemStats) { st.HeapAlloc = heap })
	m.SetReclaimFunc(func() {
		reclaimed = true
		heap = 100 << 20
	})

	ok, err := m.Fix(context.Background())
	require.NoError(t, err)
	assert.True(t, reclaimed)
	assert.True(t, ok)
}

func TestDisk_Thresholds(t *testing.T) {
	tests := []struct {
		name  string
		usage checks.Usage
		err   error
		want  health.Status
	}{
		{"plenty", checks.Usage{Total: 100, Available: 50}, nil, health.StatusHealthy},
		{"low", checks.Usage{Total: 100, Available: 10}, nil, health.StatusDegraded},
		{"nearly full", checks.Usage{Total: 100, Available: 3}, nil, health.StatusCritical},
		{"statfs error", checks.Usage{}, errors.New("no such file"), health.StatusCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := checks.NewDisk("/data", 15, 5)
			d.SetStatfsFunc(func(string) (checks.Usage, error) { return tt.usage, tt.err })
			assert.Equal(t, tt.want, d.Run(context.Background()).Status)
		})
	}
}

func TestDisk_RealFilesystem(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("statfs not available")
	}
	res := checks.NewDisk(t.TempDir(), 0.0001, 0).Run(context.Background())
	assert.NotEqual(t, health.StatusCritical, res.Status, res.Message)
}

func TestEnvironment_MissingNames(t *testing.T) {
	env := map[string]string{"STEWARD_TOKEN": "x", "EMPTY": "  "}
	e := checks.NewEnvironment([]string{"STEWARD_TOKEN", "EMPTY", "ABSENT"})
	e.SetLookupFunc(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	res := e.Run(context.Background())
	assert.Equal(t, health.StatusCritical, res.Status)
	assert.Contains(t, res.Message, "EMPTY, ABSENT")

	assert.Equal(t, health.StatusHealthy, checks.NewEnvironment(nil).Run(context.Background()).Status)
}

func TestDependencies_PartialAndTotalFailure(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(ok.Close)
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(bad.Close)

	ctx := context.Background()
	timeout := time.Second

	assert.Equal(t, health.StatusHealthy, checks.NewDependencies([]string{ok.URL}, timeout).Run(ctx).Status)
	assert.Equal(t, health.StatusDegraded, checks.NewDependencies([]string{ok.URL, bad.URL}, timeout).Run(ctx).Status)

	res := checks.NewDependencies([]string{bad.URL}, timeout).Run(ctx)
	assert.Equal(t, health.StatusCritical, res.Status)
	assert.Contains(t, res.Message, "status 503")

	assert.Equal(t, health.StatusHealthy, checks.NewDependencies(nil, timeout).Run(ctx).Status)
}

func TestFromConfig_FixersOnlyForFixableKinds(t *testing.T) {
	set := checks.FromConfig(config.ChecksConfig{
		MemoryDegradedMB: 512,
		MemoryCriticalMB: 1024,
		DiskPath:         ".",
		DiskDegradedFree: 15,
		DiskCriticalFree: 5,
	}, &fakePinger{})

	require.Len(t, set, len(checks.Kinds()))
	for i, k := range checks.Kinds() {
		assert.Equal(t, k, set[i].Kind())
	}

	fixers := checks.Fixers(set)
	assert.Len(t, fixers, 2)
	assert.Contains(t, fixers, "database")
	assert.Contains(t, fixers, "memory")
}
