// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package checks

import (
	"context"
	"runtime"
	"runtime/debug"
)

const mib = 1 << 20

// Memory compares the live heap against configured limits and fixes it by
// forcing a collection and returning freed pages to the OS.
type Memory struct {
	degradedBytes uint64
	criticalBytes uint64

	readStats func(*runtime.MemStats) // for testing
	reclaim   func()                  // for testing
}

// NewMemory creates a memory check with thresholds in MiB.
func NewMemory(degradedMB, criticalMB uint64) *Memory {
	return &Memory{
		degradedBytes: degradedMB * mib,
		criticalBytes: criticalMB * mib,
		readStats:     runtime.ReadMemStats,
		reclaim: func() {
			runtime.GC()
			debug.FreeOSMemory()
		},
	}
}

// SetStatsFunc overrides the memory statistics source (for testing).
func (m *Memory) SetStatsFunc(fn func(*runtime.MemStats)) { m.readStats = fn }

// SetReclaimFunc overrides the reclaim action (for testing).
func (m *Memory) SetReclaimFunc(fn func()) { m.reclaim = fn }

func (m *Memory) Kind() Kind { return KindMemory }

func (m *Memory) heap() uint64 {
	var st runtime.MemStats
	m.readStats(&st)
	return st.HeapAlloc
}

func (m *Memory) classify(heap uint64) Result {
	switch {
	case heap >= m.criticalBytes:
		return Critical("heap %d MiB at or above critical limit %d MiB", heap/mib, m.criticalBytes/mib)
	case heap >= m.degradedBytes:
		return Degraded("heap %d MiB at or above degraded limit %d MiB", heap/mib, m.degradedBytes/mib)
	default:
		return Healthy("heap within limits")
	}
}

func (m *Memory) Run(_ context.Context) Result {
	return m.classify(m.heap())
}

// Fix reclaims memory and reports whether the heap dropped below the
// degraded limit.
func (m *Memory) Fix(_ context.Context) (bool, error) {
	m.reclaim()
	return m.heap() < m.degradedBytes, nil
}
