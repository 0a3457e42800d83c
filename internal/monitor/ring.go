// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package monitor

import "github.com/sigil-dev/steward/pkg/health"

// ring is a fixed-capacity buffer of snapshots; pushing past capacity
// evicts the oldest entry. It is not safe for concurrent use.
type ring struct {
	buf   []health.Snapshot
	start int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]health.Snapshot, capacity)}
}

func (r *ring) push(s health.Snapshot) {
	if len(r.buf) == 0 {
		return
	}
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = s
		r.size++
		return
	}
	r.buf[r.start] = s
	r.start = (r.start + 1) % len(r.buf)
}

// last returns copies of the newest n entries, oldest first. n <= 0 returns
// every entry.
func (r *ring) last(n int) []health.Snapshot {
	if n <= 0 || n > r.size {
		n = r.size
	}
	out := make([]health.Snapshot, 0, n)
	for i := r.size - n; i < r.size; i++ {
		out = append(out, r.buf[(r.start+i)%len(r.buf)].Clone())
	}
	return out
}

func (r *ring) newest() (health.Snapshot, bool) {
	if r.size == 0 {
		return health.Snapshot{}, false
	}
	return r.buf[(r.start+r.size-1)%len(r.buf)].Clone(), true
}
