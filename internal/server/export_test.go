// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import "time"

// Limiter is exported to _test packages so the token bucket can be driven
// with a fake clock.
type Limiter = limiter

// NewLimiterAt returns a limiter whose clock is fn. It starts no goroutine.
func NewLimiterAt(cfg RateLimitConfig, fn func() time.Time) *Limiter {
	return &limiter{
		cfg:      cfg,
		nowFunc:  fn,
		visitors: make(map[string]*bucket),
		done:     make(chan struct{}),
	}
}

func (l *limiter) Allow(ip string) bool { return l.allow(ip) }

func (l *limiter) Cleanup() { l.cleanup() }

func (l *limiter) Visitors() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}
