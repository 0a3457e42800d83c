// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"cmp"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	stewarderr "github.com/sigil-dev/steward/pkg/errors"
)

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained request rate per IP. Zero disables limiting.
	RequestsPerSecond float64
	// Burst is the maximum burst size per IP.
	Burst int
	// MaxVisitors caps the number of tracked IPs; the least recently seen
	// are evicted during cleanup. Default: 10000.
	MaxVisitors int
}

// Validate checks that the RateLimitConfig is valid and applies defaults.
func (c *RateLimitConfig) Validate() error {
	if c.RequestsPerSecond < 0 {
		return stewarderr.Errorf(stewarderr.CodeServerConfigInvalid,
			"rate limit requests per second must not be negative (got %g)", c.RequestsPerSecond)
	}
	if c.RequestsPerSecond > 0 && c.Burst <= 0 {
		return stewarderr.Errorf(stewarderr.CodeServerConfigInvalid,
			"rate limit burst must be positive when rate is set (got burst=%d, rate=%g)", c.Burst, c.RequestsPerSecond)
	}
	if c.MaxVisitors < 0 {
		return stewarderr.Errorf(stewarderr.CodeServerConfigInvalid,
			"rate limit max visitors must not be negative (got %d)", c.MaxVisitors)
	}
	if c.MaxVisitors == 0 {
		c.MaxVisitors = 10000
	}
	return nil
}

const (
	visitorStaleAfter = 10 * time.Minute
	cleanupInterval   = 5 * time.Minute
)

type bucket struct {
	tokens     float64
	lastSeen   time.Time
	lastRefill time.Time
}

// limiter is a per-IP token bucket. A disabled limiter passes everything
// through and owns no goroutine.
type limiter struct {
	cfg     RateLimitConfig
	nowFunc func() time.Time

	mu       sync.Mutex
	visitors map[string]*bucket

	done     chan struct{}
	stopOnce sync.Once
}

func newLimiter(cfg RateLimitConfig) *limiter {
	l := &limiter{
		cfg:      cfg,
		nowFunc:  time.Now,
		visitors: make(map[string]*bucket),
		done:     make(chan struct{}),
	}
	if cfg.RequestsPerSecond > 0 {
		go l.cleanupLoop()
	}
	return l
}

func (l *limiter) enabled() bool { return l.cfg.RequestsPerSecond > 0 }

func (l *limiter) stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

func (l *limiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.done:
			return
		}
	}
}

// cleanup drops stale visitors and enforces MaxVisitors.
func (l *limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	type seen struct {
		ip   string
		last time.Time
	}
	live := make([]seen, 0, len(l.visitors))
	for ip, b := range l.visitors {
		if now.Sub(b.lastSeen) > visitorStaleAfter {
			delete(l.visitors, ip)
			continue
		}
		live = append(live, seen{ip, b.lastSeen})
	}

	excess := len(live) - l.cfg.MaxVisitors
	if l.cfg.MaxVisitors <= 0 || excess <= 0 {
		return
	}
	slices.SortFunc(live, func(a, b seen) int { return a.last.Compare(b.last) })
	for _, v := range live[:excess] {
		delete(l.visitors, v.ip)
	}
	slog.Warn("rate limiter visitor cap enforced",
		"evicted", excess,
		"max_visitors", l.cfg.MaxVisitors,
	)
}

// allow takes one token from ip's bucket.
func (l *limiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	b, ok := l.visitors[ip]
	if !ok {
		b = &bucket{tokens: float64(l.cfg.Burst), lastRefill: now}
		l.visitors[ip] = b
	}
	b.lastSeen = now

	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens = min(b.tokens+elapsed*l.cfg.RequestsPerSecond, float64(l.cfg.Burst))
	b.lastRefill = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (l *limiter) middleware(next http.Handler) http.Handler {
	if !l.enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Limit by host so ephemeral ports share one bucket.
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		ip := cmp.Or(host, r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}

		if !l.allow(ip) {
			slog.Warn("rate limit exceeded", "ip", ip, "path", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			if _, err := w.Write([]byte(`{"error":"rate limit exceeded"}`)); err != nil {
				slog.Warn("failed to write rate limit response", "error", err)
			}
			return
		}
		next.ServeHTTP(w, r)
	})
}
