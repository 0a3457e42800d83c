// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package monitor runs the health checks on a timer, scores the results
// and keeps a bounded history of snapshots.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sigil-dev/steward/internal/checks"
	"github.com/sigil-dev/steward/internal/events"
	"github.com/sigil-dev/steward/internal/remediation"
	stewarderr "github.com/sigil-dev/steward/pkg/errors"
	"github.com/sigil-dev/steward/pkg/health"
)

// Default tick settings.
const (
	DefaultInterval     = 30 * time.Second
	DefaultCheckTimeout = 10 * time.Second
	DefaultHistorySize  = 100
)

// Remediator receives every tick's check results and reports what it fixed.
type Remediator interface {
	Remediate(ctx context.Context, results []health.Check) []remediation.Outcome
}

// Config controls the tick loop.
type Config struct {
	Interval     time.Duration
	CheckTimeout time.Duration
	HistorySize  int
}

// Monitor runs a fixed set of checks. Ticks never overlap; readers always
// receive copies of snapshots.
type Monitor struct {
	cfg        Config
	checks     []checks.Check
	remediator Remediator
	events     events.Publisher
	nowFunc    func() time.Time // for testing

	tickMu   sync.Mutex
	failures map[string]int // guarded by tickMu

	mu      sync.RWMutex
	history *ring

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a monitor. remediator and pub may be nil.
func New(cfg Config, cs []checks.Check, remediator Remediator, pub events.Publisher) (*Monitor, error) {
	if cfg.Interval <= 0 {
		return nil, stewarderr.Errorf(stewarderr.CodeMonitorStartInvalid,
			"monitor interval must be positive, got %s", cfg.Interval)
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = DefaultCheckTimeout
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if pub == nil {
		pub = events.Discard{}
	}

	return &Monitor{
		cfg:        cfg,
		checks:     cs,
		remediator: remediator,
		events:     pub,
		nowFunc:    time.Now,
		failures:   make(map[string]int),
		history:    newRing(cfg.HistorySize),
	}, nil
}

// SetNowFunc overrides the time source (for testing).
func (m *Monitor) SetNowFunc(fn func() time.Time) {
	m.tickMu.Lock()
	m.nowFunc = fn
	m.tickMu.Unlock()
}

// Start runs a first tick immediately and then one per interval until Stop
// is called or ctx is done. Calling Start while running logs a warning and
// does nothing; a loop that ended with its ctx can be started again.
func (m *Monitor) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.runningLocked() {
		slog.Warn("health monitor already running, ignoring start")
		return nil
	}
	m.resetLocked()

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(loopCtx, m.done)

	slog.Info("health monitor started",
		"interval", m.cfg.Interval,
		"checks", len(m.checks),
	)
	return nil
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	// In-flight ticks are not cut short by Stop.
	tickCtx := context.WithoutCancel(ctx)

	m.Tick(tickCtx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			m.Tick(tickCtx)
		}
	}
}

// Stop cancels future ticks and waits for an in-flight tick to finish.
// It is safe to call when not running.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.resetLocked()
	slog.Info("health monitor stopped")
}

// Running reports whether the tick loop is active. A loop whose ctx ended
// is not running.
func (m *Monitor) Running() bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.runningLocked()
}

func (m *Monitor) runningLocked() bool {
	if m.done == nil {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

// resetLocked releases the state of a finished loop. The loop must have
// exited or been cancelled and awaited.
func (m *Monitor) resetLocked() {
	if m.cancel != nil {
		m.cancel()
	}
	m.cancel = nil
	m.done = nil
}

type probe struct {
	check  checks.Check
	result checks.Result
}

// Tick runs every check once, hands failures to the remediator and records
// the resulting snapshot. Concurrent calls are serialized.
func (m *Monitor) Tick(ctx context.Context) health.Snapshot {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	now := m.nowFunc()
	probes := m.runChecks(ctx)

	results := make([]health.Check, 0, len(probes))
	for _, p := range probes {
		name := p.check.Kind().String()
		if p.result.Status == health.StatusHealthy {
			m.failures[name] = 0
		} else {
			m.failures[name]++
		}
		results = append(results, health.Check{
			Name:                name,
			Status:              p.result.Status,
			Message:             p.result.Message,
			LastCheckedAt:       now,
			ConsecutiveFailures: m.failures[name],
		})
	}

	outcomes := map[string]remediation.Outcome{}
	if m.remediator != nil {
		for _, out := range m.remediator.Remediate(ctx, results) {
			outcomes[out.Check] = out
		}
	}

	snap := health.Snapshot{
		Checks:    make(map[string]health.Check, len(results)),
		Timestamp: now,
	}
	for i, chk := range results {
		out, remediated := outcomes[chk.Name]
		if remediated && out.Fixed {
			m.failures[chk.Name] = 0
			chk.ConsecutiveFailures = 0
			snap.AutoFixedCount++
		}
		snap.Checks[chk.Name] = chk

		if !chk.Healthy() {
			snap.Issues = append(snap.Issues, buildIssue(probes[i].check, chk, out))
		}
		if remediated && out.BreakerOpened {
			snap.Issues = append(snap.Issues, health.Issue{
				Severity:       health.SeverityCritical,
				Category:       "circuit_breaker",
				Message:        fmt.Sprintf("circuit breaker opened for %s after %d consecutive failures", chk.Name, chk.ConsecutiveFailures),
				Recommendation: "resolve the underlying failure, then deactivate the breaker",
			})
		}
	}

	snap.Score = score(probes)
	snap.Overall = health.StatusForScore(snap.Score)

	m.mu.Lock()
	m.history.push(snap.Clone())
	m.mu.Unlock()

	m.events.Publish(events.Event{Type: events.TypeHealthSnapshot, Time: now, Data: snap.Clone()})

	slog.Debug("health tick completed",
		"score", snap.Score,
		"overall", snap.Overall,
		"issues", len(snap.Issues),
		"auto_fixed", snap.AutoFixedCount,
	)
	return snap
}

// runChecks runs every check concurrently. A failing, panicking or slow
// check never affects its siblings.
func (m *Monitor) runChecks(ctx context.Context) []probe {
	probes := make([]probe, len(m.checks))
	var wg sync.WaitGroup
	for i, c := range m.checks {
		probes[i].check = c
		wg.Add(1)
		go func() {
			defer wg.Done()
			probes[i].result = m.runOne(ctx, c)
		}()
	}
	wg.Wait()
	return probes
}

func (m *Monitor) runOne(ctx context.Context, c checks.Check) checks.Result {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.CheckTimeout)
	defer cancel()

	resCh := make(chan checks.Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("health check panic recovered",
					"check", c.Kind().String(),
					"panic", r,
					"stack", string(debug.Stack()))
				resCh <- checks.Critical("check panicked: %v", r)
			}
		}()
		resCh <- c.Run(ctx)
	}()

	select {
	case res := <-resCh:
		if !res.Status.Valid() {
			return checks.Critical("check returned invalid status %q", res.Status)
		}
		return res
	case <-ctx.Done():
		return checks.Critical("check timed out after %s", m.cfg.CheckTimeout)
	}
}

// score is round(Σ weight·StatusScore / Σ weight). No checks scores 100.
func score(probes []probe) int {
	var sum, total int
	for _, p := range probes {
		w := p.check.Kind().Weight()
		sum += w * health.StatusScore(p.result.Status)
		total += w
	}
	if total == 0 {
		return 100
	}
	return int(math.Round(float64(sum) / float64(total)))
}

func buildIssue(c checks.Check, chk health.Check, out remediation.Outcome) health.Issue {
	_, fixable := c.(checks.Fixer)

	sev := health.SeverityMedium
	switch {
	case chk.Status == health.StatusCritical && c.Kind() == checks.KindDatabase:
		sev = health.SeverityCritical
	case chk.Status == health.StatusCritical:
		sev = health.SeverityHigh
	case c.Kind() == checks.KindDependencies:
		sev = health.SeverityLow
	}

	rec := c.Kind().Recommendation()
	if out.ManualRequired {
		rec = "auto-fix attempts exhausted, manual intervention required: " + rec
	}

	return health.Issue{
		Severity:       sev,
		Category:       c.Kind().String(),
		Message:        chk.Message,
		AutoFixable:    fixable,
		AutoFixed:      out.Fixed,
		Recommendation: rec,
	}
}

// Current returns the newest snapshot, if any tick has run.
func (m *Monitor) Current() (health.Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.history.newest()
}

// History returns up to limit snapshots, most recent last. limit <= 0
// returns the whole history.
func (m *Monitor) History(limit int) []health.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.history.last(limit)
}

// Restore seeds the history with previously journaled snapshots, oldest
// first. Failure counters are not restored.
func (m *Monitor) Restore(snaps []health.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range snaps {
		m.history.push(s.Clone())
	}
}

// Trend compares the mean of the first two and last two scores among the
// five most recent snapshots. Fewer than three snapshots is stable.
func (m *Monitor) Trend() health.Trend {
	return TrendOf(m.History(5))
}

// TrendOf computes the trend of snaps, oldest first, using at most the last
// five entries.
func TrendOf(snaps []health.Snapshot) health.Trend {
	if len(snaps) > 5 {
		snaps = snaps[len(snaps)-5:]
	}
	if len(snaps) < 3 {
		return health.TrendStable
	}

	n := len(snaps)
	first := float64(snaps[0].Score+snaps[1].Score) / 2
	last := float64(snaps[n-2].Score+snaps[n-1].Score) / 2

	switch diff := last - first; {
	case diff > 5:
		return health.TrendImproving
	case diff < -5:
		return health.TrendDeclining
	default:
		return health.TrendStable
	}
}
