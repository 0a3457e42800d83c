// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package remediation consumes unhealthy check results, attempts bounded
// automatic fixes and latches circuit breakers on persistent failures.
package remediation

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/sigil-dev/steward/internal/checks"
	"github.com/sigil-dev/steward/internal/events"
	stewarderr "github.com/sigil-dev/steward/pkg/errors"
	"github.com/sigil-dev/steward/pkg/health"
)

// Default policy values.
const (
	DefaultMaxAutoFixAttempts      = 3
	DefaultCircuitBreakerThreshold = 5
)

// Config controls the controller policy.
type Config struct {
	MaxAutoFixAttempts      int
	CircuitBreakerThreshold int
	// SubsystemPaths maps a breaker name to file path prefixes owned by that
	// subsystem, used by ValidateChange.
	SubsystemPaths map[string][]string
}

// Breaker is a latch that disables a subsystem after repeated failures
// until it is explicitly deactivated.
type Breaker struct {
	Name     string    `json:"name"`
	Open     bool      `json:"open"`
	Failures int       `json:"failures"`
	OpenedAt time.Time `json:"opened_at"`
	ClosedAt time.Time `json:"closed_at,omitzero"`
}

// Outcome reports what the controller did for one unhealthy check.
type Outcome struct {
	Check          string `json:"check"`
	Attempted      bool   `json:"attempted"`
	Fixed          bool   `json:"fixed"`
	ManualRequired bool   `json:"manual_required"`
	BreakerOpened  bool   `json:"breaker_opened"`
	Error          string `json:"error,omitempty"`
}

// RecoveryResult summarizes an emergency recovery.
type RecoveryResult struct {
	Attempted     int `json:"attempted"`
	Fixed         int `json:"fixed"`
	BreakersReset int `json:"breakers_reset"`
}

// Ticker forces an immediate health tick.
type Ticker interface {
	Tick(ctx context.Context) health.Snapshot
}

type breakerState struct {
	Breaker
	// baseline is the failure count at the last close; the breaker re-opens
	// only after threshold further consecutive failures of the same streak.
	// A count below the baseline means the streak restarted.
	baseline int
}

// Controller owns the auto-fix attempt counters and the circuit breakers.
// All state is guarded by mu; fixes run without holding it.
type Controller struct {
	mu       sync.Mutex
	cfg      Config
	fixers   map[string]checks.Fixer
	attempts map[string]int
	breakers map[string]*breakerState
	ticker   Ticker
	events   events.Publisher
	nowFunc  func() time.Time // for testing
}

// New creates a controller. fixers maps check names to their fix; checks
// without a fixer are never auto-fixed.
func New(cfg Config, fixers map[string]checks.Fixer, pub events.Publisher) *Controller {
	if cfg.MaxAutoFixAttempts < 0 {
		cfg.MaxAutoFixAttempts = DefaultMaxAutoFixAttempts
	}
	if cfg.CircuitBreakerThreshold <= 0 {
		cfg.CircuitBreakerThreshold = DefaultCircuitBreakerThreshold
	}
	if pub == nil {
		pub = events.Discard{}
	}
	if fixers == nil {
		fixers = map[string]checks.Fixer{}
	}
	return &Controller{
		cfg:      cfg,
		fixers:   fixers,
		attempts: make(map[string]int),
		breakers: make(map[string]*breakerState),
		events:   pub,
		nowFunc:  time.Now,
	}
}

// SetTicker wires the monitor used by EmergencyRecovery. The monitor itself
// depends on the controller, so this is set after both are constructed.
func (c *Controller) SetTicker(t Ticker) {
	c.mu.Lock()
	c.ticker = t
	c.mu.Unlock()
}

// SetNowFunc overrides the time source (for testing).
func (c *Controller) SetNowFunc(fn func() time.Time) {
	c.mu.Lock()
	c.nowFunc = fn
	c.mu.Unlock()
}

// Remediate processes one tick's checks. Healthy checks only reset breaker
// baselines; every unhealthy check may open its breaker and, when a fixer
// exists and attempts remain, is fixed once.
func (c *Controller) Remediate(ctx context.Context, results []health.Check) []Outcome {
	var outcomes []Outcome

	for _, chk := range results {
		if chk.Healthy() {
			c.observeHealthy(chk.Name)
			continue
		}

		out := Outcome{Check: chk.Name}
		out.BreakerOpened = c.maybeOpen(chk.Name, chk.ConsecutiveFailures)

		fixer, attempt := c.reserveAttempt(chk.Name)
		switch {
		case fixer == nil:
			// not fixable
		case !attempt:
			out.ManualRequired = true
		default:
			out.Attempted = true
			ok, err := fixer.Fix(ctx)
			if err != nil {
				out.Error = err.Error()
				slog.Warn("auto-fix failed", "check", chk.Name, "error", err)
			}
			if ok {
				out.Fixed = true
				c.clearAttempts(chk.Name)
				c.rearm(chk.Name)
				slog.Info("auto-fix succeeded", "check", chk.Name)
			}
		}

		outcomes = append(outcomes, out)
	}

	return outcomes
}

func (c *Controller) observeHealthy(name string) {
	c.rearm(name)
}

// rearm drops the baseline of a closed breaker once the failure streak it
// was measured against has ended.
func (c *Controller) rearm(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.breakers[name]; ok && !b.Open {
		b.baseline = 0
	}
}

// maybeOpen opens the breaker for name when failures reached the threshold.
// It is a no-op while the breaker is already open.
func (c *Controller) maybeOpen(name string, failures int) bool {
	c.mu.Lock()
	b, ok := c.breakers[name]
	if ok && b.Open {
		b.Failures = failures
		c.mu.Unlock()
		return false
	}

	baseline := 0
	if ok {
		if failures < b.baseline {
			b.baseline = 0
		}
		baseline = b.baseline
	}
	if failures-baseline < c.cfg.CircuitBreakerThreshold {
		c.mu.Unlock()
		return false
	}

	if !ok {
		b = &breakerState{Breaker: Breaker{Name: name}}
		c.breakers[name] = b
	}
	b.Open = true
	b.Failures = failures
	b.OpenedAt = c.nowFunc()
	b.ClosedAt = time.Time{}
	change := events.BreakerChange{Name: name, Open: true, Failures: failures, Reason: "consecutive failure threshold reached"}
	c.mu.Unlock()

	slog.Error("circuit breaker opened",
		"breaker", name,
		"consecutive_failures", failures,
		"threshold", c.cfg.CircuitBreakerThreshold,
	)
	c.events.Publish(events.Event{Type: events.TypeBreakerOpened, Data: change})
	return true
}

// reserveAttempt returns the fixer for name and whether an attempt was
// reserved against the attempt budget.
func (c *Controller) reserveAttempt(name string) (checks.Fixer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fixer, ok := c.fixers[name]
	if !ok {
		return nil, false
	}
	if c.attempts[name] >= c.cfg.MaxAutoFixAttempts {
		return fixer, false
	}
	c.attempts[name]++
	return fixer, true
}

func (c *Controller) clearAttempts(name string) {
	c.mu.Lock()
	delete(c.attempts, name)
	c.mu.Unlock()
}

// Attempts returns the current auto-fix attempt count for name.
func (c *Controller) Attempts(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts[name]
}

// DeactivateBreaker closes the open breaker name.
func (c *Controller) DeactivateBreaker(name string) error {
	c.mu.Lock()
	b, ok := c.breakers[name]
	if !ok || !b.Open {
		c.mu.Unlock()
		return stewarderr.New(stewarderr.CodeRemediationBreakerNotFound, "no open circuit breaker",
			stewarderr.FieldBreaker(name))
	}
	change := c.closeLocked(b, "manual deactivation")
	c.mu.Unlock()

	slog.Info("circuit breaker deactivated", "breaker", name)
	c.events.Publish(events.Event{Type: events.TypeBreakerClosed, Data: change})
	return nil
}

func (c *Controller) closeLocked(b *breakerState, reason string) events.BreakerChange {
	change := events.BreakerChange{Name: b.Name, Open: false, Failures: b.Failures, Reason: reason}
	b.Open = false
	b.baseline = b.Failures
	b.ClosedAt = c.nowFunc()
	return change
}

// Breakers returns every breaker that has ever opened, sorted by name.
func (c *Controller) Breakers() []Breaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Breaker, 0, len(c.breakers))
	for _, name := range slices.Sorted(maps.Keys(c.breakers)) {
		out = append(out, c.breakers[name].Breaker)
	}
	return out
}

// OpenBreakers returns the currently open breakers, sorted by name.
func (c *Controller) OpenBreakers() []Breaker {
	var open []Breaker
	for _, b := range c.Breakers() {
		if b.Open {
			open = append(open, b)
		}
	}
	return open
}

// IsOpen reports whether the breaker for name is open.
func (c *Controller) IsOpen(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.breakers[name]
	return ok && b.Open
}

// EmergencyRecovery attempts one database reconnect and one memory reclaim,
// closes every open breaker, clears all attempt counters and forces an
// immediate tick. It never fails; fix errors are logged.
func (c *Controller) EmergencyRecovery(ctx context.Context) RecoveryResult {
	var res RecoveryResult

	for _, kind := range []checks.Kind{checks.KindDatabase, checks.KindMemory} {
		res.Attempted++

		c.mu.Lock()
		fixer := c.fixers[kind.String()]
		c.mu.Unlock()
		if fixer == nil {
			continue
		}

		ok, err := fixer.Fix(ctx)
		if err != nil {
			slog.Warn("emergency recovery step failed", "check", kind.String(), "error", err)
		}
		if ok {
			res.Fixed++
		}
	}

	c.mu.Lock()
	var closed []events.BreakerChange
	for _, name := range slices.Sorted(maps.Keys(c.breakers)) {
		if b := c.breakers[name]; b.Open {
			closed = append(closed, c.closeLocked(b, "emergency recovery"))
		}
	}
	clear(c.attempts)
	ticker := c.ticker
	c.mu.Unlock()

	res.BreakersReset = len(closed)
	for _, change := range closed {
		c.events.Publish(events.Event{Type: events.TypeBreakerClosed, Data: change})
	}

	slog.Warn("emergency recovery completed",
		"attempted", res.Attempted,
		"fixed", res.Fixed,
		"breakers_reset", res.BreakersReset,
	)
	c.events.Publish(events.Event{Type: events.TypeRecoveryCompleted, Data: events.RecoveryReport{
		Attempted:     res.Attempted,
		Fixed:         res.Fixed,
		BreakersReset: res.BreakersReset,
	}})

	if ticker != nil {
		ticker.Tick(ctx)
	}
	return res
}
