// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package health holds the point-in-time health records shared by the
// monitor, the remediation controller, the validation gate and the HTTP
// surface. All types are plain values safe to serialize to JSON.
package health

import (
	"maps"
	"slices"
	"time"
)

// Status is the coarse health classification of a check or a snapshot.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
)

// Valid reports whether the status is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusHealthy, StatusDegraded, StatusCritical:
		return true
	default:
		return false
	}
}

// Score thresholds for the overall status.
const (
	HealthyThreshold  = 90
	DegradedThreshold = 70
)

// StatusForScore maps a 0..100 score to the overall status.
func StatusForScore(score int) Status {
	switch {
	case score >= HealthyThreshold:
		return StatusHealthy
	case score >= DegradedThreshold:
		return StatusDegraded
	default:
		return StatusCritical
	}
}

// StatusScore is the per-check contribution of a status to the weighted score.
func StatusScore(s Status) int {
	switch s {
	case StatusHealthy:
		return 100
	case StatusDegraded:
		return 60
	default:
		return 0
	}
}

// Severity ranks an issue.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Trend summarizes the direction of recent scores.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
)

// Check is the result of one probe during one tick.
type Check struct {
	Name                string    `json:"name"`
	Status              Status    `json:"status"`
	Message             string    `json:"message"`
	LastCheckedAt       time.Time `json:"last_checked_at"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// Healthy reports whether the check passed.
func (c Check) Healthy() bool {
	return c.Status == StatusHealthy
}

// Issue is a problem surfaced by a tick.
type Issue struct {
	Severity       Severity `json:"severity"`
	Category       string   `json:"category"`
	Message        string   `json:"message"`
	AutoFixable    bool     `json:"auto_fixable"`
	AutoFixed      bool     `json:"auto_fixed"`
	Recommendation string   `json:"recommendation,omitempty"`
}

// Snapshot is an immutable point-in-time health record.
type Snapshot struct {
	Overall        Status           `json:"overall"`
	Score          int              `json:"score"`
	Checks         map[string]Check `json:"checks"`
	Issues         []Issue          `json:"issues"`
	AutoFixedCount int              `json:"auto_fixed_count"`
	Timestamp      time.Time        `json:"timestamp"`
}

// Clone returns a deep copy that shares no maps or slices with s.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Checks = maps.Clone(s.Checks)
	out.Issues = slices.Clone(s.Issues)
	return out
}

// CheckNames returns the names of the checks in s in sorted order.
func (s Snapshot) CheckNames() []string {
	return slices.Sorted(maps.Keys(s.Checks))
}
