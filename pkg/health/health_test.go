// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package health_test

import (
	"testing"
	"time"

	"github.com/sigil-dev/steward/pkg/health"
	"github.com/stretchr/testify/assert"
)

func TestStatusForScore_Boundaries(t *testing.T) {
	tests := []struct {
		score int
		want  health.Status
	}{
		{100, health.StatusHealthy},
		{90, health.StatusHealthy},
		{89, health.StatusDegraded},
		{70, health.StatusDegraded},
		{69, health.StatusCritical},
		{0, health.StatusCritical},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, health.StatusForScore(tt.score), "score %d", tt.score)
	}
}

func TestStatusScore(t *testing.T) {
	assert.Equal(t, 100, health.StatusScore(health.StatusHealthy))
	assert.Equal(t, 60, health.StatusScore(health.StatusDegraded))
	assert.Equal(t, 0, health.StatusScore(health.StatusCritical))
	assert.Equal(t, 0, health.StatusScore(health.Status("bogus")))
}

func TestSnapshot_CloneDoesNotAlias(t *testing.T) {
	orig := health.Snapshot{
		Overall: health.StatusHealthy,
		Score:   100,
		Checks: map[string]health.Check{
			"database": {Name: "database", Status: health.StatusHealthy},
		},
		Issues:    []health.Issue{{Severity: health.SeverityLow, Category: "disk"}},
		Timestamp: time.Now(),
	}

	cp := orig.Clone()
	cp.Checks["memory"] = health.Check{Name: "memory"}
	cp.Issues[0].Category = "changed"

	assert.Len(t, orig.Checks, 1)
	assert.Equal(t, "disk", orig.Issues[0].Category)
	assert.Equal(t, []string{"database", "memory"}, cp.CheckNames())
}
