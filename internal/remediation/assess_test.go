// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package remediation_test

import (
	"context"
	"testing"

	"github.com/sigil-dev/steward/internal/remediation"
	"github.com/sigil-dev/steward/pkg/health"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateChange(t *testing.T) {
	c, _ := newController(nil)
	c.Remediate(context.Background(), []health.Check{failing("database", 5)})
	require.True(t, c.IsOpen("database"))

	tests := []struct {
		name         string
		desc         remediation.ChangeDescriptor
		wantWarnings int
		wantSafe     bool
	}{
		{
			name:     "unrelated file",
			desc:     remediation.ChangeDescriptor{AffectedFiles: []string{"web/index.html"}, Impact: remediation.ImpactLow},
			wantSafe: true,
		},
		{
			name:         "configured prefix",
			desc:         remediation.ChangeDescriptor{AffectedFiles: []string{"internal/store/sqlite/journal.go"}, Impact: remediation.ImpactLow},
			wantWarnings: 1,
			wantSafe:     true,
		},
		{
			name:         "name as path segment",
			desc:         remediation.ChangeDescriptor{AffectedFiles: []string{"config/database.yaml", "lib/database/pool.go"}},
			wantWarnings: 1,
			wantSafe:     true,
		},
		{
			name:     "high impact blocked",
			desc:     remediation.ChangeDescriptor{AffectedFiles: []string{"README.md"}, Impact: remediation.ImpactHigh},
			wantSafe: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := c.ValidateChange(tt.desc)
			assert.Len(t, a.Warnings, tt.wantWarnings)
			assert.Equal(t, tt.wantSafe, a.Safe)
			if !tt.wantSafe {
				require.Len(t, a.Blockers, 1)
				assert.Contains(t, a.Blockers[0], "database")
			}
		})
	}
}

func TestValidateChange_NoBreakers(t *testing.T) {
	c, _ := newController(nil)
	a := c.ValidateChange(remediation.ChangeDescriptor{AffectedFiles: []string{"internal/store/x.go"}, Impact: remediation.ImpactHigh})
	assert.True(t, a.Safe)
	assert.Empty(t, a.Warnings)
	assert.Empty(t, a.Blockers)
}
