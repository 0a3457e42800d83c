// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite_test

import (
	"path/filepath"
	"testing"

	"github.com/sigil-dev/steward/internal/store/sqlite"
	"github.com/stretchr/testify/require"
)

func testDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "journal.db")
}

func newTestJournal(t *testing.T, retain int) *sqlite.Journal {
	t.Helper()
	j, err := sqlite.NewJournal(testDBPath(t), retain)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}
