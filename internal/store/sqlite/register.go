// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sigil-dev/steward/internal/store"
)

func init() {
	store.RegisterBackend("sqlite", newJournal)
}

func newJournal(dataPath string, retain int) (store.Journal, error) {
	if err := os.MkdirAll(dataPath, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	j, err := NewJournal(filepath.Join(dataPath, "journal.db"), retain)
	if err != nil {
		return nil, fmt.Errorf("creating journal: %w", err)
	}
	return j, nil
}
