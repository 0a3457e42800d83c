// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"fmt"
	"sync"
)

// JournalFactory creates a journal rooted at dataPath, keeping at most
// retain snapshots.
type JournalFactory func(dataPath string, retain int) (Journal, error)

var (
	journalFactories = map[string]JournalFactory{}
	factoriesMu      sync.RWMutex
)

// RegisterBackend registers the journal factory for a named storage backend.
// Backend packages call this from init(). This function is goroutine-safe.
func RegisterBackend(name string, f JournalFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	journalFactories[name] = f
}

// NewJournal creates the journal for backend ("" selects sqlite).
func NewJournal(backend, dataPath string, retain int) (Journal, error) {
	if backend == "" {
		backend = "sqlite"
	}

	factoriesMu.RLock()
	factory, ok := journalFactories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage backend %q: %w", backend, ErrInvalidInput)
	}
	return factory(dataPath, retain)
}
