// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package checks

import (
	"github.com/sigil-dev/steward/internal/config"
)

// FromConfig builds the full check set in weight order. db backs the
// database check.
func FromConfig(cfg config.ChecksConfig, db Pinger) []Check {
	return []Check{
		NewDatabase(db),
		NewMemory(cfg.MemoryDegradedMB, cfg.MemoryCriticalMB),
		NewDisk(cfg.DiskPath, cfg.DiskDegradedFree, cfg.DiskCriticalFree),
		NewEnvironment(cfg.RequiredEnv),
		NewDependencies(cfg.Dependencies, cfg.DependencyTimeout),
	}
}
