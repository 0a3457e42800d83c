// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package checks

import (
	"context"
)

// Usage describes a filesystem's capacity in bytes.
type Usage struct {
	Total     uint64
	Available uint64
}

// FreePercent returns the available share of the filesystem.
func (u Usage) FreePercent() float64 {
	if u.Total == 0 {
		return 0
	}
	return float64(u.Available) / float64(u.Total) * 100
}

// Disk checks free space on the volume holding path. It has no fix.
type Disk struct {
	path         string
	degradedFree float64
	criticalFree float64

	statfs func(path string) (Usage, error) // for testing
}

// NewDisk creates a disk check. Thresholds are free-space percentages.
func NewDisk(path string, degradedFree, criticalFree float64) *Disk {
	return &Disk{
		path:         path,
		degradedFree: degradedFree,
		criticalFree: criticalFree,
		statfs:       statfs,
	}
}

// SetStatfsFunc overrides the filesystem query (for testing).
func (d *Disk) SetStatfsFunc(fn func(string) (Usage, error)) { d.statfs = fn }

func (d *Disk) Kind() Kind { return KindDisk }

func (d *Disk) Run(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return Critical("disk probe cancelled: %v", err)
	}

	u, err := d.statfs(d.path)
	if err != nil {
		return Critical("statfs %s: %v", d.path, err)
	}

	free := u.FreePercent()
	switch {
	case free <= d.criticalFree:
		return Critical("%.1f%% free on %s, critical at %.1f%%", free, d.path, d.criticalFree)
	case free <= d.degradedFree:
		return Degraded("%.1f%% free on %s, degraded at %.1f%%", free, d.path, d.degradedFree)
	default:
		return Healthy("disk space sufficient")
	}
}
