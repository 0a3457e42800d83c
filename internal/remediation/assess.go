// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package remediation

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// Impact grades the blast radius of a proposed change.
type Impact string

const (
	ImpactLow    Impact = "low"
	ImpactMedium Impact = "medium"
	ImpactHigh   Impact = "high"
)

// ChangeDescriptor is the part of a change request the controller can judge.
type ChangeDescriptor struct {
	AffectedFiles []string `json:"affected_files"`
	Impact        Impact   `json:"impact"`
}

// ChangeAssessment is the controller's view of a proposed change.
type ChangeAssessment struct {
	Safe     bool     `json:"safe"`
	Warnings []string `json:"warnings"`
	Blockers []string `json:"blockers"`
}

// ValidateChange warns about every open breaker whose subsystem owns an
// affected file and blocks high-impact changes while any breaker is open.
func (c *Controller) ValidateChange(desc ChangeDescriptor) ChangeAssessment {
	open := c.OpenBreakers()

	c.mu.Lock()
	paths := c.cfg.SubsystemPaths
	c.mu.Unlock()

	var a ChangeAssessment
	for _, b := range open {
		for _, file := range desc.AffectedFiles {
			if affects(b.Name, paths[b.Name], file) {
				a.Warnings = append(a.Warnings, fmt.Sprintf(
					"circuit breaker %q is open for the subsystem owning %s", b.Name, file))
				break
			}
		}
	}

	if desc.Impact == ImpactHigh && len(open) > 0 {
		names := make([]string, 0, len(open))
		for _, b := range open {
			names = append(names, b.Name)
		}
		a.Blockers = append(a.Blockers, fmt.Sprintf(
			"high-impact change while circuit breakers are open: %s", strings.Join(names, ", ")))
	}

	a.Safe = len(a.Blockers) == 0
	return a
}

// affects reports whether file belongs to subsystem, either by one of the
// configured prefixes or by the subsystem name appearing as a path segment.
func affects(subsystem string, prefixes []string, file string) bool {
	clean := path.Clean(filepath.ToSlash(file))
	for _, p := range prefixes {
		p = path.Clean(filepath.ToSlash(p))
		if clean == p || strings.HasPrefix(clean, p+"/") {
			return true
		}
	}

	segments := strings.Split(clean, "/")
	for i, seg := range segments {
		if i == len(segments)-1 {
			seg = strings.TrimSuffix(seg, path.Ext(seg))
		}
		if seg == subsystem {
			return true
		}
	}
	return false
}
