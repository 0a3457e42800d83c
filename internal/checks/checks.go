// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package checks implements the closed set of health probes run by the
// monitor on every tick, together with the fixes the remediation
// controller may apply to them.
package checks

import (
	"context"
	"fmt"

	"github.com/sigil-dev/steward/pkg/health"
)

// Kind identifies a health check. The set is closed; weights and fixes are
// resolved from the kind, never from free-form names.
type Kind int

const (
	KindDatabase Kind = iota
	KindMemory
	KindDisk
	KindEnvironment
	KindDependencies
)

func (k Kind) String() string {
	switch k {
	case KindDatabase:
		return "database"
	case KindMemory:
		return "memory"
	case KindDisk:
		return "disk"
	case KindEnvironment:
		return "environment"
	case KindDependencies:
		return "dependencies"
	default:
		return "unknown"
	}
}

// Weight is the share of the kind in the overall score.
func (k Kind) Weight() int {
	switch k {
	case KindDatabase:
		return 30
	case KindMemory:
		return 25
	case KindDisk:
		return 20
	case KindEnvironment:
		return 15
	case KindDependencies:
		return 10
	default:
		return 0
	}
}

// Recommendation is the operator hint attached to issues raised by the kind.
func (k Kind) Recommendation() string {
	switch k {
	case KindDatabase:
		return "verify the journal database file is reachable and not locked"
	case KindMemory:
		return "inspect heap growth; raise checks.memory_*_mb if the load is expected"
	case KindDisk:
		return "free space on the data volume"
	case KindEnvironment:
		return "export the missing environment variables and restart"
	case KindDependencies:
		return "check network reachability of the configured dependencies"
	default:
		return ""
	}
}

// Kinds returns every known kind in weight order.
func Kinds() []Kind {
	return []Kind{KindDatabase, KindMemory, KindDisk, KindEnvironment, KindDependencies}
}

// ParseKind resolves a check name to its kind.
func ParseKind(name string) (Kind, bool) {
	for _, k := range Kinds() {
		if k.String() == name {
			return k, true
		}
	}
	return 0, false
}

// Result is the outcome of a single probe.
type Result struct {
	Status  health.Status
	Message string
}

// Healthy returns a healthy result with msg.
func Healthy(msg string) Result { return Result{Status: health.StatusHealthy, Message: msg} }

// Degraded returns a degraded result with a formatted message.
func Degraded(format string, args ...any) Result {
	return Result{Status: health.StatusDegraded, Message: fmt.Sprintf(format, args...)}
}

// Critical returns a critical result with a formatted message.
func Critical(format string, args ...any) Result {
	return Result{Status: health.StatusCritical, Message: fmt.Sprintf(format, args...)}
}

// Check is one independent health probe. Run must honour ctx and must not
// mutate state shared with other checks.
type Check interface {
	Kind() Kind
	Run(ctx context.Context) Result
}

// Fixer is implemented by checks that can attempt an automatic fix.
// Fix reports whether the subsystem is healthy afterwards.
type Fixer interface {
	Fix(ctx context.Context) (bool, error)
}

// Fixers returns the fixers among cs keyed by check name.
func Fixers(cs []Check) map[string]Fixer {
	out := make(map[string]Fixer)
	for _, c := range cs {
		if f, ok := c.(Fixer); ok {
			out[c.Kind().String()] = f
		}
	}
	return out
}
