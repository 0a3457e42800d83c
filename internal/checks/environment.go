// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package checks

import (
	"context"
	"os"
	"strings"
)

// Environment verifies that required environment variables are set and
// non-empty. It has no fix.
type Environment struct {
	required []string
	lookup   func(string) (string, bool) // for testing
}

// NewEnvironment creates an environment check for the given names.
func NewEnvironment(required []string) *Environment {
	return &Environment{required: required, lookup: os.LookupEnv}
}

// SetLookupFunc overrides the environment source (for testing).
func (e *Environment) SetLookupFunc(fn func(string) (string, bool)) { e.lookup = fn }

func (e *Environment) Kind() Kind { return KindEnvironment }

func (e *Environment) Run(_ context.Context) Result {
	var missing []string
	for _, name := range e.required {
		if v, ok := e.lookup(name); !ok || strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return Critical("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return Healthy("required environment present")
}
