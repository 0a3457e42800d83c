// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package gate

import (
	"fmt"
	"maps"
	"math"
	"regexp"
	"slices"
	"strings"

	"github.com/subosito/gotenv"
)

var envName = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)

// secretPrefixes are well-known credential prefixes.
var secretPrefixes = []string{
	"sk-", "sk_live_", "sk_test_", "rk_live_",
	"ghp_", "gho_", "github_pat_",
	"xoxb-", "xoxp-",
	"AKIA", "AIza",
	"-----BEGIN",
}

// secretNameHints mark a variable name as intended to hold a secret.
var secretNameHints = []string{"KEY", "SECRET", "TOKEN", "PASSWORD", "PASSWD", "CREDENTIAL", "AUTH"}

// validateEnv checks dotenv-formatted assignments.
func (g *Gate) validateEnv(req ChangeRequest) (errs, warns []Diagnostic) {
	env, err := gotenv.StrictParse(strings.NewReader(req.Payload))
	if err != nil {
		return []Diagnostic{{
			Message: fmt.Sprintf("invalid environment assignment: %v", err),
			Fix:     "use one NAME=value assignment per line",
		}}, nil
	}

	for _, name := range slices.Sorted(maps.Keys(env)) {
		value := env[name]

		if !envName.MatchString(name) {
			errs = append(errs, Diagnostic{
				Message: fmt.Sprintf("invalid environment variable name %q", name),
				Fix:     "use upper-case letters, digits and underscores, not starting with a digit",
			})
			continue
		}

		if want, ok := g.keyLengths[name]; ok && len(value) != want {
			errs = append(errs, Diagnostic{
				Message: fmt.Sprintf("%s must be exactly %d characters, got %d", name, want, len(value)),
				Fix:     fmt.Sprintf("generate a %d-character value, e.g. openssl rand -hex %d", want, want/2),
			})
			continue
		}

		if looksLikeSecret(value) && !secretNamed(name) {
			warns = append(warns, Diagnostic{
				Message: fmt.Sprintf("%s holds a value that looks like a secret", name),
				Fix:     "rename the variable to mark it as a secret or move the value to the keyring",
			})
		}
	}
	return errs, warns
}

func secretNamed(name string) bool {
	for _, hint := range secretNameHints {
		if strings.Contains(name, hint) {
			return true
		}
	}
	return false
}

func looksLikeSecret(v string) bool {
	for _, p := range secretPrefixes {
		if strings.HasPrefix(v, p) && len(v) > len(p)+8 {
			return true
		}
	}
	if len(v) < 32 || strings.ContainsAny(v, " \t/") {
		return false
	}
	return entropy(v) >= 4.0
}

// entropy is the Shannon entropy of s in bits per byte.
func entropy(s string) float64 {
	var counts [256]int
	for i := 0; i < len(s); i++ {
		counts[s[i]]++
	}
	var h float64
	n := float64(len(s))
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		h -= p * math.Log2(p)
	}
	return h
}
