// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package gate decides whether a proposed mutation may be applied. It
// combines static validation of the payload with the live health score and
// the remediation controller's view of open circuit breakers.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"path"
	"strings"

	"github.com/sigil-dev/steward/internal/remediation"
	"github.com/sigil-dev/steward/pkg/health"
)

// Kind classifies a change request.
type Kind string

const (
	KindCode   Kind = "code"
	KindConfig Kind = "config"
	KindEnvVar Kind = "env_var"
	KindSchema Kind = "schema"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindCode, KindConfig, KindEnvVar, KindSchema:
		return true
	default:
		return false
	}
}

// Impact re-exports the controller's impact grades.
type Impact = remediation.Impact

const (
	ImpactLow    = remediation.ImpactLow
	ImpactMedium = remediation.ImpactMedium
	ImpactHigh   = remediation.ImpactHigh
)

// ChangeRequest describes a proposed mutation.
type ChangeRequest struct {
	Kind    Kind   `json:"kind"`
	Payload string `json:"payload"`
	// Format selects the language (code) or syntax (config). When empty it
	// is inferred from the first affected file's extension.
	Format        string   `json:"format,omitempty"`
	AffectedFiles []string `json:"affected_files,omitempty"`
	Impact        Impact   `json:"impact,omitempty"`
}

// Diagnostic is one finding. Line and Column are 1-based; zero means the
// finding is not tied to a position.
type Diagnostic struct {
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Fix     string `json:"fix,omitempty"`
}

func (d Diagnostic) String() string {
	if d.Line > 0 {
		return fmt.Sprintf("%d:%d: %s", d.Line, d.Column, d.Message)
	}
	return d.Message
}

// Result is the verdict on a change request.
type Result struct {
	Valid            bool         `json:"valid"`
	CanProceed       bool         `json:"can_proceed"`
	RequiresApproval bool         `json:"requires_approval"`
	Errors           []Diagnostic `json:"errors"`
	Warnings         []Diagnostic `json:"warnings"`
}

// Verdict summarizes a result.
type Verdict string

const (
	VerdictProceed             Verdict = "proceed"
	VerdictProceedWithWarnings Verdict = "proceed_with_warnings"
	VerdictBlocked             Verdict = "blocked"
)

// Verdict derives the operator-facing verdict.
func (r Result) Verdict() Verdict {
	switch {
	case !r.CanProceed:
		return VerdictBlocked
	case len(r.Warnings) > 0 || r.RequiresApproval:
		return VerdictProceedWithWarnings
	default:
		return VerdictProceed
	}
}

// HealthSource provides the current health snapshot.
type HealthSource interface {
	Current() (health.Snapshot, bool)
}

// ChangeAssessor judges a change against open circuit breakers.
type ChangeAssessor interface {
	ValidateChange(desc remediation.ChangeDescriptor) remediation.ChangeAssessment
}

// Config holds static validation rules.
type Config struct {
	// SensitiveKeyLengths extends the built-in exact-length rules for
	// environment variables. Keys are matched case-insensitively.
	SensitiveKeyLengths map[string]int
	// BaseSchema is DDL applied before a schema change is trial-run.
	BaseSchema string
}

// builtinKeyLengths are exact-length rules that always apply.
var builtinKeyLengths = map[string]int{
	"ENCRYPTION_KEY": 64,
}

// Gate validates change requests. It holds no mutable state and is safe
// for concurrent use.
type Gate struct {
	health     HealthSource
	assessor   ChangeAssessor
	keyLengths map[string]int
	baseSchema string
}

// New creates a gate. With a nil HealthSource and ChangeAssessor the gate
// performs static validation only.
func New(cfg Config, hs HealthSource, assessor ChangeAssessor) *Gate {
	lengths := maps.Clone(builtinKeyLengths)
	for k, v := range cfg.SensitiveKeyLengths {
		lengths[strings.ToUpper(k)] = v
	}
	return &Gate{
		health:     hs,
		assessor:   assessor,
		keyLengths: lengths,
		baseSchema: cfg.BaseSchema,
	}
}

// Validate runs static and dynamic validation. It never fails: malformed
// requests produce an invalid result with specific errors.
func (g *Gate) Validate(ctx context.Context, req ChangeRequest) Result {
	var res Result

	switch {
	case req.Kind == "":
		res.Errors = append(res.Errors, Diagnostic{
			Message: "change kind is required",
			Fix:     "set kind to one of code, config, env_var, schema",
		})
	case !req.Kind.Valid():
		res.Errors = append(res.Errors, Diagnostic{
			Message: fmt.Sprintf("unknown change kind %q", req.Kind),
			Fix:     "set kind to one of code, config, env_var, schema",
		})
	case strings.TrimSpace(req.Payload) == "":
		res.Errors = append(res.Errors, Diagnostic{
			Message: "change payload is empty",
			Fix:     "include the proposed content in the payload",
		})
	default:
		var errs, warns []Diagnostic
		switch req.Kind {
		case KindCode:
			errs, warns = validateCode(ctx, req)
		case KindConfig:
			errs, warns = validateConfig(req)
		case KindEnvVar:
			errs, warns = g.validateEnv(req)
		case KindSchema:
			errs, warns = g.validateSchema(ctx, req)
		}
		res.Errors = append(res.Errors, errs...)
		res.Warnings = append(res.Warnings, warns...)
	}

	g.validateDynamic(req, &res)

	if req.Kind == KindCode {
		res.RequiresApproval = true
	}
	res.CanProceed = len(res.Errors) == 0
	res.Valid = res.CanProceed

	slog.Debug("change validated",
		"kind", req.Kind,
		"verdict", res.Verdict(),
		"errors", len(res.Errors),
		"warnings", len(res.Warnings),
	)
	return res
}

func (g *Gate) validateDynamic(req ChangeRequest, res *Result) {
	if g.health != nil {
		snap, ok := g.health.Current()
		switch {
		case !ok:
			res.Warnings = append(res.Warnings, Diagnostic{
				Message: "no health snapshot available yet",
				Fix:     "wait for the first health tick or trigger one",
			})
			res.RequiresApproval = true
		case snap.Overall == health.StatusCritical:
			res.Errors = append(res.Errors, Diagnostic{
				Message: fmt.Sprintf("system health is critical (score %d)", snap.Score),
				Fix:     "resolve open health issues or run emergency recovery before applying changes",
			})
		case snap.Overall == health.StatusDegraded || snap.Score < health.HealthyThreshold:
			res.Warnings = append(res.Warnings, Diagnostic{
				Message: fmt.Sprintf("system health is %s (score %d)", snap.Overall, snap.Score),
			})
			res.RequiresApproval = true
		}

		if ok && req.Impact == ImpactHigh && snap.Score < health.HealthyThreshold {
			res.Warnings = append(res.Warnings, Diagnostic{
				Message: fmt.Sprintf("high-impact change while health score is %d", snap.Score),
				Fix:     "schedule the change after health recovers above 90",
			})
		}
	}

	if g.assessor != nil {
		a := g.assessor.ValidateChange(remediation.ChangeDescriptor{
			AffectedFiles: req.AffectedFiles,
			Impact:        req.Impact,
		})
		for _, w := range a.Warnings {
			res.Warnings = append(res.Warnings, Diagnostic{Message: w})
		}
		for _, b := range a.Blockers {
			res.Errors = append(res.Errors, Diagnostic{
				Message: b,
				Fix:     "deactivate the circuit breakers once the subsystems are healthy, or lower the change impact",
			})
		}
	}
}

// formatOf returns the explicit format or the extension of the first
// affected file that has one, lowercased and without the dot. Dots in
// directory names are not extensions.
func formatOf(req ChangeRequest) string {
	if req.Format != "" {
		return strings.ToLower(strings.TrimPrefix(req.Format, "."))
	}
	for _, f := range req.AffectedFiles {
		if ext := path.Ext(path.Base(f)); len(ext) > 1 {
			return strings.ToLower(ext[1:])
		}
	}
	return ""
}
