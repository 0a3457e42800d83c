// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sigil-dev/steward/internal/gate"
	"github.com/sigil-dev/steward/internal/remediation"
	"github.com/sigil-dev/steward/internal/scheduler"
	"github.com/sigil-dev/steward/internal/server"
	stewarderr "github.com/sigil-dev/steward/pkg/errors"
	"github.com/sigil-dev/steward/pkg/health"
)

func main() {
	outPath := "api/openapi/spec.json"
	if len(os.Args) > 1 {
		outPath = os.Args[1]
	}

	if err := writeSpec(outPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("OpenAPI spec written to %s\n", outPath)
}

func writeSpec(outPath string) error {
	spec, err := generateSpec()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return stewarderr.Errorf(stewarderr.CodeCLISetupFailure, "creating output dir: %w", err)
	}
	if err := os.WriteFile(outPath, append(spec, '\n'), 0o644); err != nil {
		return stewarderr.Errorf(stewarderr.CodeCLISetupFailure, "writing spec: %w", err)
	}
	return nil
}

// generateSpec creates a server with all routes registered and extracts the
// OpenAPI spec that huma generates from the Go type annotations.
func generateSpec() ([]byte, error) {
	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"})
	if err != nil {
		return nil, stewarderr.Errorf(stewarderr.CodeCLISetupFailure, "creating server: %w", err)
	}
	defer func() { _ = srv.Close() }()

	// Handlers are never invoked during spec generation.
	svc, err := server.NewServices(stubHealth{}, stubRemediation{}, stubGate{}, stubTasks{})
	if err != nil {
		return nil, stewarderr.Errorf(stewarderr.CodeCLISetupFailure, "creating services: %w", err)
	}
	srv.RegisterServices(svc)

	return json.MarshalIndent(srv.API().OpenAPI(), "", "  ")
}

type stubHealth struct{}

func (stubHealth) Current() (health.Snapshot, bool)     { return health.Snapshot{}, false }
func (stubHealth) History(int) []health.Snapshot        { return nil }
func (stubHealth) Trend() health.Trend                  { return health.TrendStable }
func (stubHealth) Tick(context.Context) health.Snapshot { return health.Snapshot{} }

type stubRemediation struct{}

func (stubRemediation) Breakers() []remediation.Breaker { return nil }
func (stubRemediation) DeactivateBreaker(string) error  { return nil }
func (stubRemediation) EmergencyRecovery(context.Context) remediation.RecoveryResult {
	return remediation.RecoveryResult{}
}

type stubGate struct{}

func (stubGate) Validate(context.Context, gate.ChangeRequest) gate.Result { return gate.Result{} }

type stubTasks struct{}

func (stubTasks) Analyze(scheduler.Task) scheduler.Decision { return scheduler.Decision{} }
func (stubTasks) Submit(context.Context, scheduler.Task) (*scheduler.Ticket, error) {
	return &scheduler.Ticket{}, nil
}
func (stubTasks) Task(string) (scheduler.TaskView, bool)        { return scheduler.TaskView{}, false }
func (stubTasks) Approve(string) error                          { return nil }
func (stubTasks) Deny(string, string) error                     { return nil }
func (stubTasks) Cancel(string) error                           { return nil }
func (stubTasks) PendingApprovals() []scheduler.PendingApproval { return nil }
func (stubTasks) Children() []scheduler.Child                   { return nil }
func (stubTasks) Statistics() scheduler.Statistics              { return scheduler.Statistics{} }
