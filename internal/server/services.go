// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"

	"github.com/sigil-dev/steward/internal/events"
	"github.com/sigil-dev/steward/internal/gate"
	"github.com/sigil-dev/steward/internal/remediation"
	"github.com/sigil-dev/steward/internal/scheduler"
	"github.com/sigil-dev/steward/internal/store"
	stewarderr "github.com/sigil-dev/steward/pkg/errors"
	"github.com/sigil-dev/steward/pkg/health"
)

// HealthService is the monitor as seen by the HTTP surface.
type HealthService interface {
	Current() (health.Snapshot, bool)
	History(limit int) []health.Snapshot
	Trend() health.Trend
	Tick(ctx context.Context) health.Snapshot
}

// RemediationService exposes breaker state and recovery.
type RemediationService interface {
	Breakers() []remediation.Breaker
	DeactivateBreaker(name string) error
	EmergencyRecovery(ctx context.Context) remediation.RecoveryResult
}

// GateService validates proposed changes.
type GateService interface {
	Validate(ctx context.Context, req gate.ChangeRequest) gate.Result
}

// TaskService is the reproduction scheduler.
type TaskService interface {
	Analyze(t scheduler.Task) scheduler.Decision
	Submit(ctx context.Context, t scheduler.Task) (*scheduler.Ticket, error)
	Task(id string) (scheduler.TaskView, bool)
	Approve(id string) error
	Deny(id, reason string) error
	Cancel(id string) error
	PendingApprovals() []scheduler.PendingApproval
	Children() []scheduler.Child
	Statistics() scheduler.Statistics
}

// EventSource feeds the event stream.
type EventSource interface {
	Subscribe(buffer int) (<-chan events.Event, func())
}

// BreakerJournal is the persisted breaker history.
type BreakerJournal interface {
	BreakerEvents(ctx context.Context, limit int) ([]store.BreakerEvent, error)
}

// Services holds dependencies injected into route handlers.
// Each field is an interface so subsystems can be mocked in tests.
// Use NewServices constructor to ensure all required services are provided.
type Services struct {
	health      HealthService
	remediation RemediationService
	gate        GateService
	tasks       TaskService
	events      EventSource    // optional; nil = event stream unavailable
	journal     BreakerJournal // optional; nil = breaker history unavailable
}

// NewServices creates a Services instance with validation.
// Returns an error if any required service is nil.
func NewServices(h HealthService, r RemediationService, g GateService, t TaskService) (*Services, error) {
	if h == nil {
		return nil, stewarderr.New(stewarderr.CodeServerConfigInvalid, "health service is required")
	}
	if r == nil {
		return nil, stewarderr.New(stewarderr.CodeServerConfigInvalid, "remediation service is required")
	}
	if g == nil {
		return nil, stewarderr.New(stewarderr.CodeServerConfigInvalid, "gate service is required")
	}
	if t == nil {
		return nil, stewarderr.New(stewarderr.CodeServerConfigInvalid, "task service is required")
	}
	return &Services{health: h, remediation: r, gate: g, tasks: t}, nil
}

// WithEvents enables the SSE event stream.
func (s *Services) WithEvents(src EventSource) *Services {
	s.events = src
	return s
}

// WithJournal enables the persisted breaker history endpoint.
func (s *Services) WithJournal(j BreakerJournal) *Services {
	s.journal = j
	return s
}
