// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/sigil-dev/steward/internal/gate"
	"github.com/sigil-dev/steward/internal/remediation"
	"github.com/sigil-dev/steward/internal/scheduler"
	"github.com/sigil-dev/steward/internal/store"
	"github.com/sigil-dev/steward/pkg/health"
)

// RegisterServices sets the service dependencies and registers REST routes.
func (s *Server) RegisterServices(svc *Services) {
	s.services = svc
	s.registerRoutes()
}

func (s *Server) registerRoutes() {
	// Health endpoints
	huma.Register(s.api, huma.Operation{
		OperationID: "get-health",
		Method:      http.MethodGet,
		Path:        "/api/v1/health",
		Summary:     "Latest health snapshot",
		Tags:        []string{"health"},
	}, s.handleGetHealth)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-health-history",
		Method:      http.MethodGet,
		Path:        "/api/v1/health/history",
		Summary:     "Recent health snapshots, oldest first",
		Tags:        []string{"health"},
	}, s.handleHealthHistory)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-health-trend",
		Method:      http.MethodGet,
		Path:        "/api/v1/health/trend",
		Summary:     "Direction of recent health scores",
		Tags:        []string{"health"},
	}, s.handleHealthTrend)

	huma.Register(s.api, huma.Operation{
		OperationID: "run-health-tick",
		Method:      http.MethodPost,
		Path:        "/api/v1/health/tick",
		Summary:     "Run one health tick now",
		Tags:        []string{"health"},
	}, s.handleHealthTick)

	// Remediation endpoints
	huma.Register(s.api, huma.Operation{
		OperationID: "list-breakers",
		Method:      http.MethodGet,
		Path:        "/api/v1/breakers",
		Summary:     "List circuit breakers",
		Tags:        []string{"remediation"},
	}, s.handleListBreakers)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-breaker-history",
		Method:      http.MethodGet,
		Path:        "/api/v1/breakers/history",
		Summary:     "Journaled breaker transitions, oldest first",
		Tags:        []string{"remediation"},
	}, s.handleBreakerHistory)

	huma.Register(s.api, huma.Operation{
		OperationID: "deactivate-breaker",
		Method:      http.MethodDelete,
		Path:        "/api/v1/breakers/{name}",
		Summary:     "Close an open circuit breaker",
		Tags:        []string{"remediation"},
	}, s.handleDeactivateBreaker)

	huma.Register(s.api, huma.Operation{
		OperationID: "emergency-recovery",
		Method:      http.MethodPost,
		Path:        "/api/v1/recovery",
		Summary:     "Run emergency recovery",
		Tags:        []string{"remediation"},
	}, s.handleRecovery)

	// Gate endpoint
	huma.Register(s.api, huma.Operation{
		OperationID: "validate-change",
		Method:      http.MethodPost,
		Path:        "/api/v1/validate",
		Summary:     "Validate a proposed change",
		Tags:        []string{"gate"},
	}, s.handleValidate)

	// Task endpoints
	huma.Register(s.api, huma.Operation{
		OperationID: "analyze-task",
		Method:      http.MethodPost,
		Path:        "/api/v1/tasks/analyze",
		Summary:     "Decide whether a task would be split",
		Tags:        []string{"tasks"},
	}, s.handleAnalyzeTask)

	huma.Register(s.api, huma.Operation{
		OperationID:   "submit-task",
		Method:        http.MethodPost,
		Path:          "/api/v1/tasks",
		Summary:       "Submit a task",
		Tags:          []string{"tasks"},
		DefaultStatus: http.StatusAccepted,
	}, s.handleSubmitTask)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/api/v1/tasks/{id}",
		Summary:     "Get task details",
		Tags:        []string{"tasks"},
	}, s.handleGetTask)

	huma.Register(s.api, huma.Operation{
		OperationID: "approve-task",
		Method:      http.MethodPost,
		Path:        "/api/v1/tasks/{id}/approve",
		Summary:     "Approve a task awaiting approval",
		Tags:        []string{"tasks"},
	}, s.handleApproveTask)

	huma.Register(s.api, huma.Operation{
		OperationID: "deny-task",
		Method:      http.MethodPost,
		Path:        "/api/v1/tasks/{id}/deny",
		Summary:     "Deny a task awaiting approval",
		Tags:        []string{"tasks"},
	}, s.handleDenyTask)

	huma.Register(s.api, huma.Operation{
		OperationID: "cancel-task",
		Method:      http.MethodPost,
		Path:        "/api/v1/tasks/{id}/cancel",
		Summary:     "Cancel a task",
		Tags:        []string{"tasks"},
	}, s.handleCancelTask)

	huma.Register(s.api, huma.Operation{
		OperationID: "list-approvals",
		Method:      http.MethodGet,
		Path:        "/api/v1/approvals",
		Summary:     "List tasks awaiting approval",
		Tags:        []string{"tasks"},
	}, s.handleListApprovals)

	huma.Register(s.api, huma.Operation{
		OperationID: "list-children",
		Method:      http.MethodGet,
		Path:        "/api/v1/children",
		Summary:     "List child workers",
		Tags:        []string{"tasks"},
	}, s.handleListChildren)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-statistics",
		Method:      http.MethodGet,
		Path:        "/api/v1/statistics",
		Summary:     "Child and task counts",
		Tags:        []string{"tasks"},
	}, s.handleStatistics)
}

// --- Request/Response types for huma ---

type snapshotOutput struct {
	Body health.Snapshot
}

type historyInput struct {
	Limit int `query:"limit" minimum:"1" maximum:"1000" default:"20" doc:"Maximum snapshots to return"`
}
type historyOutput struct {
	Body struct {
		Snapshots []health.Snapshot `json:"snapshots"`
	}
}

type trendOutput struct {
	Body struct {
		Trend health.Trend `json:"trend" enum:"improving,stable,declining"`
	}
}

type listBreakersOutput struct {
	Body struct {
		Breakers []remediation.Breaker `json:"breakers"`
	}
}

type breakerHistoryInput struct {
	Limit int `query:"limit" minimum:"1" maximum:"1000" default:"50" doc:"Maximum events to return"`
}
type breakerHistoryOutput struct {
	Body struct {
		Events []store.BreakerEvent `json:"events"`
	}
}

type breakerNameInput struct {
	Name string `path:"name"`
}

type statusOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

type recoveryOutput struct {
	Body remediation.RecoveryResult
}

type validateInput struct {
	Body struct {
		Kind          gate.Kind   `json:"kind" enum:"code,config,env_var,schema" doc:"Change kind"`
		Payload       string      `json:"payload" doc:"Proposed content"`
		Format        string      `json:"format,omitempty" doc:"Language or syntax; inferred from affected files when empty"`
		AffectedFiles []string    `json:"affected_files,omitempty"`
		Impact        gate.Impact `json:"impact,omitempty" enum:"low,medium,high"`
	}
}
type validateOutput struct {
	Body struct {
		gate.Result
		Verdict gate.Verdict `json:"verdict"`
	}
}

type policyBody struct {
	MinItemsToSplit  int  `json:"min_items_to_split,omitempty" minimum:"0" doc:"Fewer items run inline; zero uses the server default"`
	MaxChildren      int  `json:"max_children,omitempty" minimum:"0" doc:"Upper bound on children; zero uses the server default"`
	RequiresApproval bool `json:"requires_approval,omitempty"`
}

type dataBody struct {
	Items []any `json:"items" minItems:"1" doc:"Work items, partitioned in order"`
}

type analyzeInput struct {
	Body struct {
		Data   dataBody    `json:"data"`
		Policy *policyBody `json:"policy,omitempty"`
	}
}
type analyzeOutput struct {
	Body scheduler.Decision
}

type submitInput struct {
	Body struct {
		ID            string      `json:"id" minLength:"1" doc:"Task id, unique per server"`
		Type          string      `json:"type" minLength:"1" doc:"Executor type"`
		Kind          gate.Kind   `json:"kind,omitempty" enum:"code,config,env_var,schema"`
		Data          dataBody    `json:"data"`
		Policy        *policyBody `json:"policy,omitempty"`
		Payload       string      `json:"payload,omitempty"`
		Format        string      `json:"format,omitempty"`
		AffectedFiles []string    `json:"affected_files,omitempty"`
		Impact        gate.Impact `json:"impact,omitempty" enum:"low,medium,high"`
		Subsystems    []string    `json:"subsystems,omitempty"`
	}
}
type ticketOutput struct {
	Body scheduler.Ticket
}

type taskIDInput struct {
	ID string `path:"id"`
}
type taskOutput struct {
	Body scheduler.TaskView
}

type denyInput struct {
	ID   string `path:"id"`
	Body *struct {
		Reason string `json:"reason,omitempty" doc:"Shown in the task's failure reason"`
	}
}

type listApprovalsOutput struct {
	Body struct {
		Approvals []scheduler.PendingApproval `json:"approvals"`
	}
}

type listChildrenOutput struct {
	Body struct {
		Children []scheduler.Child `json:"children"`
	}
}

type statisticsOutput struct {
	Body scheduler.Statistics
}

func (p *policyBody) policy() scheduler.Policy {
	if p == nil {
		return scheduler.Policy{}
	}
	return scheduler.Policy{
		MinItemsToSplit:  p.MinItemsToSplit,
		MaxChildren:      p.MaxChildren,
		RequiresApproval: p.RequiresApproval,
	}
}

// --- Handlers ---

func (s *Server) handleGetHealth(_ context.Context, _ *struct{}) (*snapshotOutput, error) {
	snap, ok := s.services.health.Current()
	if !ok {
		return nil, huma.Error503ServiceUnavailable("no health snapshot yet")
	}
	return &snapshotOutput{Body: snap}, nil
}

func (s *Server) handleHealthHistory(_ context.Context, input *historyInput) (*historyOutput, error) {
	out := &historyOutput{}
	out.Body.Snapshots = s.services.health.History(input.Limit)
	if out.Body.Snapshots == nil {
		out.Body.Snapshots = []health.Snapshot{}
	}
	return out, nil
}

func (s *Server) handleHealthTrend(_ context.Context, _ *struct{}) (*trendOutput, error) {
	out := &trendOutput{}
	out.Body.Trend = s.services.health.Trend()
	return out, nil
}

func (s *Server) handleHealthTick(ctx context.Context, _ *struct{}) (*snapshotOutput, error) {
	return &snapshotOutput{Body: s.services.health.Tick(ctx)}, nil
}

func (s *Server) handleListBreakers(_ context.Context, _ *struct{}) (*listBreakersOutput, error) {
	out := &listBreakersOutput{}
	out.Body.Breakers = s.services.remediation.Breakers()
	if out.Body.Breakers == nil {
		out.Body.Breakers = []remediation.Breaker{}
	}
	return out, nil
}

func (s *Server) handleBreakerHistory(ctx context.Context, input *breakerHistoryInput) (*breakerHistoryOutput, error) {
	if s.services.journal == nil {
		return nil, huma.Error503ServiceUnavailable("journal not configured")
	}
	evs, err := s.services.journal.BreakerEvents(ctx, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("reading breaker history", err)
	}
	out := &breakerHistoryOutput{}
	out.Body.Events = evs
	if out.Body.Events == nil {
		out.Body.Events = []store.BreakerEvent{}
	}
	return out, nil
}

func (s *Server) handleDeactivateBreaker(_ context.Context, input *breakerNameInput) (*statusOutput, error) {
	if err := s.services.remediation.DeactivateBreaker(input.Name); err != nil {
		return nil, apiError(err)
	}
	out := &statusOutput{}
	out.Body.Status = "closed"
	return out, nil
}

func (s *Server) handleRecovery(ctx context.Context, _ *struct{}) (*recoveryOutput, error) {
	return &recoveryOutput{Body: s.services.remediation.EmergencyRecovery(ctx)}, nil
}

func (s *Server) handleValidate(ctx context.Context, input *validateInput) (*validateOutput, error) {
	res := s.services.gate.Validate(ctx, gate.ChangeRequest{
		Kind:          input.Body.Kind,
		Payload:       input.Body.Payload,
		Format:        input.Body.Format,
		AffectedFiles: input.Body.AffectedFiles,
		Impact:        input.Body.Impact,
	})
	out := &validateOutput{}
	out.Body.Result = res
	out.Body.Verdict = res.Verdict()
	return out, nil
}

func (s *Server) handleAnalyzeTask(_ context.Context, input *analyzeInput) (*analyzeOutput, error) {
	d := s.services.tasks.Analyze(scheduler.Task{
		Data:   scheduler.Data{Items: input.Body.Data.Items},
		Policy: input.Body.Policy.policy(),
	})
	return &analyzeOutput{Body: d}, nil
}

func (s *Server) handleSubmitTask(ctx context.Context, input *submitInput) (*ticketOutput, error) {
	b := input.Body
	ticket, err := s.services.tasks.Submit(ctx, scheduler.Task{
		ID:            b.ID,
		Type:          b.Type,
		Kind:          b.Kind,
		Data:          scheduler.Data{Items: b.Data.Items},
		Policy:        b.Policy.policy(),
		Payload:       b.Payload,
		Format:        b.Format,
		AffectedFiles: b.AffectedFiles,
		Impact:        b.Impact,
		Subsystems:    b.Subsystems,
	})
	if err != nil {
		return nil, apiError(err)
	}
	return &ticketOutput{Body: *ticket}, nil
}

func (s *Server) handleGetTask(_ context.Context, input *taskIDInput) (*taskOutput, error) {
	view, ok := s.services.tasks.Task(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("task " + input.ID + " not found")
	}
	return &taskOutput{Body: view}, nil
}

func (s *Server) handleApproveTask(_ context.Context, input *taskIDInput) (*statusOutput, error) {
	if err := s.services.tasks.Approve(input.ID); err != nil {
		return nil, apiError(err)
	}
	out := &statusOutput{}
	out.Body.Status = "approved"
	return out, nil
}

func (s *Server) handleDenyTask(_ context.Context, input *denyInput) (*statusOutput, error) {
	reason := ""
	if input.Body != nil {
		reason = input.Body.Reason
	}
	if err := s.services.tasks.Deny(input.ID, reason); err != nil {
		return nil, apiError(err)
	}
	out := &statusOutput{}
	out.Body.Status = "denied"
	return out, nil
}

func (s *Server) handleCancelTask(_ context.Context, input *taskIDInput) (*statusOutput, error) {
	if err := s.services.tasks.Cancel(input.ID); err != nil {
		return nil, apiError(err)
	}
	out := &statusOutput{}
	out.Body.Status = "cancelling"
	return out, nil
}

func (s *Server) handleListApprovals(_ context.Context, _ *struct{}) (*listApprovalsOutput, error) {
	out := &listApprovalsOutput{}
	out.Body.Approvals = s.services.tasks.PendingApprovals()
	return out, nil
}

func (s *Server) handleListChildren(_ context.Context, _ *struct{}) (*listChildrenOutput, error) {
	out := &listChildrenOutput{}
	out.Body.Children = s.services.tasks.Children()
	if out.Body.Children == nil {
		out.Body.Children = []scheduler.Child{}
	}
	return out, nil
}

func (s *Server) handleStatistics(_ context.Context, _ *struct{}) (*statisticsOutput, error) {
	return &statisticsOutput{Body: s.services.tasks.Statistics()}, nil
}
