// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package scheduler decides whether a task runs inline or is split across
// child workers, holds tasks for approval when policy demands it, and
// supervises the children on a bounded worker pool.
package scheduler

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/sigil-dev/steward/internal/credentials"
	"github.com/sigil-dev/steward/internal/events"
	"github.com/sigil-dev/steward/internal/gate"
	stewarderr "github.com/sigil-dev/steward/pkg/errors"
)

// Default settings.
const (
	DefaultMaxWorkers      = 8
	DefaultChildTimeout    = 5 * time.Minute
	DefaultMinItemsToSplit = 5
	DefaultMaxChildren     = 4
	DefaultRetainFinished  = 1000
)

// Validator is the gate consulted before a task runs.
type Validator interface {
	Validate(ctx context.Context, req gate.ChangeRequest) gate.Result
}

// BreakerSource reports circuit breaker state.
type BreakerSource interface {
	IsOpen(name string) bool
}

// Config controls the scheduler.
type Config struct {
	MaxWorkers   int
	ChildTimeout time.Duration
	// ApprovalTTL auto-denies tasks awaiting approval for longer than this.
	// Zero holds them until an explicit decision.
	ApprovalTTL     time.Duration
	DefaultKind     gate.Kind
	GuardedBreakers []string
	MinItemsToSplit int
	MaxChildren     int
	// RetainFinished caps how many completed or failed tasks stay tracked.
	// The oldest finished tasks are dropped first.
	RetainFinished int
}

// Deps are the scheduler's collaborators. All are optional.
type Deps struct {
	Gate        Validator
	Breakers    BreakerSource
	Credentials credentials.Credentials
	Events      events.Publisher
}

type unit struct {
	child   Child
	items   []any
	results []any
}

type taskRecord struct {
	task        Task
	kind        gate.Kind
	state       State
	decision    Decision
	reason      string
	gateRes     *gate.Result
	units       []*unit
	submittedAt time.Time
	requestedAt time.Time
	expiresAt   time.Time
	completedAt time.Time
	cancel      context.CancelFunc
	cancelled   bool
	done        chan struct{}
	outcome     *Outcome
}

// Scheduler owns every task and child it tracks. All record state is
// guarded by mu; children communicate only through typed messages.
type Scheduler struct {
	cfg      Config
	gate     Validator
	breakers BreakerSource
	creds    credentials.Credentials
	events   events.Publisher
	pool     *semaphore.Weighted
	nowFunc  func() time.Time // for testing

	mu        sync.Mutex
	executors map[string]Executor
	tasks     map[string]*taskRecord
	order     []string
	finished  []string // finish order, oldest first
	pending   map[string]struct{}
	closed    bool

	baseCtx     context.Context
	cancelAll   context.CancelFunc
	janitorStop chan struct{}
	wg          sync.WaitGroup
}

// New creates a scheduler with the identity executor registered.
func New(cfg Config, deps Deps) *Scheduler {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	if cfg.ChildTimeout <= 0 {
		cfg.ChildTimeout = DefaultChildTimeout
	}
	if cfg.DefaultKind == "" {
		cfg.DefaultKind = gate.KindConfig
	}
	if cfg.MinItemsToSplit <= 0 {
		cfg.MinItemsToSplit = DefaultMinItemsToSplit
	}
	if cfg.MaxChildren <= 0 {
		cfg.MaxChildren = DefaultMaxChildren
	}
	if cfg.RetainFinished <= 0 {
		cfg.RetainFinished = DefaultRetainFinished
	}
	if deps.Events == nil {
		deps.Events = events.Discard{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:       cfg,
		gate:      deps.Gate,
		breakers:  deps.Breakers,
		creds:     deps.Credentials,
		events:    deps.Events,
		pool:      semaphore.NewWeighted(int64(cfg.MaxWorkers)),
		nowFunc:   time.Now,
		executors: map[string]Executor{IdentityType: Identity},
		tasks:     make(map[string]*taskRecord),
		pending:   make(map[string]struct{}),
		baseCtx:   ctx,
		cancelAll: cancel,
	}

	if cfg.ApprovalTTL > 0 {
		s.janitorStop = make(chan struct{})
		s.wg.Add(1)
		go s.janitor()
	}
	return s
}

// SetNowFunc overrides the time source (for testing).
func (s *Scheduler) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	s.nowFunc = fn
	s.mu.Unlock()
}

// Register installs the executor for a task type.
func (s *Scheduler) Register(taskType string, e Executor) error {
	if taskType == "" || e == nil {
		return stewarderr.New(stewarderr.CodeSchedulerTaskInvalid, "executor registration needs a type and an executor")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executors[taskType]; ok {
		return stewarderr.New(stewarderr.CodeSchedulerTaskConflict, "executor already registered",
			stewarderr.Field("task_type", taskType))
	}
	s.executors[taskType] = e
	return nil
}

// Analyze returns the split decision for t using the scheduler defaults
// for zero policy fields.
func (s *Scheduler) Analyze(t Task) Decision {
	return Analyze(len(t.Data.Items), t.Policy.withDefaults(s.cfg.MinItemsToSplit, s.cfg.MaxChildren))
}

// Submit accepts a task. Only structurally invalid tasks are rejected with
// an error; every later failure is reported through the task state.
func (s *Scheduler) Submit(ctx context.Context, t Task) (*Ticket, error) {
	if err := validateTask(t); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, stewarderr.New(stewarderr.CodeSchedulerClosed, "scheduler is closed")
	}
	if _, ok := s.executors[t.Type]; !ok {
		s.mu.Unlock()
		return nil, stewarderr.New(stewarderr.CodeSchedulerTaskInvalid, fmt.Sprintf("unknown task type %q", t.Type),
			stewarderr.FieldTaskID(t.ID))
	}
	if _, dup := s.tasks[t.ID]; dup {
		s.mu.Unlock()
		return nil, stewarderr.New(stewarderr.CodeSchedulerTaskInvalid, "duplicate task id",
			stewarderr.FieldTaskID(t.ID))
	}

	rec := &taskRecord{
		task:        t,
		kind:        cmp.Or(t.Kind, s.cfg.DefaultKind),
		state:       StateReceived,
		submittedAt: s.nowFunc(),
		done:        make(chan struct{}),
	}
	rec.task.Data.Items = slices.Clone(t.Data.Items)
	rec.task.Policy = t.Policy.withDefaults(s.cfg.MinItemsToSplit, s.cfg.MaxChildren)
	s.tasks[t.ID] = rec
	s.order = append(s.order, t.ID)
	s.publishTaskLocked(rec)

	rec.decision = Analyze(len(rec.task.Data.Items), rec.task.Policy)
	s.mustTransitionLocked(rec, StateAnalyzed, rec.decision.Rationale)
	s.mu.Unlock()

	res := s.validate(ctx, rec)

	s.mu.Lock()
	defer s.mu.Unlock()

	rec.gateRes = &res
	if rec.state != StateAnalyzed {
		// cancelled while the gate ran
		return s.ticketLocked(rec), nil
	}

	breaker := s.openBreakerLocked(rec)
	switch {
	case s.closed:
		s.finishLocked(rec, StateFailed, "scheduler closed")
	case !res.CanProceed:
		s.finishLocked(rec, StateFailed, "blocked by validation gate: "+joinDiagnostics(res.Errors))
	case breaker != "":
		s.finishLocked(rec, StateFailed, fmt.Sprintf("circuit breaker %q is open", breaker))
	case rec.task.Policy.RequiresApproval || (res.RequiresApproval && rec.kind == gate.KindCode):
		s.mustTransitionLocked(rec, StateAwaitingApproval, "")
		rec.requestedAt = s.nowFunc()
		if s.cfg.ApprovalTTL > 0 {
			rec.expiresAt = rec.requestedAt.Add(s.cfg.ApprovalTTL)
		}
		s.pending[t.ID] = struct{}{}
		slog.Info("task awaiting approval",
			"task_id", t.ID,
			"kind", rec.kind,
			"warnings", len(res.Warnings),
		)
	default:
		s.mustTransitionLocked(rec, StateApproved, "")
		s.startLocked(rec)
	}

	return s.ticketLocked(rec), nil
}

func (s *Scheduler) validate(ctx context.Context, rec *taskRecord) gate.Result {
	if s.gate == nil {
		return gate.Result{Valid: true, CanProceed: true}
	}

	payload, format := rec.task.Payload, rec.task.Format
	if payload == "" {
		b, err := json.Marshal(rec.task.Data)
		if err != nil {
			return gate.Result{Errors: []gate.Diagnostic{{Message: fmt.Sprintf("task items are not serializable: %v", err)}}}
		}
		payload, format = string(b), "json"
	}

	return s.gate.Validate(ctx, gate.ChangeRequest{
		Kind:          rec.kind,
		Payload:       payload,
		Format:        format,
		AffectedFiles: rec.task.AffectedFiles,
		Impact:        rec.task.Impact,
	})
}

// openBreakerLocked returns the first open breaker guarding rec.
func (s *Scheduler) openBreakerLocked(rec *taskRecord) string {
	if s.breakers == nil {
		return ""
	}
	for _, name := range s.cfg.GuardedBreakers {
		if s.breakers.IsOpen(name) {
			return name
		}
	}
	for _, name := range rec.task.Subsystems {
		if s.breakers.IsOpen(name) {
			return name
		}
	}
	return ""
}

// Approve releases a task awaiting approval.
func (s *Scheduler) Approve(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.pendingLocked(id)
	if err != nil {
		return err
	}
	delete(s.pending, id)

	if name := s.openBreakerLocked(rec); name != "" {
		s.finishLocked(rec, StateFailed, fmt.Sprintf("circuit breaker %q is open", name))
		return nil
	}

	slog.Info("task approved", "task_id", id)
	s.mustTransitionLocked(rec, StateApproved, "")
	s.startLocked(rec)
	return nil
}

// Deny fails a task awaiting approval.
func (s *Scheduler) Deny(id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.pendingLocked(id)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = "no reason given"
	}
	slog.Info("task denied", "task_id", id, "reason", reason)
	s.finishLocked(rec, StateFailed, "denied: "+reason)
	return nil
}

func (s *Scheduler) pendingLocked(id string) (*taskRecord, error) {
	rec, ok := s.tasks[id]
	if _, pending := s.pending[id]; !ok || !pending || rec.state != StateAwaitingApproval {
		return nil, stewarderr.New(stewarderr.CodeSchedulerApprovalNotFound, "no task awaiting approval",
			stewarderr.FieldTaskID(id))
	}
	return rec, nil
}

// PendingApprovals returns the tasks awaiting approval, oldest first.
func (s *Scheduler) PendingApprovals() []PendingApproval {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]PendingApproval, 0, len(s.pending))
	for id := range s.pending {
		rec := s.tasks[id]
		pa := PendingApproval{
			TaskID:      id,
			Type:        rec.task.Type,
			Kind:        rec.kind,
			Items:       len(rec.task.Data.Items),
			Decision:    rec.decision,
			RequestedAt: rec.requestedAt,
			ExpiresAt:   rec.expiresAt,
		}
		if rec.gateRes != nil {
			g := *rec.gateRes
			pa.Gate = &g
			for _, w := range g.Warnings {
				pa.Warnings = append(pa.Warnings, w.Message)
			}
		}
		out = append(out, pa)
	}
	slices.SortFunc(out, func(a, b PendingApproval) int {
		return cmp.Or(a.RequestedAt.Compare(b.RequestedAt), strings.Compare(a.TaskID, b.TaskID))
	})
	return out
}

// ExpireApprovals auto-denies approvals past their deadline and returns
// how many were expired.
func (s *Scheduler) ExpireApprovals() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	n := 0
	for id := range s.pending {
		rec := s.tasks[id]
		if rec.expiresAt.IsZero() || now.Before(rec.expiresAt) {
			continue
		}
		slog.Warn("approval expired, denying task", "task_id", id, "requested_at", rec.requestedAt)
		s.finishLocked(rec, StateFailed, "approval expired")
		n++
	}
	return n
}

func (s *Scheduler) janitor() {
	defer s.wg.Done()

	interval := min(max(s.cfg.ApprovalTTL/4, 10*time.Millisecond), time.Minute)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.janitorStop:
			return
		case <-ticker.C:
			s.ExpireApprovals()
		}
	}
}

// Cancel stops a task. Tasks not yet running fail immediately; running
// children are cancelled and the task fails once they have stopped.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tasks[id]
	if !ok {
		return stewarderr.New(stewarderr.CodeSchedulerTaskNotFound, "task not found", stewarderr.FieldTaskID(id))
	}

	switch rec.state {
	case StateAnalyzed, StateAwaitingApproval, StateApproved:
		s.finishLocked(rec, StateFailed, "cancelled")
	case StateSpawning, StateRunning:
		if !rec.cancelled {
			rec.cancelled = true
			rec.cancel()
			slog.Info("task cancellation requested", "task_id", id)
		}
	default:
		return stewarderr.New(stewarderr.CodeSchedulerTransitionInvalid,
			fmt.Sprintf("task is already %s", rec.state), stewarderr.FieldTaskID(id))
	}
	return nil
}

// Wait blocks until the task finishes or ctx is done.
func (s *Scheduler) Wait(ctx context.Context, id string) (*Outcome, error) {
	s.mu.Lock()
	rec, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return nil, stewarderr.New(stewarderr.CodeSchedulerTaskNotFound, "task not found", stewarderr.FieldTaskID(id))
	}

	select {
	case <-rec.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := *rec.outcome
	out.Results = slices.Clone(out.Results)
	out.Errors = slices.Clone(out.Errors)
	out.Children = slices.Clone(out.Children)
	return &out, nil
}

// Task returns a snapshot of a tracked task.
func (s *Scheduler) Task(id string) (TaskView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tasks[id]
	if !ok {
		return TaskView{}, false
	}
	return TaskView{
		ID:          id,
		Type:        rec.task.Type,
		Kind:        rec.kind,
		State:       rec.state,
		Decision:    rec.decision,
		Reason:      rec.reason,
		Items:       len(rec.task.Data.Items),
		Children:    s.childrenLocked(rec),
		SubmittedAt: rec.submittedAt,
		CompletedAt: rec.completedAt,
	}, true
}

// Children returns a snapshot of every child of every tracked task. Inline
// executions have no children.
func (s *Scheduler) Children() []Child {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Child
	for _, id := range s.order {
		out = append(out, s.childrenLocked(s.tasks[id])...)
	}
	return out
}

func (s *Scheduler) childrenLocked(rec *taskRecord) []Child {
	if !rec.decision.ShouldSplit {
		return []Child{}
	}
	out := make([]Child, 0, len(rec.units))
	for _, u := range rec.units {
		out = append(out, u.child)
	}
	return out
}

// Statistics counts tracked children by status and tasks by state.
func (s *Scheduler) Statistics() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Statistics{Tasks: map[string]int{}}
	for _, rec := range s.tasks {
		st.Tasks[rec.state.String()]++
		for _, c := range s.childrenLocked(rec) {
			st.Total++
			switch c.Status {
			case ChildPending:
				st.Pending++
			case ChildRunning:
				st.Running++
			case ChildCompleted:
				st.Completed++
			case ChildFailed:
				st.Failed++
			}
		}
	}
	return st
}

// Close fails pending approvals, cancels running tasks and waits for every
// worker to stop. It is idempotent.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for id := range s.pending {
		s.finishLocked(s.tasks[id], StateFailed, "scheduler closed")
	}
	for _, rec := range s.tasks {
		if rec.state == StateSpawning || rec.state == StateRunning {
			rec.cancelled = true
		}
	}
	s.mu.Unlock()

	s.cancelAll()
	if s.janitorStop != nil {
		close(s.janitorStop)
	}
	s.wg.Wait()
	slog.Info("scheduler closed")
}

func (s *Scheduler) ticketLocked(rec *taskRecord) *Ticket {
	t := &Ticket{
		TaskID:   rec.task.ID,
		State:    rec.state,
		Decision: rec.decision,
		Reason:   rec.reason,
	}
	if rec.gateRes != nil {
		t.Gate = *rec.gateRes
	}
	return t
}

// mustTransitionLocked moves rec to state. The scheduler only requests
// transitions from states it has just checked, so a refusal is a bug.
func (s *Scheduler) mustTransitionLocked(rec *taskRecord, to State, reason string) {
	if err := s.transitionLocked(rec, to, reason); err != nil {
		panic(err)
	}
}

func (s *Scheduler) transitionLocked(rec *taskRecord, to State, reason string) error {
	if !ValidTransition(rec.state, to) {
		return stewarderr.New(stewarderr.CodeSchedulerTransitionInvalid,
			fmt.Sprintf("cannot move task from %s to %s", rec.state, to),
			stewarderr.FieldTaskID(rec.task.ID))
	}
	rec.state = to
	if reason != "" {
		rec.reason = reason
	}
	s.publishTaskLocked(rec)
	return nil
}

func (s *Scheduler) publishTaskLocked(rec *taskRecord) {
	failed := 0
	for _, u := range rec.units {
		if u.child.Status == ChildFailed {
			failed++
		}
	}
	s.events.Publish(events.Event{Type: events.TypeTaskState, Data: events.TaskChange{
		TaskID:   rec.task.ID,
		Type:     rec.task.Type,
		State:    rec.state.String(),
		Reason:   rec.reason,
		Children: len(rec.units),
		Failed:   failed,
	}})
}

// finishLocked moves rec to a terminal state and releases waiters.
func (s *Scheduler) finishLocked(rec *taskRecord, to State, reason string) {
	if err := s.transitionLocked(rec, to, reason); err != nil {
		slog.Error("task finish refused", "task_id", rec.task.ID, "error", err)
		return
	}
	delete(s.pending, rec.task.ID)
	rec.completedAt = s.nowFunc()

	out := &Outcome{
		TaskID:   rec.task.ID,
		State:    to,
		Reason:   rec.reason,
		Results:  []any{},
		Children: s.childrenLocked(rec),
	}
	for _, u := range rec.units {
		if u.child.Status == ChildCompleted {
			out.Results = append(out.Results, u.results...)
			continue
		}
		out.Failed++
		out.Errors = append(out.Errors, fmt.Sprintf("child %d: %s", u.child.Index, u.child.Error))
	}
	rec.outcome = out
	if rec.cancel != nil {
		rec.cancel()
	}
	close(rec.done)

	slog.Info("task finished",
		"task_id", rec.task.ID,
		"state", to,
		"reason", rec.reason,
		"results", len(out.Results),
		"failed_children", out.Failed,
	)

	s.finished = append(s.finished, rec.task.ID)
	s.pruneLocked()
}

// pruneLocked forgets the oldest finished tasks beyond RetainFinished.
func (s *Scheduler) pruneLocked() {
	excess := len(s.finished) - s.cfg.RetainFinished
	if excess <= 0 {
		return
	}
	dropped := make(map[string]struct{}, excess)
	for _, id := range s.finished[:excess] {
		delete(s.tasks, id)
		dropped[id] = struct{}{}
	}
	s.finished = slices.Delete(s.finished, 0, excess)
	s.order = slices.DeleteFunc(s.order, func(id string) bool {
		_, ok := dropped[id]
		return ok
	})
	slog.Debug("pruned finished tasks", "count", excess, "retained", len(s.finished))
}

func joinDiagnostics(ds []gate.Diagnostic) string {
	parts := make([]string, 0, len(ds))
	for _, d := range ds {
		parts = append(parts, d.String())
	}
	return strings.Join(parts, "; ")
}

func newChildID() string { return uuid.NewString() }
