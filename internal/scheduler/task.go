// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package scheduler

import (
	"fmt"
	"time"

	"github.com/sigil-dev/steward/internal/gate"
	stewarderr "github.com/sigil-dev/steward/pkg/errors"
)

// Policy bounds how a task may be split. Zero values take the scheduler
// defaults.
type Policy struct {
	MinItemsToSplit  int  `json:"min_items_to_split"`
	MaxChildren      int  `json:"max_children"`
	RequiresApproval bool `json:"requires_approval"`
}

// Data carries the work items of a task.
type Data struct {
	Items []any `json:"items"`
}

// Task is a unit of work submitted for reproduction.
type Task struct {
	ID     string    `json:"id"`
	Type   string    `json:"type"`
	Kind   gate.Kind `json:"kind,omitempty"`
	Data   Data      `json:"data"`
	Policy Policy    `json:"policy"`

	// Payload and Format describe the change the task applies. When Payload
	// is empty the items are validated as a JSON document.
	Payload       string      `json:"payload,omitempty"`
	Format        string      `json:"format,omitempty"`
	AffectedFiles []string    `json:"affected_files,omitempty"`
	Impact        gate.Impact `json:"impact,omitempty"`
	// Subsystems names circuit breakers that must be closed for the task to
	// run, in addition to the scheduler's guarded breakers.
	Subsystems []string `json:"subsystems,omitempty"`
}

// Decision is the outcome of analyzing a task.
type Decision struct {
	ShouldSplit bool   `json:"should_split"`
	ChildCount  int    `json:"child_count"`
	Rationale   string `json:"rationale"`
}

// Child is a read-only snapshot of a child worker.
type Child struct {
	ID           string      `json:"id"`
	ParentTaskID string      `json:"parent_task_id"`
	Index        int         `json:"index"`
	Items        int         `json:"items"`
	Status       ChildStatus `json:"status"`
	Progress     int         `json:"progress"`
	StartedAt    time.Time   `json:"started_at,omitzero"`
	CompletedAt  time.Time   `json:"completed_at,omitzero"`
	Error        string      `json:"error,omitempty"`
}

// Ticket acknowledges a submission.
type Ticket struct {
	TaskID   string      `json:"task_id"`
	State    State       `json:"state"`
	Decision Decision    `json:"decision"`
	Gate     gate.Result `json:"gate"`
	Reason   string      `json:"reason,omitempty"`
}

// Outcome is the aggregated result of a finished task. Results holds the
// output of every successful child, concatenated in partition order.
type Outcome struct {
	TaskID   string   `json:"task_id"`
	State    State    `json:"state"`
	Reason   string   `json:"reason,omitempty"`
	Results  []any    `json:"results"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
	Children []Child  `json:"children,omitempty"`
}

// TaskView is a read-only snapshot of a tracked task.
type TaskView struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Kind        gate.Kind `json:"kind"`
	State       State     `json:"state"`
	Decision    Decision  `json:"decision"`
	Reason      string    `json:"reason,omitempty"`
	Items       int       `json:"items"`
	Children    []Child   `json:"children"`
	SubmittedAt time.Time `json:"submitted_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

// PendingApproval is a task held until an operator decides.
type PendingApproval struct {
	TaskID      string       `json:"task_id"`
	Type        string       `json:"type"`
	Kind        gate.Kind    `json:"kind"`
	Items       int          `json:"items"`
	Decision    Decision     `json:"decision"`
	Warnings    []string     `json:"warnings,omitempty"`
	RequestedAt time.Time    `json:"requested_at"`
	ExpiresAt   time.Time    `json:"expires_at,omitzero"`
	Gate        *gate.Result `json:"gate,omitempty"`
}

// Statistics counts tracked children by status, and tasks by state.
type Statistics struct {
	Total     int            `json:"total"`
	Pending   int            `json:"pending"`
	Running   int            `json:"running"`
	Completed int            `json:"completed"`
	Failed    int            `json:"failed"`
	Tasks     map[string]int `json:"tasks"`
}

// withDefaults fills zero policy fields.
func (p Policy) withDefaults(minItems, maxChildren int) Policy {
	if p.MinItemsToSplit == 0 {
		p.MinItemsToSplit = minItems
	}
	if p.MaxChildren == 0 {
		p.MaxChildren = maxChildren
	}
	return p
}

// Analyze decides whether items should be split. Fewer items than
// MinItemsToSplit always run inline regardless of MaxChildren.
func Analyze(items int, p Policy) Decision {
	if items < p.MinItemsToSplit {
		return Decision{
			ShouldSplit: false,
			ChildCount:  1,
			Rationale:   fmt.Sprintf("%d items is below the split threshold of %d; executing inline", items, p.MinItemsToSplit),
		}
	}

	count := min(p.MaxChildren, items)
	if count <= 1 {
		return Decision{
			ShouldSplit: false,
			ChildCount:  1,
			Rationale:   fmt.Sprintf("policy allows at most %d child; executing inline", max(p.MaxChildren, 1)),
		}
	}

	return Decision{
		ShouldSplit: true,
		ChildCount:  count,
		Rationale:   fmt.Sprintf("splitting %d items across %d children (max %d)", items, count, p.MaxChildren),
	}
}

// Partition splits items into n contiguous parts whose sizes differ by at
// most one; larger parts come first. n is clamped to [1, len(items)].
func Partition[T any](items []T, n int) [][]T {
	if len(items) == 0 {
		return nil
	}
	n = max(1, min(n, len(items)))

	size, rem := len(items)/n, len(items)%n
	parts := make([][]T, 0, n)
	start := 0
	for i := range n {
		end := start + size
		if i < rem {
			end++
		}
		parts = append(parts, items[start:end:end])
		start = end
	}
	return parts
}

func validateTask(t Task) error {
	invalid := func(format string, args ...any) error {
		return stewarderr.Wrapf(fmt.Errorf(format, args...), stewarderr.CodeSchedulerTaskInvalid,
			"invalid task %q", t.ID)
	}

	switch {
	case t.ID == "":
		return invalid("task id is required")
	case t.Type == "":
		return invalid("task type is required")
	case len(t.Data.Items) == 0:
		return invalid("task has no items")
	case t.Policy.MinItemsToSplit < 0:
		return invalid("policy.min_items_to_split must not be negative, got %d", t.Policy.MinItemsToSplit)
	case t.Policy.MaxChildren < 0:
		return invalid("policy.max_children must not be negative, got %d", t.Policy.MaxChildren)
	case t.Kind != "" && !t.Kind.Valid():
		return invalid("unknown change kind %q", t.Kind)
	}
	return nil
}
