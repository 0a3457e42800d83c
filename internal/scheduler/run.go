// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/sigil-dev/steward/internal/events"
	stewarderr "github.com/sigil-dev/steward/pkg/errors"
)

type messageKind int

const (
	msgStarted messageKind = iota
	msgProgress
	msgResult
	msgError
)

// message is the only channel through which a child affects scheduler state.
type message struct {
	index    int
	kind     messageKind
	progress int
	results  []any
	err      error
}

func (m message) terminal() bool {
	return m.kind == msgResult || m.kind == msgError
}

type reporter struct {
	index int
	msgs  chan<- message
	done  <-chan struct{}
}

func (r *reporter) Progress(percent int) {
	m := message{index: r.index, kind: msgProgress, progress: min(max(percent, 0), 100)}
	select {
	case r.msgs <- m:
	case <-r.done:
	}
}

// startLocked partitions rec and launches one supervisor per partition.
func (s *Scheduler) startLocked(rec *taskRecord) {
	s.mustTransitionLocked(rec, StateSpawning, "")

	parts := Partition(rec.task.Data.Items, rec.decision.ChildCount)
	rec.units = make([]*unit, 0, len(parts))
	for i, p := range parts {
		rec.units = append(rec.units, &unit{
			child: Child{
				ID:           newChildID(),
				ParentTaskID: rec.task.ID,
				Index:        i,
				Items:        len(p),
				Status:       ChildPending,
			},
			items: p,
		})
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	rec.cancel = cancel
	exec := s.executors[rec.task.Type]
	msgs := make(chan message, len(parts)*4)

	s.mustTransitionLocked(rec, StateRunning, "")
	slog.Info("task started",
		"task_id", rec.task.ID,
		"split", rec.decision.ShouldSplit,
		"children", len(parts),
	)

	for _, u := range rec.units {
		env := Env{
			TaskID:      rec.task.ID,
			ChildID:     u.child.ID,
			Index:       u.child.Index,
			Credentials: s.creds,
		}
		s.wg.Add(1)
		go s.supervise(ctx, env, u.items, exec, msgs, rec.done)
	}
	s.wg.Add(1)
	go s.collect(rec, msgs)
}

// supervise runs one partition and forwards exactly one terminal message.
func (s *Scheduler) supervise(ctx context.Context, env Env, items []any, exec Executor, msgs chan<- message, done <-chan struct{}) {
	defer s.wg.Done()

	if err := s.pool.Acquire(ctx, 1); err != nil {
		msgs <- message{index: env.Index, kind: msgError, err: fmt.Errorf("not started: %w", err)}
		return
	}
	defer s.pool.Release(1)
	msgs <- message{index: env.Index, kind: msgStarted}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.ChildTimeout)
	defer cancel()

	out := make(chan message, 1)
	rep := &reporter{index: env.Index, msgs: msgs, done: done}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("child panicked",
					"task_id", env.TaskID,
					"child_id", env.ChildID,
					"panic", r,
					"stack", string(debug.Stack()),
				)
				out <- message{index: env.Index, kind: msgError,
					err: stewarderr.Errorf(stewarderr.CodeSchedulerChildFailure, "child panicked: %v", r)}
			}
		}()

		results, err := exec.Execute(cctx, env, items, rep)
		if err != nil {
			out <- message{index: env.Index, kind: msgError, err: err}
			return
		}
		out <- message{index: env.Index, kind: msgResult, results: results}
	}()

	select {
	case m := <-out:
		msgs <- m
	case <-cctx.Done():
		err := cctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = stewarderr.Errorf(stewarderr.CodeSchedulerChildTimeout, "child timed out after %s", s.cfg.ChildTimeout)
		}
		msgs <- message{index: env.Index, kind: msgError, err: err}
	}
}

// collect applies messages until every unit is terminal, then aggregates.
func (s *Scheduler) collect(rec *taskRecord, msgs <-chan message) {
	defer s.wg.Done()

	remaining := len(rec.units)
	for remaining > 0 {
		if s.apply(rec, <-msgs) {
			remaining--
		}
	}
	s.aggregate(rec)
}

// apply records m and reports whether it was the first terminal message
// from its child.
func (s *Scheduler) apply(rec *taskRecord, m message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.index < 0 || m.index >= len(rec.units) {
		slog.Error("message from unknown child ignored", "task_id", rec.task.ID, "index", m.index)
		return false
	}
	u := rec.units[m.index]
	c := &u.child

	if c.Status.Terminal() {
		if m.terminal() {
			slog.Warn("duplicate terminal message ignored",
				"task_id", rec.task.ID,
				"child_id", c.ID,
			)
		}
		return false
	}

	switch m.kind {
	case msgStarted:
		c.Status = ChildRunning
		c.StartedAt = s.nowFunc()
	case msgProgress:
		if m.progress <= c.Progress {
			return false
		}
		c.Progress = m.progress
	case msgResult:
		c.Status = ChildCompleted
		c.Progress = 100
		c.CompletedAt = s.nowFunc()
		u.results = m.results
	case msgError:
		c.Status = ChildFailed
		c.CompletedAt = s.nowFunc()
		c.Error = m.err.Error()
		slog.Warn("child failed",
			"task_id", rec.task.ID,
			"child_id", c.ID,
			"error", m.err,
		)
	}

	s.events.Publish(events.Event{Type: events.TypeChildState, Data: events.ChildChange{
		TaskID:   rec.task.ID,
		ChildID:  c.ID,
		Status:   string(c.Status),
		Progress: c.Progress,
		Error:    c.Error,
	}})
	return m.terminal()
}

func (s *Scheduler) aggregate(rec *taskRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mustTransitionLocked(rec, StateAggregating, "")

	failed := 0
	for _, u := range rec.units {
		if u.child.Status != ChildCompleted {
			failed++
		}
	}

	switch {
	case rec.cancelled:
		s.finishLocked(rec, StateFailed, "cancelled")
	case failed > 0:
		s.finishLocked(rec, StateFailed, fmt.Sprintf("%d of %d children failed", failed, len(rec.units)))
	default:
		s.finishLocked(rec, StateCompleted, "")
	}
}
