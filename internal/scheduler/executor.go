// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package scheduler

import (
	"context"

	"github.com/sigil-dev/steward/internal/credentials"
)

// Env is the read-only context handed to a child. Children never receive
// references to scheduler state.
type Env struct {
	TaskID      string
	ChildID     string
	Index       int
	Credentials credentials.Credentials
}

// Reporter receives progress from a running child, as a percentage.
// Values that do not increase are ignored.
type Reporter interface {
	Progress(percent int)
}

// Executor is an opaque task body. Execute processes one partition and
// returns its results in item order; it should check ctx between items.
type Executor interface {
	Execute(ctx context.Context, env Env, items []any, progress Reporter) ([]any, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, env Env, items []any, progress Reporter) ([]any, error)

func (f ExecutorFunc) Execute(ctx context.Context, env Env, items []any, progress Reporter) ([]any, error) {
	return f(ctx, env, items, progress)
}

// IdentityType is the task type of the built-in identity executor.
const IdentityType = "identity"

// Identity returns every item unchanged.
var Identity = ExecutorFunc(func(ctx context.Context, _ Env, items []any, progress Reporter) ([]any, error) {
	out := make([]any, 0, len(items))
	for i, item := range items {
		out = append(out, item)
		progress.Progress((i + 1) * 100 / len(items))
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
})
