// Copyright 2024, ISIS Rutherford Appleton Laboratory UKRI

package mock

import (
	"context"
	"errors"

	"github.com/autoreduction/queue-processor/queue-processor/runner"
)

var (
	// ErrRunner is the forced error for the Runner mock.
	ErrRunner = errors.New("forced error in runner")
)

// Runner is a mock runner.Runner.
type Runner struct {
	RunFunc func(ctx context.Context, job runner.Job) (runner.Result, error)
}

func (r *Runner) Run(ctx context.Context, job runner.Job) (runner.Result, error) {
	if r.RunFunc != nil {
		return r.RunFunc(ctx, job)
	}
	return runner.Result{}, nil
}
