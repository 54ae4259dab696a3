// Package bgworker provides explicitly-constructed background worker
// pools with cancellable task handles. Long-running loops (workflow
// executions, event monitors) run here as detached tasks instead of bare
// goroutines, so owners can cancel them and shutdown can wait for them.
package bgworker

import (
	"context"
	"log/slog"

	"github.com/alitto/pond/v2"
)

const defaultWorkerCount = 10

// Handle tracks a detached background task. Cancel is idempotent.
type Handle struct {
	task   pond.Task
	cancel context.CancelFunc
}

// Cancel signals the task's context. The task stops when it observes the
// cancellation; callers that need to wait should follow up with Wait.
func (h *Handle) Cancel() {
	if h.cancel != nil {
		h.cancel()
	}
}

// Wait blocks until the task has finished.
func (h *Handle) Wait() {
	if h.task != nil {
		_ = h.task.Wait()
	}
}

// Runner wraps a pond pool. Unlike a process-global pool, a Runner is
// constructed explicitly and passed to the components that need it, so
// tests and hosts control its lifetime.
type Runner struct {
	pool   pond.Pool
	logger *slog.Logger
}

// Option configures a Runner.
type Option func(*runnerOptions)

type runnerOptions struct {
	workers int
	logger  *slog.Logger
}

// WithWorkers sets the pool size. Values below 1 fall back to the default.
func WithWorkers(count int) Option {
	return func(o *runnerOptions) {
		if count > 0 {
			o.workers = count
		}
	}
}

// WithLogger sets the logger used for pool lifecycle messages.
func WithLogger(logger *slog.Logger) Option {
	return func(o *runnerOptions) {
		o.logger = logger
	}
}

// NewRunner creates a background runner with its own pond pool.
func NewRunner(opts ...Option) *Runner {
	options := &runnerOptions{
		workers: defaultWorkerCount,
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(options)
	}

	options.logger.Debug("Initializing background worker pool", "count", options.workers)

	return &Runner{
		pool:   pond.NewPool(options.workers),
		logger: options.logger,
	}
}

// Go submits a fire-and-forget function to the pool.
// It returns an error if the pool has been stopped.
func (r *Runner) Go(f func()) error {
	return r.pool.Go(f)
}

// Submit submits a function and returns a task to wait on.
func (r *Runner) Submit(f func()) pond.Task { //nolint:ireturn
	return r.pool.Submit(f)
}

// Detach runs f on the pool with a context derived from ctx and returns
// a Handle whose Cancel cancels that context. The function must observe
// ctx to stop promptly; cancellation is cooperative.
func (r *Runner) Detach(ctx context.Context, f func(ctx context.Context)) *Handle {
	taskCtx, cancel := context.WithCancel(ctx)

	task := r.pool.Submit(func() {
		defer cancel()
		f(taskCtx)
	})

	return &Handle{task: task, cancel: cancel}
}

// Stop stops the pool and waits for running tasks to finish.
func (r *Runner) Stop() {
	r.logger.Debug("Stopping background worker pool")
	r.pool.StopAndWait()
	r.logger.Debug("Background worker pool stopped")
}
