// Package worker implements the fixed-size task worker pool: N
// goroutines draining the Consumer's handoff channel, each running one
// pipeline to completion before pulling the next unit.
package worker

import (
	"context"
	"log/slog"
	"sync"

	parsepipe "github.com/quillhq/parsepipe"
)

// Pipeline is the subset of pipeline.Pipeline the worker pool depends on,
// kept narrow so tests can supply a fake without constructing every
// collaborator.
type Pipeline interface {
	Run(ctx context.Context, unit parsepipe.WorkUnit) error
}

// Pool runs N TaskWorkers against a shared input channel.
type Pool struct {
	pipeline Pipeline
	count    int
	logger   *slog.Logger
}

// New builds a Pool of count TaskWorkers.
func New(pipeline Pipeline, count int, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{pipeline: pipeline, count: count, logger: logger}
}

// Run starts all N workers draining in, returning once every worker has
// exited — which happens when in is closed and drained, or stopCtx is
// canceled and each worker finishes its in-flight pipeline run. stopCtx
// only governs whether a worker pulls another unit; workCtx is handed to
// each pipeline.Run call and is expected to stay live through a normal
// shutdown grace period, so an in-flight pipeline is never aborted
// merely because the pool stopped accepting new work.
func (p *Pool) Run(stopCtx, workCtx context.Context, in <-chan parsepipe.WorkUnit) {
	var wg sync.WaitGroup
	for i := 0; i < p.count; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.runWorker(stopCtx, workCtx, id, in)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) runWorker(stopCtx, workCtx context.Context, id int, in <-chan parsepipe.WorkUnit) {
	logger := p.logger.With("worker_id", id)
	for {
		select {
		case unit, ok := <-in:
			if !ok {
				return
			}
			// Run to completion even though stopCtx was canceled after
			// the unit was pulled: a TaskPipeline run already holds a
			// scratch directory and partial registry state, so it must
			// reach a terminal state (completed/failed) rather than
			// abandon mid-flight. Run is handed workCtx, not stopCtx, so
			// its sub-operations (HTTP calls, downloads, LLM requests)
			// are only aborted once the shutdown grace deadline elapses.
			if err := p.pipeline.Run(workCtx, unit); err != nil {
				logger.Error("worker: pipeline run failed", "task_id", unit.TaskID, "err", err)
			}
		case <-stopCtx.Done():
			return
		}
	}
}
