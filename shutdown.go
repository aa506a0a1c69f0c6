package parsepipe

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ShutdownCoordinator tracks in-flight pipelines and enforces a grace
// period on shutdown, in two distinct stages: (1) stopCtx cancels
// immediately, telling the Consumer and worker pool to stop pulling new
// work, while pipelines already running continue completely untouched;
// (2) only if they haven't drained by the grace deadline does workCtx
// get cancelled, force-aborting whatever sub-operation (HTTP call, LLM
// request, download) a straggling pipeline is blocked on.
type ShutdownCoordinator struct {
	logger *slog.Logger

	mu         sync.Mutex
	wg         sync.WaitGroup
	stopCancel context.CancelFunc
	workCancel context.CancelFunc
	draining   bool
}

// NewShutdownCoordinator returns a coordinator plus the two contexts it
// governs: stopCtx (pass to the Consumer and as the worker pool's
// "keep pulling new units" signal) and workCtx (pass to each
// TaskPipeline.Run — it only cancels once the grace deadline in
// Shutdown elapses, never when stopCtx cancels).
func NewShutdownCoordinator(parent context.Context, logger *slog.Logger) (coordinator *ShutdownCoordinator, stopCtx, workCtx context.Context) {
	stopCtx, stopCancel := context.WithCancel(parent)
	workCtx, workCancel := context.WithCancel(context.Background())
	if logger == nil {
		logger = slog.Default()
	}
	coordinator = &ShutdownCoordinator{logger: logger, stopCancel: stopCancel, workCancel: workCancel}
	return coordinator, stopCtx, workCtx
}

// Track registers one in-flight pipeline. Callers must invoke the returned
// func exactly once, when that pipeline terminates (normally or not).
func (s *ShutdownCoordinator) Track() func() {
	s.wg.Add(1)
	done := make(chan struct{})
	go func() {
		<-done
		s.wg.Done()
	}()
	return func() { close(done) }
}

// Shutdown stops new work immediately (cancels stopCtx) and gives
// in-flight pipelines up to grace to finish on their own. Only once that
// deadline elapses does it cancel workCtx, force-aborting whatever
// sub-operation any straggler is blocked on, then waits for them to
// actually unwind. It is safe to call once; a second call is a no-op.
func (s *ShutdownCoordinator) Shutdown(grace time.Duration) {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	s.mu.Unlock()

	s.stopCancel()

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		s.logger.Info("all in-flight pipelines drained")
		return
	case <-time.After(grace):
		s.logger.Warn("forcing shutdown past grace period", "grace", grace)
	}

	s.workCancel()
	select {
	case <-drained:
		s.logger.Info("stragglers unwound after forced cancellation")
	case <-time.After(grace):
		s.logger.Error("pipelines still stuck after forced cancellation, abandoning wait")
	}
}
