package parsepipe

import (
	"context"
	"testing"
	"time"
)

func TestShutdownCoordinator_WorkCtxLiveBeforeShutdown(t *testing.T) {
	_, _, workCtx := NewShutdownCoordinator(context.Background(), nil)
	if workCtx.Err() != nil {
		t.Fatalf("workCtx canceled before any shutdown: %v", workCtx.Err())
	}
}

func TestShutdownCoordinator_StopCtxCancelsImmediatelyWorkCtxWaitsForGrace(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	defer cancelParent()

	coord, stopCtx, workCtx := NewShutdownCoordinator(parent, nil)

	done := coord.Track()
	shutdownReturned := make(chan struct{})
	go func() {
		coord.Shutdown(50 * time.Millisecond)
		close(shutdownReturned)
	}()

	cancelParent()

	select {
	case <-stopCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("stopCtx did not cancel promptly")
	}

	// The in-flight pipeline hasn't finished yet: workCtx must still be
	// alive so its HTTP/LLM sub-operations can complete untouched.
	select {
	case <-workCtx.Done():
		t.Fatal("workCtx canceled before grace period elapsed")
	case <-time.After(20 * time.Millisecond):
	}

	<-shutdownReturned
	if workCtx.Err() == nil {
		t.Fatal("workCtx should be canceled once an undrained pipeline outlives the grace period")
	}
	done()
}

func TestShutdownCoordinator_WorkCtxNeverCancelsWhenPipelineDrainsInTime(t *testing.T) {
	coord, _, workCtx := NewShutdownCoordinator(context.Background(), nil)

	done := coord.Track()
	go func() {
		time.Sleep(10 * time.Millisecond)
		done()
	}()

	coord.Shutdown(time.Second)

	if workCtx.Err() != nil {
		t.Fatalf("workCtx should remain live when every pipeline drains before the grace deadline: %v", workCtx.Err())
	}
}

func TestShutdownCoordinator_ShutdownIsIdempotent(t *testing.T) {
	coord, _, _ := NewShutdownCoordinator(context.Background(), nil)
	coord.Shutdown(10 * time.Millisecond)
	coord.Shutdown(10 * time.Millisecond) // must not panic or block
}
