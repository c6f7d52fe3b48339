package mcp

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTracker_BatchCompletesWhenLastEnds(t *testing.T) {
	tr := newDiscoveryTracker()
	if got := tr.current(); got != DiscoveryNotStarted {
		t.Fatalf("initial state = %v", got)
	}

	a := tr.begin()
	b := tr.begin()
	if a != b {
		t.Errorf("overlapping discoveries should share a batch: %v != %v", a, b)
	}
	if got := tr.current(); got != DiscoveryInProgress {
		t.Errorf("state = %v, want in progress", got)
	}

	tr.end(a)
	if got := tr.current(); got != DiscoveryInProgress {
		t.Errorf("state after first end = %v", got)
	}
	tr.end(b)
	if got := tr.current(); got != DiscoveryCompleted {
		t.Errorf("state after last end = %v", got)
	}
}

func TestTracker_NewBatchAfterCompletion(t *testing.T) {
	tr := newDiscoveryTracker()
	first := tr.begin()
	tr.end(first)
	if err := tr.wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	second := tr.begin()
	if first == second {
		t.Error("new batch reused the old token")
	}

	// a stale token does not complete the new batch
	tr.end(first)
	if got := tr.current(); got != DiscoveryInProgress {
		t.Errorf("stale end changed state to %v", got)
	}

	tr.end(second)
	if got := tr.current(); got != DiscoveryCompleted {
		t.Errorf("state = %v, want completed", got)
	}
}

func TestTracker_WaitBlocksUntilCompleted(t *testing.T) {
	tr := newDiscoveryTracker()
	token := tr.begin()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := tr.wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}

	waited := make(chan error, 1)
	go func() { waited <- tr.wait(context.Background()) }()
	tr.end(token)

	select {
	case err := <-waited:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("wait did not return after the batch completed")
	}
}
