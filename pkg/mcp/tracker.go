package mcp

import (
	"context"
	"sync"
)

// DiscoveryState is the state of the current discovery batch.
type DiscoveryState string

const (
	DiscoveryNotStarted DiscoveryState = "not_started"
	DiscoveryInProgress DiscoveryState = "in_progress"
	DiscoveryCompleted  DiscoveryState = "completed"
)

// discoveryTracker coalesces overlapping discoveries into batches. A batch
// starts when the first discovery begins with nothing outstanding and completes
// when the last outstanding discovery of that batch ends.
type discoveryTracker struct {
	mu          sync.Mutex
	state       DiscoveryState
	token       uint64
	outstanding int
	done        chan struct{} // closed when the current batch completes
	doneClosed  bool
}

func newDiscoveryTracker() *discoveryTracker {
	return &discoveryTracker{
		state: DiscoveryNotStarted,
		done:  make(chan struct{}),
	}
}

// begin joins the in-flight batch or starts a new one, and returns its token.
func (t *discoveryTracker) begin() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.outstanding == 0 {
		t.token++
		t.state = DiscoveryInProgress
		if t.doneClosed {
			t.done = make(chan struct{})
			t.doneClosed = false
		}
	}
	t.outstanding++
	return t.token
}

// end marks one discovery of batch token as finished.
func (t *discoveryTracker) end(token uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if token != t.token || t.outstanding == 0 {
		return
	}
	t.outstanding--
	if t.outstanding == 0 {
		t.state = DiscoveryCompleted
		if !t.doneClosed {
			close(t.done)
			t.doneClosed = true
		}
	}
}

func (t *discoveryTracker) current() DiscoveryState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// wait blocks until a batch has completed with nothing new in flight.
func (t *discoveryTracker) wait(ctx context.Context) error {
	for {
		t.mu.Lock()
		if t.state == DiscoveryCompleted {
			t.mu.Unlock()
			return nil
		}
		done := t.done
		t.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
