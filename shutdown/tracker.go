// Package shutdown coordinates graceful shutdown: it tracks in-flight
// workflow transitions, runs prioritized cleanup functions and forces an
// exit on a second signal.
package shutdown

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrTrackerClosed is returned when an operation starts after shutdown began.
var ErrTrackerClosed = errors.New("shutdown: operation tracker is closed")

// ErrWaitTimeout is returned when Wait times out before all operations complete.
var ErrWaitTimeout = errors.New("shutdown: operations did not complete in time")

// OperationTracker counts in-flight operations by name so shutdown can
// wait for provider calls to finish and report which ones did not.
//
// Usage:
//
//	done, err := tracker.Begin("wf-123/generate")
//	if err != nil {
//	    return err // shutting down
//	}
//	defer done()
type OperationTracker struct {
	mu     sync.Mutex
	wg     sync.WaitGroup
	active map[uint64]string
	nextID uint64
	closed bool
}

// NewOperationTracker creates an open tracker.
func NewOperationTracker() *OperationTracker {
	return &OperationTracker{active: make(map[uint64]string)}
}

// Begin registers an operation. The returned func must be called exactly
// once when it finishes; extra calls are ignored.
func (t *OperationTracker) Begin(name string) (func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTrackerClosed
	}
	t.nextID++
	id := t.nextID
	t.active[id] = name
	t.wg.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.active, id)
			t.mu.Unlock()
			t.wg.Done()
		})
	}, nil
}

// Wait blocks until every operation finished or timeout elapsed.
func (t *OperationTracker) Wait(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrWaitTimeout
	}
}

// Close rejects new operations. Running ones continue.
func (t *OperationTracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

// IsClosed reports whether Close was called.
func (t *OperationTracker) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// ActiveCount returns the number of running operations.
func (t *OperationTracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// Active returns the names of running operations, sorted.
func (t *OperationTracker) Active() []string {
	t.mu.Lock()
	names := make([]string, 0, len(t.active))
	for _, name := range t.active {
		names = append(names, name)
	}
	t.mu.Unlock()
	sort.Strings(names)
	return names
}
