package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/opflow/internal/ir"
)

// ManualFuture is a future whose readiness the test controls.
//
// Thread-safety: all methods are safe for concurrent use, so a test may
// flip readiness from another goroutine while the engine polls.
type ManualFuture struct {
	mu        sync.Mutex
	ready     bool
	completed bool
	polls     int
	result    []ir.Assignment
	next      []ir.Future
}

// NewManualFuture creates a future that is not ready and delivers
// assignments when completed.
func NewManualFuture(assignments ...ir.Assignment) *ManualFuture {
	return &ManualFuture{result: assignments}
}

// Then makes Complete also issue next.
func (f *ManualFuture) Then(next ...ir.Future) *ManualFuture {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next = next
	return f
}

// SetReady marks the future ready.
func (f *ManualFuture) SetReady() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready = true
}

// Ready implements ir.Future.
func (f *ManualFuture) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	return f.ready
}

// Complete implements ir.Future. It does not block: a manual future
// completed before it is ready simply delivers its result early.
func (f *ManualFuture) Complete(ctx context.Context) ([]ir.Assignment, []ir.Future, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completed {
		return nil, nil, errors.New("future completed twice")
	}
	f.completed = true
	return f.result, f.next, nil
}

// Completed reports whether Complete was called.
func (f *ManualFuture) Completed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed
}

// Polls returns how many times Ready was called.
func (f *ManualFuture) Polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

// CountdownFuture becomes ready after a fixed number of polls. It makes
// asynchronous completion deterministic.
type CountdownFuture struct {
	ManualFuture
	remaining int
}

// NewCountdownFuture creates a future that reports ready from the n-th
// call to Ready on. n <= 1 means ready on the first poll.
func NewCountdownFuture(n int, assignments ...ir.Assignment) *CountdownFuture {
	return &CountdownFuture{
		ManualFuture: ManualFuture{result: assignments},
		remaining:    n,
	}
}

// Ready implements ir.Future.
func (f *CountdownFuture) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	f.remaining--
	if f.remaining <= 0 {
		f.ready = true
	}
	return f.ready
}
