package engine

import (
	"github.com/roach88/opflow/internal/ir"
)

// pendingFuture is an outstanding future and its id.
type pendingFuture struct {
	id     int
	future ir.Future
}

// futureTable holds the outstanding futures of one run in issue order.
//
// Ids are assigned from a counter that starts at 0 for every run, so a
// replay that issues futures in the recorded order reproduces the recorded
// ids.
type futureTable struct {
	next    int
	pending []pendingFuture
}

func newFutureTable() *futureTable {
	return &futureTable{}
}

// add appends fs with fresh ids.
func (t *futureTable) add(fs []ir.Future) {
	for _, f := range fs {
		t.pending = append(t.pending, pendingFuture{id: t.next, future: f})
		t.next++
	}
}

// take removes and returns the oldest ready future. With force set it
// returns the oldest future whether or not it is ready; ready reports
// which was the case.
func (t *futureTable) take(force bool) (pf pendingFuture, ready, ok bool) {
	for i, p := range t.pending {
		ready = p.future.Ready()
		if ready || force {
			t.remove(i)
			return p, ready, true
		}
	}
	return pendingFuture{}, false, false
}

// pop removes the future with the given id.
func (t *futureTable) pop(id int) (ir.Future, bool) {
	for i, p := range t.pending {
		if p.id == id {
			t.remove(i)
			return p.future, true
		}
	}
	return nil, false
}

func (t *futureTable) remove(i int) {
	copy(t.pending[i:], t.pending[i+1:])
	// Nil out the tail slot so the completed future can be collected.
	t.pending[len(t.pending)-1] = pendingFuture{}
	t.pending = t.pending[:len(t.pending)-1]
}

// Len returns the number of outstanding futures.
func (t *futureTable) Len() int {
	return len(t.pending)
}
