package evaluator

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/opflow/internal/ir"
)

// Transport ships exchange arguments to a rank and hands back a receipt
// for what that rank sends in return.
type Transport interface {
	Exchange(ctx context.Context, rank int, args []ir.Value) (Receipt, error)
}

// Receipt is an exchange in flight. Ready never blocks; Wait blocks until
// the values arrive or ctx is done.
type Receipt interface {
	Ready() bool
	Wait(ctx context.Context) ([]ir.Value, error)
}

// Peer computes what rank sends back for args. The default peer mirrors
// the arguments.
type Peer func(rank int, args []ir.Value) ([]ir.Value, error)

func mirror(_ int, args []ir.Value) ([]ir.Value, error) {
	out := make([]ir.Value, len(args))
	copy(out, args)
	return out, nil
}

func peerOrMirror(p Peer) Peer {
	if p == nil {
		return mirror
	}
	return p
}

// LoopbackTransport answers every exchange from a goroutine after Delay,
// so exchanges really are in flight while the scheduler keeps working.
type LoopbackTransport struct {
	Delay time.Duration
	Peer  Peer
}

type received struct {
	vals []ir.Value
	err  error
}

// Exchange implements Transport.
func (t *LoopbackTransport) Exchange(ctx context.Context, rank int, args []ir.Value) (Receipt, error) {
	r := &chanReceipt{ch: make(chan received, 1)}
	peer := peerOrMirror(t.Peer)
	go func() {
		if t.Delay > 0 {
			timer := time.NewTimer(t.Delay)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				r.ch <- received{err: ctx.Err()}
				return
			}
		}
		vals, err := peer(rank, args)
		r.ch <- received{vals: vals, err: err}
	}()
	return r, nil
}

type chanReceipt struct {
	ch chan received

	mu   sync.Mutex
	done bool
	res  received
}

func (r *chanReceipt) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return true
	}
	select {
	case res := <-r.ch:
		r.done, r.res = true, res
		return true
	default:
		return false
	}
}

func (r *chanReceipt) Wait(ctx context.Context) ([]ir.Value, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.done {
		select {
		case res := <-r.ch:
			r.done, r.res = true, res
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return r.res.vals, r.res.err
}

// CountdownTransport answers every exchange synchronously but reports it
// ready only from the Polls-th call to Ready on, which makes schedules
// involving exchanges deterministic.
type CountdownTransport struct {
	Polls int
	Peer  Peer
}

// Exchange implements Transport.
func (t *CountdownTransport) Exchange(_ context.Context, rank int, args []ir.Value) (Receipt, error) {
	vals, err := peerOrMirror(t.Peer)(rank, args)
	return &countdownReceipt{remaining: t.Polls, res: received{vals: vals, err: err}}, nil
}

type countdownReceipt struct {
	mu        sync.Mutex
	remaining int
	res       received
}

func (r *countdownReceipt) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remaining--
	return r.remaining <= 0
}

func (r *countdownReceipt) Wait(context.Context) ([]ir.Value, error) {
	return r.res.vals, r.res.err
}
