package pool

import (
	"context"
	"sync/atomic"
	"time"
)

const (
	waiterPending int32 = iota
	waiterDelivered
	waiterFailed
	waiterAbandoned
)

// waiter is a one-shot rendezvous between a blocked acquirer and whichever
// goroutine eventually supplies it either a connection or an error.
// Exactly one of set/fail/the timeout path ever wins the race to decide
// the outcome; the pool alone decides which waiter gets woken and when,
// waiter itself carries no ordering logic.
type waiter struct {
	ch    chan struct{}
	state int32 // one of waiterPending/Delivered/Failed/Abandoned

	conn Conn
	err  error
}

func newWaiter() *waiter {
	return &waiter{ch: make(chan struct{})}
}

// wait blocks until the waiter is signalled, timeout elapses, or ctx is
// done.
//
// On timeout/cancellation it tries to claim the waiter for abandonment.
// If it wins that race it returns ok=false and the caller's connection
// (if any) never materializes. If it loses — a concurrent deposit
// already called set, or Close called fail — it falls through and returns whatever was
// delivered, since by the time the CAS failed the channel is guaranteed
// to close.
func (w *waiter) wait(ctx context.Context, timeout time.Duration) (Conn, error, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.ch:
		return w.conn, w.err, true
	case <-timer.C:
		if atomic.CompareAndSwapInt32(&w.state, waiterPending, waiterAbandoned) {
			return nil, nil, false
		}
		<-w.ch
		return w.conn, w.err, true
	case <-ctx.Done():
		if atomic.CompareAndSwapInt32(&w.state, waiterPending, waiterAbandoned) {
			return nil, ctx.Err(), false
		}
		<-w.ch
		return w.conn, w.err, true
	}
}

// set stores a connection and signals the waiter. Returns false if the
// waiter had already been abandoned by a racing timeout — in that case
// the connection was never delivered and the caller (Pool.deposit) must
// re-deposit it instead of leaking a slot.
func (w *waiter) set(conn Conn) bool {
	if !atomic.CompareAndSwapInt32(&w.state, waiterPending, waiterDelivered) {
		return false
	}
	w.conn = conn
	close(w.ch)
	return true
}

// fail stores an error and signals the waiter. Used only by Close, where
// there is no connection to lose if the race is lost.
func (w *waiter) fail(err error) {
	if !atomic.CompareAndSwapInt32(&w.state, waiterPending, waiterFailed) {
		return
	}
	w.err = err
	close(w.ch)
}
