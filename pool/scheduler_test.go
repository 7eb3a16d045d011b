package pool

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerRunsCallbackAfterDelay(t *testing.T) {
	s := newScheduler()
	defer s.stop()

	start := time.Now()
	fired := make(chan time.Duration, 1)
	s.scheduleAfter(30*time.Millisecond, func() {
		fired <- time.Since(start)
	})

	select {
	case elapsed := <-fired:
		assert.GreaterOrEqual(t, elapsed, 25*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("callback never ran")
	}
}

func TestSchedulerRunsEarliestEntryFirst(t *testing.T) {
	s := newScheduler()
	defer s.stop()

	var order []int
	done := make(chan struct{})

	s.scheduleAfter(60*time.Millisecond, func() {
		order = append(order, 2)
		close(done)
	})
	s.scheduleAfter(10*time.Millisecond, func() {
		order = append(order, 1)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("entries never ran")
	}
	require.Equal(t, []int{1, 2}, order)
}

func TestSchedulerStopIsIdempotentAndJoins(t *testing.T) {
	s := newScheduler()

	var ran int32
	s.scheduleAfter(time.Hour, func() { atomic.AddInt32(&ran, 1) })

	s.requestStop()
	s.join()
	s.requestStop() // safe to call again after the goroutine has exited
	s.join()

	assert.Equal(t, int32(0), ran, "a callback scheduled far in the future must not run just because the scheduler stopped")
}
