package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaiterDeliversBeforeTimeout(t *testing.T) {
	w := newWaiter()
	c := &fakeConn{}

	go func() {
		time.Sleep(10 * time.Millisecond)
		assert.True(t, w.set(c))
	}()

	got, err, ok := w.wait(context.Background(), time.Second)
	require.True(t, ok)
	require.NoError(t, err)
	assert.Same(t, c, got)
}

func TestWaiterAbandonsOnTimeout(t *testing.T) {
	w := newWaiter()

	got, err, ok := w.wait(context.Background(), 10*time.Millisecond)
	assert.False(t, ok)
	assert.Nil(t, err)
	assert.Nil(t, got)

	// a late delivery attempt loses the race
	assert.False(t, w.set(&fakeConn{}))
}

func TestWaiterAbandonsOnContextCancel(t *testing.T) {
	w := newWaiter()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err, ok := w.wait(ctx, time.Second)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaiterSetLosesRaceToTimeoutReturnsFalse(t *testing.T) {
	w := newWaiter()

	_, _, ok := w.wait(context.Background(), 5*time.Millisecond)
	assert.False(t, ok)

	assert.False(t, w.set(&fakeConn{}), "set after abandonment must report failure so the caller re-deposits")
}

func TestWaiterFailDeliversError(t *testing.T) {
	w := newWaiter()
	sentinel := &PoolClosedError{Pool: "p"}

	go func() {
		time.Sleep(5 * time.Millisecond)
		w.fail(sentinel)
	}()

	conn, err, ok := w.wait(context.Background(), time.Second)
	require.True(t, ok)
	assert.Nil(t, conn)
	assert.Same(t, sentinel, err)
}
