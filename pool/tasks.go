package pool

import (
	"context"
	"math/rand"
	"time"
)

// Reconnection policy constants (spec.md §4.5.1).
const (
	initialDelay = 1 * time.Second
	delayJitter  = 0.1
	delayBackoff = 2.0
)

// initialFillTask connects one of the pool's initial minConns connections
// and signals a shared Once-guarded event once the pool has reached
// its starting quota. It is the only synchronisation the constructor
// performs with the workers.
type initialFillTask struct {
	// fire already wraps the shared sync.Once (once.Do(close(done))); do
	// not re-wrap it in another Do here or the two Do calls on the same
	// Once deadlock (sync.Once.Do: "if f causes Do to be called, it will
	// deadlock").
	fire func()
}

func (t *initialFillTask) execute(p *Pool) {
	conn, err := p.connect(context.Background())
	if err != nil {
		// Unlike Grow, the initial fill never retries: if construction
		// can't reach minConns within acquireTimeout, NewPool gives up
		// and closes the pool (spec.md §4.4.1).
		p.logf("initial fill failed: %v", err)
		return
	}
	p.deposit(conn, false)

	p.mu.Lock()
	full := len(p.idle) >= p.nConns
	p.mu.Unlock()
	if full {
		t.fire()
	}
}

// growTask establishes one new connection, carrying the current retry
// delay and absolute give-up instant across re-enqueues so backoff
// persists between attempts (spec.md §3, §4.5.1).
type growTask struct {
	delay     time.Duration
	giveUpAt  time.Time
	hasGiveUp bool
}

func (t *growTask) execute(p *Pool) {
	// No entry guard here: even a retry scheduled exactly at giveUpAt gets
	// its connect attempt first, matching psycopg3's AddConnection._run,
	// which only gives up inside the error handler after a failed
	// connect, never before trying (spec.md §4.5.1, "the final attempt
	// happens exactly at the deadline"). handleError is what decides
	// whether a failure here is retried or a give-up.
	conn, err := p.connect(context.Background())
	if err != nil {
		p.logf("error reconnecting in pool %q: %v", p.name, err)
		t.handleError(p, err)
		return
	}
	p.deposit(conn, false)
}

// giveUp is entered when a retry observes that the deadline has already
// passed: shrink nConns and fire the user callback outside the lock.
func (t *growTask) giveUp(p *Pool) {
	p.logf("reconnection attempt in pool %q failed after %s", p.name, p.reconnectTimeout)
	p.mu.Lock()
	p.nConns--
	p.mu.Unlock()
	p.metricsReconnectFailed()
	p.reconnectFailedHook(p)
}

// handleError schedules a retry per the jittered exponential backoff
// policy, or gives up if the deadline has already been reached.
func (t *growTask) handleError(p *Pool, _ error) {
	now := time.Now()

	if t.hasGiveUp && !now.Before(t.giveUpAt) {
		t.giveUp(p)
		return
	}

	if t.delay == 0 {
		t.giveUpAt = now.Add(p.reconnectTimeout)
		t.hasGiveUp = true
		jitter := float64(initialDelay) * ((2 * delayJitter * rand.Float64()) - delayJitter)
		t.delay = initialDelay + time.Duration(jitter)
	} else {
		t.delay = time.Duration(float64(t.delay) * delayBackoff)
	}
	p.metricsReconnectAttempt()

	if now.Add(t.delay).Before(t.giveUpAt) {
		p.scheduler.scheduleAfter(t.delay, func() { p.tasks.push(t) })
	} else {
		p.scheduler.scheduleAt(t.giveUpAt, func() { p.tasks.push(t) })
	}
}

// returnTask deposits a client-released connection back into the pool,
// off the releasing client's thread. All reset logic (spec.md §4.4.5)
// runs inside deposit.
type returnTask struct {
	conn Conn
}

func (t *returnTask) execute(p *Pool) {
	p.deposit(t.conn, true)
}

// stopWorkerTask has no body; its presence in the queue is what causes
// the receiving worker to exit (see Pool.worker).
type stopWorkerTask struct{}

func (stopWorkerTask) execute(p *Pool) {}
