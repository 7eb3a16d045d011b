package pool

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// poolSeq auto-names pools "pool-1", "pool-2", ... when no Name is given,
// mirroring psycopg3's ConnectionPool._num_pool class counter.
var poolSeq atomic.Uint64

// idleEntry pairs an idle connection with the monotonic deposit time used
// both for LIFO checkout and FIFO eviction (spec.md §3).
type idleEntry struct {
	conn  Conn
	since time.Time
}

// Options configures a Pool. Every field is optional. A zero MaxConns
// becomes MinConns, and zero AcquireTimeout, MaxIdle, ReconnectTimeout and
// NumWorkers become 30s, 10m, 5m and 3. MinConns has no default: zero
// means no connections are opened at construction.
type Options struct {
	Name string

	// Configure is called once after each successful Connect, before
	// the connection is deposited. May return an error, which the
	// owning Grow/InitialFill task treats as a connect failure.
	Configure func(Conn) error

	// ReconnectFailed is called once per Grow task that exhausts
	// ReconnectTimeout. Runs on a worker goroutine.
	ReconnectFailed func(*Pool)

	MinConns         int
	MaxConns         int
	AcquireTimeout   time.Duration
	MaxIdle          time.Duration
	ReconnectTimeout time.Duration
	NumWorkers       int

	Logger *log.Logger
}

func (o *Options) setDefaults() {
	if o.MaxConns == 0 {
		o.MaxConns = o.MinConns
	}
	if o.AcquireTimeout == 0 {
		o.AcquireTimeout = 30 * time.Second
	}
	if o.MaxIdle == 0 {
		o.MaxIdle = 10 * time.Minute
	}
	if o.ReconnectTimeout == 0 {
		o.ReconnectTimeout = 5 * time.Minute
	}
	if o.NumWorkers == 0 {
		o.NumWorkers = 3
	}
	if o.Configure == nil {
		o.Configure = func(Conn) error { return nil }
	}
	if o.ReconnectFailed == nil {
		o.ReconnectFailed = func(*Pool) {}
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
}

// Pool is a thread-safe database connection pool. It maintains a set of
// live connections, hands them out to clients on demand, reclaims them on
// return, grows and shrinks under load within [MinConns, MaxConns], and
// transparently replaces connections that die, retrying with bounded,
// jittered, exponential backoff.
type Pool struct {
	mu sync.Mutex // reentrancy is not required by any current path, but no caller may assume it won't be added later

	name string

	connector           Connector
	configureHook       func(Conn) error
	reconnectFailedHook func(*Pool)

	minConns         int
	maxConns         int
	acquireTimeout   time.Duration
	maxIdle          time.Duration
	reconnectTimeout time.Duration
	numWorkers       int

	// nConns is the census: idle + checked-out + establishing + retrying.
	nConns     int
	idle       []idleEntry
	waiters    []*waiter
	checkedOut int
	closed     bool

	tasks     *taskQueue
	scheduler *scheduler
	workersWG sync.WaitGroup

	stopped chan struct{} // closed once workers and scheduler have fully drained

	logger *log.Logger
}

// NewPool constructs a Pool, eagerly establishing MinConns connections.
// Construction either succeeds with all initial connections established,
// or leaves no live goroutines behind: on timeout it closes the
// partially-started pool and returns a *PoolTimeoutError.
func NewPool(connector Connector, opts Options) (*Pool, error) {
	opts.setDefaults()

	if opts.MaxConns < opts.MinConns {
		return nil, &InvalidArgumentError{Msg: fmt.Sprintf(
			"can't create pool with maxConns=%d < minConns=%d", opts.MaxConns, opts.MinConns)}
	}
	if opts.MinConns < 0 {
		return nil, &InvalidArgumentError{Msg: "minConns must be >= 0"}
	}
	if opts.NumWorkers < 1 {
		return nil, &InvalidArgumentError{Msg: "numWorkers must be at least 1"}
	}

	name := opts.Name
	if name == "" {
		name = fmt.Sprintf("pool-%d", poolSeq.Add(1))
	}

	p := &Pool{
		name:                name,
		connector:           connector,
		configureHook:       opts.Configure,
		reconnectFailedHook: opts.ReconnectFailed,
		minConns:            opts.MinConns,
		maxConns:            opts.MaxConns,
		acquireTimeout:      opts.AcquireTimeout,
		maxIdle:             opts.MaxIdle,
		reconnectTimeout:    opts.ReconnectTimeout,
		numWorkers:          opts.NumWorkers,
		nConns:              opts.MinConns,
		tasks:               newTaskQueue(),
		scheduler:           newScheduler(),
		stopped:             make(chan struct{}),
		logger:              opts.Logger,
	}

	p.workersWG.Add(p.numWorkers)
	for i := 0; i < p.numWorkers; i++ {
		go p.worker()
	}

	p.updateCensus()

	// Populate the pool with MinConns initial connections, and wait for
	// them all (or give up and tear the pool back down).
	done := make(chan struct{})
	var once sync.Once
	fire := func() { once.Do(func() { close(done) }) }

	if p.minConns == 0 {
		fire()
	}
	for i := 0; i < p.minConns; i++ {
		p.tasks.push(&initialFillTask{fire: fire})
	}

	select {
	case <-done:
	case <-time.After(p.acquireTimeout):
		p.Close()
		// Unlike a general Close, construction failure must leave no
		// live goroutines behind (spec.md §4.4.1): wait for the join.
		p.Wait()
		return nil, &PoolTimeoutError{Pool: name, Timeout: p.acquireTimeout.String()}
	}

	p.logf("pool initialized: minConns=%d maxConns=%d numWorkers=%d", p.minConns, p.maxConns, p.numWorkers)
	return p, nil
}

func (p *Pool) logf(format string, args ...interface{}) {
	p.logger.Printf("[pool %s] "+format, append([]interface{}{p.name}, args...)...)
}

// Name returns the pool's name (auto-generated if none was supplied).
func (p *Pool) Name() string { return p.name }

// connect establishes and configures a new backend connection. Called
// only from worker goroutines (InitialFill/Grow tasks).
func (p *Pool) connect(ctx context.Context) (Conn, error) {
	conn, err := p.connector.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := p.configureHook(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("configure: %w", err)
	}
	return conn, nil
}

// Acquire obtains a connection from the pool. If none is idle and the
// pool is below MaxConns, it triggers background growth and waits; if at
// MaxConns, it queues behind other waiters. timeout <= 0 uses the pool's
// configured AcquireTimeout.
func (p *Pool) Acquire(ctx context.Context, timeout time.Duration) (Conn, error) {
	if timeout <= 0 {
		timeout = p.acquireTimeout
	}
	start := time.Now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.metricsAcquire("pool_closed")
		return nil, &PoolClosedError{Pool: p.name}
	}

	if n := len(p.idle); n > 0 {
		entry := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.checkedOut++
		p.updateCensus()
		p.mu.Unlock()

		entry.conn.setPool(p)
		p.metricsAcquire("acquired")
		return entry.conn, nil
	}

	w := newWaiter()
	p.waiters = append(p.waiters, w)
	if p.nConns < p.maxConns {
		p.nConns++
		p.tasks.push(&growTask{})
	}
	p.updateCensus()
	p.mu.Unlock()

	conn, err, ok := w.wait(ctx, timeout)
	p.metricsQueueWait(time.Since(start).Seconds())
	if !ok {
		p.metricsAcquire("timeout")
		if err != nil {
			return nil, err
		}
		return nil, &PoolTimeoutError{Pool: p.name, Timeout: timeout.String()}
	}
	if err != nil {
		p.metricsAcquire("error")
		return nil, err
	}

	// A connection delivered by deposit() is already accounted as
	// checked-out there (see deposit); mark ownership now that we're
	// outside any lock, so the pool/connection back-edge can never be
	// observed while the connection sits idle.
	conn.setPool(p)
	p.metricsAcquire("acquired")
	return conn, nil
}

// Release returns a connection to the pool. The releasing client never
// pays for reset, rollback, or close: those happen on a worker via a
// posted Return task.
func (p *Pool) Release(conn Conn) error {
	if conn == nil {
		return nil
	}
	if conn.getPool() != p {
		owner := "no pool"
		if other := conn.getPool(); other != nil {
			owner = fmt.Sprintf("pool %q", other.name)
		}
		return &InvalidArgumentError{Msg: fmt.Sprintf(
			"can't return connection to pool %q, it belongs to %s", p.name, owner)}
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()

	if closed {
		conn.setPool(nil)
		conn.Close()
		return nil
	}

	p.tasks.push(&returnTask{conn: conn})
	return nil
}

// WithConnection acquires a connection, runs body, and releases it,
// committing on success and rolling back on error — the scoped
// convenience named in spec.md §6 and grounded on psycopg3's
// `connection()` context manager (see SPEC_FULL.md §11.1). If the
// connection ends in an unrecoverable state it is discarded and replaced
// by the deposit path, not by WithConnection itself.
func (p *Pool) WithConnection(ctx context.Context, timeout time.Duration, body func(Conn) error) (err error) {
	conn, err := p.Acquire(ctx, timeout)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			conn.Rollback(ctx)
			p.Release(conn)
			panic(r)
		}
	}()

	if err = body(conn); err != nil {
		if rbErr := conn.Rollback(ctx); rbErr != nil {
			p.logf("rollback after body error failed: %v", rbErr)
		}
		p.Release(conn)
		return err
	}

	if cErr := conn.Commit(ctx); cErr != nil {
		p.logf("commit failed: %v", cErr)
		p.Release(conn)
		return cErr
	}

	p.Release(conn)
	return nil
}

// deposit places conn into the pool: it either hands it directly to the
// oldest waiting acquirer, or pushes it onto the idle stack (possibly
// evicting the oldest idle connection if the pool is above MinConns and
// that connection has aged past MaxIdle). Called only from worker
// goroutines, via InitialFill, Grow, and Return tasks.
//
// wasCheckedOut distinguishes a client-released connection (Return task:
// it currently counts toward checkedOut and that must be undone) from a
// freshly established one (InitialFill/Grow: it was never checked out by
// anyone, so checkedOut is untouched on its way in).
func (p *Pool) deposit(conn Conn, wasCheckedOut bool) {
	conn.setPool(nil)

	if !p.resetTransactionState(conn) {
		// Connection is dead; its slot is recycled by a fresh Grow. If it
		// had been checked out, that no longer holds — it isn't idle
		// either, it's simply gone.
		if wasCheckedOut {
			p.mu.Lock()
			p.checkedOut--
			p.updateCensus()
			p.mu.Unlock()
		}
		p.tasks.push(&growTask{})
		return
	}

	p.depositReady(conn, wasCheckedOut)
}

// depositReady inserts an already-reset connection into the pool. Split
// out from deposit so the waiter-abandonment retry below re-enters the
// insertion logic without replaying the transaction reset.
func (p *Pool) depositReady(conn Conn, wasCheckedOut bool) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		conn.Close()
		return
	}

	var deliverTo *waiter
	var evicted Conn

	if len(p.waiters) > 0 {
		deliverTo = p.waiters[0]
		p.waiters = p.waiters[1:]
		// A returning, already-checked-out connection handed straight to
		// the next waiter stays checked out throughout — net zero. Only a
		// freshly established connection turns checkedOut from 0 to 1.
		if !wasCheckedOut {
			p.checkedOut++
		}
	} else {
		// Returning to idle: a checked-out connection is no longer
		// checked out. A freshly established one was never counted as
		// checked out in the first place.
		if wasCheckedOut {
			p.checkedOut--
		}
		now := time.Now()
		p.idle = append(p.idle, idleEntry{conn: conn, since: now})
		if p.nConns > p.minConns && now.Sub(p.idle[0].since) > p.maxIdle {
			oldest := p.idle[0]
			p.idle = p.idle[1:]
			p.nConns--
			evicted = oldest.conn
		}
	}
	p.updateCensus()
	p.mu.Unlock()

	if deliverTo != nil {
		if !deliverTo.set(conn) {
			// The waiter abandoned (timed out / ctx cancelled) before
			// we could deliver: the handoff never happened, so undo
			// exactly the checked-out bookkeeping applied above and
			// re-deposit instead of leaking the connection (spec.md
			// §4.4.4, "waiter-timeout race").
			p.mu.Lock()
			if !wasCheckedOut {
				p.checkedOut--
			}
			p.mu.Unlock()
			p.depositReady(conn, wasCheckedOut)
		}
		return
	}
	if evicted != nil {
		p.metricsIdleEvicted()
		evicted.Close()
	}
}

// resetTransactionState brings conn to IDLE or closes it, per spec.md
// §4.4.5. Returns false if the connection is dead and must be replaced.
func (p *Pool) resetTransactionState(conn Conn) bool {
	switch status := conn.TransactionStatus(); status {
	case StatusIdle:
		return true

	case StatusInTransaction, StatusInError:
		p.logf("rolling back returned connection")
		if err := conn.Rollback(context.Background()); err != nil {
			p.logf("rollback failed: %v; discarding connection", err)
			conn.Close()
			return false
		}
		return true

	case StatusActive:
		p.logf("closing connection returned mid-query")
		conn.Close()
		return false

	default: // StatusUnknown or anything else
		conn.Close()
		return false
	}
}

// Close shuts the pool down: new Acquire calls fail with PoolClosedError,
// parked waiters are failed, idle connections are closed, and workers and
// the scheduler are told to stop. Already-checked-out connections are not
// forcibly closed; they close (or would rejoin, were the pool still
// open) on their eventual Release. Idempotent: the second call is a
// no-op.
//
// Close is bounded by the time to drain waiters/idle and post the stop
// signals; it does not wait for workers to actually exit (spec.md §5).
// Call Wait if a test or caller needs a fully synchronous shutdown.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	waiters := p.waiters
	p.waiters = nil
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	p.scheduler.requestStop()

	for _, w := range waiters {
		w.fail(&PoolClosedError{Pool: p.name})
	}
	for _, e := range idle {
		e.conn.Close()
	}

	for i := 0; i < p.numWorkers; i++ {
		p.tasks.push(stopWorkerTask{})
	}

	go func() {
		p.workersWG.Wait()
		p.scheduler.join()
		close(p.stopped)
	}()

	p.logf("pool closed")
	return nil
}

// Wait blocks until every worker goroutine and the scheduler goroutine
// spawned by this pool have exited. Close does not imply Wait has
// returned; use Wait when deterministic teardown matters (tests,
// graceful process shutdown).
func (p *Pool) Wait() {
	<-p.stopped
}

// IsClosed reports whether Close has been called.
func (p *Pool) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Stats is a point-in-time snapshot of pool census, useful for metrics
// endpoints and tests.
type Stats struct {
	NConns     int
	Idle       int
	CheckedOut int
	Waiters    int
}

// Stats returns a snapshot of the pool's current state.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		NConns:     p.nConns,
		Idle:       len(p.idle),
		CheckedOut: p.checkedOut,
		Waiters:    len(p.waiters),
	}
}
