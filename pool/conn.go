package pool

import "context"

// TransactionStatus mirrors the session's transactional state as reported
// by the backend driver. The pool inspects it on every return to decide
// whether a connection can be reused as-is, needs a rollback, or must be
// discarded and replaced.
type TransactionStatus int

const (
	// StatusIdle means no transaction is open; the connection can be
	// handed to the next acquirer unchanged.
	StatusIdle TransactionStatus = iota
	// StatusInTransaction means a transaction is open but idle (no error).
	StatusInTransaction
	// StatusInError means a transaction is open and has seen an error.
	StatusInError
	// StatusActive means a query is still in flight — the caller
	// returned the connection while using it.
	StatusActive
	// StatusUnknown means the connection is dead or in an unrecoverable
	// state and must be discarded.
	StatusUnknown
)

func (s TransactionStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusInTransaction:
		return "in_transaction"
	case StatusInError:
		return "in_error"
	case StatusActive:
		return "active"
	case StatusUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Conn is the contract the pool requires of a backend connection. Callers
// supply a concrete implementation (see package sqlconn for a
// database/sql-backed one); the pool core never speaks a wire protocol
// itself.
type Conn interface {
	// TransactionStatus reports the current session state.
	TransactionStatus() TransactionStatus
	// Commit completes any open transaction successfully. Called by
	// WithConnection when body returns without error.
	Commit(ctx context.Context) error
	// Rollback aborts any open transaction. Called by the pool when a
	// connection is returned mid-transaction, and by WithConnection when
	// body returns an error.
	Rollback(ctx context.Context) error
	// Close releases the underlying resource. Must be idempotent and
	// must not panic.
	Close() error

	// setPool/getPool back the pool-back-reference described in
	// spec.md §3: cleared while the connection is idle, set only
	// between acquire and release, used solely to detect returns to
	// the wrong pool.
	setPool(p *Pool)
	getPool() *Pool
}

// Connector creates new backend connections. It is the only collaborator
// the pool calls from worker goroutines to establish connectivity; it may
// block and may fail.
type Connector interface {
	Connect(ctx context.Context) (Conn, error)
}

// ConnectorFunc adapts a plain function to a Connector.
type ConnectorFunc func(ctx context.Context) (Conn, error)

// Connect implements Connector.
func (f ConnectorFunc) Connect(ctx context.Context) (Conn, error) { return f(ctx) }

// BaseConn is an embeddable helper that implements the pool-back-reference
// bookkeeping so Conn implementations only need to supply
// TransactionStatus/Commit/Rollback/Close.
type BaseConn struct {
	pool *Pool
}

func (b *BaseConn) setPool(p *Pool) { b.pool = p }
func (b *BaseConn) getPool() *Pool  { return b.pool }
