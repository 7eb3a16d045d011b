// Package sqlconn adapts database/sql to the pool.Conn/pool.Connector
// contracts described in spec.md §6. It is the one concrete
// implementation shipped alongside the pool core, grounded on the
// teacher's internal/pool.PooledConn: a *sql.DB configured for exactly
// one physical connection (MaxOpenConns=1), so a pool.Conn maps 1:1 onto
// a real backend session the way the teacher's SQL Server adapter does,
// generalized to any database/sql driver (it ships wired to
// github.com/microsoft/go-mssqldb, the teacher's own backend).
package sqlconn

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/microsoft/go-mssqldb"
	"github.com/joao-brasil/connpool/pool"
)

// Connector opens new database/sql-backed connections for the pool. Each
// one owns a *sql.DB pinned to a single physical connection.
type Connector struct {
	// DriverName is the database/sql driver to use, e.g. "sqlserver".
	// Defaults to "sqlserver" (go-mssqldb) if empty.
	DriverName string
	// DSN is the driver-specific data source name.
	DSN string
	// PingTimeout bounds the connectivity check performed after Open.
	// Defaults to 5 seconds, matching the teacher's createConn.
	PingTimeout time.Duration
}

// Connect implements pool.Connector: it opens a single-connection
// *sql.DB and verifies it's reachable before returning.
func (c *Connector) Connect(ctx context.Context) (pool.Conn, error) {
	driver := c.DriverName
	if driver == "" {
		driver = "sqlserver"
	}

	db, err := sql.Open(driver, c.DSN)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}

	// A PooledConn maps 1:1 to a physical backend connection; database/sql
	// itself is used purely as a driver-loading and statement-execution
	// shim, not as a second layer of pooling (mirrors internal/pool's
	// createConn in the teacher repo).
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingTimeout := c.PingTimeout
	if pingTimeout == 0 {
		pingTimeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &Conn{db: db}, nil
}

// Conn is the default pool.Conn implementation: a single-connection
// *sql.DB plus just enough bookkeeping to answer TransactionStatus.
type Conn struct {
	pool.BaseConn

	mu       sync.Mutex
	db       *sql.DB
	tx       *sql.Tx
	txError  error
	inFlight bool
}

// DB exposes the underlying *sql.DB for issuing queries. Callers must not
// call db.Close directly; use Conn.Close (or simply Release, which closes
// it for you on an unrecoverable error).
func (c *Conn) DB() *sql.DB { return c.db }

// Begin starts an explicit transaction, after which TransactionStatus
// reports InTransaction until Commit/Rollback.
func (c *Conn) Begin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tx != nil {
		return fmt.Errorf("transaction already open")
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	c.tx = tx
	c.txError = nil
	return nil
}

// Exec runs a statement, within the open transaction if any. A failure
// while a transaction is open marks the session InError, matching a real
// driver reporting an aborted transaction.
func (c *Conn) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	c.mu.Lock()
	c.inFlight = true
	tx := c.tx
	c.mu.Unlock()

	var res sql.Result
	var err error
	if tx != nil {
		res, err = tx.ExecContext(ctx, query, args...)
	} else {
		res, err = c.db.ExecContext(ctx, query, args...)
	}

	c.mu.Lock()
	c.inFlight = false
	if err != nil && c.tx != nil {
		c.txError = err
	}
	c.mu.Unlock()

	return res, err
}

// TransactionStatus implements pool.Conn.
func (c *Conn) TransactionStatus() pool.TransactionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inFlight {
		return pool.StatusActive
	}
	if c.tx == nil {
		return pool.StatusIdle
	}
	if c.txError != nil {
		return pool.StatusInError
	}
	return pool.StatusInTransaction
}

// Commit implements pool.Conn.
func (c *Conn) Commit(ctx context.Context) error {
	c.mu.Lock()
	tx := c.tx
	c.tx = nil
	c.txError = nil
	c.mu.Unlock()

	if tx == nil {
		return nil
	}
	return tx.Commit()
}

// Rollback implements pool.Conn.
func (c *Conn) Rollback(ctx context.Context) error {
	c.mu.Lock()
	tx := c.tx
	c.tx = nil
	c.txError = nil
	c.mu.Unlock()

	if tx == nil {
		return nil
	}
	return tx.Rollback()
}

// Close implements pool.Conn. Idempotent: sql.DB.Close already is.
func (c *Conn) Close() error {
	return c.db.Close()
}
