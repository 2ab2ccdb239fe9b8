package dbpool

import (
	"context"
	"sync/atomic"
	"time"
)

// connState is the lifecycle state of a pooled connection.
type connState int

const (
	stateIdle connState = iota
	stateInUse
	stateBroken
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateInUse:
		return "in-use"
	case stateBroken:
		return "broken"
	case stateClosed:
		return "closed"
	}
	return "unknown"
}

// driverConn wraps a physical RawConn with the bookkeeping the pool needs.
// All fields except ci and id are guarded by connPool.mu.
type driverConn struct {
	connPool *ConnPool
	id       uint64
	ci       RawConn

	createdAt  time.Time
	returnedAt time.Time // Time the connection was created or returned.
	state      connState
	lease      *Conn // current holder while in use
}

func (dc *driverConn) expired(timeout time.Duration) bool {
	if timeout <= 0 {
		return false
	}
	return dc.createdAt.Add(timeout).Before(nowFunc())
}

func (dc *driverConn) idleFor(now time.Time) time.Duration {
	return now.Sub(dc.returnedAt)
}

// Conn is a single connection leased from a ConnPool. It must be handed
// back with ConnPool.Release or Conn.Close exactly once; after that every
// method returns ErrConnDone.
type Conn struct {
	pool *ConnPool
	dc   *driverConn

	// done transitions from 0 to 1 exactly once, on release.
	done int32

	// live is set when Acquire just opened or validated the connection.
	live bool
}

// ID identifies the underlying physical connection within its pool.
func (c *Conn) ID() uint64 { return c.dc.id }

// CreatedAt returns when the physical connection was opened.
func (c *Conn) CreatedAt() time.Time { return c.dc.createdAt }

// Raw returns the physical connection. The caller may use it freely while
// holding the lease but must not close it; use Release with markBroken
// instead.
func (c *Conn) Raw() RawConn { return c.dc.ci }

func (c *Conn) released() bool {
	return atomic.LoadInt32(&c.done) != 0
}

// Exec runs a statement on this connection and returns the affected rows.
func (c *Conn) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	if c.released() {
		return 0, ErrConnDone
	}
	n, err := c.dc.ci.Exec(ctx, query, args)
	if err != nil {
		return 0, &QueryError{Query: query, Err: err}
	}
	return n, nil
}

// Query runs a statement on this connection and returns its rows.
func (c *Conn) Query(ctx context.Context, query string, args ...interface{}) (*RowSet, error) {
	if c.released() {
		return nil, ErrConnDone
	}
	rs, err := c.dc.ci.Query(ctx, query, args)
	if err != nil {
		return nil, &QueryError{Query: query, Err: err}
	}
	return rs, nil
}

// PingContext verifies the connection is still alive without touching the
// pool.
func (c *Conn) PingContext(ctx context.Context) error {
	if c.released() {
		return ErrConnDone
	}
	return c.pool.ping(ctx, c.dc)
}

// Close returns the connection to the pool as healthy. It is equivalent to
// pool.Release(c, false).
func (c *Conn) Close() error {
	return c.pool.Release(c, false)
}
