package dbpool

import (
	"errors"
	"fmt"
)

var (
	// ErrPoolClosed is returned by any operation attempted after ConnPool.Close.
	ErrPoolClosed = errors.New("dbpool: pool is closed")

	// ErrPoolExhausted means no connection became available within the
	// caller's budget. Use errors.Is to match it.
	ErrPoolExhausted = errors.New("dbpool: connection pool exhausted")

	// ErrTimeout is returned by Acquire when its deadline passes while
	// waiting for a connection. It matches ErrPoolExhausted.
	ErrTimeout = fmt.Errorf("dbpool: timed out waiting for a connection: %w", ErrPoolExhausted)

	// ErrBadConn is returned (usually wrapped) by a RawConn when the physical
	// connection itself is unusable and must be destroyed rather than reused.
	ErrBadConn = errors.New("dbpool: bad connection")

	// ErrConnDone is returned by any operation that is performed on a
	// connection that has already been returned to the connection pool.
	ErrConnDone = errors.New("dbpool: connection is already released")

	// ErrInvalidConfig is returned when a Config violates its invariants.
	ErrInvalidConfig = errors.New("dbpool: invalid config")

	// ErrPoolFacadeClosed is returned by a PoolFacade after Close.
	ErrPoolFacadeClosed = errors.New("dbpool: pools facade closed")
)

// ConnectError is returned when the connector could not open a physical
// connection (timeout, auth, network).
type ConnectError struct {
	Target string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("dbpool: connect to %s: %v", e.Target, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// QueryError carries a statement-level failure together with its cause.
// Broken reports whether the cause is connection-level, in which case the
// connection was destroyed instead of being returned to the pool.
type QueryError struct {
	Query string
	Err   error
}

func (e *QueryError) Error() string {
	if e.Broken() {
		return fmt.Sprintf("dbpool: connection broken during %q: %v", e.Query, e.Err)
	}
	return fmt.Sprintf("dbpool: query %q: %v", e.Query, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// Broken reports whether the failure corrupted the underlying connection.
func (e *QueryError) Broken() bool {
	return errors.Is(e.Err, ErrBadConn)
}

// IsConnectionBroken reports whether err indicates that the physical
// connection is unusable.
func IsConnectionBroken(err error) bool {
	return errors.Is(err, ErrBadConn)
}

// MarkBadConn wraps err so that it matches ErrBadConn as well as its own
// chain. Engines use it for connection-level failures.
func MarkBadConn(err error) error {
	if err == nil || errors.Is(err, ErrBadConn) {
		return err
	}
	return &badConnError{err: err}
}

type badConnError struct {
	err error
}

func (e *badConnError) Error() string { return "dbpool: bad connection: " + e.err.Error() }

func (e *badConnError) Unwrap() []error { return []error{ErrBadConn, e.err} }
