package dbpool

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Connector opens physical connections to one database target. It is the
// only component with engine-specific knowledge; the pool is written once
// against it.
type Connector interface {
	Connect(ctx context.Context) (RawConn, error)
}

// ConnectorFunc adapts a plain function to a Connector.
type ConnectorFunc func(ctx context.Context) (RawConn, error)

func (f ConnectorFunc) Connect(ctx context.Context) (RawConn, error) { return f(ctx) }

// RawConn is a physical connection produced by a Connector.
//
// Implementations must return an error matching ErrBadConn (errors.Is) when
// the connection itself became unusable, so the pool destroys it instead of
// handing it out again. Any other error is treated as a recoverable
// statement error.
type RawConn interface {
	// Exec runs a statement and returns the number of affected rows.
	Exec(ctx context.Context, query string, args []interface{}) (int64, error)
	// Query runs a statement and materializes its result set.
	Query(ctx context.Context, query string, args []interface{}) (*RowSet, error)
	// Close terminates the physical session.
	Close() error
}

// Pinger is an optional interface that may be implemented by a RawConn.
// If it is not implemented, the pool validates connections with the
// configured validation query.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Transactor is an optional interface implemented by connections to engines
// that require explicit transaction boundaries. Execute wraps every
// statement in Begin and Commit (or Rollback on failure).
type Transactor interface {
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// OpenConnectorFunc builds a Connector for a target. Engine packages
// register one under their engine name.
type OpenConnectorFunc func(cfg Config) (Connector, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]OpenConnectorFunc)
)

// Register makes a database engine available by the provided name.
// If Register is called twice with the same name or if open is nil,
// it panics.
func Register(engine string, open OpenConnectorFunc) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if open == nil {
		panic("dbpool: Register connector is nil")
	}
	if _, dup := drivers[engine]; dup {
		panic("dbpool: Register called twice for engine " + engine)
	}
	drivers[engine] = open
}

// Drivers returns a sorted list of the names of the registered engines.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	list := make([]string, 0, len(drivers))
	for name := range drivers {
		list = append(list, name)
	}
	sort.Strings(list)
	return list
}

// NewConnector returns a Connector for cfg.Engine.
func NewConnector(cfg Config) (Connector, error) {
	driversMu.RLock()
	open, ok := drivers[cfg.Engine]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("dbpool: unknown engine %q (forgotten import?)", cfg.Engine)
	}
	return open(cfg)
}
