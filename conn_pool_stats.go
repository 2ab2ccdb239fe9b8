package dbpool

import (
	"sync/atomic"
	"time"
)

// ConnPoolStats contains pool statistics.
type ConnPoolStats struct {
	MinSize int // Configured minimum number of connections.
	MaxSize int // Maximum number of open connections to the database.

	// Pool Status
	OpenConnections int // The number of established connections both in use and idle, plus opens in flight.
	InUse           int // The number of connections currently in use.
	Idle            int // The number of idle connections.
	Waiting         int // The number of callers queued for a connection.

	// Counters
	WaitCount         int64         // The total number of connections waited for.
	WaitDuration      time.Duration // The total time blocked waiting for a new connection.
	Created           int64         // The total number of connections opened.
	Closed            int64         // The total number of connections closed.
	HealthCheckFailed int64         // The total number of failed validations.
	MaxIdleTimeClosed int64         // The total number of connections closed due to MaxIdleTime.
	MaxLifetimeClosed int64         // The total number of connections closed due to MaxLifetime.
}

// Stats returns pool statistics.
func (p *ConnPool) Stats() ConnPoolStats {
	wait := atomic.LoadInt64(&p.waitDuration)

	p.mu.Lock()
	defer p.mu.Unlock()

	return ConnPoolStats{
		MinSize: p.cfg.MinSize,
		MaxSize: p.cfg.MaxSize,

		OpenConnections: p.numOpen,
		InUse:           len(p.inUse),
		Idle:            p.freeConn.Len(),
		Waiting:         len(p.connRequests),

		WaitCount:         p.waitCount.Value(),
		WaitDuration:      time.Duration(wait),
		Created:           p.numCreated.Value(),
		Closed:            p.numClosed.Value(),
		HealthCheckFailed: p.healthCheckFailed.Value(),
		MaxIdleTimeClosed: p.maxIdleTimeClosed.Value(),
		MaxLifetimeClosed: p.maxLifetimeClosed.Value(),
	}
}
