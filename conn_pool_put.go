package dbpool

import (
	"errors"
	"sync/atomic"
)

var errForeignConn = errors.New("dbpool: connection does not belong to this pool")

// Release hands c back to the pool. When markBroken is true, or the pool is
// closed, or the connection outlived MaxLifetime, the physical connection is
// destroyed instead of reused and the freed slot goes to a waiter, if any.
//
// Releasing the same lease twice returns ErrConnDone and leaves the pool
// untouched.
func (p *ConnPool) Release(c *Conn, markBroken bool) error {
	if c == nil || c.pool != p {
		return errForeignConn
	}
	if !atomic.CompareAndSwapInt32(&c.done, 0, 1) {
		return ErrConnDone
	}
	if markBroken {
		p.log.WithField("conn", c.dc.id).Info("connection released as broken")
	}
	return p.putConn(c, markBroken)
}

// putConn returns the connection behind lease c to the free pool, or
// destroys it.
func (p *ConnPool) putConn(c *Conn, broken bool) error {
	dc := c.dc

	p.mu.Lock()
	if dc.lease != c {
		// Already forcibly closed by Close.
		p.mu.Unlock()
		return ErrConnDone
	}
	delete(p.inUse, dc)
	dc.lease = nil

	if !broken && dc.expired(p.cfg.MaxLifetime.Std()) {
		p.maxLifetimeClosed.Inc()
		broken = true
	}

	if broken || p.closed {
		// Don't reuse bad connections. The slot is free again, so a waiter
		// may get a fresh connection in its place.
		dc.state = stateBroken
		p.numOpen--
		p.maybeOpenNewConnectionsLocked()
		p.replenishLocked()
		p.signalDrainLocked()
		p.mu.Unlock()
		p.closeDriverConn(dc)
		return nil
	}

	dc.returnedAt = nowFunc()
	p.putConnLocked(dc)
	p.mu.Unlock()
	return nil
}

// putConnLocked satisfies the oldest connRequest, if any, or adds dc to
// the free pool.
func (p *ConnPool) putConnLocked(dc *driverConn) {
	if req := p.popRequestLocked(); req != nil {
		req.ch <- connRequest{conn: p.markInUseLocked(dc)}
		return
	}
	p.putFreeConnLocked(dc)
}
