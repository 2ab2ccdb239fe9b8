package dbpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/simplelru"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
)

// nowFunc returns the current time; it's overridden in tests.
var nowFunc = time.Now

// ConnPool is a pool of zero or more connections to a single database
// target. It's safe for concurrent use by multiple goroutines.
//
// Connections are opened lazily up to MaxSize, kept open down to MinSize,
// and validated before reuse once they have been idle for longer than
// IdleKeepaliveInterval. When the pool is saturated, callers of Acquire wait
// in arrival order.
type ConnPool struct {
	connector Connector
	cfg       Config
	log       logrus.FieldLogger

	// Atomic access only. At top of struct to prevent mis-alignment
	// on 32-bit platforms. Of type time.Duration.
	waitDuration int64 // Total time waited for new connections.

	waitCount         *xsync.Counter // Total number of connections waited for.
	numCreated        *xsync.Counter
	numClosed         *xsync.Counter
	healthCheckFailed *xsync.Counter
	maxIdleTimeClosed *xsync.Counter // Total number of connections closed due to idle time.
	maxLifetimeClosed *xsync.Counter // Total number of connections closed due to max connection lifetime limit.

	mu           deadlock.Mutex // protects following fields
	freeConn     *simplelru.LRU // idle *driverConn, least recently returned first
	inUse        map[*driverConn]struct{}
	connRequests []*pendingRequest // waiters, oldest first
	nextRequest  uint64            // Next key to use in connRequests.
	nextConnID   uint64
	numOpen      int // number of opened and pending open connections
	pendingOpens int // background opens in flight
	closed       bool
	drainCh      chan struct{} // closed when the last in-use connection returns during Close

	cleanerCh chan struct{} // closed by Close to stop connectionCleaner
	closeDone chan struct{}
	ctx       context.Context // parent of background connects
	stop      func()          // stop cancels background connects.
	wg        sync.WaitGroup  // background goroutines
}

// Config returns a copy of the configuration the pool was opened with.
func (p *ConnPool) Config() Config { return p.cfg }

// Acquire returns a connection from the pool, opening a new one if the pool
// has room, or waiting in line for one to be released otherwise. If ctx has
// no deadline the pool's AcquireTimeout applies.
//
// Acquire fails with ErrTimeout when the deadline passes, with a
// *ConnectError when a new connection could not be opened, and with
// ErrPoolClosed after Close. The returned Conn must be released exactly once.
func (p *ConnPool) Acquire(ctx context.Context) (*Conn, error) {
	if _, ok := ctx.Deadline(); !ok && p.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.AcquireTimeout.Std())
		defer cancel()
	}
	c, err := p.conn(ctx)
	if err != nil {
		p.log.WithError(err).Debug("acquire failed")
		return nil, err
	}
	return c, nil
}

// AcquireTimeout is Acquire with a fixed wait budget.
func (p *ConnPool) AcquireTimeout(timeout time.Duration) (*Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return p.conn(ctx)
}

// conn returns a cached or newly-opened connection leased to the caller.
func (p *ConnPool) conn(ctx context.Context) (*Conn, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		// Check if the context is expired.
		select {
		default:
		case <-ctx.Done():
			p.mu.Unlock()
			return nil, acquireErr(ctx)
		}

		// Queued waiters are served by releases; a newcomer must not
		// overtake them.
		if len(p.connRequests) == 0 {
			// Prefer a free connection, if possible.
			if dc := p.takeFreeConnLocked(); dc != nil {
				c := p.markInUseLocked(dc)
				expired := dc.expired(p.cfg.MaxLifetime.Std())
				needCheck := p.needsValidationLocked(dc)
				p.mu.Unlock()

				if expired {
					p.maxLifetimeClosed.Inc()
					p.discard(c, "max lifetime exceeded")
					continue
				}
				if needCheck {
					if !p.validate(ctx, dc) {
						p.discard(c, "validation failed")
						continue
					}
					c.live = true
				}
				p.log.WithField("conn", dc.id).Debug("acquired idle connection")
				return c, nil
			}

			if p.numOpen < p.cfg.MaxSize {
				p.numOpen++ // optimistically
				p.mu.Unlock()
				return p.openForCaller(ctx)
			}
		}

		// Out of connections. Wait in line for a release or for a
		// background open made on our behalf.
		req := p.enqueueRequestLocked()
		p.maybeOpenNewConnectionsLocked()
		p.mu.Unlock()
		p.waitCount.Inc()

		waitStart := nowFunc()

		select {
		case <-ctx.Done():
			// Remove the connection request and ensure no value has been
			// sent on it after removing.
			p.mu.Lock()
			removed := p.removeRequestLocked(req)
			p.mu.Unlock()

			atomic.AddInt64(&p.waitDuration, int64(time.Since(waitStart)))

			if !removed {
				// Granted while giving up; the grant is already in the
				// buffered channel (or the pool closed it).
				if ret, ok := <-req.ch; ok && ret.conn != nil {
					p.putConn(ret.conn, false)
				}
			}
			return nil, acquireErr(ctx)
		case ret, ok := <-req.ch:
			atomic.AddInt64(&p.waitDuration, int64(time.Since(waitStart)))

			if !ok {
				return nil, ErrPoolClosed
			}
			if ret.err != nil {
				return nil, ret.err
			}
			p.log.WithField("conn", ret.conn.dc.id).Debug("acquired connection after waiting")
			return ret.conn, nil
		}
	}
}

func acquireErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}

// markInUseLocked moves dc to the in-use set and issues a new lease for it.
func (p *ConnPool) markInUseLocked(dc *driverConn) *Conn {
	c := &Conn{pool: p, dc: dc}
	dc.state = stateInUse
	dc.lease = c
	p.inUse[dc] = struct{}{}
	return c
}

func (p *ConnPool) newDriverConnLocked(ci RawConn) *driverConn {
	p.nextConnID++
	now := nowFunc()
	return &driverConn{
		connPool:   p,
		id:         p.nextConnID,
		ci:         ci,
		createdAt:  now,
		returnedAt: now,
	}
}

// discard destroys a connection the pool took out for a caller but cannot
// hand out.
func (p *ConnPool) discard(c *Conn, reason string) {
	p.log.WithField("conn", c.dc.id).WithField("reason", reason).Warn("discarding connection")
	atomic.StoreInt32(&c.done, 1)
	p.putConn(c, true)
}

// Close closes the pool and prevents new acquires from starting. Queued
// waiters fail with ErrPoolClosed, idle connections are closed at once and
// in-use connections are closed as they are released, or forcibly once
// CloseGracePeriod has passed.
//
// Close is idempotent; concurrent callers return once the first Close has
// finished.
func (p *ConnPool) Close() error {
	p.mu.Lock()
	if p.closed { // Make ConnPool.Close idempotent
		p.mu.Unlock()
		<-p.closeDone
		return nil
	}
	p.closed = true
	for _, req := range p.connRequests {
		close(req.ch)
	}
	p.connRequests = nil
	idle := p.drainFreeConnLocked()
	close(p.cleanerCh)
	p.mu.Unlock()

	p.stop()
	for _, dc := range idle {
		p.closeDriverConn(dc)
	}

	for _, dc := range p.awaitInUse(p.cfg.CloseGracePeriod.Std()) {
		p.log.WithField("conn", dc.id).Warn("closing connection still in use")
		p.closeDriverConn(dc)
	}

	p.wg.Wait()
	p.log.Info("pool closed")
	close(p.closeDone)
	return nil
}

// awaitInUse waits up to grace for in-use connections to be released and
// returns the ones still out, already removed from the pool.
func (p *ConnPool) awaitInUse(grace time.Duration) []*driverConn {
	timer := time.NewTimer(grace)
	defer timer.Stop()

	for {
		p.mu.Lock()
		if len(p.inUse) == 0 {
			p.mu.Unlock()
			return nil
		}
		if p.drainCh == nil {
			p.drainCh = make(chan struct{})
		}
		drained := p.drainCh
		p.mu.Unlock()

		select {
		case <-drained:
		case <-timer.C:
			p.mu.Lock()
			forced := make([]*driverConn, 0, len(p.inUse))
			for dc := range p.inUse {
				dc.lease = nil
				dc.state = stateClosed
				forced = append(forced, dc)
			}
			p.inUse = make(map[*driverConn]struct{})
			p.numOpen -= len(forced)
			p.mu.Unlock()
			return forced
		}
	}
}

// signalDrainLocked wakes Close once nothing is in use.
func (p *ConnPool) signalDrainLocked() {
	if p.closed && len(p.inUse) == 0 && p.drainCh != nil {
		close(p.drainCh)
		p.drainCh = nil
	}
}

// closeDriverConn closes the physical connection. Failures are logged:
// nobody can act on them at destroy time.
func (p *ConnPool) closeDriverConn(dc *driverConn) {
	p.numClosed.Inc()
	if err := dc.ci.Close(); err != nil {
		p.log.WithError(err).WithField("conn", dc.id).Warn("error closing connection")
		return
	}
	p.log.WithField("conn", dc.id).Debug("connection closed")
}
