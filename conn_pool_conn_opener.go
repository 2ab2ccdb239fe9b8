package dbpool

import (
	"context"
)

// connect opens one physical connection, bounded by ConnectTimeout.
func (p *ConnPool) connect(ctx context.Context) (RawConn, error) {
	if p.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.ConnectTimeout.Std())
		defer cancel()
	}
	ci, err := p.connector.Connect(ctx)
	if err != nil {
		return nil, &ConnectError{Target: p.cfg.Target.String(), Err: err}
	}
	p.numCreated.Inc()
	return ci, nil
}

// openForCaller opens a connection on the caller's goroutine. The caller
// has already reserved a slot with numOpen++.
func (p *ConnPool) openForCaller(ctx context.Context) (*Conn, error) {
	ci, err := p.connect(ctx)

	p.mu.Lock()
	if err != nil {
		p.numOpen-- // correct for earlier optimism
		p.maybeOpenNewConnectionsLocked()
		p.mu.Unlock()
		p.log.WithError(err).Warn("failed to open connection")
		return nil, err
	}
	if p.closed {
		p.numOpen--
		p.mu.Unlock()
		_ = ci.Close()
		return nil, ErrPoolClosed
	}
	dc := p.newDriverConnLocked(ci)
	c := p.markInUseLocked(dc)
	c.live = true
	p.mu.Unlock()

	p.log.WithField("conn", dc.id).Debug("opened connection")
	return c, nil
}

// maybeOpenNewConnectionsLocked starts background opens for waiters that
// no pending open is already serving, as far as MaxSize allows.
func (p *ConnPool) maybeOpenNewConnectionsLocked() {
	if p.closed {
		return
	}
	numRequests := len(p.connRequests) - p.pendingOpens
	if numCanOpen := p.cfg.MaxSize - p.numOpen; numRequests > numCanOpen {
		numRequests = numCanOpen
	}
	for numRequests > 0 {
		numRequests--
		p.startOpenLocked()
	}
}

// replenishLocked starts background opens until MinSize connections exist.
func (p *ConnPool) replenishLocked() {
	if p.closed {
		return
	}
	for p.numOpen < p.cfg.MinSize {
		p.startOpenLocked()
	}
}

func (p *ConnPool) startOpenLocked() {
	p.numOpen++ // optimistically
	p.pendingOpens++
	p.wg.Add(1)
	go p.openNewConnection()
}

// openNewConnection opens one connection in the background and hands it to
// the oldest waiter or the free pool. startOpenLocked has already executed
// numOpen++; this function must execute numOpen-- if the connection fails
// or the pool closed meanwhile.
func (p *ConnPool) openNewConnection() {
	defer p.wg.Done()

	ci, err := p.connect(p.ctx)

	p.mu.Lock()
	p.pendingOpens--
	if p.closed {
		p.numOpen--
		p.mu.Unlock()
		if err == nil {
			_ = ci.Close()
		}
		return
	}
	if err != nil {
		p.numOpen--
		if req := p.popRequestLocked(); req != nil {
			req.ch <- connRequest{err: err}
		}
		p.maybeOpenNewConnectionsLocked()
		p.mu.Unlock()
		p.log.WithError(err).Warn("background connect failed")
		return
	}
	dc := p.newDriverConnLocked(ci)
	p.putConnLocked(dc)
	p.mu.Unlock()

	p.log.WithField("conn", dc.id).Debug("opened connection in background")
}
