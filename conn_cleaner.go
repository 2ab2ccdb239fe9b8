package dbpool

import (
	"context"
	"time"
)

// minCleanerInterval bounds how often the background sweep runs.
const minCleanerInterval = time.Second

// startCleanerLocked starts connectionCleaner if any setting needs it.
func (p *ConnPool) startCleanerLocked() {
	d := p.shortestIntervalLocked()
	if d <= 0 {
		return
	}
	if d < minCleanerInterval {
		d = minCleanerInterval
	}
	p.wg.Add(1)
	go p.connectionCleaner(d)
}

// shortestIntervalLocked returns the smallest positive setting the sweep
// has to honour, or 0 if none is set.
func (p *ConnPool) shortestIntervalLocked() time.Duration {
	var shortest time.Duration
	for _, d := range []Duration{p.cfg.HealthCheckInterval, p.cfg.MaxIdleTime, p.cfg.MaxLifetime} {
		if d > 0 && (shortest == 0 || d.Std() < shortest) {
			shortest = d.Std()
		}
	}
	return shortest
}

func (p *ConnPool) connectionCleaner(d time.Duration) {
	defer p.wg.Done()

	ticker := time.NewTicker(d)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-p.cleanerCh: // pool was closed
			return
		}
		p.sweep(p.ctx)
	}
}

// sweep closes expired idle connections, validates the ones that have been
// idle past IdleKeepaliveInterval and tops the pool back up to MinSize.
func (p *ConnPool) sweep(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	closing, checking := p.connectionCleanerRunLocked()
	p.maybeOpenNewConnectionsLocked()
	p.replenishLocked()
	p.mu.Unlock()

	for _, dc := range closing {
		p.closeDriverConn(dc)
	}
	for _, c := range checking {
		_ = p.putConn(c, !p.validate(ctx, c.dc))
	}
}

// connectionCleanerRunLocked removes expired connections from the free pool
// and leases out those due for validation.
func (p *ConnPool) connectionCleanerRunLocked() (closing []*driverConn, checking []*Conn) {
	now := nowFunc()
	maxLifetime := p.cfg.MaxLifetime.Std()
	maxIdleTime := p.cfg.MaxIdleTime.Std()
	keepalive := p.cfg.IdleKeepaliveInterval.Std()
	checkIdle := p.cfg.HealthCheckInterval > 0 && keepalive > 0

	// Oldest first, so the idle-time trim removes the longest idle.
	for _, dc := range p.freeConnsLocked() {
		switch {
		case dc.expired(maxLifetime):
			p.removeFreeConnLocked(dc)
			p.numOpen--
			p.maxLifetimeClosed.Inc()
			dc.state = stateClosed
			closing = append(closing, dc)
		case maxIdleTime > 0 && dc.idleFor(now) > maxIdleTime && p.numOpen > p.cfg.MinSize:
			p.removeFreeConnLocked(dc)
			p.numOpen--
			p.maxIdleTimeClosed.Inc()
			dc.state = stateClosed
			closing = append(closing, dc)
		case checkIdle && dc.idleFor(now) > keepalive:
			p.removeFreeConnLocked(dc)
			checking = append(checking, p.markInUseLocked(dc))
		}
	}
	return closing, checking
}
