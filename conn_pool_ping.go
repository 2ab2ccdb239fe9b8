package dbpool

import (
	"context"
)

// ping runs one liveness round trip on dc: Ping if the connection supports
// it, ValidationQuery otherwise.
func (p *ConnPool) ping(ctx context.Context, dc *driverConn) error {
	if p.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.ConnectTimeout.Std())
		defer cancel()
	}
	if pinger, ok := dc.ci.(Pinger); ok {
		return pinger.Ping(ctx)
	}
	query := p.cfg.ValidationQuery
	if query == "" {
		query = defaultValidationQuery
	}
	_, err := dc.ci.Query(ctx, query, nil)
	return err
}

// validate reports whether dc passed a ping, counting failures.
func (p *ConnPool) validate(ctx context.Context, dc *driverConn) bool {
	err := p.ping(ctx, dc)
	if err == nil {
		return true
	}
	p.healthCheckFailed.Inc()
	p.log.WithError(err).WithField("conn", dc.id).Warn("connection failed validation")
	return false
}

func (p *ConnPool) needsValidationLocked(dc *driverConn) bool {
	keepalive := p.cfg.IdleKeepaliveInterval.Std()
	return keepalive > 0 && dc.idleFor(nowFunc()) > keepalive
}

// HealthCheck acquires a connection, pings it and releases it. A connection
// that fails the ping is released as broken and the error returned. The ping
// is skipped when Acquire has just opened or validated the connection.
func (p *ConnPool) HealthCheck(ctx context.Context) error {
	c, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	if c.live {
		return p.Release(c, false)
	}
	if err := p.ping(ctx, c.dc); err != nil {
		p.healthCheckFailed.Inc()
		_ = p.Release(c, true)
		return &QueryError{Query: "ping", Err: err}
	}
	return p.Release(c, false)
}

// PingContext verifies a connection to the database is still alive,
// establishing a connection if necessary.
func (p *ConnPool) PingContext(ctx context.Context) error {
	return p.HealthCheck(ctx)
}

// Ping verifies a connection to the database is still alive,
// establishing a connection if necessary.
func (p *ConnPool) Ping() error {
	return p.PingContext(context.Background())
}
