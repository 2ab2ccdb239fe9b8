package dbpool

import (
	"context"
)

// WithConn acquires a connection, calls fn with it and releases it however
// fn exits. A connection-level error from fn destroys the connection; so
// does a panic, which is re-raised after the release.
func (p *ConnPool) WithConn(ctx context.Context, fn func(c *Conn) error) (err error) {
	c, err := p.Acquire(ctx)
	if err != nil {
		return err
	}

	panicked := true
	defer func() {
		broken := panicked || IsConnectionBroken(err)
		if relErr := p.Release(c, broken); relErr != nil && relErr != ErrConnDone {
			p.log.WithError(relErr).WithField("conn", c.dc.id).Warn("release failed")
		}
	}()

	err = fn(c)
	panicked = false
	return err
}
