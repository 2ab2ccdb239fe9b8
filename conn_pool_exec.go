package dbpool

import (
	"context"
	"errors"
)

// Execute runs req on a pooled connection. On engines with explicit
// transactions the statement runs inside one that is committed on success
// and rolled back on error. Errors are returned as *QueryError; if the
// error shows the connection is broken it is destroyed instead of reused.
func (p *ConnPool) Execute(ctx context.Context, req Request) (*Result, error) {
	var res *Result
	err := p.WithConn(ctx, func(c *Conn) error {
		var err error
		res, err = p.execConn(ctx, c, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Exec executes a query without returning any rows.
// The args are for any placeholder parameters in the query.
func (p *ConnPool) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := p.Execute(ctx, Request{Query: query, Args: args})
	if err != nil {
		return 0, err
	}
	return res.RowsAffected, nil
}

// Query executes a query that returns rows, typically a SELECT.
// The args are for any placeholder parameters in the query.
func (p *ConnPool) Query(ctx context.Context, query string, args ...interface{}) (*RowSet, error) {
	res, err := p.Execute(ctx, Request{Query: query, Args: args, Fetch: true})
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

func (p *ConnPool) execConn(ctx context.Context, c *Conn, req Request) (res *Result, err error) {
	// completed stays false if the statement panics.
	completed := false
	tx, ok := c.dc.ci.(Transactor)
	if ok {
		if err := tx.Begin(ctx); err != nil {
			return nil, &QueryError{Query: "BEGIN", Err: err}
		}
		defer func() {
			if err != nil || !completed {
				if rbErr := tx.Rollback(ctx); rbErr != nil {
					p.log.WithError(rbErr).WithField("conn", c.dc.id).Warn("rollback failed")
					if err != nil {
						err = &QueryError{Query: req.Query, Err: errors.Join(errors.Unwrap(err), rbErr)}
					}
				}
				return
			}
			if cmErr := tx.Commit(ctx); cmErr != nil {
				res, err = nil, &QueryError{Query: "COMMIT", Err: cmErr}
			}
		}()
	}

	res, err = p.runStatement(ctx, c, req)
	completed = true
	return res, err
}

func (p *ConnPool) runStatement(ctx context.Context, c *Conn, req Request) (*Result, error) {
	if req.Fetch {
		rs, err := c.Query(ctx, req.Query, req.Args...)
		if err != nil {
			return nil, err
		}
		return &Result{Rows: rs, RowsAffected: int64(rs.Len())}, nil
	}
	n, err := c.Exec(ctx, req.Query, req.Args...)
	if err != nil {
		return nil, err
	}
	return &Result{RowsAffected: n}, nil
}
