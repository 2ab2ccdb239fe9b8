// Package sqldriver adapts database/sql/driver implementations to the
// dbpool Connector interface, so any driver written for database/sql can
// back a pool without going through database/sql's own pooling.
package sqldriver

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"

	"github.com/ruslan-starovoitov/dbpool"
)

// Option configures a Connector.
type Option func(*Connector)

// WithBadConnClassifier adds a driver-specific test for connection-level
// errors on top of driver.ErrBadConn.
func WithBadConnClassifier(isBad func(error) bool) Option {
	return func(c *Connector) {
		c.isBad = isBad
	}
}

// Connector opens dbpool connections through a driver.Connector.
type Connector struct {
	connector driver.Connector
	isBad     func(error) bool
}

// NewConnector wraps c.
func NewConnector(c driver.Connector, opts ...Option) *Connector {
	connector := &Connector{connector: c}
	for _, opt := range opts {
		opt(connector)
	}
	return connector
}

// Connect implements dbpool.Connector.
func (c *Connector) Connect(ctx context.Context) (dbpool.RawConn, error) {
	ci, err := c.connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	base := &conn{ci: ci, isBad: c.isBad}
	if _, ok := ci.(driver.Pinger); ok {
		return &pingConn{conn: base}, nil
	}
	return base, nil
}

// DSNConnector returns a driver.Connector for drivers that only open by
// data source name.
func DSNConnector(d driver.Driver, dsn string) driver.Connector {
	if dc, ok := d.(driver.DriverContext); ok {
		if connector, err := dc.OpenConnector(dsn); err == nil {
			return connector
		}
	}
	return dsnConnector{dsn: dsn, driver: d}
}

type dsnConnector struct {
	dsn    string
	driver driver.Driver
}

func (t dsnConnector) Connect(_ context.Context) (driver.Conn, error) {
	return t.driver.Open(t.dsn)
}

func (t dsnConnector) Driver() driver.Driver {
	return t.driver
}

// conn is a driver.Conn seen through the dbpool.RawConn interface. The pool
// leases a conn to one goroutine at a time, so it needs no lock.
type conn struct {
	ci    driver.Conn
	isBad func(error) bool
	tx    driver.Tx // open transaction, if any
}

// pingConn is a conn whose driver supports Ping.
type pingConn struct {
	*conn
}

func (c *pingConn) Ping(ctx context.Context) error {
	return c.mapErr(c.ci.(driver.Pinger).Ping(ctx))
}

// mapErr marks connection-level failures with dbpool.ErrBadConn.
func (c *conn) mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, driver.ErrBadConn) || (c.isBad != nil && c.isBad(err)) {
		return dbpool.MarkBadConn(err)
	}
	return err
}

func (c *conn) Exec(ctx context.Context, query string, args []interface{}) (int64, error) {
	nvdargs, err := c.namedValues(args)
	if err != nil {
		return 0, err
	}

	if execer, ok := c.ci.(driver.ExecerContext); ok {
		res, err := execer.ExecContext(ctx, query, nvdargs)
		if err != driver.ErrSkip {
			if err != nil {
				return 0, c.mapErr(err)
			}
			return rowsAffected(res)
		}
	}

	si, err := c.prepare(ctx, query)
	if err != nil {
		return 0, err
	}
	defer si.Close()

	var res driver.Result
	if sc, ok := si.(driver.StmtExecContext); ok {
		res, err = sc.ExecContext(ctx, nvdargs)
	} else {
		res, err = si.Exec(namedValueToValue(nvdargs)) //nolint:staticcheck // driver without context support
	}
	if err != nil {
		return 0, c.mapErr(err)
	}
	return rowsAffected(res)
}

func (c *conn) Query(ctx context.Context, query string, args []interface{}) (*dbpool.RowSet, error) {
	nvdargs, err := c.namedValues(args)
	if err != nil {
		return nil, err
	}

	if queryer, ok := c.ci.(driver.QueryerContext); ok {
		rowsi, err := queryer.QueryContext(ctx, query, nvdargs)
		if err != driver.ErrSkip {
			if err != nil {
				return nil, c.mapErr(err)
			}
			return c.readRows(rowsi)
		}
	}

	si, err := c.prepare(ctx, query)
	if err != nil {
		return nil, err
	}
	defer si.Close()

	var rowsi driver.Rows
	if sc, ok := si.(driver.StmtQueryContext); ok {
		rowsi, err = sc.QueryContext(ctx, nvdargs)
	} else {
		rowsi, err = si.Query(namedValueToValue(nvdargs)) //nolint:staticcheck // driver without context support
	}
	if err != nil {
		return nil, c.mapErr(err)
	}
	return c.readRows(rowsi)
}

func (c *conn) prepare(ctx context.Context, query string) (driver.Stmt, error) {
	var (
		si  driver.Stmt
		err error
	)
	if pc, ok := c.ci.(driver.ConnPrepareContext); ok {
		si, err = pc.PrepareContext(ctx, query)
	} else {
		si, err = c.ci.Prepare(query)
	}
	return si, c.mapErr(err)
}

// readRows materializes and closes rowsi.
func (c *conn) readRows(rowsi driver.Rows) (*dbpool.RowSet, error) {
	defer rowsi.Close()

	rs := &dbpool.RowSet{Columns: rowsi.Columns()}
	dest := make([]driver.Value, len(rs.Columns))
	for {
		err := rowsi.Next(dest)
		if err == io.EOF {
			return rs, nil
		}
		if err != nil {
			return nil, c.mapErr(err)
		}
		row := make([]interface{}, len(dest))
		for i, v := range dest {
			// Drivers may reuse byte buffers between rows.
			if b, ok := v.([]byte); ok {
				v = append([]byte(nil), b...)
			}
			row[i] = v
		}
		rs.Rows = append(rs.Rows, row)
	}
}

func (c *conn) Begin(ctx context.Context) error {
	if c.tx != nil {
		return errors.New("sqldriver: transaction already open")
	}
	var (
		tx  driver.Tx
		err error
	)
	if bt, ok := c.ci.(driver.ConnBeginTx); ok {
		tx, err = bt.BeginTx(ctx, driver.TxOptions{})
	} else {
		tx, err = c.ci.Begin() //nolint:staticcheck // driver without context support
	}
	if err != nil {
		return c.mapErr(err)
	}
	c.tx = tx
	return nil
}

func (c *conn) Commit(_ context.Context) error {
	tx, err := c.takeTx()
	if err != nil {
		return err
	}
	return c.mapErr(tx.Commit())
}

func (c *conn) Rollback(_ context.Context) error {
	tx, err := c.takeTx()
	if err != nil {
		return err
	}
	return c.mapErr(tx.Rollback())
}

func (c *conn) takeTx() (driver.Tx, error) {
	if c.tx == nil {
		return nil, errors.New("sqldriver: no transaction open")
	}
	tx := c.tx
	c.tx = nil
	return tx, nil
}

func (c *conn) Close() error {
	if c.tx != nil {
		_ = c.tx.Rollback()
		c.tx = nil
	}
	return c.ci.Close()
}

// namedValues converts pool arguments to driver values, letting the driver
// check them first when it implements driver.NamedValueChecker.
func (c *conn) namedValues(args []interface{}) ([]driver.NamedValue, error) {
	checker, _ := c.ci.(driver.NamedValueChecker)
	nvdargs := make([]driver.NamedValue, len(args))
	for i, arg := range args {
		nv := driver.NamedValue{Ordinal: i + 1, Value: arg}
		if na, ok := arg.(dbpool.NamedArg); ok {
			nv.Name = na.Name
			nv.Value = na.Value
		}

		err := driver.ErrSkip
		if checker != nil {
			err = checker.CheckNamedValue(&nv)
		}
		if err == driver.ErrSkip {
			nv.Value, err = driver.DefaultParameterConverter.ConvertValue(nv.Value)
		}
		if err != nil {
			return nil, fmt.Errorf("sqldriver: converting argument $%d type: %w", nv.Ordinal, err)
		}
		nvdargs[i] = nv
	}
	return nvdargs, nil
}

func namedValueToValue(named []driver.NamedValue) []driver.Value {
	dargs := make([]driver.Value, len(named))
	for n, param := range named {
		dargs[n] = param.Value
	}
	return dargs
}

func rowsAffected(res driver.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		// Some statements (DDL) do not report a count.
		return 0, nil
	}
	return n, nil
}
