// Package postgres registers the "postgres" engine, backed by native
// github.com/jackc/pgx/v5 connections.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ruslan-starovoitov/dbpool"
)

// EngineName is the name the engine is registered under.
const EngineName = "postgres"

const closeTimeout = 5 * time.Second

func init() {
	dbpool.Register(EngineName, Open)
}

// Connector opens *pgx.Conn connections.
type Connector struct {
	config *pgx.ConnConfig
}

// Open parses cfg.Target into a pgx configuration.
func Open(cfg dbpool.Config) (dbpool.Connector, error) {
	config, err := pgx.ParseConfig(ConnString(cfg.Target))
	if err != nil {
		return nil, fmt.Errorf("postgres: parsing target: %w", err)
	}
	if cfg.ConnectTimeout > 0 {
		config.ConnectTimeout = cfg.ConnectTimeout.Std()
	}
	return &Connector{config: config}, nil
}

// ConnString renders t as a postgres:// URL. The port defaults to 5432 and
// AppName becomes application_name.
func ConnString(t dbpool.Target) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   t.Address(),
		Path:   "/" + t.Database,
	}
	if t.Username != "" {
		u.User = url.UserPassword(t.Username, t.Password)
	}
	q := url.Values{}
	if t.AppName != "" {
		q.Set("application_name", t.AppName)
	}
	for k, v := range t.Params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Connect implements dbpool.Connector.
func (c *Connector) Connect(ctx context.Context) (dbpool.RawConn, error) {
	pc, err := pgx.ConnectConfig(ctx, c.config.Copy())
	if err != nil {
		return nil, err
	}
	return &conn{pc: pc}, nil
}

// querier is implemented by both *pgx.Conn and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type conn struct {
	pc *pgx.Conn
	tx pgx.Tx // open transaction, if any
}

func (c *conn) querier() querier {
	if c.tx != nil {
		return c.tx
	}
	return c.pc
}

func (c *conn) Exec(ctx context.Context, query string, args []interface{}) (int64, error) {
	args, err := bindArgs(args)
	if err != nil {
		return 0, err
	}
	tag, err := c.querier().Exec(ctx, query, args...)
	if err != nil {
		return 0, c.mapErr(err)
	}
	return tag.RowsAffected(), nil
}

func (c *conn) Query(ctx context.Context, query string, args []interface{}) (*dbpool.RowSet, error) {
	args, err := bindArgs(args)
	if err != nil {
		return nil, err
	}
	rows, err := c.querier().Query(ctx, query, args...)
	if err != nil {
		return nil, c.mapErr(err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	rs := &dbpool.RowSet{Columns: make([]string, len(fields))}
	for i, f := range fields {
		rs.Columns[i] = f.Name
	}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, c.mapErr(err)
		}
		rs.Rows = append(rs.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, c.mapErr(err)
	}
	return rs, nil
}

func (c *conn) Ping(ctx context.Context) error {
	return c.mapErr(c.pc.Ping(ctx))
}

func (c *conn) Begin(ctx context.Context) error {
	if c.tx != nil {
		return errors.New("postgres: transaction already open")
	}
	tx, err := c.pc.Begin(ctx)
	if err != nil {
		return c.mapErr(err)
	}
	c.tx = tx
	return nil
}

func (c *conn) Commit(ctx context.Context) error {
	if c.tx == nil {
		return errors.New("postgres: no transaction open")
	}
	tx := c.tx
	c.tx = nil
	return c.mapErr(tx.Commit(ctx))
}

func (c *conn) Rollback(ctx context.Context) error {
	if c.tx == nil {
		return errors.New("postgres: no transaction open")
	}
	tx := c.tx
	c.tx = nil
	return c.mapErr(tx.Rollback(ctx))
}

func (c *conn) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return c.pc.Close(ctx)
}

// mapErr marks errors that leave the connection unusable. Server errors
// (*pgconn.PgError) are statement errors unless the connection died with
// them.
func (c *conn) mapErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && !c.pc.IsClosed() {
		return err
	}
	if c.pc.IsClosed() || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return dbpool.MarkBadConn(err)
	}
	return err
}

// bindArgs turns dbpool.NamedArg values into pgx.NamedArgs for @name
// placeholders. Named and positional arguments cannot be mixed.
func bindArgs(args []interface{}) ([]interface{}, error) {
	positional, named := dbpool.SplitArgs(args)
	if len(named) == 0 {
		return args, nil
	}
	if len(positional) > 0 {
		return nil, errors.New("postgres: cannot mix named and positional arguments")
	}
	na := make(pgx.NamedArgs, len(named))
	for _, arg := range named {
		na[arg.Name] = arg.Value
	}
	return []interface{}{na}, nil
}
