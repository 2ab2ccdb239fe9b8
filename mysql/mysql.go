// Package mysql registers the "mysql" engine, backed by
// github.com/go-sql-driver/mysql.
package mysql

import (
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/ruslan-starovoitov/dbpool"
	"github.com/ruslan-starovoitov/dbpool/sqldriver"
)

// EngineName is the name the engine is registered under.
const EngineName = "mysql"

const (
	defaultPort         = 3306
	defaultReadTimeout  = 30 * time.Second
	defaultWriteTimeout = 30 * time.Second
)

func init() {
	dbpool.Register(EngineName, Open)
}

// Open returns a Connector for cfg.Target.
func Open(cfg dbpool.Config) (dbpool.Connector, error) {
	connector, err := mysql.NewConnector(NewConfig(cfg))
	if err != nil {
		return nil, err
	}
	return sqldriver.NewConnector(connector, sqldriver.WithBadConnClassifier(isBadConn)), nil
}

// NewConfig translates a pool configuration to a driver configuration.
// Target.Params are passed through as connection parameters.
func NewConfig(cfg dbpool.Config) *mysql.Config {
	t := cfg.Target

	mc := mysql.NewConfig()
	mc.User = t.Username
	mc.Passwd = t.Password
	mc.DBName = t.Database
	mc.Net = "tcp"
	port := t.Port
	if port == 0 {
		port = defaultPort
	}
	host := t.Host
	if host == "" {
		host = "localhost"
	}
	mc.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	mc.Timeout = cfg.ConnectTimeout.Std()
	mc.ReadTimeout = defaultReadTimeout
	mc.WriteTimeout = defaultWriteTimeout
	mc.InterpolateParams = true
	mc.Params = map[string]string{"charset": "utf8mb4"}
	for k, v := range t.Params {
		mc.Params[k] = v
	}
	return mc
}

// isBadConn reports driver errors after which the connection must not be
// reused. Server-side *mysql.MySQLError values are statement errors.
func isBadConn(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return false
	}
	return errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, mysql.ErrPktSync) || errors.Is(err, mysql.ErrPktSyncMul)
}
