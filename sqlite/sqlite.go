// Package sqlite registers the "sqlite3" engine, backed by
// github.com/mattn/go-sqlite3. Target.Database is the database file path.
package sqlite

import (
	"net/url"
	"sort"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/ruslan-starovoitov/dbpool"
	"github.com/ruslan-starovoitov/dbpool/sqldriver"
)

// EngineName is the name the engine is registered under.
const EngineName = "sqlite3"

func init() {
	dbpool.Register(EngineName, Open)
}

// Open returns a Connector for the database file named by cfg.Target.
func Open(cfg dbpool.Config) (dbpool.Connector, error) {
	return sqldriver.NewConnector(sqldriver.DSNConnector(&sqlite3.SQLiteDriver{}, DSN(cfg.Target))), nil
}

// DSN builds a go-sqlite3 data source name. Target.Params become "_"
// style query options, e.g. {"_busy_timeout": "5000"}.
//
// An empty Database means ":memory:", where every pooled connection sees
// its own private database; use a file (or "file::memory:?cache=shared")
// to share data across connections.
func DSN(t dbpool.Target) string {
	path := t.Database
	if path == "" {
		path = ":memory:"
	}
	if len(t.Params) == 0 {
		return path
	}

	keys := make([]string, 0, len(t.Params))
	for k := range t.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	q := make([]string, 0, len(keys))
	for _, k := range keys {
		q = append(q, url.QueryEscape(k)+"="+url.QueryEscape(t.Params[k]))
	}
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	return path + "?" + strings.Join(q, "&")
}
