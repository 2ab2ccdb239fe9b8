package dbpool

import (
	"net"
	"net/url"
	"strconv"
)

// Target holds the data that identifies one database endpoint. Two configs
// with the same Target share a pool inside a PoolFacade.
type Target struct {
	Host     string            `yaml:"host" toml:"host"`
	Port     int               `yaml:"port" toml:"port"`
	Database string            `yaml:"database" toml:"database"`
	Username string            `yaml:"username" toml:"username"`
	Password string            `yaml:"password" toml:"password"`
	AppName  string            `yaml:"app_name" toml:"app_name"`
	Params   map[string]string `yaml:"params" toml:"params"`
}

// Address returns host:port, or just the host when no port is set.
func (t Target) Address() string {
	if t.Port == 0 {
		return t.Host
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// ID returns a key unique to the target, credentials included. Every
// component is escaped, so distinct targets never share a key.
func (t Target) ID() string {
	id := url.UserPassword(t.Username, t.Password).String() + "@" +
		t.Address() + "/" + url.PathEscape(t.Database)
	if len(t.Params) == 0 {
		return id
	}
	q := make(url.Values, len(t.Params))
	for k, v := range t.Params {
		q.Set(k, v)
	}
	return id + "?" + q.Encode()
}

// String returns the target without its password, suitable for logs.
func (t Target) String() string {
	s := t.Address() + "/" + t.Database
	if t.Username != "" {
		s = t.Username + "@" + s
	}
	return s
}
