package dbpool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeoutIsExhaustion(t *testing.T) {
	t.Parallel()

	assert.ErrorIs(t, ErrTimeout, ErrPoolExhausted)
	assert.NotErrorIs(t, ErrPoolExhausted, ErrTimeout)
}

func TestMarkBadConn(t *testing.T) {
	t.Parallel()

	cause := errors.New("broken pipe")
	err := MarkBadConn(cause)
	assert.ErrorIs(t, err, ErrBadConn)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "broken pipe")

	assert.Nil(t, MarkBadConn(nil))
	assert.Same(t, ErrBadConn, MarkBadConn(ErrBadConn))
}

func TestQueryError(t *testing.T) {
	t.Parallel()

	statementErr := &QueryError{Query: "select x", Err: errors.New("no such column")}
	assert.False(t, statementErr.Broken())
	assert.False(t, IsConnectionBroken(statementErr))
	assert.Equal(t, `dbpool: query "select x": no such column`, statementErr.Error())

	brokenErr := &QueryError{Query: "select 1", Err: MarkBadConn(errors.New("eof"))}
	assert.True(t, brokenErr.Broken())
	assert.True(t, IsConnectionBroken(fmt.Errorf("wrapped: %w", brokenErr)))
	assert.Contains(t, brokenErr.Error(), "connection broken")
}

func TestConnectError(t *testing.T) {
	t.Parallel()

	err := error(&ConnectError{Target: "db:5432/app", Err: context.DeadlineExceeded})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "dbpool: connect to db:5432/app: context deadline exceeded", err.Error())
}

func TestTargetIdentity(t *testing.T) {
	t.Parallel()

	a := Target{Host: "db", Port: 5432, Database: "app", Username: "u", Password: "p",
		Params: map[string]string{"sslmode": "disable", "a": "1"}}
	b := a
	b.Params = map[string]string{"a": "1", "sslmode": "disable"}
	assert.Equal(t, a.ID(), b.ID())
	assert.Equal(t, "u:p@db:5432/app?a=1&sslmode=disable", a.ID())

	c := a
	c.Password = "other"
	assert.NotEqual(t, a.ID(), c.ID())

	// Separators inside credentials must not make two targets collide.
	d := Target{Host: "db", Username: "a", Password: "b:c"}
	e := Target{Host: "db", Username: "a:b", Password: "c"}
	assert.NotEqual(t, d.ID(), e.ID())
	f := Target{Host: "db", Database: "app", Params: map[string]string{"x": "1&y=2"}}
	g := Target{Host: "db", Database: "app", Params: map[string]string{"x": "1", "y": "2"}}
	assert.NotEqual(t, f.ID(), g.ID())

	assert.Equal(t, "u@db:5432/app", a.String())
	assert.NotContains(t, a.String(), "p@")
	assert.Equal(t, "[::1]:5432", Target{Host: "::1", Port: 5432}.Address())
	assert.Equal(t, "db", Target{Host: "db"}.Address())
}

func TestRegisterEngine(t *testing.T) {
	t.Parallel()

	open := func(cfg Config) (Connector, error) {
		return ConnectorFunc(func(ctx context.Context) (RawConn, error) {
			return (&fakeConnector{}).Connect(ctx)
		}), nil
	}
	Register("registry-test", open)
	assert.Panics(t, func() { Register("registry-test", open) })
	assert.Panics(t, func() { Register("registry-nil", nil) })

	names := Drivers()
	assert.Contains(t, names, "registry-test")
	assert.True(t, sort.StringsAreSorted(names))

	cfg := testConfig(1, 1)
	cfg.Engine = "registry-test"
	p, err := OpenConfig(context.Background(), cfg)
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, 1, p.Stats().Idle)

	cfg.Engine = "no-such-engine"
	_, err = OpenConfig(context.Background(), cfg)
	assert.ErrorContains(t, err, `unknown engine "no-such-engine"`)
}

func TestSplitArgs(t *testing.T) {
	t.Parallel()

	positional, named := SplitArgs([]interface{}{1, Named("a", 2), "x", Named("b", nil)})
	assert.Equal(t, []interface{}{1, "x"}, positional)
	require.Len(t, named, 2)
	assert.Equal(t, "a", named[0].Name)
	assert.Equal(t, 2, named[0].Value)
	assert.Equal(t, "b", named[1].Name)
}
