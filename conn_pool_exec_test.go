package dbpool

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteCommitsOnSuccess(t *testing.T) {
	t.Parallel()

	fc := &fakeConnector{}
	p := openTestPool(t, fc, testConfig(0, 1))

	res, err := p.Execute(context.Background(), Request{Query: "insert into test values (?, ?)", Args: []interface{}{1, "a"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.RowsAffected)
	assert.Nil(t, res.Rows)

	begun, committed, rolled := fc.conn(0).txCounts()
	assert.Equal(t, 1, begun)
	assert.Equal(t, 1, committed)
	assert.Equal(t, 0, rolled)
	assert.Equal(t, 1, p.Stats().Idle)
}

func TestExecuteFetchesRows(t *testing.T) {
	t.Parallel()

	fc := &fakeConnector{}
	p := openTestPool(t, fc, testConfig(0, 1))

	rows, err := p.Query(context.Background(), "select conn", Named("id", 7))
	require.NoError(t, err)
	require.Equal(t, 1, rows.Len())
	assert.Equal(t, []string{"conn", "nargs"}, rows.Columns)
	assert.Equal(t, map[string]interface{}{"conn": 1, "nargs": 1}, rows.Map(0))

	n, err := p.Exec(context.Background(), "delete from test")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestExecuteStatementErrorKeepsConnection(t *testing.T) {
	t.Parallel()

	fc := &fakeConnector{}
	p := openTestPool(t, fc, testConfig(0, 1))

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Release(c, false))
	fc.conn(0).setExecErr(errBoom)

	_, err = p.Execute(context.Background(), Request{Query: "select nope"})
	var qErr *QueryError
	require.ErrorAs(t, err, &qErr)
	assert.Equal(t, "select nope", qErr.Query)
	assert.False(t, qErr.Broken())
	assert.ErrorIs(t, err, errBoom)

	_, _, rolled := fc.conn(0).txCounts()
	assert.Equal(t, 1, rolled)
	assert.Equal(t, 0, fc.conn(0).timesClosed())

	stats := p.Stats()
	assert.Equal(t, 1, stats.Idle)
	assert.Equal(t, 0, stats.InUse)
}

func TestExecuteBrokenConnectionIsDestroyed(t *testing.T) {
	t.Parallel()

	fc := &fakeConnector{}
	p := openTestPool(t, fc, testConfig(0, 1))

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Release(c, false))
	fc.conn(0).setExecErr(MarkBadConn(fmt.Errorf("connection reset by peer")))

	_, err = p.Execute(context.Background(), Request{Query: "select 1", Fetch: true})
	var qErr *QueryError
	require.ErrorAs(t, err, &qErr)
	assert.True(t, qErr.Broken())
	assert.True(t, IsConnectionBroken(err))

	assert.Equal(t, 1, fc.conn(0).timesClosed())
	stats := p.Stats()
	assert.Equal(t, 0, stats.Idle)
	assert.Equal(t, 0, stats.OpenConnections)

	// The next request gets a fresh connection.
	_, err = p.Execute(context.Background(), Request{Query: "select 1", Fetch: true})
	require.NoError(t, err)
	assert.Equal(t, 2, fc.numOpened())
}

func TestWithConnReleasesOnPanic(t *testing.T) {
	t.Parallel()

	fc := &fakeConnector{}
	p := openTestPool(t, fc, testConfig(0, 1))

	assert.PanicsWithValue(t, "caller bug", func() {
		_ = p.WithConn(context.Background(), func(c *Conn) error {
			panic("caller bug")
		})
	})

	assert.Equal(t, 1, fc.conn(0).timesClosed())
	stats := p.Stats()
	assert.Equal(t, 0, stats.InUse)
	assert.Equal(t, 0, stats.OpenConnections)

	c, err := p.AcquireTimeout(100 * time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, p.Release(c, false))
}

func TestWithConnReturnsError(t *testing.T) {
	t.Parallel()

	fc := &fakeConnector{}
	p := openTestPool(t, fc, testConfig(0, 1))

	err := p.WithConn(context.Background(), func(c *Conn) error {
		_, err := c.Exec(context.Background(), "select 1")
		require.NoError(t, err)
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, p.Stats().Idle)
	assert.Equal(t, 0, fc.conn(0).timesClosed())
}

func TestWithConnToleratesEarlyRelease(t *testing.T) {
	t.Parallel()

	p := openTestPool(t, &fakeConnector{}, testConfig(0, 1))

	err := p.WithConn(context.Background(), func(c *Conn) error {
		return c.Close()
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, p.Stats().Idle)
}

// panickingConn is a fakeConn whose Exec panics mid-statement.
type panickingConn struct {
	*fakeConn
}

func (c *panickingConn) Exec(context.Context, string, []interface{}) (int64, error) {
	panic("driver bug")
}

func TestExecuteRollsBackOnPanic(t *testing.T) {
	t.Parallel()

	fc := &fakeConnector{}
	connector := ConnectorFunc(func(ctx context.Context) (RawConn, error) {
		ci, err := fc.Connect(ctx)
		if err != nil {
			return nil, err
		}
		return &panickingConn{fakeConn: ci.(*fakeConn)}, nil
	})
	p, err := Open(context.Background(), connector, testConfig(0, 1))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	assert.PanicsWithValue(t, "driver bug", func() {
		_, _ = p.Exec(context.Background(), "insert into test values (1)")
	})

	begun, committed, rolled := fc.conn(0).txCounts()
	assert.Equal(t, 1, begun)
	assert.Equal(t, 0, committed)
	assert.Equal(t, 1, rolled)
	assert.Equal(t, 1, fc.conn(0).timesClosed())
	assert.Equal(t, 0, p.Stats().OpenConnections)
}
