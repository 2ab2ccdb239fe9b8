package dbpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeConnector hands out fakeConns and records how many it opened.
type fakeConnector struct {
	opened int32
	closed int32

	mu         sync.Mutex
	conns      []*fakeConn
	connectErr error
	delay      time.Duration
	gate       chan struct{} // when set, Connect blocks until it is closed
	noPing     bool
}

func (fc *fakeConnector) Connect(ctx context.Context) (RawConn, error) {
	fc.mu.Lock()
	err, delay, gate, noPing := fc.connectErr, fc.delay, fc.gate, fc.noPing
	fc.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	c := &fakeConn{connector: fc, id: int(atomic.AddInt32(&fc.opened, 1))}

	fc.mu.Lock()
	fc.conns = append(fc.conns, c)
	fc.mu.Unlock()

	if noPing {
		return &noPingConn{c: c}, nil
	}
	return c, nil
}

func (fc *fakeConnector) setConnectErr(err error) {
	fc.mu.Lock()
	fc.connectErr = err
	fc.mu.Unlock()
}

func (fc *fakeConnector) setGate(gate chan struct{}) {
	fc.mu.Lock()
	fc.gate = gate
	fc.mu.Unlock()
}

func (fc *fakeConnector) numOpened() int { return int(atomic.LoadInt32(&fc.opened)) }

func (fc *fakeConnector) numClosed() int { return int(atomic.LoadInt32(&fc.closed)) }

func (fc *fakeConnector) conn(i int) *fakeConn {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.conns[i]
}

// fakeConn is a RawConn that supports Ping and transactions.
type fakeConn struct {
	connector *fakeConnector
	id        int

	mu        sync.Mutex
	closed    int
	pings     int
	pingErr   error
	execErr   error
	queries   []string
	begun     int
	committed int
	rolled    int
}

func (c *fakeConn) Exec(_ context.Context, query string, args []interface{}) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries = append(c.queries, query)
	if c.execErr != nil {
		return 0, c.execErr
	}
	return int64(len(args)), nil
}

func (c *fakeConn) Query(_ context.Context, query string, args []interface{}) (*RowSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries = append(c.queries, query)
	if c.execErr != nil {
		return nil, c.execErr
	}
	return &RowSet{
		Columns: []string{"conn", "nargs"},
		Rows:    [][]interface{}{{c.id, len(args)}},
	}, nil
}

func (c *fakeConn) Ping(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	return c.pingErr
}

func (c *fakeConn) Begin(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.begun++
	return nil
}

func (c *fakeConn) Commit(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.committed++
	return nil
}

func (c *fakeConn) Rollback(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rolled++
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
	atomic.AddInt32(&c.connector.closed, 1)
	return nil
}

func (c *fakeConn) setPingErr(err error) {
	c.mu.Lock()
	c.pingErr = err
	c.mu.Unlock()
}

func (c *fakeConn) setExecErr(err error) {
	c.mu.Lock()
	c.execErr = err
	c.mu.Unlock()
}

func (c *fakeConn) timesPinged() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}

func (c *fakeConn) timesClosed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) txCounts() (begun, committed, rolled int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.begun, c.committed, c.rolled
}

func (c *fakeConn) ranQueries() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.queries...)
}

// noPingConn hides fakeConn's optional interfaces.
type noPingConn struct {
	c *fakeConn
}

func (n *noPingConn) Exec(ctx context.Context, query string, args []interface{}) (int64, error) {
	return n.c.Exec(ctx, query, args)
}

func (n *noPingConn) Query(ctx context.Context, query string, args []interface{}) (*RowSet, error) {
	return n.c.Query(ctx, query, args)
}

func (n *noPingConn) Close() error { return n.c.Close() }

var errBoom = errors.New("boom")

// testConfig returns a config for fake-connector pools with short timeouts.
func testConfig(minSize, maxSize int) Config {
	return Config{
		Engine:           "fake",
		Target:           Target{Host: "fakehost", Database: "db"},
		MinSize:          minSize,
		MaxSize:          maxSize,
		ConnectTimeout:   Duration(time.Second),
		AcquireTimeout:   Duration(time.Second),
		CloseGracePeriod: Duration(100 * time.Millisecond),
		ValidationQuery:  defaultValidationQuery,
	}
}

func openTestPool(t *testing.T, fc *fakeConnector, cfg Config) *ConnPool {
	t.Helper()
	p, err := Open(context.Background(), fc, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

// waitTimeout waits for the waitgroup for the specified max timeout.
// Returns true if waiting timed out.
func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	c := make(chan struct{})

	go func() {
		defer close(c)
		wg.Wait()
	}()

	select {
	case <-c:
		return false // completed normally
	case <-time.After(timeout):
		return true // timed out
	}
}

// waitForWaiters blocks until n callers are queued in p.
func waitForWaiters(t *testing.T, p *ConnPool, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return p.Stats().Waiting == n
	}, time.Second, time.Millisecond)
}
