package dbpool

import (
	"context"
	"fmt"

	cmap "github.com/orcaman/concurrent-map"
	"github.com/sasha-s/go-deadlock"
	"golang.org/x/sync/errgroup"
)

// OpenFunc opens a pool for a configuration. OpenConfig is the default.
type OpenFunc func(ctx context.Context, cfg Config) (*ConnPool, error)

// PoolFacade keeps one ConnPool per database target, so callers that
// address many targets by configuration share connections per target.
type PoolFacade struct {
	pools cmap.ConcurrentMap // Target.ID() -> *ConnPool
	open  OpenFunc

	mu     deadlock.Mutex // protects closed and pool insertion
	closed bool
}

// NewPoolFacade returns an empty facade that opens pools with OpenConfig.
func NewPoolFacade() *PoolFacade {
	return NewPoolFacadeWithOpener(OpenConfig)
}

// NewPoolFacadeWithOpener returns an empty facade that opens pools with open.
func NewPoolFacadeWithOpener(open OpenFunc) *PoolFacade {
	return &PoolFacade{
		pools: cmap.New(),
		open:  open,
	}
}

// GetOrOpen returns the pool for cfg.Target, opening it with cfg if there
// is none yet. Settings of a later cfg for an already open target are
// ignored.
func (f *PoolFacade) GetOrOpen(ctx context.Context, cfg Config) (*ConnPool, error) {
	id := cfg.Target.ID()
	if tmp, ok := f.pools.Get(id); ok {
		return tmp.(*ConnPool), nil
	}
	if f.isClosed() {
		return nil, ErrPoolFacadeClosed
	}

	connPool, err := f.open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		_ = connPool.Close()
		return nil, ErrPoolFacadeClosed
	}
	if !f.pools.SetIfAbsent(id, connPool) {
		// Lost the race to a concurrent GetOrOpen for the same target.
		tmp, _ := f.pools.Get(id)
		f.mu.Unlock()
		_ = connPool.Close()
		return tmp.(*ConnPool), nil
	}
	f.mu.Unlock()

	log.WithField("target", cfg.Target.String()).Info("facade opened pool")
	return connPool, nil
}

// Execute runs req on the pool for cfg.Target.
func (f *PoolFacade) Execute(ctx context.Context, cfg Config, req Request) (*Result, error) {
	connPool, err := f.GetOrOpen(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return connPool.Execute(ctx, req)
}

// Remove closes and forgets the pool for target. It reports whether there
// was one.
func (f *PoolFacade) Remove(target Target) (bool, error) {
	tmp, ok := f.pools.Pop(target.ID())
	if !ok {
		return false, nil
	}
	return true, tmp.(*ConnPool).Close()
}

// Close closes every pool concurrently. Later calls on the facade return
// ErrPoolFacadeClosed.
func (f *PoolFacade) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrPoolFacadeClosed
	}
	f.closed = true
	f.mu.Unlock()

	var g errgroup.Group
	for _, key := range f.pools.Keys() {
		tmp, ok := f.pools.Pop(key)
		if !ok {
			continue
		}
		connPool := tmp.(*ConnPool)
		g.Go(func() error {
			if err := connPool.Close(); err != nil {
				return fmt.Errorf("closing pool %s: %w", connPool.cfg.Target, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (f *PoolFacade) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
