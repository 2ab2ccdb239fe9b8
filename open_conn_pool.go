package dbpool

import (
	"context"
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Open validates cfg, opens MinSize connections in parallel and starts the
// background maintenance. If any warm-up connection fails, the pool is
// closed and the first connect error returned.
//
// The returned ConnPool is safe for concurrent use by multiple goroutines
// and maintains its own set of idle connections. It should be opened once
// per target and closed when no longer needed.
func Open(ctx context.Context, connector Connector, cfg Config) (*ConnPool, error) {
	if connector == nil {
		return nil, fmt.Errorf("%w: nil connector", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ValidationQuery == "" {
		cfg.ValidationQuery = defaultValidationQuery
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	p := &ConnPool{
		connector: connector,
		cfg:       cfg,
		log: log.WithFields(logrus.Fields{
			"engine": cfg.Engine,
			"target": cfg.Target.String(),
		}),
		waitCount:         xsync.NewCounter(),
		numCreated:        xsync.NewCounter(),
		numClosed:         xsync.NewCounter(),
		healthCheckFailed: xsync.NewCounter(),
		maxIdleTimeClosed: xsync.NewCounter(),
		maxLifetimeClosed: xsync.NewCounter(),
		freeConn:          newFreeConnCache(cfg.MaxSize),
		inUse:             make(map[*driverConn]struct{}),
		cleanerCh:         make(chan struct{}),
		closeDone:         make(chan struct{}),
		ctx:               bgCtx,
		stop:              cancel,
	}

	if err := p.warmup(ctx); err != nil {
		p.log.WithError(err).Error("warm-up failed")
		_ = p.Close()
		return nil, err
	}

	p.mu.Lock()
	p.startCleanerLocked()
	p.mu.Unlock()

	p.log.WithFields(logrus.Fields{
		"min_size": cfg.MinSize,
		"max_size": cfg.MaxSize,
	}).Info("pool opened")
	return p, nil
}

// OpenConfig is Open with the connector of the engine named by cfg.Engine.
func OpenConfig(ctx context.Context, cfg Config) (*ConnPool, error) {
	connector, err := NewConnector(cfg)
	if err != nil {
		return nil, err
	}
	return Open(ctx, connector, cfg)
}

// warmup opens MinSize connections concurrently into the free pool.
func (p *ConnPool) warmup(ctx context.Context) error {
	n := p.cfg.MinSize
	if n == 0 {
		return nil
	}

	p.mu.Lock()
	p.numOpen += n
	p.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			ci, err := p.connect(gctx)
			p.mu.Lock()
			defer p.mu.Unlock()
			if err != nil {
				p.numOpen--
				return err
			}
			p.putFreeConnLocked(p.newDriverConnLocked(ci))
			return nil
		})
	}
	return g.Wait()
}
