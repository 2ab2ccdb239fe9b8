package dbpool

import (
	"github.com/hashicorp/golang-lru/simplelru"
)

// newFreeConnCache returns the idle set. It is sized to MaxSize, which the
// number of idle connections can never exceed, so it never evicts.
func newFreeConnCache(maxSize int) *simplelru.LRU {
	if maxSize < 1 {
		maxSize = 1
	}
	cache, err := simplelru.NewLRU(maxSize, nil)
	if err != nil {
		panic(err)
	}
	return cache
}

// putFreeConnLocked adds dc to the idle set as its most recent member.
func (p *ConnPool) putFreeConnLocked(dc *driverConn) {
	dc.state = stateIdle
	if evicted := p.freeConn.Add(dc, struct{}{}); evicted {
		panic("dbpool: idle set evicted a connection; open count is out of sync")
	}
}

// takeFreeConnLocked removes and returns the most recently returned idle
// connection, or nil.
func (p *ConnPool) takeFreeConnLocked() *driverConn {
	keys := p.freeConn.Keys()
	if len(keys) == 0 {
		return nil
	}
	dc := keys[len(keys)-1].(*driverConn)
	p.freeConn.Remove(dc)
	return dc
}

func (p *ConnPool) removeFreeConnLocked(dc *driverConn) bool {
	return p.freeConn.Remove(dc)
}

// freeConnsLocked lists idle connections, least recently returned first.
func (p *ConnPool) freeConnsLocked() []*driverConn {
	keys := p.freeConn.Keys()
	conns := make([]*driverConn, len(keys))
	for i, k := range keys {
		conns[i] = k.(*driverConn)
	}
	return conns
}

// drainFreeConnLocked empties the idle set and returns what it held. The
// connections no longer count towards numOpen.
func (p *ConnPool) drainFreeConnLocked() []*driverConn {
	conns := p.freeConnsLocked()
	p.freeConn.Purge()
	for _, dc := range conns {
		dc.state = stateClosed
	}
	p.numOpen -= len(conns)
	return conns
}
