package dbpool

// PoolFacadeStats sums the statistics of every pool in a facade.
type PoolFacadeStats struct {
	NumPools   int
	NumIdle    int
	NumInUse   int
	NumOpen    int
	NumWaiting int
}

// Stats returns totals across all pools.
func (f *PoolFacade) Stats() PoolFacadeStats {
	result := PoolFacadeStats{}
	for _, stats := range f.StatsOfAllPools() {
		result.NumPools++
		result.NumIdle += stats.Idle
		result.NumInUse += stats.InUse
		result.NumOpen += stats.OpenConnections
		result.NumWaiting += stats.Waiting
	}
	return result
}

// StatsOfAllPools returns the statistics of each pool keyed by target.
func (f *PoolFacade) StatsOfAllPools() map[string]ConnPoolStats {
	statsByTarget := make(map[string]ConnPoolStats, f.pools.Count())
	for tuple := range f.pools.IterBuffered() {
		connPool := tuple.Val.(*ConnPool)
		statsByTarget[connPool.cfg.Target.String()] = connPool.Stats()
	}
	return statsByTarget
}
