package cache

// Metrics is a point-in-time snapshot of the facade's counters.
type Metrics struct {
	Hits          uint64
	Misses        uint64
	Stores        uint64
	Errors        uint64
	Invalidations uint64
	Size          int
}

// HitRate is hits over total lookups, 0 when nothing has been looked up.
func (m Metrics) HitRate() float64 {
	total := m.Hits + m.Misses
	if total == 0 {
		return 0
	}
	return float64(m.Hits) / float64(total)
}

// healthMinSamples is the lookup count below which the hit rate is still
// warming up and says nothing about cache health.
const healthMinSamples = 100

// healthHitRate is the hit rate under which a warmed-up cache is reported
// unhealthy.
const healthHitRate = 0.5

// Healthy reports whether the cache is earning its keep: either still
// warming up, or holding a useful hit rate.
func (m Metrics) Healthy() bool {
	if m.Hits+m.Misses < healthMinSamples {
		return true
	}
	return m.HitRate() >= healthHitRate
}

// Metrics returns a snapshot of the facade's counters. A disabled cache
// reports all zeros.
func (c *Cache) Metrics() Metrics {
	if !c.enabled {
		return Metrics{}
	}
	return Metrics{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Stores:        c.stores.Load(),
		Errors:        c.errors.Load(),
		Invalidations: c.invalidations.Load(),
		Size:          c.store.Size(),
	}
}
