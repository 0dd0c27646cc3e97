package telemetry

import (
	"database/sql"
	"sync"
	"time"
)

// PoolStats is implemented by *sql.DB
type PoolStats interface {
	Stats() sql.DBStats
}

// CacheSizer reports the entries held by an in-process cache backend
type CacheSizer interface {
	Len() int
}

// MetricsCollector samples the database pool and the in-process cache on an interval
type MetricsCollector struct {
	pool     PoolStats
	cache    CacheSizer
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMetricsCollector creates a collector sampling pool every interval
func NewMetricsCollector(pool PoolStats, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		pool:     pool,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// WithCache adds an in-process cache to the sampled sources
func (mc *MetricsCollector) WithCache(c CacheSizer) *MetricsCollector {
	mc.cache = c
	return mc
}

// Start samples once, then keeps sampling until Stop
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go func() {
		defer mc.wg.Done()

		ticker := time.NewTicker(mc.interval)
		defer ticker.Stop()

		for {
			mc.collect()
			select {
			case <-ticker.C:
			case <-mc.stopCh:
				return
			}
		}
	}()
}

// Stop ends sampling; it is safe to call more than once
func (mc *MetricsCollector) Stop() {
	mc.stopOnce.Do(func() { close(mc.stopCh) })
	mc.wg.Wait()
}

func (mc *MetricsCollector) collect() {
	if mc.pool != nil {
		stats := mc.pool.Stats()
		DBOpenConnections.Set(float64(stats.OpenConnections))
		DBInUseConnections.Set(float64(stats.InUse))
		DBWaitCount.Set(float64(stats.WaitCount))
	}
	if mc.cache != nil {
		CacheEntries.Set(float64(mc.cache.Len()))
	}
}
