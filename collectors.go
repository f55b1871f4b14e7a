package monitor

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// BaseCollector provides basic collector functionality
type BaseCollector struct {
	name   string
	logger *zap.Logger
}

// Name implements Collector interface
func (b *BaseCollector) Name() string {
	return b.name
}

// NewBaseCollector creates a base collector. A nil logger discards output.
func NewBaseCollector(name string, logger *zap.Logger) BaseCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return BaseCollector{
		name:   name,
		logger: logger.With(zap.String("collector", name)),
	}
}

// CounterCollector keeps monotonic event counters
type CounterCollector struct {
	BaseCollector
	counters map[string]*atomic.Int64
	mutex    sync.RWMutex
}

// NewCounterCollector creates a new counter collector
func NewCounterCollector(name string, logger *zap.Logger) *CounterCollector {
	return &CounterCollector{
		BaseCollector: NewBaseCollector(name, logger),
		counters:      make(map[string]*atomic.Int64),
	}
}

// counter returns the named counter, creating it on first use
func (c *CounterCollector) counter(name string) *atomic.Int64 {
	c.mutex.RLock()
	counter, exists := c.counters[name]
	c.mutex.RUnlock()
	if exists {
		return counter
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if counter, exists = c.counters[name]; !exists {
		counter = &atomic.Int64{}
		c.counters[name] = counter
	}
	return counter
}

// Inc increments a counter by 1
func (c *CounterCollector) Inc(name string) {
	c.counter(name).Add(1)
}

// Add adds delta to a counter; negative deltas are ignored
func (c *CounterCollector) Add(name string, delta int64) {
	if delta <= 0 {
		return
	}
	c.counter(name).Add(delta)
}

// Get gets the current value of a counter
func (c *CounterCollector) Get(name string) int64 {
	c.mutex.RLock()
	counter, exists := c.counters[name]
	c.mutex.RUnlock()

	if !exists {
		return 0
	}
	return counter.Load()
}

// Collect implements Collector interface. Output is sorted by name.
func (c *CounterCollector) Collect() []Metric {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	now := time.Now()
	metrics := make([]Metric, 0, len(c.counters))
	for name, counter := range c.counters {
		metrics = append(metrics, Metric{
			Name:       name,
			Value:      float64(counter.Load()),
			Labels:     map[string]string{},
			MetricType: Counter,
			Timestamp:  now,
		})
	}
	sort.Slice(metrics, func(i, j int) bool { return metrics[i].Name < metrics[j].Name })
	return metrics
}
