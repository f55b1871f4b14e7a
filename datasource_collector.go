package monitor

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var (
	// ErrDuplicateDataSource is returned when the monitor is already registered.
	ErrDuplicateDataSource = errors.New("data source monitor already registered")
	// ErrDataSourceLimit is returned when the collector is full.
	ErrDataSourceLimit = errors.New("data source limit reached")
)

// Registry event counter names
const (
	eventRegistered   = "datasource_registered_total"
	eventUnregistered = "datasource_unregistered_total"
	eventPruned       = "datasource_pruned_total"
	eventRejected     = "datasource_rejected_total"
)

// DataSourceCollector holds MonitorHandles for connection pools and reports
// their connection usage on every Collect. Handles whose pool is disabled or
// has been reclaimed are dropped the next time the collector is read.
type DataSourceCollector struct {
	BaseCollector
	maxDataSources int
	events         *CounterCollector

	ids     atomic.Int64
	mutex   sync.Mutex
	handles []*MonitorHandle
}

// NewDataSourceCollector creates a collector accepting at most maxDataSources
// pools. maxDataSources <= 0 means no limit.
func NewDataSourceCollector(name string, maxDataSources int, logger *zap.Logger) *DataSourceCollector {
	return &DataSourceCollector{
		BaseCollector:  NewBaseCollector(name, logger),
		maxDataSources: maxDataSources,
		events:         NewCounterCollector(name+"_events", logger),
	}
}

// Events returns the collector counting registrations, removals and rejections.
func (c *DataSourceCollector) Events() *CounterCollector {
	return c.events
}

// Register wraps m in a new MonitorHandle with the next free id and adds it to c.
func Register[T any, PT interface {
	*T
	DataSourceMonitor
}](c *DataSourceCollector, m PT) (*MonitorHandle, error) {
	if m == nil {
		c.events.Inc(eventRejected)
		return nil, fmt.Errorf("register data source: %w", ErrInvalidArgument)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.pruneLocked()
	if err := c.admitLocked(m); err != nil {
		c.events.Inc(eventRejected)
		return nil, err
	}

	h, err := NewMonitorHandle[T, PT](int(c.ids.Inc()), m)
	if err != nil {
		return nil, err
	}
	c.handles = append(c.handles, h)
	c.events.Inc(eventRegistered)

	name, _ := h.Name()
	c.logger.Info("registered data source",
		zap.Int("id", h.ID()),
		zap.String("name", name),
		zap.Stringer("service_type", h.ServiceType()))
	return h, nil
}

func (c *DataSourceCollector) admitLocked(m any) error {
	for _, h := range c.handles {
		if h.EqualsUnwrapped(m) {
			return fmt.Errorf("%w: %s", ErrDuplicateDataSource, h)
		}
	}
	if c.maxDataSources > 0 && len(c.handles) >= c.maxDataSources {
		return fmt.Errorf("%w: max %d", ErrDataSourceLimit, c.maxDataSources)
	}
	return nil
}

// Unregister removes the handles wrapping m and reports whether any was found.
func (c *DataSourceCollector) Unregister(m any) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	kept := c.handles[:0]
	removed := 0
	for _, h := range c.handles {
		if h.EqualsUnwrapped(m) {
			removed++
			c.logger.Info("unregistered data source", zap.Int("id", h.ID()))
			continue
		}
		kept = append(kept, h)
	}
	clear(c.handles[len(kept):])
	c.handles = kept

	c.events.Add(eventUnregistered, int64(removed))
	return removed > 0
}

// Handles returns the enabled handles in registration order.
func (c *DataSourceCollector) Handles() []*MonitorHandle {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.pruneLocked()
	return append([]*MonitorHandle(nil), c.handles...)
}

// Len returns the number of handles currently held, including ones not yet pruned.
func (c *DataSourceCollector) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.handles)
}

func (c *DataSourceCollector) pruneLocked() {
	kept := c.handles[:0]
	for _, h := range c.handles {
		if h.Disabled() {
			c.logger.Debug("dropping disabled data source", zap.Stringer("handle", h))
			c.events.Inc(eventPruned)
			continue
		}
		kept = append(kept, h)
	}
	clear(c.handles[len(kept):])
	c.handles = kept
}

// Collect implements Collector interface
func (c *DataSourceCollector) Collect() []Metric {
	handles := c.Handles()
	now := time.Now()
	metrics := make([]Metric, 0, 2*len(handles))

	for _, h := range handles {
		active, maxSize := h.ActiveConnectionSize(), h.MaxConnectionSize()
		if active < 0 || maxSize < 0 {
			// reclaimed after pruning
			continue
		}

		name, _ := h.Name()
		url, _ := h.URL()
		labels := map[string]string{
			"id":           strconv.Itoa(h.ID()),
			"name":         name,
			"url":          url,
			"service_type": h.ServiceType().Name,
		}

		metrics = append(metrics,
			Metric{
				Name:       "datasource_active_connections",
				Value:      float64(active),
				Labels:     labels,
				MetricType: Gauge,
				Timestamp:  now,
			},
			Metric{
				Name:       "datasource_max_connections",
				Value:      float64(maxSize),
				Labels:     labels,
				MetricType: Gauge,
				Timestamp:  now,
			},
		)
	}
	return metrics
}
