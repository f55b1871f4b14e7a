package monitor

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrNotInitialized is returned by the global functions before Init or after Shutdown.
var ErrNotInitialized = errors.New("monitor system not initialized")

// Global monitor instance
var (
	globalMu          sync.RWMutex
	globalManager     *managerImpl
	globalDataSources *DataSourceCollector
)

// Init initializes the global monitoring system. Calling Init again before
// Shutdown is a no-op.
func Init(config Config) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalManager != nil {
		return nil
	}

	mgr, err := newManager(config)
	if err != nil {
		return err
	}

	dataSources := NewDataSourceCollector("datasources", config.MaxDataSources, mgr.logger)
	mgr.RegisterCollector(dataSources)
	mgr.RegisterCollector(dataSources.Events())

	if err := mgr.Start(); err != nil {
		return err
	}

	globalManager = mgr
	globalDataSources = dataSources

	mgr.logger.Info("pool monitor initialized",
		zap.String("namespace", config.Namespace),
		zap.String("subsystem", config.Subsystem),
		zap.String("service", config.ServiceName),
		zap.Int("max_data_sources", config.MaxDataSources))
	return nil
}

// Shutdown stops the global monitoring system and drops every registered handle
func Shutdown() {
	globalMu.Lock()
	mgr := globalManager
	globalManager = nil
	globalDataSources = nil
	globalMu.Unlock()

	if mgr != nil {
		mgr.Stop()
	}
}

func dataSources() *DataSourceCollector {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalDataSources
}

// RegisterDataSource registers a pool monitor with the global system and
// returns the handle that now observes it. The global system never keeps m alive.
func RegisterDataSource[T any, PT interface {
	*T
	DataSourceMonitor
}](m PT) (*MonitorHandle, error) {
	c := dataSources()
	if c == nil {
		return nil, ErrNotInitialized
	}
	return Register[T, PT](c, m)
}

// UnregisterDataSource removes the handle observing m
func UnregisterDataSource(m any) bool {
	if c := dataSources(); c != nil {
		return c.Unregister(m)
	}
	return false
}

// DataSources returns the handles of every enabled registered pool
func DataSources() []*MonitorHandle {
	if c := dataSources(); c != nil {
		return c.Handles()
	}
	return nil
}

// RegisterCollector registers a custom metrics collector
func RegisterCollector(collector Collector) error {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalManager == nil {
		return ErrNotInitialized
	}

	globalManager.RegisterCollector(collector)
	return nil
}

// RefreshConnection forces a DNS refresh of the remote write host and
// rebuilds the client when its addresses changed
func RefreshConnection() error {
	globalMu.RLock()
	mgr := globalManager
	globalMu.RUnlock()
	if mgr == nil {
		return ErrNotInitialized
	}

	if mgr.dns.refresh(mgr.ctx, true) {
		mgr.resetClient()
	}
	return nil
}

// GetStatus returns the current status of the monitoring system
func GetStatus() map[string]interface{} {
	globalMu.RLock()
	mgr, c := globalManager, globalDataSources
	globalMu.RUnlock()

	status := make(map[string]interface{})
	if mgr == nil {
		status["initialized"] = false
		status["error"] = ErrNotInitialized.Error()
		return status
	}

	status["initialized"] = true
	status["remote_write"] = mgr.remoteWriteClient() != nil
	status["remote_write_addresses"] = mgr.dns.addresses()
	status["data_sources"] = len(c.Handles())
	status["data_sources_registered"] = c.Events().Get(eventRegistered)
	status["data_sources_pruned"] = c.Events().Get(eventPruned)
	return status
}

// ForceWrite immediately writes all current metrics to the remote endpoint
func ForceWrite() error {
	globalMu.RLock()
	mgr := globalManager
	globalMu.RUnlock()
	if mgr == nil {
		return ErrNotInitialized
	}

	if err := mgr.writeMetrics(); err != nil {
		return fmt.Errorf("force write: %w", err)
	}
	return nil
}
