// Package monitor observes connection pools without owning them and reports
// their usage through Prometheus Remote Write.
//
// A pool exposes its state through DataSourceMonitor. The registry never holds
// the pool itself: it holds a MonitorHandle, which keeps only a weak reference.
// When the pool is garbage collected the handle degrades to fixed placeholder
// values (ServiceTypeUnknown, -1 sizes, disabled) and is dropped from the
// registry on the next read.
//
// Design goals:
//   - Never extend the lifetime of an observed pool
//   - Never fail a read because a pool went away
//   - Lock-free reads on handles; name, URL and service type cached once seen
//
// Basic usage:
//
//	config := monitor.DefaultConfig()
//	config.ServiceName = "orders"
//	config.RemoteWriteURL = "http://prometheus:9090/api/v1/write"
//
//	if err := monitor.Init(config); err != nil {
//	  log.Fatal(err)
//	}
//	defer monitor.Shutdown()
//
//	handle, err := monitor.RegisterDataSource(pool) // pool is a *T implementing DataSourceMonitor
//	if err != nil {
//	  log.Fatal(err)
//	}
//	log.Println(handle.ActiveConnectionSize())
package monitor
