package monitor

// DataSourceMonitor exposes the read-only state of a connection pool.
// Implementations are owned by the pool itself; none of the methods may block.
type DataSourceMonitor interface {
	// ServiceType returns the pool type, or the zero ServiceType if unknown.
	ServiceType() ServiceType
	Name() (string, bool)
	URL() (string, bool)
	ActiveConnectionSize() int
	MaxConnectionSize() int
	Disabled() bool
}
