package monitor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/eryajf/promwrite"
	"go.uber.org/zap"
)

// ErrNoRemoteWrite is returned by a write when no remote write URL was configured.
var ErrNoRemoteWrite = errors.New("no remote write client configured")

// Config defines the configuration for the pool monitoring system
type Config struct {
	// Service identification
	Namespace   string
	Subsystem   string
	ServiceName string

	// Remote write configuration
	RemoteWriteURL      string
	RemoteWriteInterval time.Duration
	RemoteWriteTimeout  time.Duration

	// Instance information
	InstanceIP   string
	CustomLabels map[string]string

	// MaxDataSources caps the number of registered pools, 0 means no limit
	MaxDataSources int

	// Optional logger
	Logger *zap.Logger

	// DNS resolver options for the remote write host
	DNSEnable          bool
	DNSCacheTTL        time.Duration
	DNSRefreshInterval time.Duration
	DNSTimeout         time.Duration
	DNSUDPServers      []string // e.g. ["1.1.1.1:53", "8.8.8.8:53"]
	DNSTLSServers      []string // e.g. ["1.1.1.1:853"]
	DNSDoHEndpoints    []string // e.g. ["https://cloudflare-dns.com/dns-query"]
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	ip, _ := GetOutboundIPv4()
	return Config{
		Namespace:           "app",
		Subsystem:           "prod",
		ServiceName:         "service",
		RemoteWriteInterval: 15 * time.Second,
		RemoteWriteTimeout:  15 * time.Second,
		InstanceIP:          ip,
		MaxDataSources:      20,
		CustomLabels:        make(map[string]string),
	}
}

// Manager polls registered collectors and ships their output
type Manager interface {
	Start() error
	Stop()
	RegisterCollector(collector Collector)
	GetMetrics() []Metric
}

// Collector produces a batch of metrics each time it is polled
type Collector interface {
	Collect() []Metric
	Name() string
}

// Metric represents a single metric data point
type Metric struct {
	Name       string
	Value      float64
	Labels     map[string]string
	MetricType MetricType
	Timestamp  time.Time
}

// MetricType represents the type of a metric
type MetricType int

const (
	Counter MetricType = iota
	Gauge
)

type managerImpl struct {
	config     Config
	logger     *zap.Logger
	collectors []Collector
	mutex      sync.RWMutex

	clientMu sync.RWMutex
	client   *promwrite.Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	dns *hostResolver
}

// NewManager creates a new manager. It does not start any goroutine.
func NewManager(config Config) (Manager, error) {
	return newManager(config)
}

func newManager(config Config) (*managerImpl, error) {
	if config.ServiceName == "" {
		return nil, fmt.Errorf("service name cannot be empty")
	}

	if config.InstanceIP == "" {
		ip, err := GetOutboundIPv4()
		if err != nil {
			return nil, fmt.Errorf("failed to get outbound IPv4: %w", err)
		}
		config.InstanceIP = ip
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		client *promwrite.Client
		host   string
	)
	if config.RemoteWriteURL != "" {
		u, err := url.Parse(config.RemoteWriteURL)
		if err != nil {
			return nil, fmt.Errorf("invalid remote write url: %w", err)
		}
		host = u.Hostname()
		client = promwrite.NewClient(config.RemoteWriteURL)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &managerImpl{
		config: config,
		logger: logger,
		client: client,
		ctx:    ctx,
		cancel: cancel,
		dns:    newHostResolver(host, config, logger),
	}, nil
}

func pickDuration(v time.Duration, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

// RegisterCollector implements Manager interface
func (m *managerImpl) RegisterCollector(collector Collector) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.collectors = append(m.collectors, collector)

	m.logger.Debug("registered metrics collector", zap.String("collector", collector.Name()))
}

// Start implements Manager interface
func (m *managerImpl) Start() error {
	if m.remoteWriteClient() == nil {
		m.logger.Warn("starting pool monitor without remote write URL")
		return nil
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(pickDuration(m.config.RemoteWriteInterval, 15*time.Second))
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := m.writeMetrics(); err != nil {
					m.logger.Error("failed to write metrics", zap.Error(err))
				}
			case <-m.ctx.Done():
				return
			}
		}
	}()

	if m.dns.enabled() {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			ticker := time.NewTicker(m.dns.refreshInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if m.dns.refresh(m.ctx, false) {
						m.resetClient()
					}
				case <-m.ctx.Done():
					return
				}
			}
		}()
	}

	return nil
}

// Stop implements Manager interface
func (m *managerImpl) Stop() {
	m.cancel()
	m.wg.Wait()
}

// GetMetrics implements Manager interface
func (m *managerImpl) GetMetrics() []Metric {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var metrics []Metric
	for _, collector := range m.collectors {
		metrics = append(metrics, collector.Collect()...)
	}
	return metrics
}

func (m *managerImpl) remoteWriteClient() *promwrite.Client {
	m.clientMu.RLock()
	defer m.clientMu.RUnlock()
	return m.client
}

// resetClient recreates the remote write client so new connections pick up fresh addresses
func (m *managerImpl) resetClient() {
	if m.config.RemoteWriteURL == "" {
		return
	}
	m.clientMu.Lock()
	m.client = promwrite.NewClient(m.config.RemoteWriteURL)
	m.clientMu.Unlock()
	m.logger.Info("refreshed remote write client", zap.String("host", m.dns.host))
}

// writeMetrics sends collected metrics to the remote write endpoint
func (m *managerImpl) writeMetrics() error {
	client := m.remoteWriteClient()
	if client == nil {
		return ErrNoRemoteWrite
	}

	metrics := m.GetMetrics()
	if len(metrics) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(m.ctx, pickDuration(m.config.RemoteWriteTimeout, 15*time.Second))
	defer cancel()

	req := &promwrite.WriteRequest{
		TimeSeries: m.convertToTimeSeries(metrics),
	}

	if _, err := client.Write(ctx, req); err != nil {
		// one forced DNS refresh, then a single retry with a new client
		if m.dns.refresh(ctx, true) {
			m.resetClient()
			if _, retryErr := m.remoteWriteClient().Write(ctx, req); retryErr != nil {
				return fmt.Errorf("writing time series failed after dns refresh: %w", retryErr)
			}
			return nil
		}
		return fmt.Errorf("writing time series failed: %w", err)
	}
	return nil
}

// convertToTimeSeries converts collected metrics to promwrite time series
func (m *managerImpl) convertToTimeSeries(metrics []Metric) []promwrite.TimeSeries {
	result := make([]promwrite.TimeSeries, 0, len(metrics))
	prefix := m.config.Namespace + "_" + m.config.Subsystem

	for _, metric := range metrics {
		labels := make([]promwrite.Label, 0, 4+len(m.config.CustomLabels)+len(metric.Labels))
		labels = append(labels,
			promwrite.Label{Name: "__name__", Value: prefix + "_" + metric.Name},
			promwrite.Label{Name: "_instance_", Value: m.config.InstanceIP},
			promwrite.Label{Name: "instance", Value: m.config.InstanceIP},
			promwrite.Label{Name: "_target_", Value: m.config.ServiceName},
		)
		for k, v := range m.config.CustomLabels {
			labels = append(labels, promwrite.Label{Name: k, Value: v})
		}
		for k, v := range metric.Labels {
			labels = append(labels, promwrite.Label{Name: k, Value: v})
		}

		result = append(result, promwrite.TimeSeries{
			Labels: labels,
			Sample: promwrite.Sample{
				Time:  metric.Timestamp,
				Value: metric.Value,
			},
		})
	}
	return result
}

// GetOutboundIPv4 gets the outbound IPv4 address of the local machine
func GetOutboundIPv4() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String(), nil
}
