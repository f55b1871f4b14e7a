package monitor

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakePool is a DataSourceMonitor whose state tests can change at will
type fakePool struct {
	mu          sync.Mutex
	serviceType ServiceType
	name        *string
	url         *string
	active      int
	max         int
	disabled    bool

	calls atomic.Int32
}

func newFakePool(name, url string) *fakePool {
	return &fakePool{
		serviceType: ServiceTypeHikariCP,
		name:        &name,
		url:         &url,
		active:      3,
		max:         10,
	}
}

func (p *fakePool) ServiceType() ServiceType {
	p.calls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.serviceType
}

func (p *fakePool) Name() (string, bool) {
	p.calls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.name == nil {
		return "", false
	}
	return *p.name, true
}

func (p *fakePool) URL() (string, bool) {
	p.calls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.url == nil {
		return "", false
	}
	return *p.url, true
}

func (p *fakePool) ActiveConnectionSize() int {
	p.calls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *fakePool) MaxConnectionSize() int {
	p.calls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.max
}

func (p *fakePool) Disabled() bool {
	p.calls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disabled
}

func (p *fakePool) set(fn func(p *fakePool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

// waitReclaimed runs the garbage collector until the pool behind h is gone
func waitReclaimed(t *testing.T, h *MonitorHandle) {
	t.Helper()
	require.Eventually(t, func() bool {
		runtime.GC()
		return h.resolve() == nil
	}, 2*time.Second, 5*time.Millisecond, "pool behind %s was never reclaimed", h)
}

// newReclaimedHandle returns a handle whose pool is already unreachable
func newReclaimedHandle(t *testing.T, id int) *MonitorHandle {
	t.Helper()
	h, err := NewMonitorHandle(id, newFakePool("gone", "jdbc:gone"))
	require.NoError(t, err)
	waitReclaimed(t, h)
	return h
}
