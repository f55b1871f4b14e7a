package monitor

import (
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMonitorHandleRejectsNil(t *testing.T) {
	var pool *fakePool
	h, err := NewMonitorHandle(1, pool)
	require.ErrorIs(t, err, ErrInvalidArgument)
	assert.Nil(t, h)
}

func TestMonitorHandleDelegatesToLivePool(t *testing.T) {
	pool := newFakePool("pool-a", "jdbc:test")
	h, err := NewMonitorHandle(7, pool)
	require.NoError(t, err)

	assert.Equal(t, 7, h.ID())
	assert.Equal(t, ServiceTypeHikariCP, h.ServiceType())
	name, ok := h.Name()
	assert.True(t, ok)
	assert.Equal(t, "pool-a", name)
	url, ok := h.URL()
	assert.True(t, ok)
	assert.Equal(t, "jdbc:test", url)
	assert.Equal(t, 3, h.ActiveConnectionSize())
	assert.Equal(t, 10, h.MaxConnectionSize())
	assert.False(t, h.Disabled())

	runtime.KeepAlive(pool)
}

func TestMonitorHandleCachesURL(t *testing.T) {
	pool := newFakePool("pool-a", "jdbc:test")
	h, err := NewMonitorHandle(7, pool)
	require.NoError(t, err)

	url, ok := h.URL()
	require.True(t, ok)
	require.Equal(t, "jdbc:test", url)

	pool.set(func(p *fakePool) {
		other := "jdbc:other"
		p.url = &other
	})
	url, ok = h.URL()
	assert.True(t, ok)
	assert.Equal(t, "jdbc:test", url)

	runtime.KeepAlive(pool)
}

func TestMonitorHandleCachedValuesSkipPool(t *testing.T) {
	pool := newFakePool("pool-a", "jdbc:test")
	h, err := NewMonitorHandle(1, pool)
	require.NoError(t, err)

	h.ServiceType()
	h.Name()
	h.URL()
	before := pool.calls.Load()

	for i := 0; i < 5; i++ {
		h.ServiceType()
		h.Name()
		h.URL()
	}
	assert.Equal(t, before, pool.calls.Load())

	runtime.KeepAlive(pool)
}

func TestMonitorHandleAbsentValuesAreNotCached(t *testing.T) {
	pool := newFakePool("", "")
	pool.set(func(p *fakePool) {
		p.name = nil
		p.url = nil
		p.serviceType = ServiceType{}
	})
	h, err := NewMonitorHandle(2, pool)
	require.NoError(t, err)

	_, ok := h.Name()
	assert.False(t, ok)
	_, ok = h.URL()
	assert.False(t, ok)
	assert.True(t, h.ServiceType().IsZero())

	pool.set(func(p *fakePool) {
		name, url := "late", "jdbc:late"
		p.name = &name
		p.url = &url
		p.serviceType = ServiceTypeDruid
	})
	name, ok := h.Name()
	assert.True(t, ok)
	assert.Equal(t, "late", name)
	url, ok := h.URL()
	assert.True(t, ok)
	assert.Equal(t, "jdbc:late", url)
	assert.Equal(t, ServiceTypeDruid, h.ServiceType())

	// now sticky
	pool.set(func(p *fakePool) {
		p.name = nil
		p.serviceType = ServiceTypeDBCP
	})
	name, ok = h.Name()
	assert.True(t, ok)
	assert.Equal(t, "late", name)
	assert.Equal(t, ServiceTypeDruid, h.ServiceType())

	runtime.KeepAlive(pool)
}

func TestMonitorHandleEmptyNameIsCached(t *testing.T) {
	pool := newFakePool("", "jdbc:test")
	h, err := NewMonitorHandle(1, pool)
	require.NoError(t, err)

	name, ok := h.Name()
	require.True(t, ok)
	require.Empty(t, name)

	pool.set(func(p *fakePool) {
		other := "renamed"
		p.name = &other
	})
	name, ok = h.Name()
	assert.True(t, ok)
	assert.Empty(t, name)

	runtime.KeepAlive(pool)
}

func TestMonitorHandleSizesAreNotCached(t *testing.T) {
	pool := newFakePool("pool-a", "jdbc:test")
	h, err := NewMonitorHandle(1, pool)
	require.NoError(t, err)

	require.Equal(t, 3, h.ActiveConnectionSize())
	pool.set(func(p *fakePool) {
		p.active = 8
		p.max = 20
		p.disabled = true
	})
	assert.Equal(t, 8, h.ActiveConnectionSize())
	assert.Equal(t, 20, h.MaxConnectionSize())
	assert.True(t, h.Disabled())

	runtime.KeepAlive(pool)
}

func TestMonitorHandleReclaimedPool(t *testing.T) {
	pool := newFakePool("pool-b", "jdbc:b")
	h, err := NewMonitorHandle(3, pool)
	require.NoError(t, err)
	require.Equal(t, 3, h.ActiveConnectionSize())
	require.False(t, h.Disabled())

	pool = nil
	waitReclaimed(t, h)

	assert.Equal(t, 3, h.ID())
	assert.Equal(t, -1, h.ActiveConnectionSize())
	assert.Equal(t, -1, h.MaxConnectionSize())
	assert.True(t, h.Disabled())
	assert.Equal(t, ServiceTypeUnknown, h.ServiceType())
	name, ok := h.Name()
	assert.False(t, ok)
	assert.Empty(t, name)
	url, ok := h.URL()
	assert.False(t, ok)
	assert.Empty(t, url)
	assert.False(t, h.EqualsUnwrapped(newFakePool("pool-b", "jdbc:b")))
}

func TestMonitorHandleKeepsCacheAfterReclaim(t *testing.T) {
	pool := newFakePool("pool-c", "jdbc:c")
	h, err := NewMonitorHandle(4, pool)
	require.NoError(t, err)

	h.Name()
	h.URL()
	pool = nil
	waitReclaimed(t, h)

	name, ok := h.Name()
	assert.True(t, ok)
	assert.Equal(t, "pool-c", name)
	url, ok := h.URL()
	assert.True(t, ok)
	assert.Equal(t, "jdbc:c", url)
	// never observed before reclaim
	assert.Equal(t, ServiceTypeUnknown, h.ServiceType())
}

func TestMonitorHandleEqualsUnwrapped(t *testing.T) {
	pool := newFakePool("pool-a", "jdbc:test")
	twin := newFakePool("pool-a", "jdbc:test")
	h, err := NewMonitorHandle(1, pool)
	require.NoError(t, err)

	assert.True(t, h.EqualsUnwrapped(pool))
	assert.False(t, h.EqualsUnwrapped(twin))
	assert.False(t, h.EqualsUnwrapped(nil))
	assert.False(t, h.EqualsUnwrapped(h))
	assert.False(t, h.EqualsUnwrapped(*pool.name))
	assert.False(t, h.EqualsUnwrapped([]int{1}))

	var typedNil *fakePool
	assert.False(t, h.EqualsUnwrapped(typedNil))

	runtime.KeepAlive(pool)
}

func TestMonitorHandleStringDoesNotTouchPool(t *testing.T) {
	pool := newFakePool("pool-a", "jdbc:test")
	h, err := NewMonitorHandle(9, pool)
	require.NoError(t, err)

	assert.Equal(t, "DataSourceMonitorHandle{id=9}", h.String())
	assert.Zero(t, pool.calls.Load())

	runtime.KeepAlive(pool)

	gone := newReclaimedHandle(t, 11)
	assert.Equal(t, "DataSourceMonitorHandle{id=11}", gone.String())
}

func TestMonitorHandleConcurrentFirstRead(t *testing.T) {
	pool := newFakePool("pool-x", "jdbc:x")
	h, err := NewMonitorHandle(1, pool)
	require.NoError(t, err)

	const readers = 16
	results := make([]string, readers)
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
	)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			name, ok := h.Name()
			if ok {
				results[i] = name
			}
		}()
	}
	close(start)
	wg.Wait()

	for _, name := range results {
		assert.Equal(t, "pool-x", name)
	}
	cached, ok := h.name.Load()
	assert.True(t, ok)
	assert.Equal(t, "pool-x", cached)

	runtime.KeepAlive(pool)
}

func TestOnceValueKeepsFirstWrite(t *testing.T) {
	var v onceValue[string]
	_, ok := v.Load()
	require.False(t, ok)

	v.set("first")
	v.set("second")
	got, ok := v.Load()
	assert.True(t, ok)
	assert.Equal(t, "first", got)
}
