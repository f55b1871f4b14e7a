package monitor

import (
	"errors"
	"fmt"
	"strconv"
	"weak"

	"go.uber.org/atomic"
)

// ErrInvalidArgument is returned when a handle is built without a monitor to observe.
var ErrInvalidArgument = errors.New("invalid argument")

// MonitorHandle is a non-owning, caching view of a DataSourceMonitor.
//
// The handle holds only a weak reference, so it never keeps the monitored pool
// alive. Once the pool has been reclaimed every accessor returns a fixed
// placeholder instead of failing:
//
//	ServiceType          ServiceTypeUnknown
//	Name, URL            "", false
//	ActiveConnectionSize -1
//	MaxConnectionSize    -1
//	Disabled             true
//	EqualsUnwrapped      false
//
// Service type, name and URL are cached on first non-empty observation and
// never change afterwards. A MonitorHandle is safe for concurrent use.
type MonitorHandle struct {
	id      int
	resolve func() DataSourceMonitor

	serviceType onceValue[ServiceType]
	name        onceValue[string]
	url         onceValue[string]
}

var _ DataSourceMonitor = (*MonitorHandle)(nil)

// NewMonitorHandle wraps m under the given id. It fails with ErrInvalidArgument
// when m is nil.
func NewMonitorHandle[T any, PT interface {
	*T
	DataSourceMonitor
}](id int, m PT) (*MonitorHandle, error) {
	if m == nil {
		return nil, fmt.Errorf("data source monitor may not be nil: %w", ErrInvalidArgument)
	}

	ref := weak.Make((*T)(m))
	return &MonitorHandle{
		id: id,
		resolve: func() DataSourceMonitor {
			// the returned interface must be nil, not a nil PT
			if p := ref.Value(); p != nil {
				return PT(p)
			}
			return nil
		},
	}, nil
}

// ID returns the identifier assigned at construction.
func (h *MonitorHandle) ID() int {
	return h.id
}

// ServiceType implements DataSourceMonitor
func (h *MonitorHandle) ServiceType() ServiceType {
	if v, ok := h.serviceType.Load(); ok {
		return v
	}

	m := h.resolve()
	if m == nil {
		return ServiceTypeUnknown
	}
	st := m.ServiceType()
	if !st.IsZero() {
		h.serviceType.set(st)
	}
	return st
}

// Name implements DataSourceMonitor
func (h *MonitorHandle) Name() (string, bool) {
	if v, ok := h.name.Load(); ok {
		return v, true
	}

	m := h.resolve()
	if m == nil {
		return "", false
	}
	name, ok := m.Name()
	if ok {
		h.name.set(name)
	}
	return name, ok
}

// URL implements DataSourceMonitor
func (h *MonitorHandle) URL() (string, bool) {
	if v, ok := h.url.Load(); ok {
		return v, true
	}

	m := h.resolve()
	if m == nil {
		return "", false
	}
	url, ok := m.URL()
	if ok {
		h.url.set(url)
	}
	return url, ok
}

// ActiveConnectionSize implements DataSourceMonitor. It is never cached.
func (h *MonitorHandle) ActiveConnectionSize() int {
	if m := h.resolve(); m != nil {
		return m.ActiveConnectionSize()
	}
	return -1
}

// MaxConnectionSize implements DataSourceMonitor. It is never cached.
func (h *MonitorHandle) MaxConnectionSize() int {
	if m := h.resolve(); m != nil {
		return m.MaxConnectionSize()
	}
	return -1
}

// Disabled implements DataSourceMonitor. A reclaimed monitor is always disabled.
func (h *MonitorHandle) Disabled() bool {
	m := h.resolve()
	if m == nil {
		return true
	}
	return m.Disabled()
}

// EqualsUnwrapped reports whether other is the very monitor this handle wraps.
// It is false once the monitor has been reclaimed.
func (h *MonitorHandle) EqualsUnwrapped(other any) bool {
	if other == nil {
		return false
	}
	m := h.resolve()
	if m == nil {
		return false
	}
	return other == m
}

// String does not touch the monitor, so it is safe to call while logging.
func (h *MonitorHandle) String() string {
	return "DataSourceMonitorHandle{id=" + strconv.Itoa(h.id) + "}"
}

// onceValue is a single-assignment cell. Concurrent writers race benignly:
// the first store wins and later ones are dropped.
type onceValue[T any] struct {
	p atomic.Pointer[T]
}

func (o *onceValue[T]) Load() (T, bool) {
	if v := o.p.Load(); v != nil {
		return *v, true
	}
	var zero T
	return zero, false
}

func (o *onceValue[T]) set(v T) {
	o.p.CompareAndSwap(nil, &v)
}
