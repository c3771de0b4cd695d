package health

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/c360/devlink/engine"
)

// Monitor keeps the latest Status per name. Names are connection names plus
// process-level entries such as "nats".
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

// NewMonitor returns an empty monitor
func NewMonitor() *Monitor {
	return &Monitor{statuses: make(map[string]Status)}
}

// Update stores status under name. The component is forced to name and a
// missing timestamp is set to now.
func (m *Monitor) Update(name string, status Status) {
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.statuses[name] = status
	m.mu.Unlock()
}

// Observe stores and returns the status derived from a connection snapshot
func (m *Monitor) Observe(st engine.Status) Status {
	status := FromConnection(st)
	m.Update(st.Name, status)
	return status
}

// UpdateHealthy marks name healthy
func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

// UpdateDegraded marks name degraded
func (m *Monitor) UpdateDegraded(name, message string) {
	m.Update(name, NewDegraded(name, message))
}

// UpdateUnhealthy marks name unhealthy
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// Get returns the status stored under name
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[name]
	return status, ok
}

// GetAll returns a copy of every stored status
func (m *Monitor) GetAll() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.statuses)
}

// Names returns the stored names sorted
func (m *Monitor) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.statuses))
}

// Count returns how many names are stored
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.statuses)
}

// Remove forgets name
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, name)
}

// Clear forgets every name
func (m *Monitor) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.statuses)
}

// AggregateHealth grades systemName by its members, listed in name order
func (m *Monitor) AggregateHealth(systemName string) Status {
	m.mu.RLock()
	subs := make([]Status, 0, len(m.statuses))
	for _, name := range slices.Sorted(maps.Keys(m.statuses)) {
		subs = append(subs, m.statuses[name])
	}
	m.mu.RUnlock()

	return Aggregate(systemName, subs)
}
