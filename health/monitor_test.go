package health

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/devlink/engine"
)

func TestMonitor_UpdateAndGet(t *testing.T) {
	m := NewMonitor()
	assert.Equal(t, 0, m.Count())

	m.Update("projector", Status{Component: "wrong-name", Status: "healthy"})

	got, ok := m.Get("projector")
	require.True(t, ok)
	assert.Equal(t, "projector", got.Component)
	assert.Equal(t, LevelHealthy, got.Status)
	assert.False(t, got.Timestamp.IsZero())

	_, ok = m.Get("missing")
	assert.False(t, ok)
}

func TestMonitor_UpdateKeepsTimestamp(t *testing.T) {
	m := NewMonitor()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	m.Update("amp", Status{Status: "healthy", Timestamp: ts})

	got, _ := m.Get("amp")
	assert.Equal(t, ts, got.Timestamp)
}

func TestMonitor_ConvenienceMethods(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("a", "ok")
	m.UpdateDegraded("b", "slow")
	m.UpdateUnhealthy("c", "down")

	a, _ := m.Get("a")
	b, _ := m.Get("b")
	c, _ := m.Get("c")
	assert.True(t, a.IsHealthy())
	assert.True(t, b.IsDegraded())
	assert.True(t, c.IsUnhealthy())
	assert.Equal(t, "down", c.Message)
}

func TestMonitor_Observe(t *testing.T) {
	m := NewMonitor()

	got := m.Observe(engine.Status{Name: "matrix", State: engine.StateConnected, Identity: "matrix:23"})
	assert.True(t, got.IsHealthy())

	stored, ok := m.Get("matrix")
	require.True(t, ok)
	assert.Equal(t, got.Status, stored.Status)

	m.Observe(engine.Status{Name: "matrix", State: engine.StateStopped, StateName: "stopped"})
	stored, _ = m.Get("matrix")
	assert.True(t, stored.IsUnhealthy())
	assert.Equal(t, 1, m.Count())
}

func TestMonitor_GetAllReturnsCopy(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("a", "")
	m.UpdateHealthy("b", "")

	all := m.GetAll()
	require.Len(t, all, 2)

	delete(all, "a")
	assert.Equal(t, 2, m.Count())
}

func TestMonitor_RemoveAndClear(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("a", "")
	m.UpdateHealthy("b", "")

	m.Remove("a")
	m.Remove("never-added")
	assert.Equal(t, []string{"b"}, m.Names())

	m.Clear()
	assert.Equal(t, 0, m.Count())
	assert.Empty(t, m.Names())
}

func TestMonitor_NamesSorted(t *testing.T) {
	m := NewMonitor()
	for _, name := range []string{"relay", "amp", "projector"} {
		m.UpdateHealthy(name, "")
	}
	assert.Equal(t, []string{"amp", "projector", "relay"}, m.Names())
}

func TestMonitor_AggregateHealth(t *testing.T) {
	tests := []struct {
		name string
		set  func(m *Monitor)
		want Level
	}{
		{name: "empty", set: func(*Monitor) {}, want: "healthy"},
		{
			name: "all healthy",
			set: func(m *Monitor) {
				m.UpdateHealthy("a", "")
				m.UpdateHealthy("b", "")
			},
			want: "healthy",
		},
		{
			name: "one degraded",
			set: func(m *Monitor) {
				m.UpdateHealthy("a", "")
				m.UpdateDegraded("b", "")
			},
			want: "degraded",
		},
		{
			name: "unhealthy wins",
			set: func(m *Monitor) {
				m.UpdateDegraded("a", "")
				m.UpdateUnhealthy("b", "")
			},
			want: "unhealthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor()
			tt.set(m)

			agg := m.AggregateHealth("devlink")
			assert.Equal(t, "devlink", agg.Component)
			assert.Equal(t, tt.want, agg.Status)
			assert.Len(t, agg.SubStatuses, m.Count())
		})
	}
}

func TestMonitor_AggregateOrdersSubStatuses(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("zeta", "")
	m.UpdateHealthy("alpha", "")

	agg := m.AggregateHealth("devlink")
	require.Len(t, agg.SubStatuses, 2)
	assert.Equal(t, "alpha", agg.SubStatuses[0].Component)
	assert.Equal(t, "zeta", agg.SubStatuses[1].Component)
}

func TestMonitor_ConcurrentAccess(t *testing.T) {
	m := NewMonitor()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			name := fmt.Sprintf("conn-%d", id)
			for j := 0; j < 50; j++ {
				m.Observe(engine.Status{Name: name, State: engine.StateConnected})
				m.Get(name)
				m.AggregateHealth("devlink")
				m.Names()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, m.Count())
	assert.True(t, m.AggregateHealth("devlink").IsHealthy())
}
