package metric

import (
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/devlink/errors"
)

func gatheredNames(t *testing.T, r *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	return names
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()
	require.NotNil(t, registry.PrometheusRegistry())
	require.NotNil(t, registry.CoreMetrics())

	registry.CoreMetrics().RecordNATSStatus(true)
	registry.CoreMetrics().RecordError("tcp", "transient")

	names := gatheredNames(t, registry)
	assert.True(t, names["devlink_nats_connected"])
	assert.True(t, names["devlink_errors_total"])
	assert.True(t, names["go_goroutines"])
}

func TestMetricsRegistry_Register(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter", Help: "c"})
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "g"})
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_histogram", Help: "h"})

	require.NoError(t, registry.Register("svc", "test_counter", counter))
	require.NoError(t, registry.Register("svc", "test_gauge", gauge))
	require.NoError(t, registry.Register("svc", "test_histogram", histogram))

	counter.Inc()
	gauge.Set(3)
	histogram.Observe(0.2)

	names := gatheredNames(t, registry)
	assert.True(t, names["test_counter"])
	assert.True(t, names["test_gauge"])
	assert.True(t, names["test_histogram"])
}

func TestMetricsRegistry_PreventDuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	first := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_counter", Help: "c"})
	require.NoError(t, registry.Register("svc", "dup_counter", first))

	err := registry.Register("svc", "dup_counter", first)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	// same prometheus name under a different service key still conflicts
	second := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_counter", Help: "c"})
	err = registry.Register("other", "dup_counter", second)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "temp_gauge", Help: "g"})

	require.NoError(t, registry.Register("svc", "temp_gauge", gauge))
	assert.True(t, registry.Unregister("svc", "temp_gauge"))
	assert.False(t, registry.Unregister("svc", "temp_gauge"))

	require.NoError(t, registry.Register("svc", "temp_gauge", gauge), "re-registration after unregister")
}

func TestMetricsRegistry_ThreadSafety(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("concurrent_counter_%d", i)
			c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: "c"})
			assert.NoError(t, registry.Register("svc", name, c))
		}(i)
	}
	wg.Wait()

	names := gatheredNames(t, registry)
	for i := 0; i < 20; i++ {
		assert.True(t, names[fmt.Sprintf("concurrent_counter_%d", i)])
	}
}

func TestMetricsRegistrar_Interface(_ *testing.T) {
	var _ MetricsRegistrar = NewMetricsRegistry()
}
