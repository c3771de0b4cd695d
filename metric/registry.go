package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360/devlink/errors"
)

// MetricsRegistrar is what components need to publish their own collectors
type MetricsRegistrar interface {
	Register(owner, name string, c prometheus.Collector) error
	Unregister(owner, name string) bool
}

type collectorKey struct {
	owner string
	name  string
}

// MetricsRegistry owns the process Prometheus registry. Component
// collectors are tracked by owner and name so one component cannot
// register the same collector twice.
type MetricsRegistry struct {
	prom *prometheus.Registry
	core *Metrics

	mu         sync.Mutex
	collectors map[collectorKey]prometheus.Collector
}

// NewMetricsRegistry returns a registry holding the core metrics and the Go
// runtime and process collectors.
func NewMetricsRegistry() *MetricsRegistry {
	r := &MetricsRegistry{
		prom:       prometheus.NewRegistry(),
		core:       NewMetrics(),
		collectors: make(map[collectorKey]prometheus.Collector),
	}
	r.prom.MustRegister(r.core.collectors()...)
	r.prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// PrometheusRegistry returns the underlying registry for serving and
// gathering
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prom
}

// CoreMetrics returns the process-wide metrics
func (r *MetricsRegistry) CoreMetrics() *Metrics {
	return r.core
}

// Register adds c under owner and name. Registering the same key twice, or
// a collector whose descriptors clash with an existing one, is an invalid
// error.
func (r *MetricsRegistry) Register(owner, name string, c prometheus.Collector) error {
	key := collectorKey{owner, name}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.collectors[key]; ok {
		return errors.WrapInvalid(fmt.Errorf("%s/%s already registered", owner, name),
			"MetricsRegistry", "Register", "duplicate check")
	}

	if err := r.prom.Register(c); err != nil {
		var dup prometheus.AlreadyRegisteredError
		if stderrors.As(err, &dup) {
			return errors.WrapInvalid(err, "MetricsRegistry", "Register", "register "+name)
		}
		return errors.WrapFatal(err, "MetricsRegistry", "Register", "register "+name)
	}

	r.collectors[key] = c
	return nil
}

// Unregister removes the collector stored under owner and name and reports
// whether there was one
func (r *MetricsRegistry) Unregister(owner, name string) bool {
	key := collectorKey{owner, name}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.collectors[key]
	if !ok || !r.prom.Unregister(c) {
		return false
	}
	delete(r.collectors, key)
	return true
}
