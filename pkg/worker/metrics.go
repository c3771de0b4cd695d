package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/devlink/metric"
)

const metricsOwner = "worker_pool"

// poolMetrics mirrors the pool counters in Prometheus. A nil *poolMetrics
// records nothing.
type poolMetrics struct {
	queueDepth prometheus.Gauge
	submitted  prometheus.Counter
	processed  prometheus.Counter
	failed     prometheus.Counter
	dropped    prometheus.Counter
	duration   *prometheus.HistogramVec
}

func newPoolMetrics(registry *metric.MetricsRegistry, prefix string) (*poolMetrics, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: prefix + "_" + name, Help: help})
	}
	m := &poolMetrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_queue_depth",
			Help: "Work items waiting in the pool queue",
		}),
		submitted: counter("submitted_total", "Work items accepted by the pool"),
		processed: counter("processed_total", "Work items run by the pool"),
		failed:    counter("failed_total", "Work items that returned an error or panicked"),
		dropped:   counter("dropped_total", "Work items rejected because the queue was full"),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    prefix + "_processing_duration_seconds",
			Help:    "Time spent running a work item",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"status"}),
	}

	for name, c := range map[string]prometheus.Collector{
		"queue_depth":                 m.queueDepth,
		"submitted_total":             m.submitted,
		"processed_total":             m.processed,
		"failed_total":                m.failed,
		"dropped_total":               m.dropped,
		"processing_duration_seconds": m.duration,
	} {
		if err := registry.Register(metricsOwner, prefix+"_"+name, c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *poolMetrics) submit(depth int) {
	if m == nil {
		return
	}
	m.submitted.Inc()
	m.queueDepth.Set(float64(depth))
}

func (m *poolMetrics) drop() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *poolMetrics) done(depth int, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.processed.Inc()
	m.queueDepth.Set(float64(depth))
	status := "success"
	if err != nil {
		m.failed.Inc()
		status = "error"
	}
	m.duration.WithLabelValues(status).Observe(took.Seconds())
}
