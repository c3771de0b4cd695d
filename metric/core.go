// Package metric exposes devlink's Prometheus metrics: the process registry,
// the per-connection counters fed by the engine and the HTTP endpoint that
// serves them.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "devlink"

// Metrics contains process-level metrics that are not tied to one connection
type Metrics struct {
	ConnectionsConfigured prometheus.Gauge
	ErrorsTotal           *prometheus.CounterVec
	HealthCheckStatus     *prometheus.GaugeVec

	// NATS bridge
	NATSConnected     prometheus.Gauge
	NATSRTT           prometheus.Gauge
	NATSReconnects    prometheus.Counter
	FramesPublished   *prometheus.CounterVec
	CommandsForwarded *prometheus.CounterVec
}

// NewMetrics creates the process-level metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ConnectionsConfigured: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_configured",
			Help:      "Number of managed connections built from configuration",
		}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "errors",
			Name:      "total",
			Help:      "Total number of errors by component and class",
		}, []string{"component", "class"}),
		HealthCheckStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "status",
			Help:      "Health check status (0=unhealthy, 1=healthy)",
		}, []string{"component"}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "nats",
			Name:      "connected",
			Help:      "NATS connection status (0=disconnected, 1=connected)",
		}),
		NATSRTT: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "nats",
			Name:      "rtt_milliseconds",
			Help:      "NATS round-trip time in milliseconds",
		}),
		NATSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "nats",
			Name:      "reconnects_total",
			Help:      "Total number of NATS reconnections",
		}),
		FramesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "frames_published_total",
			Help:      "Frames and events published to NATS",
		}, []string{"connection", "kind"}),
		CommandsForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "commands_total",
			Help:      "Commands received from NATS and forwarded to a connection",
		}, []string{"connection", "op"}),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.ConnectionsConfigured,
		c.ErrorsTotal,
		c.HealthCheckStatus,
		c.NATSConnected,
		c.NATSRTT,
		c.NATSReconnects,
		c.FramesPublished,
		c.CommandsForwarded,
	}
}

// RecordError increments the error counter
func (c *Metrics) RecordError(component, class string) {
	c.ErrorsTotal.WithLabelValues(component, class).Inc()
}

// RecordHealthStatus updates health check status
func (c *Metrics) RecordHealthStatus(component string, healthy bool) {
	c.HealthCheckStatus.WithLabelValues(component).Set(boolToFloat(healthy))
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	c.NATSConnected.Set(boolToFloat(connected))
}

// RecordNATSRTT updates NATS round-trip time
func (c *Metrics) RecordNATSRTT(rtt time.Duration) {
	c.NATSRTT.Set(float64(rtt.Milliseconds()))
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}

// RecordFramePublished counts one bridge publication
func (c *Metrics) RecordFramePublished(connection, kind string) {
	c.FramesPublished.WithLabelValues(connection, kind).Inc()
}

// RecordCommand counts one bridge command
func (c *Metrics) RecordCommand(connection, op string) {
	c.CommandsForwarded.WithLabelValues(connection, op).Inc()
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
