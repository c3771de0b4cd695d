package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

const connectionService = "connections"

// ConnectionMetrics holds the per-connection counters, labelled by
// connection name. Use For to obtain the recorder handed to the engine.
type ConnectionMetrics struct {
	connects       *prometheus.CounterVec
	disconnects    *prometheus.CounterVec
	bytesReceived  *prometheus.CounterVec
	bytesSent      *prometheus.CounterVec
	framesReceived *prometheus.CounterVec
	framesSent     *prometheus.CounterVec
	timeouts       *prometheus.CounterVec
	expired        *prometheus.CounterVec
	errors         *prometheus.CounterVec
	queueLength    *prometheus.GaugeVec
}

// NewConnectionMetrics creates and registers the connection metric vectors
func NewConnectionMetrics(registry *MetricsRegistry) (*ConnectionMetrics, error) {
	counter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      name,
			Help:      help,
		}, []string{"connection"})
	}

	m := &ConnectionMetrics{
		connects:       counter("connects_total", "Successful transport connects"),
		disconnects:    counter("disconnects_total", "Sessions that ended after being connected"),
		bytesReceived:  counter("received_bytes_total", "Bytes read from the transport"),
		bytesSent:      counter("sent_bytes_total", "Bytes written to the transport"),
		framesReceived: counter("received_frames_total", "Frames decoded from the transport"),
		framesSent:     counter("sent_frames_total", "Frames written to the transport"),
		timeouts:       counter("timeouts_total", "Timeout callbacks fired"),
		expired:        counter("expired_requests_total", "Backlog requests dropped after long-term expiry"),
		errors:         counter("errors_total", "Session and callback errors"),
		queueLength: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "queue_length",
			Help:      "Requests waiting behind the active request",
		}, []string{"connection"}),
	}

	if registry == nil {
		return m, nil
	}

	counters := map[string]*prometheus.CounterVec{
		"connects_total":         m.connects,
		"disconnects_total":      m.disconnects,
		"received_bytes_total":   m.bytesReceived,
		"sent_bytes_total":       m.bytesSent,
		"received_frames_total":  m.framesReceived,
		"sent_frames_total":      m.framesSent,
		"timeouts_total":         m.timeouts,
		"expired_requests_total": m.expired,
		"errors_total":           m.errors,
	}
	for name, vec := range counters {
		if err := registry.Register(connectionService, name, vec); err != nil {
			return nil, err
		}
	}
	if err := registry.Register(connectionService, "queue_length", m.queueLength); err != nil {
		return nil, err
	}

	return m, nil
}

// For returns the recorder for one connection
func (m *ConnectionMetrics) For(name string) *ConnectionRecorder {
	return &ConnectionRecorder{
		connects:       m.connects.WithLabelValues(name),
		disconnects:    m.disconnects.WithLabelValues(name),
		bytesReceived:  m.bytesReceived.WithLabelValues(name),
		bytesSent:      m.bytesSent.WithLabelValues(name),
		framesReceived: m.framesReceived.WithLabelValues(name),
		framesSent:     m.framesSent.WithLabelValues(name),
		timeouts:       m.timeouts.WithLabelValues(name),
		expired:        m.expired.WithLabelValues(name),
		errors:         m.errors.WithLabelValues(name),
		queueLength:    m.queueLength.WithLabelValues(name),
	}
}

// ConnectionRecorder records the activity of a single connection
type ConnectionRecorder struct {
	connects       prometheus.Counter
	disconnects    prometheus.Counter
	bytesReceived  prometheus.Counter
	bytesSent      prometheus.Counter
	framesReceived prometheus.Counter
	framesSent     prometheus.Counter
	timeouts       prometheus.Counter
	expired        prometheus.Counter
	errors         prometheus.Counter
	queueLength    prometheus.Gauge
}

func (r *ConnectionRecorder) IncrConnects()          { r.connects.Inc() }
func (r *ConnectionRecorder) IncrDisconnects()       { r.disconnects.Inc() }
func (r *ConnectionRecorder) AddBytesReceived(n int) { r.bytesReceived.Add(float64(n)) }
func (r *ConnectionRecorder) AddBytesSent(n int)     { r.bytesSent.Add(float64(n)) }
func (r *ConnectionRecorder) IncrFramesReceived()    { r.framesReceived.Inc() }
func (r *ConnectionRecorder) IncrFramesSent()        { r.framesSent.Inc() }
func (r *ConnectionRecorder) IncrTimeouts()          { r.timeouts.Inc() }
func (r *ConnectionRecorder) AddExpired(n int)       { r.expired.Add(float64(n)) }
func (r *ConnectionRecorder) IncrErrors()            { r.errors.Inc() }
func (r *ConnectionRecorder) SetQueueLength(n int)   { r.queueLength.Set(float64(n)) }
