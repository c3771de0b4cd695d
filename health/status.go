package health

import (
	"slices"
	"time"

	"github.com/c360/devlink/engine"
)

// Status is the graded health of one component, or of a group of them
// when SubStatuses is set.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      Level     `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics are the connection counters behind a status
type Metrics struct {
	ErrorCount   int       `json:"error_count"`
	Timeouts     int       `json:"timeouts"`
	Connects     int       `json:"connects"`
	QueueLength  int       `json:"queue_length"`
	LastActivity time.Time `json:"last_activity,omitempty"`
}

func (s Status) IsHealthy() bool   { return s.Status == LevelHealthy }
func (s Status) IsDegraded() bool  { return s.Status == LevelDegraded }
func (s Status) IsUnhealthy() bool { return s.Status == LevelUnhealthy }

// WithMetrics returns a copy carrying metrics
func (s Status) WithMetrics(metrics *Metrics) Status {
	s.Metrics = metrics
	return s
}

// WithSubStatus returns a copy with sub appended. The receiver's slice is
// never shared with the result.
func (s Status) WithSubStatus(sub Status) Status {
	s.SubStatuses = append(slices.Clone(s.SubStatuses), sub)
	return s
}

// FromConnection derives a health status from a connection snapshot.
// A connected supervisor is healthy. One that is starting or backing off is
// degraded until it has failed to connect at least once, after which it is
// unhealthy. A stopped connection is unhealthy.
func FromConnection(st engine.Status) Status {
	var status Status
	switch st.State {
	case engine.StateConnected:
		status = NewHealthy(st.Name, "Connected to "+st.Identity)
	case engine.StateStarting, engine.StateBackingOff:
		if st.Connects == 0 && st.LastError != "" {
			status = NewUnhealthy(st.Name, redact(st.LastError))
		} else {
			msg := "Reconnecting"
			if st.LastError != "" {
				msg = redact(st.LastError)
			}
			status = NewDegraded(st.Name, msg)
		}
	default:
		status = NewUnhealthy(st.Name, "Connection "+st.StateName)
	}

	status.Metrics = &Metrics{
		ErrorCount:   int(st.Errors),
		Timeouts:     int(st.Timeouts),
		Connects:     int(st.Connects),
		QueueLength:  st.QueueLength,
		LastActivity: st.LastActivity,
	}
	return status
}
