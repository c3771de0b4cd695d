package engine

// Metrics receives the counters of one connection.
type Metrics interface {
	IncrConnects()
	IncrDisconnects()
	AddBytesReceived(n int)
	AddBytesSent(n int)
	IncrFramesReceived()
	IncrFramesSent()
	IncrTimeouts()
	AddExpired(n int)
	IncrErrors()
	SetQueueLength(n int)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) IncrConnects()        {}
func (NopMetrics) IncrDisconnects()     {}
func (NopMetrics) AddBytesReceived(int) {}
func (NopMetrics) AddBytesSent(int)     {}
func (NopMetrics) IncrFramesReceived()  {}
func (NopMetrics) IncrFramesSent()      {}
func (NopMetrics) IncrTimeouts()        {}
func (NopMetrics) AddExpired(int)       {}
func (NopMetrics) IncrErrors()          {}
func (NopMetrics) SetQueueLength(int)   {}
