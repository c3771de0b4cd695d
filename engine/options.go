package engine

import (
	"time"
)

const (
	// DefaultSendDelimiters is appended to outbound text payloads.
	DefaultSendDelimiters = "\n"
	// DefaultReceiveDelimiters ends inbound text frames.
	DefaultReceiveDelimiters = "\r\n"
	// DefaultIdleTimeout is how long a failing connection may go without
	// activity before the Timeout handler fires.
	DefaultIdleTimeout = 5 * time.Minute
	// DefaultConnectTimeout bounds a single connect attempt.
	DefaultConnectTimeout = 30 * time.Second
)

// Handlers are the user callbacks of a connection. Any may be nil.
type Handlers struct {
	Connected    func()
	Disconnected func()
	Received     func(frame string)
	ReceivedFrom func(from, frame string)
	Sent         func(data string)
	Timeout      func()
	Error        func(err error)
	Stderr       func(frame string)
	Exited       func(code int)
	Ready        func()
}

// StartStopFlags enables length-delimited binary framing.
type StartStopFlags struct {
	Start   byte
	Stop    byte
	HasStop bool
}

// Options configures a Connection.
type Options struct {
	// SendDelimiters is appended to text sends unless the payload already
	// ends with one of its bytes. Empty means nothing is appended.
	SendDelimiters string
	// ReceiveDelimiters splits the inbound stream. Empty selects raw mode.
	ReceiveDelimiters string
	// BinaryStartStopFlags selects length-delimited binary framing and
	// sends payloads unmodified.
	BinaryStartStopFlags *StartStopFlags

	// Timeout is both the per-read deadline and the idle window after
	// which a failing connection reports Timeout.
	Timeout time.Duration
	// ConnectTimeout bounds each connect attempt.
	ConnectTimeout time.Duration
	// RequestTimeout is the default response wait for Request and Receive.
	RequestTimeout time.Duration
	// LongTermTimeout drops requests that waited this long in the queue.
	LongTermTimeout time.Duration
	// MaxSegmentSize overrides the transport's frame limit when positive.
	MaxSegmentSize int

	// SendRate limits writes per second when positive.
	SendRate  float64
	SendBurst int

	Handlers Handlers

	// ThreadState runs on the dispatching goroutine before every handler.
	ThreadState func()
	// CallbackError receives handler panics with the context they ran in.
	CallbackError func(context string, err error)
}

// DefaultOptions returns options for newline-delimited text.
func DefaultOptions() Options {
	return Options{
		SendDelimiters:    DefaultSendDelimiters,
		ReceiveDelimiters: DefaultReceiveDelimiters,
		Timeout:           DefaultIdleTimeout,
		ConnectTimeout:    DefaultConnectTimeout,
		RequestTimeout:    DefaultRequestTimeout,
		LongTermTimeout:   DefaultLongTermTimeout,
	}
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultIdleTimeout
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.LongTermTimeout <= 0 {
		o.LongTermTimeout = DefaultLongTermTimeout
	}
	if o.SendBurst <= 0 {
		o.SendBurst = 1
	}
	return o
}

// binary reports whether payloads are sent without delimiters.
func (o Options) binary() bool {
	return o.BinaryStartStopFlags != nil
}

func (o Options) mode(kind Kind) Mode {
	switch {
	case kind == KindUDP:
		return ModeDatagram
	case o.BinaryStartStopFlags != nil:
		return ModeLengthDelimited
	case o.ReceiveDelimiters == "":
		return ModeRaw
	default:
		return ModeDelimited
	}
}

func (o Options) decoderConfig(kind Kind) DecoderConfig {
	cfg := DecoderConfig{
		Mode:           o.mode(kind),
		Delimiters:     o.ReceiveDelimiters,
		MaxSegmentSize: kind.maxSegmentSize(),
	}
	if o.MaxSegmentSize > 0 {
		cfg.MaxSegmentSize = o.MaxSegmentSize
	}
	if f := o.BinaryStartStopFlags; f != nil {
		cfg.StartFlag = f.Start
		cfg.StopFlag = f.Stop
		cfg.HasStopFlag = f.HasStop
	}
	return cfg
}
