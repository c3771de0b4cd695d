// Package errors provides the classified error model shared by the devlink
// engine, its transports and the surrounding services. Errors are tagged as
// transient, invalid or fatal so the supervisor can decide whether a failure
// ends a session, is reported, or is simply retried.
package errors

import (
	"errors"
	"fmt"
)

// ErrorClass tells callers how to react to a failure
type ErrorClass int

const (
	// ErrorTransient failures may succeed on a later attempt
	ErrorTransient ErrorClass = iota
	// ErrorInvalid failures come from bad input or configuration
	ErrorInvalid
	// ErrorFatal failures end the session
	ErrorFatal
)

var classNames = map[ErrorClass]string{
	ErrorTransient: "transient",
	ErrorInvalid:   "invalid",
	ErrorFatal:     "fatal",
}

func (ec ErrorClass) String() string {
	if name, ok := classNames[ec]; ok {
		return name
	}
	return "unknown"
}

// Lifecycle
var (
	ErrAlreadyStarted = errors.New("already started")
	ErrClosed         = errors.New("connection closed")
	ErrShuttingDown   = errors.New("shutting down")
)

// Connections
var (
	ErrNotConnected      = errors.New("not connected")
	ErrConnectionLost    = errors.New("connection lost")
	ErrConnectionTimeout = errors.New("connection timeout")
	ErrCircuitOpen       = errors.New("circuit breaker open")
)

// Framing
var (
	ErrFrameOverflow     = errors.New("frame exceeded maximum segment size")
	ErrStopFlagMismatch  = errors.New("stop flag was not matched after reading the packet bytes")
	ErrPacketTooLarge    = errors.New("packet length exceeds maximum segment size")
	ErrUnsupportedTarget = errors.New("transport does not support addressed sends")
)

// Destinations, launches and configuration
var (
	ErrNoDestination      = errors.New("no destination has been specified")
	ErrInvalidDestination = errors.New("invalid destination")
	ErrNoCommand          = errors.New("no command line has been specified")
	ErrWorkingDir         = errors.New("working directory is not usable")
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrMissingConfig      = errors.New("missing required configuration")
)

// ClassifiedError is an error explicitly tagged with a class. Component and
// Operation name where it was raised.
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// Wrap adds call-site context as "component.method: action failed: err"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapAs(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return &ClassifiedError{
		Class:     class,
		Err:       wrapped,
		Message:   wrapped.Error(),
		Component: component,
		Operation: method,
	}
}

// WrapTransient is Wrap tagged ErrorTransient
func WrapTransient(err error, component, method, action string) error {
	return wrapAs(ErrorTransient, err, component, method, action)
}

// WrapFatal is Wrap tagged ErrorFatal
func WrapFatal(err error, component, method, action string) error {
	return wrapAs(ErrorFatal, err, component, method, action)
}

// WrapInvalid is Wrap tagged ErrorInvalid
func WrapInvalid(err error, component, method, action string) error {
	return wrapAs(ErrorInvalid, err, component, method, action)
}

// PanicError carries a value recovered from a panicking callback.
type PanicError struct {
	Context string
	Value   any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s callback panicked: %v", e.Context, e.Value)
}

// FromPanic turns a recovered value into an error naming the dispatch
// context. Recovered errors stay reachable through errors.Is.
func FromPanic(context string, recovered any) error {
	if err, ok := recovered.(error); ok {
		return fmt.Errorf("%s callback panicked: %w", context, err)
	}
	return &PanicError{Context: context, Value: recovered}
}
