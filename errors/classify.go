package errors

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
)

// sentinelClass tags the package sentinels and the standard library errors
// that end a session. Anything unlisted is left to the message heuristics.
var sentinelClass = []struct {
	err   error
	class ErrorClass
}{
	{ErrFrameOverflow, ErrorFatal},
	{ErrStopFlagMismatch, ErrorFatal},
	{ErrPacketTooLarge, ErrorFatal},

	{ErrNoDestination, ErrorInvalid},
	{ErrInvalidDestination, ErrorInvalid},
	{ErrNoCommand, ErrorInvalid},
	{ErrWorkingDir, ErrorInvalid},
	{ErrInvalidConfig, ErrorInvalid},
	{ErrMissingConfig, ErrorInvalid},

	{ErrConnectionTimeout, ErrorTransient},
	{ErrConnectionLost, ErrorTransient},
	{ErrNotConnected, ErrorTransient},
	{ErrCircuitOpen, ErrorTransient},
	{io.EOF, ErrorTransient},
	{io.ErrUnexpectedEOF, ErrorTransient},
	{net.ErrClosed, ErrorTransient},
	{context.DeadlineExceeded, ErrorTransient},
	{context.Canceled, ErrorTransient},
}

var transientWords = []string{"timeout", "connection", "refused", "reset", "unreachable", "broken pipe"}

// lookup returns the class err is known to have. An explicit
// ClassifiedError wins over sentinels, which win over net timeouts and
// message words.
func lookup(err error) (ErrorClass, bool) {
	if err == nil {
		return 0, false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	for _, s := range sentinelClass {
		if errors.Is(err, s.err) {
			return s.class, true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTransient, true
	}

	msg := strings.ToLower(err.Error())
	for _, word := range transientWords {
		if strings.Contains(msg, word) {
			return ErrorTransient, true
		}
	}
	return 0, false
}

// IsTransient reports whether err is known to be worth retrying. Session
// ending I/O failures such as EOF, resets and timeouts count as transient.
func IsTransient(err error) bool {
	class, ok := lookup(err)
	return ok && class == ErrorTransient
}

// IsFatal reports whether err ends the session
func IsFatal(err error) bool {
	class, ok := lookup(err)
	return ok && class == ErrorFatal
}

// IsInvalid reports whether err comes from bad input or configuration
func IsInvalid(err error) bool {
	class, ok := lookup(err)
	return ok && class == ErrorInvalid
}

// Classify returns the class of err. Unrecognised errors are transient.
func Classify(err error) ErrorClass {
	if class, ok := lookup(err); ok {
		return class
	}
	return ErrorTransient
}
