package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.class.String())
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection timeout", ErrConnectionTimeout, true},
		{"connection lost", ErrConnectionLost, true},
		{"peer closed", io.EOF, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"refused in message", fmt.Errorf("dial tcp 10.0.0.1:23: connect: connection refused"), true},
		{"frame overflow", ErrFrameOverflow, false},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("timeout")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsTransient(tt.err))
		})
	}
}

func TestIsFatal(t *testing.T) {
	assert.False(t, IsFatal(nil))
	assert.True(t, IsFatal(ErrFrameOverflow))
	assert.True(t, IsFatal(fmt.Errorf("read: %w", ErrStopFlagMismatch)))
	assert.True(t, IsFatal(ErrPacketTooLarge))
	assert.False(t, IsFatal(ErrConnectionLost))
}

func TestIsInvalid(t *testing.T) {
	assert.False(t, IsInvalid(nil))
	assert.True(t, IsInvalid(ErrInvalidDestination))
	assert.True(t, IsInvalid(fmt.Errorf("launch: %w", ErrWorkingDir)))
	assert.True(t, IsInvalid(WrapInvalid(errors.New("bad"), "tcp", "Connect", "parse destination")))
	assert.False(t, IsInvalid(io.EOF))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrorTransient, Classify(nil))
	assert.Equal(t, ErrorTransient, Classify(io.EOF))
	assert.Equal(t, ErrorFatal, Classify(ErrFrameOverflow))
	assert.Equal(t, ErrorInvalid, Classify(ErrNoCommand))
	assert.Equal(t, ErrorFatal, Classify(WrapFatal(errors.New("connection oddity"), "c", "m", "a")))
	assert.Equal(t, ErrorTransient, Classify(errors.New("something unexpected")))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "tcp", "Connect", "dial"))

	base := errors.New("boom")
	err := Wrap(base, "tcp", "Connect", "dial")
	assert.Equal(t, "tcp.Connect: dial failed: boom", err.Error())
	assert.ErrorIs(t, err, base)
}

func TestWrapClassified(t *testing.T) {
	base := ErrInvalidDestination
	err := WrapInvalid(base, "udp", "Connect", "resolve destination")

	var ce *ClassifiedError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrorInvalid, ce.Class)
	assert.Equal(t, "udp", ce.Component)
	assert.Equal(t, "Connect", ce.Operation)
	assert.ErrorIs(t, err, ErrInvalidDestination)
	assert.Contains(t, err.Error(), "resolve destination failed")

	assert.Nil(t, WrapTransient(nil, "a", "b", "c"))
	assert.Nil(t, WrapFatal(nil, "a", "b", "c"))
	assert.Nil(t, WrapInvalid(nil, "a", "b", "c"))
}

func TestFromPanic(t *testing.T) {
	err := FromPanic("tcp", "bad handler")
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "tcp", pe.Context)
	assert.Equal(t, "tcp callback panicked: bad handler", err.Error())

	inner := errors.New("nil map")
	err = FromPanic("timer", inner)
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "timer")
}

func TestClassify_SentinelBeatsMessage(t *testing.T) {
	err := fmt.Errorf("connection %q: %w", "projector", ErrMissingConfig)
	assert.True(t, IsInvalid(err))
	assert.False(t, IsTransient(err))
	assert.Equal(t, ErrorInvalid, Classify(err))

	assert.False(t, IsTransient(ErrShuttingDown))
	assert.Equal(t, ErrorTransient, Classify(ErrShuttingDown))
}
