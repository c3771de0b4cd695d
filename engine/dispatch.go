package engine

import (
	"log/slog"

	"github.com/c360/devlink/errors"
)

// Dispatcher is the only path through which user handlers are invoked.
// It is safe for concurrent use and imposes no ordering of its own.
type Dispatcher struct {
	threadState func()
	onError     func(context string, err error)
	logger      *slog.Logger
}

// NewDispatcher builds a dispatcher. threadState runs on the calling
// goroutine before every handler; onError receives recovered panics.
// Either may be nil.
func NewDispatcher(threadState func(), onError func(context string, err error), logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		threadState: threadState,
		onError:     onError,
		logger:      logger,
	}
}

// Call invokes fn. A panic raised by fn never escapes.
func (d *Dispatcher) Call(context string, fn func()) {
	if fn == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.report(context, errors.FromPanic(context, r))
		}
	}()

	if d.threadState != nil {
		d.threadState()
	}
	fn()
}

// Report hands err to the error hook, or logs it when none is set.
func (d *Dispatcher) Report(context string, err error) {
	if err == nil {
		return
	}
	d.report(context, err)
}

func (d *Dispatcher) report(context string, err error) {
	if d.onError == nil {
		d.logger.Warn("callback failed", "context", context, "error", err)
		return
	}

	// the hook itself must not take the caller down either
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("callback error hook panicked", "context", context, "error", err, "panic", r)
		}
	}()
	d.onError(context, err)
}
