package worker

import (
	stderrors "errors"
	"fmt"

	"github.com/c360/devlink/errors"
)

// Lifecycle errors wrap the shared devlink sentinels so callers can test
// either.
var (
	ErrPoolNotStarted     = stderrors.New("worker pool not started")
	ErrPoolAlreadyStarted = fmt.Errorf("worker pool: %w", errors.ErrAlreadyStarted)
	ErrPoolStopped        = fmt.Errorf("worker pool: %w", errors.ErrShuttingDown)
	ErrStopTimeout        = stderrors.New("worker pool did not stop in time")
)

// ErrQueueFull is returned by Submit when every queue slot is taken. The
// task is dropped and counted.
var ErrQueueFull = stderrors.New("worker pool queue full")

// ErrNilProcessor is the panic value of NewPool given a nil processor
var ErrNilProcessor = stderrors.New("worker pool processor is nil")
