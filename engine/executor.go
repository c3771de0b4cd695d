package engine

// Executor runs short tasks such as queued writes and timeout firings.
// *worker.Pool[func()] satisfies it.
type Executor interface {
	Submit(task func()) error
}

type goExecutor struct{}

func (goExecutor) Submit(task func()) error {
	go task()
	return nil
}
