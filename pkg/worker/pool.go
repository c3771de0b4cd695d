// Package worker provides the bounded worker pool shared by all managed
// connections for short tasks such as queued sends and request timeout
// firings.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/devlink/errors"
	"github.com/c360/devlink/metric"
)

const (
	defaultWorkers   = 10
	defaultQueueSize = 1000
)

// Pool runs a processor over items of type T on a fixed set of goroutines.
// Submit never blocks: a full queue rejects the item.
type Pool[T any] struct {
	workers   int
	queueSize int
	process   func(context.Context, T) error
	queue     chan T
	logger    *slog.Logger

	registry *metric.MetricsRegistry
	prefix   string
	metrics  *poolMetrics

	mu      sync.Mutex
	started bool
	stopped bool
	wg      sync.WaitGroup

	submitted, processed, failed, dropped atomic.Int64
}

// Option configures a Pool
type Option[T any] func(*Pool[T])

// WithMetricsRegistry publishes the pool counters under prefix
func WithMetricsRegistry[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(p *Pool[T]) {
		p.registry, p.prefix = registry, prefix
	}
}

// WithLogger sets the logger for failed items
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(p *Pool[T]) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPool returns a stopped pool. Non-positive sizes take the defaults. It
// panics with ErrNilProcessor when process is nil.
func NewPool[T any](workers, queueSize int, process func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if process == nil {
		panic(ErrNilProcessor)
	}
	if workers <= 0 {
		workers = defaultWorkers
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	p := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		process:   process,
		queue:     make(chan T, queueSize),
		logger:    slog.Default().With("component", "worker-pool"),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.registry != nil && p.prefix != "" {
		m, err := newPoolMetrics(p.registry, p.prefix)
		if err != nil {
			p.logger.Warn("worker pool metrics disabled", "prefix", p.prefix, "error", err)
		}
		p.metrics = m
	}
	return p
}

// NewTaskPool returns a pool of plain functions. A panicking task is
// recovered and counted as failed.
func NewTaskPool(workers, queueSize int, opts ...Option[func()]) *Pool[func()] {
	return NewPool(workers, queueSize, runTask, opts...)
}

func runTask(_ context.Context, task func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.FromPanic("pool", r)
		}
	}()
	task()
	return nil
}

// Start launches the workers. They exit when ctx ends or the pool stops.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}
	p.started = true

	p.wg.Add(p.workers)
	for range p.workers {
		go p.run(ctx)
	}
	return nil
}

// Submit queues work or fails with ErrQueueFull
func (p *Pool[T]) Submit(work T) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case !p.started:
		return ErrPoolNotStarted
	case p.stopped:
		return ErrPoolStopped
	}

	select {
	case p.queue <- work:
		p.submitted.Add(1)
		p.metrics.submit(len(p.queue))
		return nil
	default:
		p.dropped.Add(1)
		p.metrics.drop()
		return ErrQueueFull
	}
}

// Stop closes the queue and waits up to timeout for queued work to finish.
// Calling it again is a no-op.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("%w after %v", ErrStopTimeout, timeout)
	}
}

func (p *Pool[T]) run(ctx context.Context) {
	defer p.wg.Done()

	for {
		var (
			work T
			ok   bool
		)
		select {
		case <-ctx.Done():
			return
		case work, ok = <-p.queue:
			if !ok {
				return
			}
		}

		start := time.Now()
		err := p.process(ctx, work)

		p.processed.Add(1)
		if err != nil {
			p.failed.Add(1)
			p.logger.Warn("work item failed", "error", err)
		}
		p.metrics.done(len(p.queue), time.Since(start), err)
	}
}

// Stats is a snapshot of pool counters
type Stats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

// Stats returns the current counters
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.queue),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}
