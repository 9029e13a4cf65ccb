package db

import (
	"context"
	"sync"
	"time"
)

// DefaultChannelCapacity is the default buffer size for queued writes.
const DefaultChannelCapacity = 100

// WriteOperation is a deferred write. Exec receives the writer's context,
// which is cancelled only if Stop gives up waiting for the drain.
type WriteOperation struct {
	Name      string
	Exec      func(ctx context.Context) error
	Timestamp time.Time
}

// AsyncWriter runs writes on a single background goroutine so request paths
// never wait on SQLite for best-effort updates such as tags.
//
// Writes that fail are reported to the error callback and dropped.
type AsyncWriter struct {
	ops     chan WriteOperation
	onError func(op WriteOperation, err error)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewAsyncWriter creates a writer with the given buffer capacity. onError may be nil.
func NewAsyncWriter(capacity int, onError func(op WriteOperation, err error)) *AsyncWriter {
	if capacity <= 0 {
		capacity = DefaultChannelCapacity
	}
	if onError == nil {
		onError = func(WriteOperation, error) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AsyncWriter{
		ops:     make(chan WriteOperation, capacity),
		onError: onError,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Start launches the background goroutine. Calling it twice is a no-op.
func (w *AsyncWriter) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started || w.stopped {
		return
	}
	w.started = true
	go w.run()
}

func (w *AsyncWriter) run() {
	defer close(w.done)
	for op := range w.ops {
		if err := op.Exec(w.ctx); err != nil {
			w.onError(op, err)
		}
	}
}

// Write queues op without blocking. It returns false when the buffer is full,
// the writer was never started, or it has been stopped.
func (w *AsyncWriter) Write(name string, exec func(ctx context.Context) error) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started || w.stopped {
		return false
	}
	select {
	case w.ops <- WriteOperation{Name: name, Exec: exec, Timestamp: time.Now()}:
		return true
	default:
		return false
	}
}

// Pending returns the number of queued operations.
func (w *AsyncWriter) Pending() int {
	return len(w.ops)
}

// IsStarted reports whether Start has been called and Stop has not.
func (w *AsyncWriter) IsStarted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started && !w.stopped
}

// Stop refuses new writes and drains the queue. If ctx expires first the
// in-flight operation's context is cancelled and ctx.Err() is returned.
func (w *AsyncWriter) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	started := w.started
	close(w.ops)
	w.mu.Unlock()

	if !started {
		w.cancel()
		return nil
	}

	select {
	case <-w.done:
		w.cancel()
		return nil
	case <-ctx.Done():
		w.cancel()
		return ctx.Err()
	}
}
