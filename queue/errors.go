package queue

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for task settlement.
var (
	// ErrEnqueueCancelled settles a task cancelled before it started running.
	// It is not counted as a failure.
	ErrEnqueueCancelled = errors.New("queue: task cancelled before start")

	// ErrCancelled settles a running task that was cancelled.
	ErrCancelled = errors.New("queue: task cancelled")

	// ErrTimeout is wrapped by every *TimeoutError.
	ErrTimeout = errors.New("queue: task timed out")

	// ErrQueueClosed is returned by Add after Shutdown, and settles waiting
	// tasks rejected by a reject-policy shutdown.
	ErrQueueClosed = errors.New("queue: queue is shut down")

	// ErrNilTask is returned when Add is given a nil TaskFunc.
	ErrNilTask = errors.New("queue: nil task function")
)

// TimeoutError reports a task that exceeded its execution timeout.
type TimeoutError struct {
	TaskID  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("queue: task %s timed out after %s", e.TaskID, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// QueueError is a queue-level failure (bad input, closed queue, internal
// panic) as opposed to a failure of the task itself.
type QueueError struct {
	Op  string
	Err error
}

func (e *QueueError) Error() string {
	return fmt.Sprintf("queue: %s: %v", e.Op, e.Err)
}

func (e *QueueError) Unwrap() error { return e.Err }

// PanicError captures a panic raised by a task body.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("queue: task panicked: %v", e.Value)
}
