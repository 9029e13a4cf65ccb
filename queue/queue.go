// Package queue runs generation tasks under a concurrency bound.
//
// Tasks are admitted into one of two FIFO classes, high and normal; a free
// slot always goes to the oldest high priority task first. Every task gets
// its own context derived from the queue's base context. That context is
// the cancellation signal: it fires on Cancel, on the caller's context
// being cancelled, on timeout and on a reject-policy Shutdown.
//
// Settlement happens exactly once. A task that is cancelled or times out
// while running is settled immediately, but its slot is only released when
// the task function returns, so running tasks never exceed MaxConcurrent.
//
// Example:
//
//	q := queue.New(queue.DefaultConfig(), logger, recorder)
//	result, err := q.Add(ctx, func(ctx context.Context) (interface{}, error) {
//	    return invoker.InvokeAll(ctx, providers, input)
//	}, queue.Options{Priority: queue.PriorityHigh})
package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gen_backend/logging"
)

// TaskFunc is the unit of work. ctx is cancelled when the task is cancelled
// or times out; implementations must return promptly once it fires.
type TaskFunc func(ctx context.Context) (interface{}, error)

type task struct {
	id       string
	fn       TaskFunc
	opts     Options
	enqueued time.Time
	started  time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc

	// Guarded by Queue.mu.
	state     State
	settled   bool
	stopWatch func() bool

	done   chan struct{}
	result interface{}
	err    error
}

// Queue is a bounded, priority-aware task queue.
type Queue struct {
	cfg    Config
	logger *logging.Logger
	rec    Recorder

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu      sync.Mutex
	high    []*task
	normal  []*task
	tasks   map[string]*task
	running int
	closed  bool
	idle    chan struct{}
	idleSet bool
	stats   Stats
}

// New creates a Queue. A nil logger or recorder is replaced with a no-op.
func New(cfg Config, logger *logging.Logger, rec Recorder) *Queue {
	def := DefaultConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = def.DefaultTimeout
	}
	if cfg.DrainPolicy != DrainPolicyReject {
		cfg.DrainPolicy = DrainPolicyDrain
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if rec == nil {
		rec = nopRecorder{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		cfg:        cfg,
		logger:     logger.Named("queue"),
		rec:        rec,
		baseCtx:    ctx,
		baseCancel: cancel,
		tasks:      make(map[string]*task),
		stats:      Stats{MaxConcurrent: cfg.MaxConcurrent},
	}
}

// Add submits fn and blocks until the task settles. Cancelling ctx cancels
// the task: before it starts Add returns ErrEnqueueCancelled, afterwards
// ErrCancelled.
func (q *Queue) Add(ctx context.Context, fn TaskFunc, opts Options) (interface{}, error) {
	h, err := q.AddAsync(ctx, fn, opts)
	if err != nil {
		return nil, err
	}
	return h.Wait(ctx)
}

// AddAsync submits fn and returns a Handle without waiting. The task is
// still cancelled when ctx is.
func (q *Queue) AddAsync(ctx context.Context, fn TaskFunc, opts Options) (h *Handle, err error) {
	defer func() {
		if r := recover(); r != nil {
			h = nil
			err = &QueueError{Op: "add", Err: &PanicError{Value: r, Stack: debug.Stack()}}
			q.logger.Error("panic during task admission", zap.Any("panic", r))
		}
	}()

	if fn == nil {
		return nil, &QueueError{Op: "add", Err: ErrNilTask}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Priority != PriorityHigh {
		opts.Priority = PriorityNormal
	}
	if opts.Timeout <= 0 {
		opts.Timeout = q.cfg.DefaultTimeout
	}

	t := &task{
		id:       uuid.NewString(),
		fn:       fn,
		opts:     opts,
		enqueued: time.Now(),
		state:    StateWaiting,
		done:     make(chan struct{}),
	}
	t.ctx, t.cancel = context.WithCancelCause(q.baseCtx)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		t.cancel(ErrQueueClosed)
		return nil, &QueueError{Op: "add", Err: ErrQueueClosed}
	}
	if ctx.Err() != nil {
		// Never admitted, but still a cancellation in the enqueue phase.
		q.settleLocked(t, nil, ErrEnqueueCancelled, StateCancelled, PhaseEnqueue)
		q.mu.Unlock()
		t.cancel(ErrEnqueueCancelled)
		return nil, ErrEnqueueCancelled
	}

	q.tasks[t.id] = t
	if opts.Priority == PriorityHigh {
		q.high = append(q.high, t)
	} else {
		q.normal = append(q.normal, t)
	}
	q.stats.Admitted++
	q.rec.TaskAdmitted(opts.Priority)
	q.logger.Debug("task admitted",
		logging.TaskID(t.id),
		logging.Priority(string(opts.Priority)),
		zap.String("user_id", opts.UserID),
		zap.Duration("timeout", opts.Timeout))
	q.dispatchLocked()
	q.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { q.Cancel(t.id) })
	q.mu.Lock()
	if t.settled {
		stop()
	} else {
		t.stopWatch = stop
	}
	q.mu.Unlock()

	return &Handle{q: q, t: t}, nil
}

// Cancel cancels a waiting or running task. It returns false when the task
// is unknown or already settled, so repeated calls have no further effect.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok || t.settled {
		return false
	}

	switch t.state {
	case StateWaiting:
		q.removeWaitingLocked(t)
		delete(q.tasks, t.id)
		t.cancel(ErrEnqueueCancelled)
		q.settleLocked(t, nil, ErrEnqueueCancelled, StateCancelled, PhaseEnqueue)
		q.checkIdleLocked()
	case StateRunning:
		t.cancel(ErrCancelled)
		q.settleLocked(t, nil, ErrCancelled, StateCancelled, PhaseRunning)
	default:
		return false
	}
	q.rec.QueueDepth(len(q.high)+len(q.normal), q.running)
	return true
}

// Shutdown stops admission and applies the drain policy, then waits until
// no task holds a slot. If ctx expires first, remaining waiting tasks are
// rejected, running tasks are cancelled and ctx's error is returned.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.idle = make(chan struct{})
		q.logger.Info("queue shutting down",
			zap.String("policy", string(q.cfg.DrainPolicy)),
			zap.Int("waiting", len(q.high)+len(q.normal)),
			zap.Int("running", q.running))
		if q.cfg.DrainPolicy == DrainPolicyReject {
			q.rejectAllLocked()
		}
		q.checkIdleLocked()
	}
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		q.baseCancel()
		return nil
	case <-ctx.Done():
		q.mu.Lock()
		q.rejectAllLocked()
		q.mu.Unlock()
		q.baseCancel()
		return fmt.Errorf("queue: shutdown: %w", ctx.Err())
	}
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := q.stats
	s.WaitingHigh = len(q.high)
	s.Waiting = len(q.high) + len(q.normal)
	s.Running = q.running
	s.Closed = q.closed
	return s
}

// dispatchLocked starts waiting tasks while slots are free.
func (q *Queue) dispatchLocked() {
	for q.running < q.cfg.MaxConcurrent {
		t := q.popLocked()
		if t == nil {
			break
		}
		q.running++
		t.state = StateRunning
		t.started = time.Now()
		q.rec.TaskStarted(t.opts.Priority, t.started.Sub(t.enqueued))
		go q.run(t)
	}
	q.rec.QueueDepth(len(q.high)+len(q.normal), q.running)
}

func (q *Queue) popLocked() *task {
	if len(q.high) > 0 {
		t := q.high[0]
		q.high[0] = nil
		q.high = q.high[1:]
		return t
	}
	if len(q.normal) > 0 {
		t := q.normal[0]
		q.normal[0] = nil
		q.normal = q.normal[1:]
		return t
	}
	return nil
}

func (q *Queue) removeWaitingLocked(t *task) {
	list := &q.normal
	if t.opts.Priority == PriorityHigh {
		list = &q.high
	}
	for i, w := range *list {
		if w == t {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return
		}
	}
}

// rejectAllLocked settles every waiting task with ErrQueueClosed and
// cancels every running one.
func (q *Queue) rejectAllLocked() {
	for _, list := range [][]*task{q.high, q.normal} {
		for _, t := range list {
			delete(q.tasks, t.id)
			t.cancel(ErrQueueClosed)
			q.settleLocked(t, nil, ErrQueueClosed, StateRejected, PhaseEnqueue)
		}
	}
	q.high, q.normal = nil, nil

	for _, t := range q.tasks {
		if t.state == StateRunning && !t.settled {
			t.cancel(ErrCancelled)
			q.settleLocked(t, nil, ErrCancelled, StateCancelled, PhaseRunning)
		}
	}
	q.checkIdleLocked()
}

func (q *Queue) run(t *task) {
	timer := time.AfterFunc(t.opts.Timeout, func() { q.expire(t) })
	result, err := q.invoke(t)
	timer.Stop()
	q.complete(t, result, err)
}

// invoke calls the task body, converting a panic into *PanicError.
func (q *Queue) invoke(t *task) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return t.fn(t.ctx)
}

func (q *Queue) expire(t *task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if t.settled {
		return
	}
	terr := &TimeoutError{TaskID: t.id, Timeout: t.opts.Timeout}
	t.cancel(terr)
	q.settleLocked(t, nil, terr, StateTimedOut, "")
}

// complete settles a task that returned on its own and releases its slot.
func (q *Queue) complete(t *task, result interface{}, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !t.settled {
		state := StateSucceeded
		if err != nil {
			state = StateFailed
		}
		q.settleLocked(t, result, err, state, "")
	}
	t.cancel(nil)
	delete(q.tasks, t.id)
	q.running--
	q.dispatchLocked()
	q.checkIdleLocked()
}

func (q *Queue) settleLocked(t *task, result interface{}, err error, state State, phase Phase) {
	t.settled = true
	t.state = state
	t.result = result
	t.err = err
	defer close(t.done)
	if t.stopWatch != nil {
		t.stopWatch()
	}

	switch state {
	case StateSucceeded:
		q.stats.Succeeded++
	case StateFailed:
		q.stats.Failed++
	case StateCancelled:
		q.stats.Cancelled++
	case StateTimedOut:
		q.stats.TimedOut++
	case StateRejected:
		q.stats.Rejected++
	}

	s := Settlement{
		TaskID:   t.id,
		UserID:   t.opts.UserID,
		Priority: t.opts.Priority,
		State:    state,
		Phase:    phase,
		Err:      err,
	}
	if t.started.IsZero() {
		s.Wait = time.Since(t.enqueued)
	} else {
		s.Wait = t.started.Sub(t.enqueued)
		s.Runtime = time.Since(t.started)
	}
	q.rec.TaskSettled(s)

	fields := []zap.Field{
		logging.TaskID(t.id),
		zap.String("state", string(state)),
		zap.Duration("wait", s.Wait),
		zap.Duration("runtime", s.Runtime),
	}
	var panicErr *PanicError
	switch {
	case errors.As(err, &panicErr):
		q.logger.Error("task panicked", append(fields, zap.Any("panic", panicErr.Value), zap.ByteString("stack", panicErr.Stack))...)
	case state == StateFailed:
		q.logger.Warn("task failed", append(fields, zap.Error(err))...)
	case state == StateTimedOut:
		q.logger.Warn("task timed out", fields...)
	default:
		q.logger.Debug("task settled", fields...)
	}
}

func (q *Queue) checkIdleLocked() {
	if q.closed && !q.idleSet && q.running == 0 && len(q.high)+len(q.normal) == 0 {
		q.idleSet = true
		close(q.idle)
	}
}
