package queue

import "context"

// Handle refers to a submitted task.
type Handle struct {
	q *Queue
	t *task
}

// ID returns the task id accepted by Queue.Cancel.
func (h *Handle) ID() string { return h.t.id }

// Done is closed when the task settles.
func (h *Handle) Done() <-chan struct{} { return h.t.done }

// Wait blocks until the task settles. If ctx is cancelled first the task is
// cancelled and its settlement returned.
func (h *Handle) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-h.t.done:
	case <-ctx.Done():
		h.Cancel()
		<-h.t.done
	}
	return h.t.result, h.t.err
}

// Cancel cancels the task. See Queue.Cancel.
func (h *Handle) Cancel() bool {
	return h.q.Cancel(h.t.id)
}
