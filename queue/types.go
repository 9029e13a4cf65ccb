package queue

import "time"

// Priority selects the admission class of a task.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// ParsePriority maps an arbitrary string to a Priority, defaulting to normal.
func ParsePriority(s string) Priority {
	if Priority(s) == PriorityHigh {
		return PriorityHigh
	}
	return PriorityNormal
}

// State is the lifecycle position of a task.
type State string

const (
	StateWaiting   State = "waiting"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
	StateTimedOut  State = "timed_out"
	StateRejected  State = "rejected"
)

// Phase records where a cancellation happened.
type Phase string

const (
	PhaseEnqueue Phase = "enqueue"
	PhaseRunning Phase = "running"
)

// DrainPolicy decides what Shutdown does with outstanding tasks.
type DrainPolicy string

const (
	// DrainPolicyDrain stops admission and lets waiting and running tasks finish.
	DrainPolicyDrain DrainPolicy = "drain"
	// DrainPolicyReject settles waiting tasks with ErrQueueClosed and
	// cancels running ones.
	DrainPolicyReject DrainPolicy = "reject"
)

// Config configures a Queue.
type Config struct {
	MaxConcurrent  int
	DefaultTimeout time.Duration
	DrainPolicy    DrainPolicy
}

// DefaultConfig returns four concurrent tasks, a five minute timeout and
// the drain policy.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:  4,
		DefaultTimeout: 300 * time.Second,
		DrainPolicy:    DrainPolicyDrain,
	}
}

// Options are per-task settings supplied to Add.
type Options struct {
	UserID   string
	Priority Priority
	// Timeout bounds execution time. Zero uses Config.DefaultTimeout.
	Timeout time.Duration
}

// Settlement describes a finished task. It is passed to the Recorder.
type Settlement struct {
	TaskID   string
	UserID   string
	Priority Priority
	State    State
	Phase    Phase // set for cancellations
	Wait     time.Duration
	Runtime  time.Duration
	Err      error
}

// Stats is a snapshot of queue counters.
type Stats struct {
	MaxConcurrent int   `json:"max_concurrent"`
	Waiting       int   `json:"waiting"`
	WaitingHigh   int   `json:"waiting_high"`
	Running       int   `json:"running"`
	Admitted      int64 `json:"admitted"`
	Succeeded     int64 `json:"succeeded"`
	Failed        int64 `json:"failed"`
	Cancelled     int64 `json:"cancelled"`
	TimedOut      int64 `json:"timed_out"`
	Rejected      int64 `json:"rejected"`
	Closed        bool  `json:"closed"`
}

// Recorder receives queue lifecycle events. Implementations must be safe for
// concurrent use and must not block.
type Recorder interface {
	TaskAdmitted(priority Priority)
	TaskStarted(priority Priority, wait time.Duration)
	TaskSettled(s Settlement)
	QueueDepth(waiting, running int)
}

type nopRecorder struct{}

func (nopRecorder) TaskAdmitted(Priority) {}

func (nopRecorder) TaskStarted(Priority, time.Duration) {}

func (nopRecorder) TaskSettled(Settlement) {}

func (nopRecorder) QueueDepth(int, int) {}
