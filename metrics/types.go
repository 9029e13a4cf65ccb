// Package metrics records queue and provider activity.
//
// Two sinks sit side by side: Prometheus collectors exposed on /metrics,
// and the in-memory MetricsStore of recent task records served by the
// queue stats endpoint. The Recorder organism feeds both.
package metrics

import "time"

// TaskRecord describes one settled queue task.
type TaskRecord struct {
	// ID is the queue task id
	ID string `json:"id"`

	UserID   string `json:"user_id,omitempty"`
	Priority string `json:"priority"`

	// State is the final queue state: succeeded, failed, cancelled,
	// timed_out or rejected
	State string `json:"state"`

	// Phase is set for cancellations: enqueue or running
	Phase string `json:"phase,omitempty"`

	// Wait is the time spent queued before a slot was free
	Wait time.Duration `json:"wait"`

	// Runtime is the time spent running, zero if the task never started
	Runtime time.Duration `json:"runtime"`

	FinishedAt time.Time `json:"finished_at"`
	ErrorMsg   string    `json:"error_msg,omitempty"`
}

// TaskMetrics aggregates every recorded task.
type TaskMetrics struct {
	TotalSettled int64            `json:"total_settled"`
	ByState      map[string]int64 `json:"by_state"`
	// SuccessRate is the percentage of settled tasks that succeeded (0-100)
	SuccessRate float64       `json:"success_rate"`
	AvgWait     time.Duration `json:"avg_wait"`
	AvgRuntime  time.Duration `json:"avg_runtime"`
}

// ProviderMetrics aggregates calls to one provider.
type ProviderMetrics struct {
	Calls       int64         `json:"calls"`
	Successes   int64         `json:"successes"`
	SuccessRate float64       `json:"success_rate"`
	AvgDuration time.Duration `json:"avg_duration"`
}

// SystemStatus is the overall process health.
type SystemStatus struct {
	// Health is one of the SystemHealth constants
	Health    string        `json:"health"`
	Version   string        `json:"version"`
	Uptime    time.Duration `json:"uptime"`
	LastCheck time.Time     `json:"last_check"`
}

// Health constants for SystemStatus
const (
	SystemHealthRunning  = "running"
	SystemHealthDraining = "draining"
	SystemHealthStopped  = "stopped"
)
