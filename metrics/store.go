package metrics

import (
	"sync"
	"time"
)

// MetricsStore keeps recent task records and running aggregates in memory.
//
// Thread Safety: all methods are safe for concurrent use.
//
// Usage:
//
//	store := NewMetricsStore(DefaultStoreConfig(), time.Now())
//	store.RecordTask(record)
//	recent := store.GetRecentTasks(20)
type MetricsStore struct {
	mu sync.RWMutex

	// Circular buffer of recent tasks
	taskHistory []TaskRecord
	taskCap     int
	taskHead    int
	taskSize    int

	totalTasks   int64
	byState      map[string]int64
	totalWait    time.Duration
	totalRuntime time.Duration
	started      int64 // tasks with a non-zero runtime

	providers map[string]*providerStats

	health    string
	startTime time.Time
	version   string
}

type providerStats struct {
	calls         int64
	successes     int64
	totalDuration time.Duration
}

// StoreConfig configures the MetricsStore behavior.
type StoreConfig struct {
	// TaskHistoryCapacity is the max number of tasks to retain in history
	TaskHistoryCapacity int
	// Version is the application version string
	Version string
}

// DefaultStoreConfig returns a default configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		TaskHistoryCapacity: 100,
		Version:             "0.0.0",
	}
}

// NewMetricsStore creates a MetricsStore. startTime is used for uptime.
func NewMetricsStore(config StoreConfig, startTime time.Time) *MetricsStore {
	capacity := config.TaskHistoryCapacity
	if capacity < 1 {
		capacity = 100
	}

	return &MetricsStore{
		taskHistory: make([]TaskRecord, capacity),
		taskCap:     capacity,
		byState:     make(map[string]int64),
		providers:   make(map[string]*providerStats),
		health:      SystemHealthRunning,
		startTime:   startTime,
		version:     config.Version,
	}
}

// RecordTask adds a settled task.
func (s *MetricsStore) RecordTask(task TaskRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.taskHistory[s.taskHead] = task
	s.taskHead = (s.taskHead + 1) % s.taskCap
	if s.taskSize < s.taskCap {
		s.taskSize++
	}

	s.totalTasks++
	s.byState[task.State]++
	s.totalWait += task.Wait
	if task.Runtime > 0 {
		s.started++
		s.totalRuntime += task.Runtime
	}
}

// RecordProviderCall adds one provider attempt.
func (s *MetricsStore) RecordProviderCall(provider string, success bool, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats, ok := s.providers[provider]
	if !ok {
		stats = &providerStats{}
		s.providers[provider] = stats
	}
	stats.calls++
	if success {
		stats.successes++
	}
	stats.totalDuration += elapsed
}

// GetTaskMetrics returns aggregated task statistics.
func (s *MetricsStore) GetTaskMetrics() TaskMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := TaskMetrics{
		TotalSettled: s.totalTasks,
		ByState:      make(map[string]int64, len(s.byState)),
	}
	for state, n := range s.byState {
		m.ByState[state] = n
	}
	if s.totalTasks > 0 {
		m.SuccessRate = float64(s.byState["succeeded"]) / float64(s.totalTasks) * 100
		m.AvgWait = s.totalWait / time.Duration(s.totalTasks)
	}
	if s.started > 0 {
		m.AvgRuntime = s.totalRuntime / time.Duration(s.started)
	}
	return m
}

// GetProviderMetrics returns per-provider statistics keyed by provider name.
func (s *MetricsStore) GetProviderMetrics() map[string]ProviderMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]ProviderMetrics, len(s.providers))
	for name, stats := range s.providers {
		pm := ProviderMetrics{Calls: stats.calls, Successes: stats.successes}
		if stats.calls > 0 {
			pm.SuccessRate = float64(stats.successes) / float64(stats.calls) * 100
			pm.AvgDuration = stats.totalDuration / time.Duration(stats.calls)
		}
		out[name] = pm
	}
	return out
}

// GetRecentTasks returns up to limit records, oldest first.
func (s *MetricsStore) GetRecentTasks(limit int) []TaskRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || s.taskSize == 0 {
		return []TaskRecord{}
	}
	if limit > s.taskSize {
		limit = s.taskSize
	}

	result := make([]TaskRecord, limit)
	for i := 0; i < limit; i++ {
		idx := (s.taskHead - limit + i + s.taskCap) % s.taskCap
		result[i] = s.taskHistory[idx]
	}
	return result
}

// SetHealth records the process health reported by GetSystemStatus.
func (s *MetricsStore) SetHealth(health string) {
	s.mu.Lock()
	s.health = health
	s.mu.Unlock()
}

// GetSystemStatus returns the overall system health status.
func (s *MetricsStore) GetSystemStatus() SystemStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return SystemStatus{
		Health:    s.health,
		Version:   s.version,
		Uptime:    time.Since(s.startTime),
		LastCheck: time.Now(),
	}
}
