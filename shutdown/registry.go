package shutdown

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gen_backend/core"
)

// Handler priorities used by main. Lower runs first.
const (
	PriorityHTTP     = 10 // stop accepting requests
	PriorityQueue    = 20 // drain or reject queued generations
	PriorityWorkers  = 30 // tagger pool and async database writer
	PriorityStorage  = 40 // database close
	PriorityTempDirs = 50 // scratch file removal
	PriorityLogger   = 90 // flush logs last
)

type shutdownEntry struct {
	name     string
	fn       core.ShutdownFunc
	priority int
	seq      int
}

// HandlerResult reports one executed handler.
type HandlerResult struct {
	Name     string
	Duration time.Duration
	Err      error
}

// ShutdownRegistry is an ordered set of cleanup hooks. Handlers with equal
// priority run in registration order.
type ShutdownRegistry struct {
	mu      sync.Mutex
	entries []shutdownEntry
	closed  bool
}

// NewShutdownRegistry creates an empty ShutdownRegistry.
func NewShutdownRegistry() *ShutdownRegistry {
	return &ShutdownRegistry{}
}

// Register adds fn. Registration after Shutdown is ignored.
func (r *ShutdownRegistry) Register(name string, priority int, fn core.ShutdownFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || fn == nil {
		return
	}
	r.entries = append(r.entries, shutdownEntry{
		name:     name,
		fn:       fn,
		priority: priority,
		seq:      len(r.entries),
	})
}

// Shutdown runs every handler in priority order, even after failures, and
// returns one result per handler. A panicking handler is reported as a
// failure. Only the first call does anything.
func (r *ShutdownRegistry) Shutdown(ctx context.Context) []HandlerResult {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sorted := r.sortedLocked()
	r.mu.Unlock()

	results := make([]HandlerResult, 0, len(sorted))
	for _, entry := range sorted {
		start := time.Now()
		err := runHandler(ctx, entry)
		results = append(results, HandlerResult{Name: entry.name, Duration: time.Since(start), Err: err})
	}
	return results
}

func runHandler(ctx context.Context, entry shutdownEntry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("shutdown: %s panicked: %v", entry.name, r)
		}
	}()
	if err := entry.fn(ctx); err != nil {
		return fmt.Errorf("shutdown: %s: %w", entry.name, err)
	}
	return nil
}

// Names returns the handler names in execution order.
func (r *ShutdownRegistry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	sorted := r.sortedLocked()
	names := make([]string, len(sorted))
	for i, entry := range sorted {
		names[i] = entry.name
	}
	return names
}

func (r *ShutdownRegistry) sortedLocked() []shutdownEntry {
	sorted := make([]shutdownEntry, len(r.entries))
	copy(sorted, r.entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].priority < sorted[j].priority
	})
	return sorted
}

// Count returns the number of registered handlers.
func (r *ShutdownRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
