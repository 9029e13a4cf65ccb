package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"gen_backend/core"
	"gen_backend/logging"
)

// Manager coordinates graceful shutdown: it turns the first SIGINT or
// SIGTERM into a cancelled Context, waits for tracked operations and runs
// the registered handlers in priority order.
//
// Usage:
//
//	manager := shutdown.NewManager(logger, shutdown.WithTimeout(cfg.ShutdownTimeout))
//	manager.Register("queue", shutdown.PriorityQueue, q.Shutdown)
//	manager.Register("database", shutdown.PriorityStorage, func(ctx context.Context) error {
//	    return database.Close()
//	})
//	manager.Start()
//	<-manager.Context().Done()
//	manager.Shutdown()
type Manager struct {
	logger   *logging.Logger
	timeout  time.Duration
	exitCode int
	forceFn  func()

	mu       sync.Mutex
	started  bool
	shutdown bool

	ctx    context.Context
	cancel context.CancelFunc

	tracker  *OperationTracker
	registry *ShutdownRegistry
	signals  *SignalCounter
	sigChan  chan os.Signal
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTimeout bounds the whole shutdown sequence. Default 60 seconds.
func WithTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		if timeout > 0 {
			m.timeout = timeout
		}
	}
}

// WithForceExit replaces the action taken on the second signal. The
// default exits the process with core.ExitCodeError.
func WithForceExit(fn func()) ManagerOption {
	return func(m *Manager) {
		m.forceFn = fn
	}
}

// NewManager creates a Manager. A nil logger is replaced with a no-op.
func NewManager(logger *logging.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		logger:   logger.Named("shutdown"),
		timeout:  60 * time.Second,
		ctx:      ctx,
		cancel:   cancel,
		tracker:  NewOperationTracker(),
		registry: NewShutdownRegistry(),
		sigChan:  make(chan os.Signal, 1),
	}
	m.forceFn = func() {
		m.logger.Warn("received second signal, forcing exit")
		_ = m.logger.Sync()
		os.Exit(core.ExitCodeError)
	}
	for _, opt := range opts {
		opt(m)
	}
	m.signals = NewSignalCounter(2, func() { m.forceFn() })
	return m
}

// Context is cancelled when shutdown begins.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Register adds a cleanup handler. Lower priorities run first; see the
// Priority constants.
func (m *Manager) Register(name string, priority int, fn core.ShutdownFunc) {
	m.registry.Register(name, priority, fn)
	m.logger.Debug("registered shutdown handler", zap.String("name", name), zap.Int("priority", priority))
}

// Start listens for SIGINT and SIGTERM. Calling it again is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	signal.Notify(m.sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range m.sigChan {
			if m.signals.Increment() == 1 {
				m.logger.Info("received shutdown signal", zap.String("signal", sig.String()))
				m.cancel()
			}
		}
	}()
}

// Trigger begins shutdown without a signal, for example after the HTTP
// server fails.
func (m *Manager) Trigger(reason string) {
	m.logger.Info("shutdown triggered", zap.String("reason", reason))
	m.cancel()
}

// Shutdown runs the shutdown sequence once:
//  1. close the tracker so new operations are rejected
//  2. wait for in-flight operations
//  3. run the handlers with whatever time remains
//
// Later calls return nil.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	started := m.started
	m.mu.Unlock()

	m.tracker.Close()
	m.cancel()
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.logger.Info("initiating graceful shutdown",
		zap.Duration("timeout", m.timeout),
		zap.Strings("handlers", m.registry.Names()))

	if active := m.tracker.ActiveCount(); active > 0 {
		m.logger.Info("waiting for in-flight operations", zap.Int64("active", active))
	}
	// Handlers get a share of the budget even if operations never finish.
	waitCtx, waitCancel := context.WithTimeout(ctx, m.timeout/2)
	if err := m.tracker.Wait(waitCtx); err != nil {
		m.logger.Warn("in-flight operations did not finish", zap.Int64("remaining", m.tracker.ActiveCount()))
	}
	waitCancel()

	var failed int
	for _, res := range m.registry.Shutdown(ctx) {
		if res.Err != nil {
			failed++
			m.logger.Error("shutdown handler failed", zap.String("name", res.Name), zap.Duration("duration", res.Duration), zap.Error(res.Err))
			continue
		}
		m.logger.Debug("shutdown handler done", zap.String("name", res.Name), zap.Duration("duration", res.Duration))
	}

	if started {
		signal.Stop(m.sigChan)
		close(m.sigChan)
	}

	if failed > 0 {
		return fmt.Errorf("shutdown: %d handlers failed", failed)
	}
	m.logger.Info("graceful shutdown completed", logging.Elapsed(start))
	return nil
}

// WrapOperation runs fn as a tracked operation. Once shutdown has begun it
// returns ErrTrackerClosed without calling fn.
func (m *Manager) WrapOperation(ctx context.Context, fn func(context.Context) error) error {
	if !m.tracker.Start() {
		return ErrTrackerClosed
	}
	defer m.tracker.Done()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// ActiveOperations returns the count of currently in-flight operations.
func (m *Manager) ActiveOperations() int64 {
	return m.tracker.ActiveCount()
}

// IsShuttingDown reports whether Shutdown has been called.
func (m *Manager) IsShuttingDown() bool {
	return m.tracker.IsClosed()
}

// RegisteredHandlers returns handler names in execution order.
func (m *Manager) RegisteredHandlers() []string {
	return m.registry.Names()
}
