package shutdown

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"bgstudio/core"
	"bgstudio/logging"
)

// DefaultTimeout bounds the whole shutdown sequence.
const DefaultTimeout = 60 * time.Second

// Manager coordinates graceful shutdown.
//
// The first SIGINT or SIGTERM cancels Context; main then calls Shutdown,
// which stops new workflow transitions, waits for running ones and runs
// the registered cleanup functions. A second signal exits immediately.
//
// Usage:
//
//	manager := shutdown.NewManager(logger)
//	manager.Register("database", shutdown.PriorityStorage, func(ctx context.Context) error {
//	    return database.Close()
//	})
//	manager.Start()
//	<-manager.Context().Done()
//	err := manager.Shutdown()
type Manager struct {
	logger    *logging.Logger
	timeout   time.Duration
	forceExit func()

	mu       sync.Mutex
	started  bool
	shutdown bool
	signals  int
	signal   os.Signal

	ctx    context.Context
	cancel context.CancelFunc

	tracker  *OperationTracker
	registry *ShutdownRegistry
	sigChan  chan os.Signal
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTimeout sets the shutdown timeout. Default is DefaultTimeout.
func WithTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) { m.timeout = timeout }
}

// WithForceExit replaces the second-signal action, os.Exit with the
// SIGINT exit code by default.
func WithForceExit(fn func()) ManagerOption {
	return func(m *Manager) { m.forceExit = fn }
}

// NewManager creates a Manager.
func NewManager(logger *logging.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = logging.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		logger:    logger.Named("shutdown"),
		timeout:   DefaultTimeout,
		forceExit: func() { os.Exit(core.ExitCodeSIGINT) },
		ctx:       ctx,
		cancel:    cancel,
		tracker:   NewOperationTracker(),
		registry:  NewShutdownRegistry(),
		sigChan:   make(chan os.Signal, 2),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Context is cancelled when shutdown begins.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Tracker returns the operation tracker shared with the workflow manager.
func (m *Manager) Tracker() *OperationTracker {
	return m.tracker
}

// Register adds a cleanup function. Lower priority runs first.
func (m *Manager) Register(name string, priority int, fn core.ShutdownFunc) {
	m.registry.Register(name, priority, fn)
	m.logger.Debug("registered shutdown handler",
		zap.String("name", name),
		zap.Int("priority", priority),
	)
}

// Start listens for SIGINT and SIGTERM. Extra calls are no-ops.
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
			m.handleSignal(sig)
		}
	}()
}

// handleSignal cancels Context on the first signal and force-exits on
// the second.
func (m *Manager) handleSignal(sig os.Signal) {
	m.mu.Lock()
	m.signals++
	count := m.signals
	if count == 1 {
		m.signal = sig
	}
	m.mu.Unlock()

	if count == 1 {
		m.logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		m.cancel()
		return
	}
	m.logger.Warn("received second signal, forcing exit", zap.String("signal", sig.String()))
	m.forceExit()
}

// Trigger begins shutdown without a signal, for example when the HTTP
// server fails.
func (m *Manager) Trigger(reason string) {
	m.logger.Info("shutdown triggered", zap.String("reason", reason))
	m.cancel()
}

// Signal returns the signal that started shutdown, or nil.
func (m *Manager) Signal() os.Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signal
}

// Shutdown runs the shutdown sequence once:
//  1. reject new operations
//  2. wait for in-flight operations, up to the timeout
//  3. run cleanup functions with the remaining time
//
// It returns the joined cleanup errors, or ErrWaitTimeout when operations
// were still running.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	started := m.started
	m.mu.Unlock()

	m.cancel()
	startTime := time.Now()
	m.logger.Info("initiating graceful shutdown",
		zap.Duration("timeout", m.timeout),
		zap.Int("registered_handlers", m.registry.Count()),
	)

	m.tracker.Close()
	if n := m.tracker.ActiveCount(); n > 0 {
		m.logger.Info("waiting for in-flight operations",
			zap.Int("active_count", n),
			zap.Strings("operations", m.tracker.Active()),
		)
	}

	var errs []error
	if err := m.tracker.Wait(m.timeout); err != nil {
		m.logger.Warn("timeout waiting for in-flight operations",
			zap.Duration("waited", time.Since(startTime)),
			zap.Strings("remaining", m.tracker.Active()),
		)
		errs = append(errs, err)
	}

	remaining := m.timeout - time.Since(startTime)
	if remaining < time.Second {
		remaining = time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), remaining)
	defer cancel()

	m.logger.Info("executing cleanup functions", zap.Strings("handlers", m.registry.Names()))
	for _, err := range m.registry.Shutdown(ctx) {
		m.logger.Error("cleanup function failed", zap.Error(err))
		errs = append(errs, err)
	}

	if started {
		signal.Stop(m.sigChan)
	}

	if len(errs) > 0 {
		m.logger.Error("shutdown completed with errors",
			zap.Duration("duration", time.Since(startTime)),
			zap.Int("error_count", len(errs)),
		)
		return errors.Join(errs...)
	}
	m.logger.Info("graceful shutdown completed", zap.Duration("duration", time.Since(startTime)))
	return nil
}

// Run executes fn as a tracked operation. It returns ErrTrackerClosed
// without calling fn once shutdown has begun.
func (m *Manager) Run(ctx context.Context, name string, fn func(context.Context) error) error {
	done, err := m.tracker.Begin(name)
	if err != nil {
		m.logger.Debug("operation rejected, shutting down", zap.String("operation", name))
		return err
	}
	defer done()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// IsShuttingDown reports whether shutdown has begun.
func (m *Manager) IsShuttingDown() bool {
	return m.ctx.Err() != nil
}

// RegisteredHandlers returns cleanup names in execution order.
func (m *Manager) RegisteredHandlers() []string {
	return m.registry.Names()
}
