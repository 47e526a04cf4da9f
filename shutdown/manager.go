// Package shutdown coordinates a graceful stop of the web server: the first
// SIGINT or SIGTERM cancels the manager's context, in-flight generations are
// allowed to finish, then cleanup functions run in priority order. A second
// signal exits immediately.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"zimage_backend/core"
)

// DefaultTimeout bounds the whole shutdown sequence.
const DefaultTimeout = 30 * time.Second

// Manager owns the process lifecycle of a long running command.
type Manager struct {
	logger  *zap.Logger
	timeout time.Duration
	exit    func(code int)

	ctx    context.Context
	cancel context.CancelFunc

	tracker  *OperationTracker
	registry *Registry
	sigCh    chan os.Signal

	mu       sync.Mutex
	started  bool
	finished bool
	signal   os.Signal
	signals  int
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTimeout sets the shutdown timeout duration.
func WithTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) { m.timeout = timeout }
}

// WithExitFunc replaces os.Exit for the forced exit on a second signal.
func WithExitFunc(exit func(code int)) ManagerOption {
	return func(m *Manager) { m.exit = exit }
}

// NewManager returns a Manager; call Start to listen for signals.
func NewManager(logger *zap.Logger, opts ...ManagerOption) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		logger:   logger,
		timeout:  DefaultTimeout,
		exit:     os.Exit,
		ctx:      ctx,
		cancel:   cancel,
		tracker:  NewOperationTracker(),
		registry: NewRegistry(),
		sigCh:    make(chan os.Signal, 2),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	return m
}

// Context is cancelled when shutdown begins.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Register adds a cleanup function; see the Priority constants.
func (m *Manager) Register(name string, priority int, fn Func) {
	m.registry.Register(name, priority, fn)
	m.logger.Debug("registered shutdown handler", zap.String("name", name), zap.Int("priority", priority))
}

// Start listens for SIGINT and SIGTERM. Repeated calls are no-ops.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	signal.Notify(m.sigCh, os.Interrupt, syscall.SIGTERM)
	go m.handleSignals()
}

func (m *Manager) handleSignals() {
	for sig := range m.sigCh {
		m.mu.Lock()
		m.signals++
		n := m.signals
		if n == 1 {
			m.signal = sig
		}
		m.mu.Unlock()

		if n == 1 {
			m.logger.Info("received shutdown signal, stopping gracefully (repeat to force)",
				zap.String("signal", sig.String()))
			m.cancel()
			continue
		}
		m.logger.Warn("received second signal, forcing exit")
		m.exit(core.ExitCodeForSignal(sig))
	}
}

// Trigger begins shutdown without a signal, for example when the server
// fails.
func (m *Manager) Trigger(reason string) {
	m.logger.Info("shutdown requested", zap.String("reason", reason))
	m.cancel()
}

// Signal returns the first signal received, or nil.
func (m *Manager) Signal() os.Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signal
}

// ExitCode is the process exit code matching the way shutdown started.
func (m *Manager) ExitCode() int {
	return core.ExitCodeForSignal(m.Signal())
}

// Wait blocks until shutdown begins.
func (m *Manager) Wait() {
	<-m.ctx.Done()
}

// Shutdown rejects new operations, waits for in-flight ones, then runs the
// cleanup functions with what is left of the timeout. Only the first call
// does anything.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.finished {
		m.mu.Unlock()
		return nil
	}
	m.finished = true
	m.mu.Unlock()

	m.cancel()
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.logger.Info("shutting down",
		zap.Duration("timeout", m.timeout),
		zap.Int("handlers", m.registry.Len()))

	m.tracker.Close()
	if n := m.tracker.ActiveCount(); n > 0 {
		m.logger.Info("waiting for in-flight generations", zap.Int64("active", n))
	}
	if err := m.tracker.Wait(ctx); err != nil {
		m.logger.Warn("gave up waiting for in-flight generations", zap.Error(err))
	}

	// cleanup always gets at least a second, even after a slow drain
	cleanupCtx := ctx
	if remaining := time.Until(start.Add(m.timeout)); remaining < time.Second {
		var cancelCleanup context.CancelFunc
		cleanupCtx, cancelCleanup = context.WithTimeout(context.Background(), time.Second)
		defer cancelCleanup()
	}

	err := m.registry.Run(cleanupCtx)

	m.mu.Lock()
	if m.started {
		signal.Stop(m.sigCh)
		close(m.sigCh)
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Error("shutdown completed with errors", zap.Duration("took", time.Since(start)), zap.Error(err))
		return err
	}
	m.logger.Info("shutdown complete", zap.Duration("took", time.Since(start)))
	return nil
}

// WrapOperation runs fn as a tracked operation. It returns ErrTrackerClosed
// without calling fn once shutdown has begun.
func (m *Manager) WrapOperation(ctx context.Context, name string, fn func(context.Context) error) error {
	if m.ctx.Err() != nil || !m.tracker.Start() {
		m.logger.Debug("operation rejected, shutting down", zap.String("operation", name))
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

// IsShuttingDown reports whether shutdown has begun.
func (m *Manager) IsShuttingDown() bool {
	return m.ctx.Err() != nil
}

// RegisteredHandlers lists cleanup functions in execution order.
func (m *Manager) RegisteredHandlers() []string {
	return m.registry.Names()
}
