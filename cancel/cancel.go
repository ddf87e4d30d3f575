// Package cancel coordinates cooperative cancellation for one logical
// operation: it composes an external signal with internal cancellation and
// runs registered cleanup handlers under a bounded time budget.
//
// A Manager is created per operation and must be closed when the operation
// ends. It is never shared across operations.
package cancel

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultGracefulTimeout bounds the whole cleanup batch.
const DefaultGracefulTimeout = 5 * time.Second

// CleanupHandler releases one resource during cancellation. The context it
// receives observes the cleanup time budget.
type CleanupHandler func(ctx context.Context) error

// Option configures a Manager.
type Option func(*Manager)

// WithGracefulTimeout sets the time budget for the whole cleanup batch.
func WithGracefulTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.gracefulTimeout = d
		}
	}
}

// WithCleanupDisabled makes Cancel flip state and fire the signal without
// running cleanup handlers.
func WithCleanupDisabled() Option {
	return func(m *Manager) {
		m.cleanupDisabled = true
	}
}

// WithLogger sets the logger used for cleanup diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// Manager composes cancellation signals for one operation. The state machine
// is not-cancelled → cancelled(reason); the transition is terminal and a
// second Cancel is a no-op.
type Manager struct {
	gracefulTimeout time.Duration
	cleanupDisabled bool
	logger          *zap.Logger

	ctx       context.Context
	abort     context.CancelCauseFunc
	stopWatch func() bool

	mu               sync.Mutex
	handlers         []CleanupHandler
	cancelled        bool
	reason           string
	externalReason   string
	cleanupCompleted bool
}

// NewManager creates a Manager whose composed signal observes both parent
// and internal cancellation. An already-aborted parent propagates
// immediately; a later parent abort propagates exactly once, and its cause
// is preferred over any internal reason.
func NewManager(parent context.Context, opts ...Option) *Manager {
	if parent == nil {
		parent = context.Background()
	}

	m := &Manager{
		gracefulTimeout: DefaultGracefulTimeout,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.ctx, m.abort = context.WithCancelCause(parent)

	if parent.Err() != nil {
		m.cancelWith(externalReason(parent), true)
		return m
	}

	m.stopWatch = context.AfterFunc(parent, func() {
		m.cancelWith(externalReason(parent), true)
	})
	return m
}

func externalReason(parent context.Context) string {
	if cause := context.Cause(parent); cause != nil {
		return cause.Error()
	}
	return "external signal aborted"
}

// Context returns the composed cancellation signal.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// IsCancelled reports whether cancellation has been observed, internal or
// external.
func (m *Manager) IsCancelled() bool {
	return m.ctx.Err() != nil
}

// Reason returns the cancellation reason, preferring the external cause when
// both exist. Empty until cancelled.
func (m *Manager) Reason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.externalReason != "" {
		return m.externalReason
	}
	return m.reason
}

// Cancel flips the manager into the cancelled state, runs cleanup unless
// disabled, then fires the composed signal. Cleanup-handler failures are
// logged and non-fatal; cancellation itself always completes. The returned
// error is non-nil only when cleanup exceeded its budget, in which case it
// is a *GracefulTimeoutError.
func (m *Manager) Cancel(reason string) error {
	return m.cancelWith(reason, false)
}

func (m *Manager) cancelWith(reason string, external bool) error {
	m.mu.Lock()
	if external && m.externalReason == "" {
		m.externalReason = reason
	}
	if m.cancelled {
		m.mu.Unlock()
		return nil
	}
	m.cancelled = true
	if reason == "" {
		reason = "operation cancelled"
	}
	m.reason = reason
	handlers := m.handlers
	m.handlers = nil
	m.mu.Unlock()

	var cleanupErr error
	if m.cleanupDisabled {
		m.setCleanupCompleted(true)
	} else {
		cleanupErr = m.runCleanup(handlers, reason)
	}

	m.abort(&Error{
		Phase:            PhaseExecution,
		Reason:           reason,
		CleanupCompleted: m.CleanupCompleted(),
		Timestamp:        time.Now(),
	})
	return cleanupErr
}

// AddCleanupHandler registers a handler to run on cancellation. Handlers run
// at most once, most recently registered first. A handler registered after
// cancellation is ignored.
func (m *Manager) AddCleanupHandler(fn CleanupHandler) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelled {
		return
	}
	m.handlers = append(m.handlers, fn)
}

// CheckCancellation returns a phase-tagged *Error when cancellation has been
// observed, nil otherwise. Long-running code polls this at its suspension
// points.
func (m *Manager) CheckCancellation(phase Phase) error {
	if !m.IsCancelled() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	reason := m.reason
	if m.externalReason != "" {
		reason = m.externalReason
	}
	if reason == "" {
		reason = "operation cancelled"
	}
	return &Error{
		Phase:            phase,
		Reason:           reason,
		CleanupCompleted: m.cleanupCompleted,
		Timestamp:        time.Now(),
	}
}

// runCleanup executes handlers in LIFO order under the graceful timeout.
// Individual failures are logged and do not block remaining handlers; only
// exceeding the whole-batch budget is reported, as a *GracefulTimeoutError.
func (m *Manager) runCleanup(handlers []CleanupHandler, reason string) error {
	if len(handlers) == 0 {
		m.setCleanupCompleted(true)
		return nil
	}

	ctx, stop := context.WithTimeout(context.Background(), m.gracefulTimeout)
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := len(handlers) - 1; i >= 0; i-- {
			if ctx.Err() != nil {
				return
			}
			m.runHandler(ctx, handlers[i])
		}
	}()

	select {
	case <-done:
		m.setCleanupCompleted(true)
		return nil
	case <-ctx.Done():
		m.logger.Warn("cleanup exceeded graceful timeout",
			zap.Duration("timeout", m.gracefulTimeout),
			zap.Int("handlers", len(handlers)))
		return &GracefulTimeoutError{
			Err: &Error{
				Phase:            PhaseCleanup,
				Reason:           reason,
				CleanupCompleted: false,
				Timestamp:        time.Now(),
			},
			Timeout:          m.gracefulTimeout,
			CleanupAttempted: true,
		}
	}
}

func (m *Manager) runHandler(ctx context.Context, fn CleanupHandler) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("cleanup handler panicked", zap.Any("panic", r))
		}
	}()
	if err := fn(ctx); err != nil {
		m.logger.Warn("cleanup handler failed", zap.Error(err))
	}
}

func (m *Manager) setCleanupCompleted(v bool) {
	m.mu.Lock()
	m.cleanupCompleted = v
	m.mu.Unlock()
}

// CleanupCompleted reports whether the cleanup batch ran to completion.
func (m *Manager) CleanupCompleted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleanupCompleted
}

// Close releases the manager: the external watcher is stopped, handler
// references are dropped and the composed signal is released. Call it when
// the operation ends, cancelled or not.
func (m *Manager) Close() {
	if m.stopWatch != nil {
		m.stopWatch()
	}
	m.mu.Lock()
	m.handlers = nil
	m.mu.Unlock()
	m.abort(context.Canceled)
}
