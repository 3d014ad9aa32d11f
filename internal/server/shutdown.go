// Package server runs the status endpoints of a replay and coordinates
// shutdown of everything the application opened.
package server

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/arkilian/taxistream/internal/logging"
)

// ShutdownManager closes registered resources once, in reverse order of
// registration, after in-flight status requests have drained.
type ShutdownManager struct {
	shutdownTimeout time.Duration
	drainTimeout    time.Duration
	logger          *zap.SugaredLogger

	shutdownCh     chan struct{}
	shutdownOnce   sync.Once
	shutdownErr    error
	inFlight       atomic.Int64
	isShuttingDown atomic.Bool

	closersMu sync.Mutex
	closers   []namedCloser

	callbacksMu     sync.Mutex
	onShutdownStart []func()
}

type namedCloser struct {
	name string
	io.Closer
}

// ShutdownConfig holds configuration for the shutdown manager.
type ShutdownConfig struct {
	// ShutdownTimeout bounds the whole shutdown. Default: 30 seconds
	ShutdownTimeout time.Duration

	// DrainTimeout bounds the wait for in-flight requests. Default: 5 seconds
	DrainTimeout time.Duration

	Logger *zap.SugaredLogger
}

// NewShutdownManager creates a shutdown manager.
func NewShutdownManager(config ShutdownConfig) *ShutdownManager {
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 30 * time.Second
	}
	if config.DrainTimeout == 0 {
		config.DrainTimeout = 5 * time.Second
	}
	return &ShutdownManager{
		shutdownTimeout: config.ShutdownTimeout,
		drainTimeout:    config.DrainTimeout,
		logger:          logging.Named(config.Logger, "shutdown"),
		shutdownCh:      make(chan struct{}),
	}
}

// RegisterCloser adds a resource to close during shutdown.
// Closers are called in reverse order of registration (LIFO).
func (sm *ShutdownManager) RegisterCloser(name string, closer io.Closer) {
	sm.closersMu.Lock()
	defer sm.closersMu.Unlock()
	sm.closers = append(sm.closers, namedCloser{name: name, Closer: closer})
}

// OnShutdownStart registers a callback run when shutdown begins.
func (sm *ShutdownManager) OnShutdownStart(fn func()) {
	sm.callbacksMu.Lock()
	defer sm.callbacksMu.Unlock()
	sm.onShutdownStart = append(sm.onShutdownStart, fn)
}

// NotifyContext returns a context cancelled on SIGINT or SIGTERM, or when
// shutdown begins.
func (sm *ShutdownManager) NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sm.shutdownCh:
			stop()
		case <-ctx.Done():
		}
	}()
	return ctx, stop
}

// Shutdown drains in-flight requests and closes every registered resource.
// Only the first call does any work; later calls return its result.
func (sm *ShutdownManager) Shutdown(ctx context.Context, reason string) error {
	sm.shutdownOnce.Do(func() {
		sm.isShuttingDown.Store(true)
		close(sm.shutdownCh)
		sm.logger.Infow("shutting down", "reason", reason)

		sm.callbacksMu.Lock()
		callbacks := sm.onShutdownStart
		sm.callbacksMu.Unlock()
		for _, fn := range callbacks {
			fn()
		}

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sm.shutdownTimeout)
		defer cancel()

		if err := sm.drainInFlight(shutdownCtx); err != nil {
			sm.shutdownErr = fmt.Errorf("drain failed: %w", err)
		}

		sm.closersMu.Lock()
		closers := sm.closers
		sm.closersMu.Unlock()
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				sm.logger.Warnw("close failed", "resource", closers[i].name, "error", err)
				if sm.shutdownErr == nil {
					sm.shutdownErr = fmt.Errorf("close %s: %w", closers[i].name, err)
				}
			}
		}
	})
	return sm.shutdownErr
}

func (sm *ShutdownManager) drainInFlight(ctx context.Context) error {
	drainCtx, cancel := context.WithTimeout(ctx, sm.drainTimeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if sm.inFlight.Load() == 0 {
			return nil
		}
		select {
		case <-drainCtx.Done():
			if remaining := sm.inFlight.Load(); remaining > 0 {
				return fmt.Errorf("timeout waiting for %d in-flight requests", remaining)
			}
			return nil
		case <-ticker.C:
		}
	}
}

// TrackRequest counts a request in flight. It returns false once shutdown
// has begun and the request should be rejected.
func (sm *ShutdownManager) TrackRequest() bool {
	if sm.isShuttingDown.Load() {
		return false
	}
	sm.inFlight.Add(1)
	return true
}

func (sm *ShutdownManager) UntrackRequest() {
	sm.inFlight.Add(-1)
}

func (sm *ShutdownManager) IsShuttingDown() bool {
	return sm.isShuttingDown.Load()
}

func (sm *ShutdownManager) InFlightCount() int64 {
	return sm.inFlight.Load()
}

// ShutdownCh is closed when shutdown begins.
func (sm *ShutdownManager) ShutdownCh() <-chan struct{} {
	return sm.shutdownCh
}

// CloserFunc adapts a function to io.Closer.
type CloserFunc func() error

func (f CloserFunc) Close() error {
	return f()
}
