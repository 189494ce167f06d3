// Package task manages the background goroutines of interconnect nodes, such
// as file read loops and device poll loops.
//
// A Manager owns a cancelable context. Stop cancels it, Wait joins every
// goroutine started since the last Wait and re-arms the manager so the owning
// node can be reopened.
//
// Example Usage:
//
//	mgr := task.NewManager(ctx, logger)
//	_ = mgr.Start("readLoop", func(ctx context.Context) bool {
//	    // ... poll with a short timeout, return false on EOF ...
//	    return true
//	})
//	mgr.Stop()
//	mgr.Wait()
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-daq/logger"
)

// ErrStopped is returned when starting a task on a stopped manager.
var ErrStopped = errors.New("task: manager already stopped")

// LoopFunc is called repeatedly until it returns false or the context is canceled.
//
// Implementations must not block indefinitely: blocking calls should be bounded
// by a short timeout so cancellation is observed.
type LoopFunc func(ctx context.Context) bool

// RunFunc is called once with the task context.
type RunFunc func(ctx context.Context)

// Manager manages the lifecycle of goroutines owned by one node.
type Manager struct {
	pctx   context.Context
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger logger.Logger
	count  atomic.Int32
	mu     sync.RWMutex // protect ctx and cancel
	taskMu sync.RWMutex // protect task creation during Wait()
}

// NewManager creates a new Manager with the given context as the parent context.
func NewManager(ctx context.Context, l logger.Logger) *Manager {
	if ctx == nil {
		ctx = context.Background()
	}
	if l == nil {
		l = logger.GetLogger()
	}

	mgr := &Manager{pctx: ctx, logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

// Start starts a goroutine running loopFunc until it returns false or the manager stops.
func (mgr *Manager) Start(name string, loopFunc LoopFunc) error {
	return mgr.Run(name, func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			default:
				if !mgr.callLoop(name, ctx, loopFunc) {
					return
				}
			}
		}
	})
}

// Run starts a goroutine running fn once.
func (mgr *Manager) Run(name string, fn RunFunc) error {
	mgr.taskMu.RLock()
	defer mgr.taskMu.RUnlock()

	ctx := mgr.currentContext()
	select {
	case <-ctx.Done():
		return fmt.Errorf("start %s: %w", name, ErrStopped)
	default:
	}

	mgr.logger.Debug("start task", "name", name)

	mgr.wg.Add(1)
	mgr.count.Add(1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				mgr.logger.Error("panic in task", "name", name, "panic", r)
			}
			mgr.count.Add(-1)
			mgr.wg.Done()
			mgr.logger.Debug("task terminated", "name", name, "task_count", mgr.TaskCount())
		}()

		fn(ctx)
	}()

	return nil
}

func (mgr *Manager) currentContext() context.Context {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	return mgr.ctx
}

func (mgr *Manager) callLoop(name string, ctx context.Context, fn LoopFunc) (cont bool) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task loop", "name", name, "panic", r)
			cont = false
		}
	}()

	return fn(ctx)
}

// Stop signals all running goroutines.
func (mgr *Manager) Stop() {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if mgr.cancel != nil {
		mgr.cancel()
	}
}

// Wait waits for all goroutines to terminate and re-arms the manager.
func (mgr *Manager) Wait() {
	mgr.taskMu.Lock()
	defer mgr.taskMu.Unlock()

	mgr.wg.Wait()

	mgr.mu.Lock()
	if mgr.ctx.Err() != nil {
		mgr.ctx, mgr.cancel = context.WithCancel(mgr.pctx)
	}
	mgr.mu.Unlock()
}

// TaskCount returns the number of currently running goroutines.
func (mgr *Manager) TaskCount() int {
	return int(mgr.count.Load())
}
