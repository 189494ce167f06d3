package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arloliu/go-daq/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newQuietLogger() *logger.MockLogger {
	l := logger.NewMockLogger()
	l.On("Debug", mock.Anything, mock.Anything).Return()
	l.On("Error", mock.Anything, mock.Anything).Return()
	return l
}

func TestManager_StartStopWait(t *testing.T) {
	mgr := NewManager(context.Background(), newQuietLogger())

	var iterations atomic.Int32
	err := mgr.Start("loop", func(ctx context.Context) bool {
		iterations.Add(1)
		time.Sleep(time.Millisecond)
		return true
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return iterations.Load() > 3 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, mgr.TaskCount())

	mgr.Stop()
	mgr.Wait()
	assert.Equal(t, 0, mgr.TaskCount())

	// re-armed after Wait
	require.NoError(t, mgr.Run("again", func(ctx context.Context) {}))
	mgr.Wait()
}

func TestManager_LoopReturnsFalse(t *testing.T) {
	mgr := NewManager(context.Background(), newQuietLogger())

	done := make(chan struct{})
	require.NoError(t, mgr.Start("once", func(ctx context.Context) bool {
		close(done)
		return false
	}))

	<-done
	mgr.Wait()
	assert.Equal(t, 0, mgr.TaskCount())
}

func TestManager_PanicRecovered(t *testing.T) {
	l := newQuietLogger()
	mgr := NewManager(context.Background(), l)

	require.NoError(t, mgr.Start("panic", func(ctx context.Context) bool {
		panic("boom")
	}))
	mgr.Wait()

	l.AssertCalled(t, "Error", "panic in task loop", mock.Anything)
}

func TestManager_StartAfterStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mgr := NewManager(ctx, newQuietLogger())
	cancel()

	err := mgr.Run("late", func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestManager_RunStopsOnContext(t *testing.T) {
	mgr := NewManager(context.Background(), newQuietLogger())

	started := make(chan struct{})
	require.NoError(t, mgr.Run("blocking", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	}))

	<-started
	assert.Equal(t, 1, mgr.TaskCount())

	mgr.Stop()
	mgr.Wait()
	assert.Equal(t, 0, mgr.TaskCount())

	// the next Run gets a live context again
	ran := make(chan error, 1)
	require.NoError(t, mgr.Run("after", func(ctx context.Context) { ran <- ctx.Err() }))
	mgr.Wait()
	assert.NoError(t, <-ran)
}
