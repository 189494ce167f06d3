// Package pool holds reusable timers for the blocking calls of the interconnect
// (frame accept timeouts, transaction waits, frame count waits).
package pool

import (
	"sync"
	"time"
)

var timerPool sync.Pool

// GetTimer returns a timer for the given duration d from the pool.
//
// Return back the timer to the pool with PutTimer.
func GetTimer(d time.Duration) *time.Timer {
	if v := timerPool.Get(); v != nil {
		t, _ := v.(*time.Timer) // only *time.Timer is put into the pool
		if t.Reset(d) {
			// timer was active, drain the channel
			select {
			case <-t.C:
			default:
			}
		}
		return t
	}
	return time.NewTimer(d)
}

// PutTimer returns timer to the pool.
//
// t cannot be accessed after returning to the pool. A nil timer is ignored.
func PutTimer(t *time.Timer) {
	if t == nil {
		return
	}
	if !t.Stop() {
		// Drain t.C if it wasn't obtained by the caller yet.
		select {
		case <-t.C:
		default:
		}
	}
	timerPool.Put(t)
}

// Timeout is a pooled timer where a zero duration means "wait forever".
//
// The zero value never fires. Always call Release when done.
type Timeout struct {
	timer *time.Timer
}

// NewTimeout returns a Timeout firing after d, or never when d <= 0.
func NewTimeout(d time.Duration) Timeout {
	if d <= 0 {
		return Timeout{}
	}
	return Timeout{timer: GetTimer(d)}
}

// C returns the channel signaled on expiry; nil (blocks forever) for an infinite timeout.
func (t Timeout) C() <-chan time.Time {
	if t.timer == nil {
		return nil
	}
	return t.timer.C
}

// Release returns the underlying timer to the pool.
func (t Timeout) Release() {
	PutTimer(t.timer)
}
