package templateindex

import (
	"sync"
	"time"
)

// stallWatchdogState tracks "no progress for N" and fires once, exactly the
// fallback trigger named in §4.F. Each completed file calls reset; if no
// reset arrives within the timeout, fired() closes and the pool build falls
// back to main-thread concurrency for whatever files remain.
type stallWatchdogState struct {
	timeout time.Duration
	timer   *time.Timer
	ch      chan struct{}
	once    sync.Once
	mu      sync.Mutex
	stopped bool
}

func newStallWatchdog(timeout time.Duration) *stallWatchdogState {
	w := &stallWatchdogState{
		timeout: timeout,
		ch:      make(chan struct{}),
	}
	w.timer = time.AfterFunc(timeout, w.fire)
	return w
}

func (w *stallWatchdogState) fire() {
	w.once.Do(func() { close(w.ch) })
}

func (w *stallWatchdogState) fired() <-chan struct{} { return w.ch }

func (w *stallWatchdogState) hasFired() bool {
	select {
	case <-w.ch:
		return true
	default:
		return false
	}
}

// reset pushes the deadline out by timeout, as long as the watchdog hasn't
// already fired or been stopped.
func (w *stallWatchdogState) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || w.hasFired() {
		return
	}
	w.timer.Reset(w.timeout)
}

func (w *stallWatchdogState) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	w.timer.Stop()
}
