// Package progress tracks long-running build progress and supervises the
// background task set that runs builds outside the cycle scheduler (§4.F
// progress/observability, §9 background task lifecycle, §4.J).
//
// Adapted from the teacher's in-process event bus (internal/eventbus):
// the same channel-fan-out shape now carries progress snapshots instead of
// blockchain events. Background-task lifecycle state is kept by Supervisor
// and read on demand; it is not published on channels.
package progress

import (
	"sync"
	"time"
)

// Snapshot is the single progress structure named in §4.F: updated
// monotonically as a build advances.
type Snapshot struct {
	Phase     string
	Current   int
	Total     int
	StartedAt time.Time
}

// ETA derives an estimated completion time from (current/elapsed) and the
// remaining item count. Returns the zero Duration if progress hasn't
// started or nothing remains.
func (s Snapshot) ETA(now time.Time) time.Duration {
	if s.Current <= 0 || s.Total <= s.Current {
		return 0
	}
	elapsed := now.Sub(s.StartedAt)
	if elapsed <= 0 {
		return 0
	}
	rate := float64(s.Current) / elapsed.Seconds()
	if rate <= 0 {
		return 0
	}
	remaining := float64(s.Total - s.Current)
	return time.Duration(remaining/rate) * time.Second
}

// Tracker holds the current snapshot for one build and publishes updates
// to subscribers (e.g. an admin status endpoint).
type Tracker struct {
	mu     sync.RWMutex
	snap   Snapshot
	subs   []chan<- Snapshot
	closed bool
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Start resets the tracker to phase, with total known up front.
func (t *Tracker) Start(phase string, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap = Snapshot{Phase: phase, Total: total, StartedAt: time.Now()}
	t.publishLocked()
}

// Advance increments current by delta and publishes the new snapshot.
// Current only ever moves forward (monotonic, per §4.F).
func (t *Tracker) Advance(delta int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Current += delta
	t.publishLocked()
}

// Phase transitions to a new phase without resetting progress counters
// (used e.g. when a worker-pool build falls back to main-thread
// concurrency mid-build, per §4.F stall watchdog).
func (t *Tracker) Phase(phase string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Phase = phase
	t.publishLocked()
}

// Snapshot returns the current progress snapshot.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}

// Subscribe registers a channel for snapshot updates. As with the
// teacher's event bus, a slow subscriber has updates dropped rather than
// blocking the publisher.
func (t *Tracker) Subscribe(ch chan<- Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs = append(t.subs, ch)
}

func (t *Tracker) publishLocked() {
	progMetrics.init()
	progMetrics.buildCurrent.Set(float64(t.snap.Current))
	progMetrics.buildTotal.Set(float64(t.snap.Total))
	progMetrics.buildETA.Set(t.snap.ETA(time.Now()).Seconds())

	if t.closed {
		return
	}
	for _, ch := range t.subs {
		select {
		case ch <- t.snap:
		default:
		}
	}
}

// Close marks the tracker closed; further updates still change the
// snapshot and the gauges but are no longer sent to subscribers.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
}
