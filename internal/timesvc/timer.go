// Package timesvc provides the runtime timing primitives the scheduler core
// consumes: a reprogrammable minor-frame timer, a binary wakeup signal, and
// the Major Frame tone source.
package timesvc

import (
	"errors"
	"sync"
	"time"
)

// DefaultTimerAccuracy is the accuracy we claim for time.Timer-backed
// timers. Go timers on Linux are typically good to well under a millisecond,
// but callback scheduling adds jitter; 1ms is a conservative figure the core
// compares against its configured worst acceptable accuracy.
const DefaultTimerAccuracy = time.Millisecond

var errTimerStopped = errors.New("timesvc: timer stopped")

// FrameTimer is a reprogrammable timer with start-then-repeat semantics:
// Set(initial, period) fires the callback once after initial, then every
// period. A zero period makes the timer one-shot. Set replaces any pending
// schedule, so an on-time synchronization signal can cancel an extended
// "long slot" wait by re-arming with the nominal period.
type FrameTimer struct {
	name     string
	accuracy time.Duration
	cb       func()

	mu      sync.Mutex
	timer   *time.Timer
	period  time.Duration
	gen     uint64 // invalidates stale fire callbacks after Set/Stop
	stopped bool
}

func NewFrameTimer(name string, cb func()) *FrameTimer {
	return &FrameTimer{name: name, accuracy: DefaultTimerAccuracy, cb: cb}
}

func (t *FrameTimer) Name() string { return t.name }

// Accuracy returns the timer's achievable accuracy.
func (t *FrameTimer) Accuracy() time.Duration { return t.accuracy }

// Set arms the timer: first fire after initial, then repeating every period
// (one-shot when period is 0). A non-positive initial just cancels any
// pending fire.
func (t *FrameTimer) Set(initial, period time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return errTimerStopped
	}

	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.period = period
	if initial <= 0 {
		return nil
	}

	gen := t.gen
	t.timer = time.AfterFunc(initial, func() { t.fire(gen) })
	return nil
}

func (t *FrameTimer) fire(gen uint64) {
	t.mu.Lock()
	if t.stopped || gen != t.gen {
		t.mu.Unlock()
		return
	}
	if t.period > 0 {
		t.timer = time.AfterFunc(t.period, func() { t.fire(gen) })
	} else {
		t.timer = nil
	}
	cb := t.cb
	t.mu.Unlock()

	// Callback runs outside the lock so it may call Set().
	if cb != nil {
		cb()
	}
}

// Stop cancels the timer permanently.
func (t *FrameTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// Timers creates FrameTimers; it exists so the scheduler core can report
// timer creation as a distinct startup failure.
type Timers struct {
	Accuracy time.Duration
}

func (f Timers) NewTimer(name string, cb func()) (*FrameTimer, error) {
	if cb == nil {
		return nil, errors.New("timesvc: timer callback is required")
	}
	t := NewFrameTimer(name, cb)
	if f.Accuracy > 0 {
		t.accuracy = f.Accuracy
	}
	return t, nil
}
