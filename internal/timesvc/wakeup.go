package timesvc

import "context"

// Wakeup is a binary semaphore connecting the timer/tone callbacks to the
// scheduler's run loop. Multiple Releases between Waits coalesce into a
// single pending wakeup; the consumer recomputes elapsed slots itself rather
// than trusting signal multiplicity.
type Wakeup struct {
	ch chan struct{}
}

func NewWakeup() *Wakeup {
	return &Wakeup{ch: make(chan struct{}, 1)}
}

// Release makes the signal available. Idempotent: releasing an already
// released signal is a no-op.
func (w *Wakeup) Release() {
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until the signal is released or ctx is canceled.
func (w *Wakeup) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.ch:
		return nil
	}
}
