// Package met provides the Mission Elapsed Time reference used for
// minor-frame resynchronization. MET is monotonic from a construction epoch
// and is never adjusted, so slot arithmetic derived from it is immune to
// wall-clock steps.
package met

import (
	"sync"
	"time"
)

// Subseconds is the 2^-32 fractional-second register format: 0x00000000 is
// the top of the second, 0x80000000 is exactly half a second.
type Subseconds = uint32

const microsPerSecond = 1_000_000

// Clock is a monotonic mission-elapsed-time source with a flywheel flag.
//
// The flywheel flag is set by the tone source when its upstream timing
// reference goes silent; the scheduler ignores synchronization signals while
// flywheeling.
type Clock struct {
	epoch time.Time

	mu       sync.Mutex
	flywheel bool
}

func NewClock() *Clock {
	return &Clock{epoch: time.Now()}
}

// NewClockAt pins the MET epoch; used by bench setups that need a known phase.
func NewClockAt(epoch time.Time) *Clock {
	return &Clock{epoch: epoch}
}

// Elapsed returns the mission elapsed time.
func (c *Clock) Elapsed() time.Duration {
	return time.Since(c.epoch)
}

// Subseconds returns the fractional-second register of the current MET second.
func (c *Clock) Subseconds() Subseconds {
	ns := c.Elapsed().Nanoseconds() % int64(time.Second)
	return Subseconds((ns << 32) / int64(time.Second))
}

// SubsecondsToMicros converts a subseconds register to microseconds.
// The result is always in [0, 999999].
func (c *Clock) SubsecondsToMicros(sub Subseconds) uint32 {
	return SubsecondsToMicros(sub)
}

func SubsecondsToMicros(sub Subseconds) uint32 {
	us := uint32(uint64(sub) * microsPerSecond >> 32)
	if us > microsPerSecond-1 {
		us = microsPerSecond - 1
	}
	return us
}

func (c *Clock) SetFlywheel(on bool) {
	c.mu.Lock()
	c.flywheel = on
	c.mu.Unlock()
}

// Flywheeling reports whether the timing reference is free-running without
// external correction.
func (c *Clock) Flywheeling() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flywheel
}
