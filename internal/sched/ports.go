package sched

import (
	"context"
	"time"

	"github.com/iotpi-space/pi-sat/internal/table"
)

// Timer is the minor-frame timer the scheduler arms and re-arms. Set with a
// zero period arms a one-shot; a non-positive initial delay cancels any
// pending fire.
type Timer interface {
	Set(initial, period time.Duration) error
	Accuracy() time.Duration
	Stop()
}

// WakeupSignal hands minor-frame ticks from timer/tone callbacks to the
// processing loop. Release must coalesce and never block.
type WakeupSignal interface {
	Release()
	Wait(ctx context.Context) error
}

// MissionClock exposes mission elapsed time as CCSDS subseconds of the
// current second.
type MissionClock interface {
	Subseconds() uint32
	SubsecondsToMicros(sub uint32) uint32
	Flywheeling() bool
}

// Transmitter sends a scheduled message toward the downlink.
type Transmitter interface {
	Transmit(m table.Message) error
}

// CommandProcessor drains pending ground commands. The scheduler invokes it
// only while the time-sync slot executes, so command handlers observe a
// quiet table.
type CommandProcessor interface {
	ProcessCommands() error
}
