package sched

import (
	"fmt"
	"time"
)

// Params is the frame timing geometry and policy. All fields are fixed at
// construction; runtime reconfiguration of the slot layout is deliberately
// unsupported.
type Params struct {
	// SlotCount is the number of minor-frame slots per major frame.
	SlotCount int

	// ActivitiesPerSlot is the fixed width of each slot's activity row.
	ActivitiesPerSlot int

	// NormalSlotPeriod is the nominal minor-frame duration.
	// SlotCount * NormalSlotPeriod should equal the major frame period.
	NormalSlotPeriod time.Duration

	// WorstClockAccuracy is the worst acceptable minor-frame timer accuracy.
	// A timer reporting worse accuracy forces MET minor-frame sync.
	WorstClockAccuracy time.Duration

	// StartupPeriod is the initial one-shot timer delay, long enough for an
	// external tone to win the startup race before the timer-driven MET
	// fallback kicks in.
	StartupPeriod time.Duration

	// ShortSlotPeriod is the make-up delay used after an uncaught rollover
	// (the extended "long slot" wait fired, so the next slot runs short).
	ShortSlotPeriod time.Duration

	// SyncSlotPeriod is the extended one-shot wait armed at the time-sync
	// slot; an on-time tone cancels it by re-arming the nominal period.
	SyncSlotPeriod time.Duration

	// MaxLagCount is the backlog above which the scheduler jumps to the
	// current slot instead of replaying missed slots.
	MaxLagCount int

	// MaxSlotsPerWakeup caps catch-up work per wakeup.
	MaxSlotsPerWakeup int

	// NoisyMajorFrameLimit is the consecutive noisy tone count that latches
	// IgnoreMajorFrame.
	NoisyMajorFrameLimit int

	// MaxSyncAttempts bounds the MET major-frame sync search performed by
	// the timer-driven fallback.
	MaxSyncAttempts int
}

const (
	defaultSlotCount            = 100
	defaultActivitiesPerSlot    = 8
	defaultWorstClockAccuracy   = 2 * time.Millisecond
	defaultStartupPeriod        = 5 * time.Second
	defaultMaxSlotsPerWakeup    = 5
	defaultNoisyMajorFrameLimit = 2
	defaultMaxSyncAttempts      = 100
)

func (p Params) withDefaults() Params {
	if p.SlotCount <= 0 {
		p.SlotCount = defaultSlotCount
	}
	if p.ActivitiesPerSlot <= 0 {
		p.ActivitiesPerSlot = defaultActivitiesPerSlot
	}
	if p.NormalSlotPeriod <= 0 {
		p.NormalSlotPeriod = time.Second / time.Duration(p.SlotCount)
	}
	if p.WorstClockAccuracy <= 0 {
		p.WorstClockAccuracy = defaultWorstClockAccuracy
	}
	if p.StartupPeriod <= 0 {
		p.StartupPeriod = defaultStartupPeriod
	}
	if p.ShortSlotPeriod <= 0 {
		p.ShortSlotPeriod = p.NormalSlotPeriod / 2
	}
	if p.SyncSlotPeriod <= 0 {
		p.SyncSlotPeriod = 2 * p.NormalSlotPeriod
	}
	if p.MaxLagCount <= 0 {
		p.MaxLagCount = p.SlotCount / 2
	}
	if p.MaxSlotsPerWakeup <= 0 {
		p.MaxSlotsPerWakeup = defaultMaxSlotsPerWakeup
	}
	if p.NoisyMajorFrameLimit <= 0 {
		p.NoisyMajorFrameLimit = defaultNoisyMajorFrameLimit
	}
	if p.MaxSyncAttempts <= 0 {
		p.MaxSyncAttempts = defaultMaxSyncAttempts
	}
	return p
}

// Normalized returns the params with all defaults filled in. Callers that
// need the effective geometry before constructing the scheduler (table
// sizing, tone period) use this.
func (p Params) Normalized() Params { return p.withDefaults() }

func (p Params) validate() error {
	if p.SlotCount < 2 {
		return fmt.Errorf("sched: slot count %d must be >= 2", p.SlotCount)
	}
	if p.NormalSlotPeriod < time.Microsecond {
		return fmt.Errorf("sched: slot period %v must be >= 1us", p.NormalSlotPeriod)
	}
	if p.MaxLagCount >= p.SlotCount {
		return fmt.Errorf("sched: max lag %d must be < slot count %d", p.MaxLagCount, p.SlotCount)
	}
	// The slot grid has to cover the 1 Hz major frame, or MET slot
	// arithmetic aliases the tail slots onto slot 0. Allow less than one
	// slot of truncation (the default 1s/SlotCount division never lands
	// exactly for counts that do not divide a second).
	frame := time.Duration(p.SlotCount) * p.NormalSlotPeriod
	drift := time.Second - frame
	if drift < 0 {
		drift = -drift
	}
	if drift >= p.NormalSlotPeriod {
		return fmt.Errorf("sched: %d slots of %v span %v, want one major frame (1s)",
			p.SlotCount, p.NormalSlotPeriod, frame)
	}
	return nil
}

// TimeSyncSlot is the designated last slot before rollover; the tone is
// expected while this slot is pending, and ground commands are only
// processed here.
func (p Params) TimeSyncSlot() int { return p.SlotCount - 1 }

// slotPeriodMicros is the nominal slot period used for MET slot arithmetic.
func (p Params) slotPeriodMicros() uint32 {
	return uint32(p.NormalSlotPeriod / time.Microsecond)
}
