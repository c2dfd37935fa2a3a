package sched

import (
	"context"

	"github.com/iotpi-space/pi-sat/internal/bus"
	"github.com/iotpi-space/pi-sat/pkg/logx"
)

// RunOneWakeup blocks for the next minor-frame wakeup, reconciles the
// pending slot against the slot clock, and executes the slots that are
// due. It returns ctx.Err() when the context is cancelled and the first
// command-processing error otherwise; activity dispatch failures are
// absorbed (the failing entry is disabled) and never returned.
func (s *Scheduler) RunOneWakeup(ctx context.Context) error {
	if err := s.wakeup.Wait(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// One diagnostic per noisy episode: emit while the signal is being
	// ignored, re-arm only once the latch clears.
	if s.ignoreMajorFrame && s.sendNoisyDiag {
		s.log.Error("major frame signal too noisy, ignoring tones",
			logx.Uint32("unexpected_total", s.counters.UnexpectedMajorFrames))
		s.events.Publish(bus.Event{Type: bus.EventNoisyMajorFrame, Data: map[string]any{
			"unexpected_total": s.counters.UnexpectedMajorFrames,
		}})
		s.sendNoisyDiag = false
	} else if !s.ignoreMajorFrame {
		s.sendNoisyDiag = true
	}

	currentSlot := s.currentSlot()

	// How many slots are due, inclusive of the one we were waiting on.
	processCount := 1
	if currentSlot != s.nextSlot {
		if currentSlot > s.nextSlot {
			processCount = currentSlot - s.nextSlot + 1
		} else {
			processCount = s.params.SlotCount - s.nextSlot + currentSlot + 1
		}
	}

	// Collapse single-slot jitter from a wobbly timer: an early wakeup
	// right after a normal one, or a late wakeup that looks like a full
	// frame, are both really one slot.
	switch {
	case processCount == 2 && s.lastProcessCount == 1:
		processCount = 1
		s.lastProcessCount = 2
	case processCount == s.params.SlotCount && s.lastProcessCount != s.params.SlotCount:
		processCount = 1
		s.lastProcessCount = s.params.SlotCount
	default:
		s.lastProcessCount = processCount
	}

	// Current slot one behind the pending slot means the slot clock has
	// not advanced since the last wakeup; do nothing this time.
	if processCount == s.params.SlotCount {
		s.counters.SameSlot++
		processCount = 0
		s.events.Publish(bus.Event{Type: bus.EventSameSlot, Data: map[string]any{
			"slot": s.nextSlot,
		}})
	}

	// Too far behind to replay: jump to the current slot, accounting for
	// the table pass and command hook of any skipped rollover.
	if processCount > s.params.MaxLagCount {
		s.counters.SkippedSlots++
		s.log.Error("slot backlog exceeds lag limit, skipping slots",
			logx.Int("next_slot", s.nextSlot),
			logx.Int("current_slot", currentSlot),
			logx.Int("due", processCount),
			logx.Int("max_lag", s.params.MaxLagCount))
		s.events.Publish(bus.Event{Type: bus.EventSkippedSlots, Data: map[string]any{
			"next_slot":    s.nextSlot,
			"current_slot": currentSlot,
			"skipped":      processCount - 1,
		}})

		if currentSlot < s.nextSlot {
			s.tablePassCount++
		}
		var err error
		if s.nextSlot+processCount > s.params.TimeSyncSlot() {
			err = s.processCommands()
		}
		s.nextSlot = currentSlot
		processCount = 1
		if err != nil {
			return err
		}
	}

	if processCount > s.params.MaxSlotsPerWakeup {
		processCount = s.params.MaxSlotsPerWakeup
	}

	if processCount > 1 {
		s.counters.MultipleSlots++
		if (processCount > s.worstCase || s.sync == syncNone) && s.multiSlotLim.Allow() {
			s.log.Info("processing multiple slots this wakeup",
				logx.Int("count", processCount),
				logx.Int("current_slot", currentSlot),
				logx.String("sync", s.sync.String()))
		}
		s.events.Publish(bus.Event{Type: bus.EventMultiSlots, Data: map[string]any{
			"count":        processCount,
			"current_slot": currentSlot,
		}})
	}

	for processCount > 0 {
		if err := s.processNextSlot(); err != nil {
			return err
		}
		processCount--
	}
	return nil
}

func (s *Scheduler) processCommands() error {
	if s.cmds == nil {
		return nil
	}
	return s.cmds.ProcessCommands()
}
