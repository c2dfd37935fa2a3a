package sched

import (
	"github.com/iotpi-space/pi-sat/internal/bus"
	"github.com/iotpi-space/pi-sat/internal/table"
	"github.com/iotpi-space/pi-sat/pkg/logx"
)

// processNextSlot dispatches every due activity in the pending slot, runs
// the command hook when the pending slot is the time-sync slot, and
// advances the slot cursor (bumping the table pass count on rollover).
//
// Callers must hold s.mu.
func (s *Scheduler) processNextSlot() error {
	entries := s.schedule.SlotEntries(s.nextSlot)
	for i := range entries {
		e := &entries[i]
		if !e.Enabled {
			continue
		}
		if s.tablePassCount%uint32(e.Period) != uint32(e.Offset) {
			continue
		}
		if err := s.dispatch(*e); err != nil {
			// A failing activity is disabled in place so one bad entry
			// cannot stall the frame. Re-enabling it is a commanded
			// operation.
			e.Enabled = false
			s.counters.ActivityFailure++
			s.log.Error("activity dispatch failed, entry disabled",
				logx.Int("slot", s.nextSlot),
				logx.Int("activity", i),
				logx.Int("msg_index", int(e.MsgIndex)),
				logx.Err(err))
			s.events.Publish(bus.Event{Type: bus.EventActivityFailure, Data: map[string]any{
				"slot":      s.nextSlot,
				"activity":  i,
				"msg_index": int(e.MsgIndex),
				"error":     err.Error(),
			}})
		} else {
			s.counters.ActivitySuccess++
		}
	}

	// Ground commands only run while the time-sync slot executes, so
	// table mutations never race the frame. The hook result is captured
	// before the cursor moves but the slot always completes.
	var err error
	if s.nextSlot == s.params.TimeSyncSlot() {
		err = s.processCommands()
	}

	s.nextSlot++
	if s.nextSlot >= s.params.SlotCount {
		s.nextSlot = 0
		s.tablePassCount++
	}
	s.counters.SlotsProcessed++
	return err
}

func (s *Scheduler) dispatch(e table.Entry) error {
	msg, err := s.messages.Lookup(int(e.MsgIndex))
	if err != nil {
		return err
	}
	return s.tx.Transmit(msg)
}
