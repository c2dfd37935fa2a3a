package sched

import (
	"fmt"

	"github.com/iotpi-space/pi-sat/internal/bus"
	"github.com/iotpi-space/pi-sat/internal/table"
	"github.com/iotpi-space/pi-sat/pkg/logx"
)

// Commanded table operations. Each one takes the scheduler lock, so table
// mutations are serialized against slot execution and a slot never
// observes a half-applied change.

// LoadScheduleEntry replaces one activity definition. The entry is
// validated against the message table before it can take effect.
func (s *Scheduler) LoadScheduleEntry(slot, activity int, e table.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := e.Validate(s.messages.Len()); err != nil {
		return err
	}
	if err := s.schedule.SetEntry(slot, activity, e); err != nil {
		return err
	}

	s.log.Info("schedule entry loaded",
		logx.Int("slot", slot),
		logx.Int("activity", activity),
		logx.Bool("enabled", e.Enabled),
		logx.Int("period", int(e.Period)),
		logx.Int("offset", int(e.Offset)),
		logx.Int("msg_index", int(e.MsgIndex)))
	s.publishTableMutation("schedule_entry", slot, activity)
	return nil
}

// SetEntryEnabled flips one entry's enable flag. Enabling re-validates the
// entry so a definition that was disabled for cause (or never valid)
// cannot be switched on as-is.
func (s *Scheduler) SetEntryEnabled(slot, activity int, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.schedule.Entry(slot, activity)
	if err != nil {
		return err
	}
	if enabled {
		if err := e.Validate(s.messages.Len()); err != nil {
			return fmt.Errorf("sched: refusing to enable entry: %w", err)
		}
	}
	e.Enabled = enabled
	if err := s.schedule.SetEntry(slot, activity, e); err != nil {
		return err
	}

	s.log.Info("schedule entry enable changed",
		logx.Int("slot", slot),
		logx.Int("activity", activity),
		logx.Bool("enabled", enabled))
	s.publishTableMutation("entry_enable", slot, activity)
	return nil
}

// LoadMessageEntry replaces one message definition.
func (s *Scheduler) LoadMessageEntry(index int, m table.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.messages.Load(index, m); err != nil {
		return err
	}

	s.log.Info("message entry loaded",
		logx.Int("index", index),
		logx.Int("apid", int(m.APID())),
		logx.Int("len", m.Len()))
	s.publishTableMutation("message_entry", index, -1)
	return nil
}

// ReplaceTables swaps in whole new tables, typically loaded from files.
// The new schedule must keep the frame geometry the scheduler was built
// with; slot position and pass count are untouched.
func (s *Scheduler) ReplaceTables(schedule *table.ScheduleTable, messages *table.MessageTable) error {
	if schedule == nil || messages == nil {
		return fmt.Errorf("sched: nil table")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if schedule.Slots() != s.params.SlotCount || schedule.ActivitiesPerSlot() != s.params.ActivitiesPerSlot {
		return fmt.Errorf("sched: schedule geometry %dx%d does not match %dx%d",
			schedule.Slots(), schedule.ActivitiesPerSlot(),
			s.params.SlotCount, s.params.ActivitiesPerSlot)
	}
	s.schedule = schedule
	s.messages = messages

	s.log.Info("tables replaced",
		logx.Int("slots", schedule.Slots()),
		logx.Int("activities_per_slot", schedule.ActivitiesPerSlot()),
		logx.Int("messages", messages.Len()))
	s.publishTableMutation("tables", -1, -1)
	return nil
}

// ScheduleEntry returns a copy of one activity definition.
func (s *Scheduler) ScheduleEntry(slot, activity int) (table.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule.Entry(slot, activity)
}

// SlotActivities returns a copy of one slot's activity row.
func (s *Scheduler) SlotActivities(slot int) ([]table.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule.SlotView(slot)
}

// MessageCount returns the message table size.
func (s *Scheduler) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages.Len()
}

func (s *Scheduler) publishTableMutation(kind string, slot, activity int) {
	s.events.Publish(bus.Event{Type: bus.EventTableMutation, Data: map[string]any{
		"kind":     kind,
		"slot":     slot,
		"activity": activity,
	}})
}
