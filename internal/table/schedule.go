// Package table holds the scheduler's two working tables: the schedule table
// (slots of periodic activity entries) and the message table (pre-built
// outgoing message buffers the activities reference by index).
//
// Neither table synchronizes itself; the scheduler core owns both and guards
// all access with its own mutex.
package table

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("table: entry not found")
	ErrOutOfRange = errors.New("table: index out of range")
)

// Entry is a single schedule table activity.
//
// An enabled entry fires on table passes where pass mod Period == Offset.
// The Offset < Period invariant is enforced at every point an entry can
// become enabled; the executor relies on it (Period is the modulus).
type Entry struct {
	Enabled  bool   `json:"enabled"`
	Period   uint16 `json:"period"`
	Offset   uint16 `json:"offset"`
	MsgIndex uint16 `json:"msg_index"`
}

// Validate checks the entry invariants. maxMsgIndex <= 0 skips the message
// index range check.
func (e Entry) Validate(maxMsgIndex int) error {
	if e.Period < 1 {
		return fmt.Errorf("table: period %d must be >= 1", e.Period)
	}
	if e.Offset >= e.Period {
		return fmt.Errorf("table: offset %d must be < period %d", e.Offset, e.Period)
	}
	if maxMsgIndex > 0 && int(e.MsgIndex) >= maxMsgIndex {
		return fmt.Errorf("table: msg index %d out of range [0,%d)", e.MsgIndex, maxMsgIndex)
	}
	return nil
}

// ScheduleTable is a fixed Slots x ActivitiesPerSlot grid of entries stored
// as a flat slice indexed by Index().
type ScheduleTable struct {
	slots   int
	perSlot int
	entries []Entry
}

func NewScheduleTable(slots, activitiesPerSlot int) (*ScheduleTable, error) {
	if slots < 2 {
		return nil, fmt.Errorf("table: slot count %d must be >= 2", slots)
	}
	if activitiesPerSlot < 1 {
		return nil, fmt.Errorf("table: activities per slot %d must be >= 1", activitiesPerSlot)
	}
	return &ScheduleTable{
		slots:   slots,
		perSlot: activitiesPerSlot,
		entries: make([]Entry, slots*activitiesPerSlot),
	}, nil
}

func (t *ScheduleTable) Slots() int             { return t.slots }
func (t *ScheduleTable) ActivitiesPerSlot() int { return t.perSlot }

// Index maps (slot, activity) to the flat entry index: slot*perSlot + activity.
func (t *ScheduleTable) Index(slot, activity int) (int, error) {
	if slot < 0 || slot >= t.slots {
		return 0, fmt.Errorf("%w: slot %d not in [0,%d)", ErrOutOfRange, slot, t.slots)
	}
	if activity < 0 || activity >= t.perSlot {
		return 0, fmt.Errorf("%w: activity %d not in [0,%d)", ErrOutOfRange, activity, t.perSlot)
	}
	return slot*t.perSlot + activity, nil
}

func (t *ScheduleTable) Entry(slot, activity int) (Entry, error) {
	i, err := t.Index(slot, activity)
	if err != nil {
		return Entry{}, err
	}
	return t.entries[i], nil
}

func (t *ScheduleTable) SetEntry(slot, activity int, e Entry) error {
	i, err := t.Index(slot, activity)
	if err != nil {
		return err
	}
	t.entries[i] = e
	return nil
}

// SlotEntries returns the mutable activity row for a slot. The executor uses
// it to clear Enabled on dispatch failure. The caller must hold the
// scheduler lock and must not retain the slice.
func (t *ScheduleTable) SlotEntries(slot int) []Entry {
	start := slot * t.perSlot
	return t.entries[start : start+t.perSlot]
}

// SlotView returns a copy of a slot's activity row for diagnostics.
func (t *ScheduleTable) SlotView(slot int) ([]Entry, error) {
	if slot < 0 || slot >= t.slots {
		return nil, fmt.Errorf("%w: slot %d not in [0,%d)", ErrOutOfRange, slot, t.slots)
	}
	row := t.SlotEntries(slot)
	out := make([]Entry, len(row))
	copy(out, row)
	return out, nil
}
