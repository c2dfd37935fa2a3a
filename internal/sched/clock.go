package sched

// metSlot maps the current MET subseconds into a slot index. One extra
// microsecond is folded into the remainder before the second division so a
// reading that lands one microsecond shy of a boundary rounds up to the
// slot it is about to enter.
//
// Callers must hold s.mu.
func (s *Scheduler) metSlot() int {
	periodUS := s.params.slotPeriodMicros()
	micros := s.clock.SubsecondsToMicros(s.clock.Subseconds())

	slot := micros / periodUS
	remainder := micros - slot*periodUS + 1
	slot += remainder / periodUS

	if int(slot) >= s.params.SlotCount {
		return 0
	}
	return int(slot)
}

// currentSlot is the slot the spacecraft clock says we should be in right
// now. When any MET sync is active the MET slot is rebased onto the slot
// frame established at the last tone (or timer-driven major frame);
// otherwise the minor-frame count since the tone is authoritative.
//
// Callers must hold s.mu.
func (s *Scheduler) currentSlot() int {
	if s.sync == syncNone {
		return s.minorFramesSinceTone
	}
	cur := s.metSlot()
	if cur < s.lastSyncMETSlot {
		cur += s.params.SlotCount - s.lastSyncMETSlot
	} else {
		cur -= s.lastSyncMETSlot
	}
	return cur
}
