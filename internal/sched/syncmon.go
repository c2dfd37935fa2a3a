package sched

import "github.com/iotpi-space/pi-sat/pkg/logx"

// OnMajorFrameTone handles the 1 Hz major frame signal. It classifies the
// tone as clean or noisy, latches IgnoreMajorFrame after too many
// consecutive noisy tones, and (while tones are trusted) re-arms the
// minor-frame timer and rewinds the slot frame to zero.
//
// Safe to call from the tone receiver goroutine.
func (s *Scheduler) OnMajorFrameTone() {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A flywheeling mission clock makes tone arrival times meaningless;
	// don't let them feed the noisy classifier.
	if !s.clock.Flywheeling() {
		if s.noisyTone() {
			s.unexpectedMajorFrame = true
			s.counters.UnexpectedMajorFrames++

			if !s.ignoreMajorFrame {
				s.consecutiveNoisy++
				if s.consecutiveNoisy >= s.params.NoisyMajorFrameLimit {
					s.ignoreMajorFrame = true
					s.log.Error("major frame signal too noisy, ignoring tones",
						logx.Int("consecutive_noisy", s.consecutiveNoisy),
						logx.Int("next_slot", s.nextSlot))
				}
			}
		} else {
			s.unexpectedMajorFrame = false
			s.consecutiveNoisy = 0
		}

		if !s.ignoreMajorFrame {
			_ = s.timer.Set(s.params.NormalSlotPeriod, s.params.NormalSlotPeriod)
			s.counters.ValidMajorFrames++
			s.minorFramesSinceTone = 0
			s.frameSource = SourceExternal

			// The tone now owns the major frame; drop any MET-derived
			// major sync but keep minor sync if the timer demanded it.
			s.sync &= syncMinor

			s.wakeup.Release()
		}
	}

	// Remember where MET stood at the tone so MET-derived slots can be
	// rebased onto the tone's frame.
	s.lastSyncMETSlot = s.metSlot()
}

// noisyTone classifies the tone that just arrived against where the slot
// frame currently stands. Callers must hold s.mu.
func (s *Scheduler) noisyTone() bool {
	// Timer-driven frame: the tone should land while the time-sync slot
	// is the one being counted.
	if s.sync == syncNone && s.minorFramesSinceTone != s.params.TimeSyncSlot() {
		return true
	}
	// MET-driven minor frames: the tone should land at rollover, give or
	// take the timer's worst-case wobble.
	if s.sync.minorOnly() &&
		s.nextSlot != 0 &&
		s.nextSlot < s.params.SlotCount-s.worstCase-1 {
		return true
	}
	return false
}
