package sched

import (
	"github.com/iotpi-space/pi-sat/internal/bus"
	"github.com/iotpi-space/pi-sat/pkg/logx"
)

// OnMinorFrameTick is the minor-frame timer callback. It counts minor
// frames within the major frame, runs the timer-driven MET major-frame
// sync when no tone ever arrived, recovers from uncaught rollovers, and
// releases the wakeup signal for the processing loop.
func (s *Scheduler) OnMinorFrameTick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	// First fire means the startup one-shot expired without a tone: the
	// timer takes over the major frame and starts hunting MET for a
	// second boundary to anchor slot zero.
	if s.frameSource == SourceNone {
		s.frameSource = SourceMinorTimer
		s.sync |= syncMajorPending
		s.syncAttemptsLeft = s.params.MaxSyncAttempts
		s.lastSyncMETSlot = 0
		s.log.Warn("no major frame signal at startup, slaving to MET",
			logx.Int("max_sync_attempts", s.syncAttemptsLeft))
	}

	if s.sync.majorPending() {
		_ = s.timer.Set(s.params.NormalSlotPeriod, s.params.NormalSlotPeriod)
		s.syncAttemptsLeft--

		cur := s.metSlot()
		if cur != 0 && s.syncAttemptsLeft > 0 {
			// Not at a boundary yet; keep hunting without waking the
			// processing loop.
			return
		}

		// Either MET rolled over under us (cur == 0) or we ran out of
		// attempts and accept the current offset as the frame anchor.
		s.sync &^= syncMajorPending
		s.sync |= syncMajor
		s.minorFramesSinceTone = cur
		s.lastSyncMETSlot = 0

		s.log.Info("major frame synchronized to MET",
			logx.Int("slot", cur),
			logx.Int("attempts_left", s.syncAttemptsLeft))
		s.events.Publish(bus.Event{Type: bus.EventMajorFrameSync, Data: map[string]any{
			"slot":          cur,
			"attempts_left": s.syncAttemptsLeft,
		}})
	} else {
		s.minorFramesSinceTone++
	}

	// Uncaught rollover: the extended time-sync wait expired without a
	// tone. Run one short slot to make up the lost time and restart the
	// count.
	if s.minorFramesSinceTone >= s.params.SlotCount {
		_ = s.timer.Set(s.params.ShortSlotPeriod, s.params.NormalSlotPeriod)
		s.minorFramesSinceTone = 0
		s.counters.MissedMajorFrames++
		s.log.Warn("missed major frame signal",
			logx.Uint32("missed_total", s.counters.MissedMajorFrames))
		s.events.Publish(bus.Event{Type: bus.EventMissedMajorFrame, Data: map[string]any{
			"missed_total": s.counters.MissedMajorFrames,
		}})
	}

	// At the time-sync slot, stretch the next wait so an on-time tone
	// arrives first and re-anchors the frame.
	if s.minorFramesSinceTone == s.params.TimeSyncSlot() {
		_ = s.timer.Set(s.params.SyncSlotPeriod, 0)
	}

	s.wakeup.Release()
}
