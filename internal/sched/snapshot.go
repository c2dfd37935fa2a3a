package sched

// Snapshot is a point-in-time copy of scheduler state and statistics, used
// by telemetry and housekeeping. Fields marshal to JSON for the diag
// endpoint and the snapshot store.
type Snapshot struct {
	Sync                 string      `json:"sync"`
	FrameSource          FrameSource `json:"-"`
	FrameSourceName      string      `json:"frame_source"`
	NextSlot             int         `json:"next_slot"`
	MinorFramesSinceTone int         `json:"minor_frames_since_tone"`
	LastSyncMETSlot      int         `json:"last_sync_met_slot"`
	SyncAttemptsLeft     int         `json:"sync_attempts_left"`
	TablePassCount       uint32      `json:"table_pass_count"`
	LastProcessCount     int         `json:"last_process_count"`
	WorstCaseSlots       int         `json:"worst_case_slots_per_wakeup"`
	IgnoreMajorFrame     bool        `json:"ignore_major_frame"`
	UnexpectedMajorFrame bool        `json:"unexpected_major_frame"`
	ConsecutiveNoisy     int         `json:"consecutive_noisy"`
	Flywheeling          bool        `json:"flywheeling"`
	Counters             Counters    `json:"counters"`
}

// Snapshot copies out the current state under the scheduler lock.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		Sync:                 s.sync.String(),
		FrameSource:          s.frameSource,
		FrameSourceName:      s.frameSource.String(),
		NextSlot:             s.nextSlot,
		MinorFramesSinceTone: s.minorFramesSinceTone,
		LastSyncMETSlot:      s.lastSyncMETSlot,
		SyncAttemptsLeft:     s.syncAttemptsLeft,
		TablePassCount:       s.tablePassCount,
		LastProcessCount:     s.lastProcessCount,
		WorstCaseSlots:       s.worstCase,
		IgnoreMajorFrame:     s.ignoreMajorFrame,
		UnexpectedMajorFrame: s.unexpectedMajorFrame,
		ConsecutiveNoisy:     s.consecutiveNoisy,
		Flywheeling:          s.clock.Flywheeling(),
		Counters:             s.counters,
	}
}
