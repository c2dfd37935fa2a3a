package sched

// syncState tracks how much of the frame timing is derived from MET rather
// than the external tone.
type syncState uint8

const (
	// syncMinor: minor-frame boundaries are computed from MET (the timer is
	// not accurate enough to be trusted on its own).
	syncMinor syncState = 1 << iota
	// syncMajor: the major-frame boundary has been located in MET (timer
	// driven, no tone arriving).
	syncMajor
	// syncMajorPending: the timer-driven fallback is still searching MET for
	// a major-frame boundary.
	syncMajorPending

	syncNone syncState = 0
)

func (s syncState) minorSynced() bool { return s&syncMinor != 0 }
func (s syncState) majorSynced() bool { return s&syncMajor != 0 }
func (s syncState) majorPending() bool {
	return s&syncMajorPending != 0
}

// minorOnly reports the exact state where the tone drives the major frame
// and only minor frames come from MET.
func (s syncState) minorOnly() bool { return s == syncMinor }

func (s syncState) String() string {
	switch {
	case s == syncNone:
		return "none"
	case s.majorPending():
		return "major-pending"
	case s.majorSynced() && s.minorSynced():
		return "minor+major"
	case s.majorSynced():
		return "major"
	default:
		return "minor"
	}
}

// FrameSource identifies what is currently driving major-frame boundaries.
type FrameSource uint8

const (
	// SourceNone: no major frame signal seen yet.
	SourceNone FrameSource = iota
	// SourceExternal: the external tone drives the major frame.
	SourceExternal
	// SourceMinorTimer: the minor-frame timer drives the major frame
	// (flywheel / tone never arrived).
	SourceMinorTimer
)

func (f FrameSource) String() string {
	switch f {
	case SourceExternal:
		return "external"
	case SourceMinorTimer:
		return "minor-timer"
	default:
		return "none"
	}
}
