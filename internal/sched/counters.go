package sched

// Counters are the cumulative scheduler statistics. They reset through
// ResetCounters and survive table loads.
type Counters struct {
	SlotsProcessed        uint32
	SkippedSlots          uint32
	MultipleSlots         uint32
	SameSlot              uint32
	ActivitySuccess       uint32
	ActivityFailure       uint32
	ValidMajorFrames      uint32
	MissedMajorFrames     uint32
	UnexpectedMajorFrames uint32
}
