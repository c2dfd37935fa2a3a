package sched

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/iotpi-space/pi-sat/internal/bus"
	"github.com/iotpi-space/pi-sat/internal/table"
	"github.com/iotpi-space/pi-sat/pkg/logx"
)

// ---- fakes ----

// fakeClock reports whatever slot-time the test sets. It uses an identity
// subseconds-to-micros mapping so tests think directly in microseconds.
type fakeClock struct {
	mu     sync.Mutex
	micros uint32
	fly    bool
}

func (f *fakeClock) Subseconds() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.micros
}
func (f *fakeClock) SubsecondsToMicros(sub uint32) uint32 { return sub }
func (f *fakeClock) Flywheeling() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fly
}
func (f *fakeClock) setMicros(us uint32) {
	f.mu.Lock()
	f.micros = us
	f.mu.Unlock()
}

type timerCall struct {
	initial time.Duration
	period  time.Duration
}

type fakeTimer struct {
	mu       sync.Mutex
	accuracy time.Duration
	calls    []timerCall
}

func (f *fakeTimer) Set(initial, period time.Duration) error {
	f.mu.Lock()
	f.calls = append(f.calls, timerCall{initial, period})
	f.mu.Unlock()
	return nil
}
func (f *fakeTimer) Accuracy() time.Duration { return f.accuracy }
func (f *fakeTimer) Stop()                   {}
func (f *fakeTimer) lastCall() timerCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return timerCall{}
	}
	return f.calls[len(f.calls)-1]
}

// readyWakeup never blocks, so tests drive RunOneWakeup directly.
type readyWakeup struct{}

func (readyWakeup) Release()                       {}
func (readyWakeup) Wait(ctx context.Context) error { return ctx.Err() }

type fakeTx struct {
	mu       sync.Mutex
	sent     []uint16 // APIDs in dispatch order
	failAPID uint16
	failErr  error
}

func (f *fakeTx) Transmit(m table.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil && m.APID() == f.failAPID {
		return f.failErr
	}
	f.sent = append(f.sent, m.APID())
	return nil
}

func (f *fakeTx) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeCmds struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeCmds) ProcessCommands() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeCmds) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// ---- harness ----

type fixture struct {
	s     *Scheduler
	clock *fakeClock
	timer *fakeTimer
	tx    *fakeTx
	cmds  *fakeCmds
}

func newFixture(t *testing.T, p Params) *fixture {
	t.Helper()

	p = p.Normalized()
	schedule, err := table.NewScheduleTable(p.SlotCount, p.ActivitiesPerSlot)
	if err != nil {
		t.Fatalf("NewScheduleTable: %v", err)
	}
	messages, err := table.NewMessageTable(16)
	if err != nil {
		t.Fatalf("NewMessageTable: %v", err)
	}
	for i := 0; i < 8; i++ {
		m, err := table.NewMessage(uint16(0x100+i), []byte{0xAA, byte(i)})
		if err != nil {
			t.Fatalf("NewMessage: %v", err)
		}
		if err := messages.Load(i, m); err != nil {
			t.Fatalf("Load message: %v", err)
		}
	}

	clock := &fakeClock{}
	timer := &fakeTimer{accuracy: time.Microsecond}
	tx := &fakeTx{}
	cmds := &fakeCmds{}

	s, err := New(p, schedule, messages, Deps{
		Log:    logx.Nop(),
		Clock:  clock,
		Wakeup: readyWakeup{},
		NewTimer: func(cb func()) (Timer, error) {
			return timer, nil
		},
		Transmitter: tx,
		Commands:    cmds,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{s: s, clock: clock, timer: timer, tx: tx, cmds: cmds}
}

// enable installs an always-firing entry so slot execution is observable.
func (f *fixture) enable(t *testing.T, slot, activity, msgIndex int) {
	t.Helper()
	err := f.s.LoadScheduleEntry(slot, activity, table.Entry{
		Enabled:  true,
		Period:   1,
		Offset:   0,
		MsgIndex: uint16(msgIndex),
	})
	if err != nil {
		t.Fatalf("LoadScheduleEntry(%d,%d): %v", slot, activity, err)
	}
}

func (f *fixture) runOne(t *testing.T) {
	t.Helper()
	if err := f.s.RunOneWakeup(context.Background()); err != nil {
		t.Fatalf("RunOneWakeup: %v", err)
	}
}

// ---- wakeup reconciliation ----

func TestWakeupCatchUp(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Params{SlotCount: 100})

	f.s.mu.Lock()
	f.s.nextSlot = 5
	f.s.minorFramesSinceTone = 7
	f.s.lastProcessCount = 3 // keep the jitter filter out of the way
	f.s.mu.Unlock()

	f.runOne(t)

	snap := f.s.Snapshot()
	if snap.Counters.SlotsProcessed != 3 {
		t.Fatalf("SlotsProcessed = %d, want 3", snap.Counters.SlotsProcessed)
	}
	if snap.NextSlot != 8 {
		t.Fatalf("NextSlot = %d, want 8", snap.NextSlot)
	}
	if snap.Counters.MultipleSlots != 1 {
		t.Fatalf("MultipleSlots = %d, want 1", snap.Counters.MultipleSlots)
	}
}

func TestWakeupRolloverCatchUp(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Params{SlotCount: 100})

	f.s.mu.Lock()
	f.s.nextSlot = 98
	f.s.minorFramesSinceTone = 1
	f.s.lastProcessCount = 3
	f.s.mu.Unlock()

	f.runOne(t)

	snap := f.s.Snapshot()
	if snap.Counters.SlotsProcessed != 4 {
		t.Fatalf("SlotsProcessed = %d, want 4 (98,99,0,1)", snap.Counters.SlotsProcessed)
	}
	if snap.NextSlot != 2 {
		t.Fatalf("NextSlot = %d, want 2", snap.NextSlot)
	}
	if snap.TablePassCount != 1 {
		t.Fatalf("TablePassCount = %d, want 1", snap.TablePassCount)
	}
	// Slot 99 is the time-sync slot; the command hook must have run once.
	if got := f.cmds.count(); got != 1 {
		t.Fatalf("command hook calls = %d, want 1", got)
	}
}

func TestEarlyWakeupJitterCollapses(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Params{SlotCount: 100})

	f.s.mu.Lock()
	f.s.nextSlot = 5
	f.s.minorFramesSinceTone = 6
	f.s.lastProcessCount = 1
	f.s.mu.Unlock()

	f.runOne(t)

	snap := f.s.Snapshot()
	if snap.Counters.SlotsProcessed != 1 {
		t.Fatalf("SlotsProcessed = %d, want 1", snap.Counters.SlotsProcessed)
	}
	if snap.NextSlot != 6 {
		t.Fatalf("NextSlot = %d, want 6", snap.NextSlot)
	}
	if snap.LastProcessCount != 2 {
		t.Fatalf("LastProcessCount = %d, want 2 (pre-collapse value recorded)", snap.LastProcessCount)
	}
	if snap.Counters.MultipleSlots != 0 {
		t.Fatalf("MultipleSlots = %d, want 0", snap.Counters.MultipleSlots)
	}
}

func TestLateWakeupThenSameSlot(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Params{SlotCount: 10, MaxSlotsPerWakeup: 5})

	// First wakeup: current slot is one behind pending, which computes to a
	// full frame. With a normal previous wakeup this collapses to one slot.
	f.s.mu.Lock()
	f.s.nextSlot = 5
	f.s.minorFramesSinceTone = 4
	f.s.lastProcessCount = 1
	f.s.mu.Unlock()

	f.runOne(t)

	snap := f.s.Snapshot()
	if snap.Counters.SlotsProcessed != 1 || snap.NextSlot != 6 {
		t.Fatalf("after collapse: processed=%d next=%d, want 1 and 6",
			snap.Counters.SlotsProcessed, snap.NextSlot)
	}

	// Second wakeup with the slot clock still one behind: the slot clock
	// has not advanced, so nothing runs.
	f.s.mu.Lock()
	f.s.minorFramesSinceTone = 5
	f.s.mu.Unlock()

	f.runOne(t)

	snap = f.s.Snapshot()
	if snap.Counters.SameSlot != 1 {
		t.Fatalf("SameSlot = %d, want 1", snap.Counters.SameSlot)
	}
	if snap.Counters.SlotsProcessed != 1 {
		t.Fatalf("SlotsProcessed = %d, want still 1", snap.Counters.SlotsProcessed)
	}
	if snap.NextSlot != 6 {
		t.Fatalf("NextSlot = %d, want still 6", snap.NextSlot)
	}
}

func TestLagLimitJumpsForward(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Params{SlotCount: 100, MaxLagCount: 50})

	f.s.mu.Lock()
	f.s.nextSlot = 10
	f.s.minorFramesSinceTone = 90
	f.s.lastProcessCount = 3
	f.s.mu.Unlock()

	f.runOne(t)

	snap := f.s.Snapshot()
	if snap.Counters.SkippedSlots != 1 {
		t.Fatalf("SkippedSlots = %d, want 1", snap.Counters.SkippedSlots)
	}
	if snap.Counters.SlotsProcessed != 1 {
		t.Fatalf("SlotsProcessed = %d, want 1 (only the current slot)", snap.Counters.SlotsProcessed)
	}
	if snap.NextSlot != 91 {
		t.Fatalf("NextSlot = %d, want 91", snap.NextSlot)
	}
	if snap.TablePassCount != 0 {
		t.Fatalf("TablePassCount = %d, want 0 (no rollover skipped)", snap.TablePassCount)
	}
}

func TestLagLimitAcrossRollover(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Params{SlotCount: 100, MaxLagCount: 50})

	f.s.mu.Lock()
	f.s.nextSlot = 95
	f.s.minorFramesSinceTone = 60
	f.s.lastProcessCount = 3
	f.s.mu.Unlock()

	f.runOne(t)

	snap := f.s.Snapshot()
	if snap.TablePassCount != 1 {
		t.Fatalf("TablePassCount = %d, want 1 (skipped rollover counts a pass)", snap.TablePassCount)
	}
	// The skip crossed the time-sync slot, so commands ran even though the
	// slot itself never executed.
	if got := f.cmds.count(); got != 1 {
		t.Fatalf("command hook calls = %d, want 1", got)
	}
	if snap.NextSlot != 61 {
		t.Fatalf("NextSlot = %d, want 61", snap.NextSlot)
	}
}

func TestThroughputCap(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Params{SlotCount: 100, MaxSlotsPerWakeup: 5})

	f.s.mu.Lock()
	f.s.nextSlot = 0
	f.s.minorFramesSinceTone = 8
	f.s.lastProcessCount = 3
	f.s.mu.Unlock()

	f.runOne(t)

	snap := f.s.Snapshot()
	if snap.Counters.SlotsProcessed != 5 {
		t.Fatalf("SlotsProcessed = %d, want 5 (capped)", snap.Counters.SlotsProcessed)
	}
	if snap.NextSlot != 5 {
		t.Fatalf("NextSlot = %d, want 5", snap.NextSlot)
	}
}

// ---- slot execution ----

func TestPeriodOffsetFiring(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Params{SlotCount: 2, ActivitiesPerSlot: 1, MaxLagCount: 1})

	if err := f.s.LoadScheduleEntry(0, 0, table.Entry{
		Enabled: true, Period: 4, Offset: 1, MsgIndex: 3,
	}); err != nil {
		t.Fatalf("LoadScheduleEntry: %v", err)
	}

	// Drive 20 full table passes directly through the executor.
	f.s.mu.Lock()
	for i := 0; i < 40; i++ {
		if err := f.s.processNextSlot(); err != nil {
			f.s.mu.Unlock()
			t.Fatalf("processNextSlot: %v", err)
		}
	}
	f.s.mu.Unlock()

	// Passes 1, 5, 9, 13, 17 satisfy pass mod 4 == 1.
	if got := f.tx.sentCount(); got != 5 {
		t.Fatalf("dispatches = %d, want 5", got)
	}
	snap := f.s.Snapshot()
	if snap.TablePassCount != 20 {
		t.Fatalf("TablePassCount = %d, want 20", snap.TablePassCount)
	}
}

func TestDispatchFailureDisablesOnlyThatEntry(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Params{SlotCount: 10})

	f.enable(t, 0, 0, 2) // APID 0x102, will fail
	f.enable(t, 0, 1, 5) // APID 0x105, healthy
	f.tx.failAPID = 0x102
	f.tx.failErr = errors.New("downlink saturated")

	f.s.mu.Lock()
	if err := f.s.processNextSlot(); err != nil {
		f.s.mu.Unlock()
		t.Fatalf("processNextSlot: %v", err)
	}
	f.s.mu.Unlock()

	snap := f.s.Snapshot()
	if snap.Counters.ActivityFailure != 1 || snap.Counters.ActivitySuccess != 1 {
		t.Fatalf("failure=%d success=%d, want 1 and 1",
			snap.Counters.ActivityFailure, snap.Counters.ActivitySuccess)
	}

	e, err := f.s.ScheduleEntry(0, 0)
	if err != nil {
		t.Fatalf("ScheduleEntry: %v", err)
	}
	if e.Enabled {
		t.Fatal("failing entry should be disabled")
	}
	healthy, err := f.s.ScheduleEntry(0, 1)
	if err != nil {
		t.Fatalf("ScheduleEntry: %v", err)
	}
	if !healthy.Enabled {
		t.Fatal("healthy entry must stay enabled")
	}
}

// ---- major frame handling ----

func TestNoisyMajorFrameLatch(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Params{SlotCount: 100, NoisyMajorFrameLimit: 2})

	// sync==none: a tone is clean only while the time-sync slot is counted.
	f.s.mu.Lock()
	f.s.minorFramesSinceTone = 17
	f.s.mu.Unlock()

	f.s.OnMajorFrameTone() // noisy 1, still acted on
	f.s.OnMajorFrameTone() // noisy 2 (count now 0 != 99), latches

	snap := f.s.Snapshot()
	if !snap.IgnoreMajorFrame {
		t.Fatal("IgnoreMajorFrame should be latched after two noisy tones")
	}
	if snap.Counters.UnexpectedMajorFrames != 2 {
		t.Fatalf("UnexpectedMajorFrames = %d, want 2", snap.Counters.UnexpectedMajorFrames)
	}
	// The first noisy tone was still acted on; the latching tone was not.
	if snap.Counters.ValidMajorFrames != 1 {
		t.Fatalf("ValidMajorFrames = %d, want 1", snap.Counters.ValidMajorFrames)
	}

	// Once latched, tones stop resetting the frame.
	f.s.OnMajorFrameTone()
	snap = f.s.Snapshot()
	if snap.Counters.ValidMajorFrames != 1 {
		t.Fatalf("ValidMajorFrames = %d, want still 1", snap.Counters.ValidMajorFrames)
	}
	if snap.Counters.UnexpectedMajorFrames != 3 {
		t.Fatalf("UnexpectedMajorFrames = %d, want 3", snap.Counters.UnexpectedMajorFrames)
	}

	// Counter reset clears the latch.
	f.s.ResetCounters()
	snap = f.s.Snapshot()
	if snap.IgnoreMajorFrame {
		t.Fatal("ResetCounters must clear the ignore latch")
	}
}

func TestStartupToneIsClean(t *testing.T) {
	t.Parallel()
	// Limit 1 so a single misclassified tone would latch immediately.
	f := newFixture(t, Params{SlotCount: 100, NoisyMajorFrameLimit: 1})

	if err := f.s.StartTimers(); err != nil {
		t.Fatalf("StartTimers: %v", err)
	}
	f.s.OnMajorFrameTone()

	snap := f.s.Snapshot()
	if snap.Counters.UnexpectedMajorFrames != 0 {
		t.Fatalf("UnexpectedMajorFrames = %d, want 0 for the first tone after boot",
			snap.Counters.UnexpectedMajorFrames)
	}
	if snap.Counters.ValidMajorFrames != 1 {
		t.Fatalf("ValidMajorFrames = %d, want 1", snap.Counters.ValidMajorFrames)
	}
	if snap.ConsecutiveNoisy != 0 {
		t.Fatalf("ConsecutiveNoisy = %d, want 0", snap.ConsecutiveNoisy)
	}
	if snap.IgnoreMajorFrame {
		t.Fatal("a clean startup tone must not latch IgnoreMajorFrame")
	}
	if snap.FrameSource != SourceExternal {
		t.Fatalf("FrameSource = %v, want external", snap.FrameSource)
	}
}

func TestNoisyDiagOncePerEpisode(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Params{SlotCount: 100, NoisyMajorFrameLimit: 2})

	b := bus.New()
	ch, unsub := b.Subscribe(32)
	defer unsub()
	f.s.events = b

	drainNoisy := func() int {
		n := 0
		for {
			select {
			case e := <-ch:
				if e.Type == bus.EventNoisyMajorFrame {
					n++
				}
			default:
				return n
			}
		}
	}
	noisyTone := func() {
		f.s.mu.Lock()
		f.s.minorFramesSinceTone = 17
		f.s.mu.Unlock()
		f.s.OnMajorFrameTone()
	}

	// A noisy tone below the latch limit carries no diagnostic.
	noisyTone()
	f.runOne(t)
	if got := drainNoisy(); got != 0 {
		t.Fatalf("diagnostics before the latch = %d, want 0", got)
	}

	// The latching tone does, exactly once, on the next wakeup.
	noisyTone()
	f.runOne(t)
	if got := drainNoisy(); got != 1 {
		t.Fatalf("diagnostics after the latch = %d, want 1", got)
	}
	f.runOne(t)
	if got := drainNoisy(); got != 0 {
		t.Fatalf("repeat diagnostics while latched = %d, want 0", got)
	}

	// A clean tone slipping through while latched must not re-arm it.
	f.s.mu.Lock()
	f.s.minorFramesSinceTone = 99
	f.s.mu.Unlock()
	f.s.OnMajorFrameTone()
	f.runOne(t)
	if got := drainNoisy(); got != 0 {
		t.Fatalf("diagnostics after a clean tone while latched = %d, want 0", got)
	}

	// Clearing the latch re-arms the diagnostic for the next episode.
	f.s.ResetCounters()
	noisyTone()
	noisyTone()
	f.runOne(t)
	if got := drainNoisy(); got != 1 {
		t.Fatalf("diagnostics after a fresh episode = %d, want 1", got)
	}
}

func TestCleanToneResetsFrame(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Params{SlotCount: 100})

	f.s.mu.Lock()
	f.s.minorFramesSinceTone = 99 // the time-sync slot: tone expected here
	f.s.mu.Unlock()

	f.s.OnMajorFrameTone()

	snap := f.s.Snapshot()
	if snap.Counters.UnexpectedMajorFrames != 0 {
		t.Fatalf("UnexpectedMajorFrames = %d, want 0", snap.Counters.UnexpectedMajorFrames)
	}
	if snap.Counters.ValidMajorFrames != 1 {
		t.Fatalf("ValidMajorFrames = %d, want 1", snap.Counters.ValidMajorFrames)
	}
	if snap.MinorFramesSinceTone != 0 {
		t.Fatalf("MinorFramesSinceTone = %d, want 0", snap.MinorFramesSinceTone)
	}
	if snap.FrameSource != SourceExternal {
		t.Fatalf("FrameSource = %v, want external", snap.FrameSource)
	}
	if call := f.timer.lastCall(); call.period == 0 {
		t.Fatal("tone should re-arm the periodic minor-frame timer")
	}
}

func TestFlywheelingToneIgnoredForClassification(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Params{SlotCount: 100})

	f.clock.mu.Lock()
	f.clock.fly = true
	f.clock.mu.Unlock()

	f.s.mu.Lock()
	f.s.minorFramesSinceTone = 17 // would be noisy if classified
	f.s.mu.Unlock()

	f.s.OnMajorFrameTone()

	snap := f.s.Snapshot()
	if snap.Counters.UnexpectedMajorFrames != 0 || snap.Counters.ValidMajorFrames != 0 {
		t.Fatalf("flywheeling tone must not be classified: unexpected=%d valid=%d",
			snap.Counters.UnexpectedMajorFrames, snap.Counters.ValidMajorFrames)
	}
}

// ---- minor frame handling ----

func TestTimerDrivenMajorFrameSync(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Params{SlotCount: 100, NormalSlotPeriod: 10 * time.Millisecond, MaxSyncAttempts: 100})

	// First tick with no tone ever seen: the fallback starts hunting MET.
	f.clock.setMicros(55_000) // mid-frame, slot 5
	f.s.OnMinorFrameTick()

	snap := f.s.Snapshot()
	if snap.FrameSource != SourceMinorTimer {
		t.Fatalf("FrameSource = %v, want minor-timer", snap.FrameSource)
	}
	if snap.Sync != "major-pending" {
		t.Fatalf("Sync = %q, want major-pending", snap.Sync)
	}

	// MET reaches the top of the frame: sync completes.
	f.clock.setMicros(0)
	f.s.OnMinorFrameTick()

	snap = f.s.Snapshot()
	if snap.Sync != "major" {
		t.Fatalf("Sync = %q, want major", snap.Sync)
	}
	if snap.MinorFramesSinceTone != 0 {
		t.Fatalf("MinorFramesSinceTone = %d, want 0", snap.MinorFramesSinceTone)
	}
}

func TestMissedMajorFrameRollover(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Params{
		SlotCount:        100,
		NormalSlotPeriod: 10 * time.Millisecond,
		ShortSlotPeriod:  5 * time.Millisecond,
	})

	// A tone has been seen before; the count then ran past the frame end.
	f.s.mu.Lock()
	f.s.frameSource = SourceExternal
	f.s.minorFramesSinceTone = 99
	f.s.mu.Unlock()

	f.s.OnMinorFrameTick()

	snap := f.s.Snapshot()
	if snap.Counters.MissedMajorFrames != 1 {
		t.Fatalf("MissedMajorFrames = %d, want 1", snap.Counters.MissedMajorFrames)
	}
	if snap.MinorFramesSinceTone != 0 {
		t.Fatalf("MinorFramesSinceTone = %d, want 0 after rollover", snap.MinorFramesSinceTone)
	}
	call := f.timer.lastCall()
	if call.initial != 5*time.Millisecond || call.period != 10*time.Millisecond {
		t.Fatalf("timer = %+v, want short make-up slot then nominal period", call)
	}
}

// ---- MET slot arithmetic ----

func TestMETSlotRounding(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Params{SlotCount: 100, NormalSlotPeriod: 10 * time.Millisecond})

	tests := []struct {
		name   string
		micros uint32
		want   int
	}{
		{name: "top of second", micros: 0, want: 0},
		{name: "mid slot", micros: 5_000, want: 0},
		{name: "one micro early rounds up", micros: 9_999, want: 1},
		{name: "two micros early stays", micros: 9_998, want: 0},
		{name: "exact boundary", micros: 10_000, want: 1},
		{name: "last slot", micros: 995_000, want: 99},
		{name: "one micro before rollover wraps", micros: 999_999, want: 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			f.clock.setMicros(tt.micros)
			f.s.mu.Lock()
			got := f.s.metSlot()
			f.s.mu.Unlock()
			if got != tt.want {
				t.Fatalf("metSlot(%dus) = %d, want %d", tt.micros, got, tt.want)
			}
		})
	}
}

func TestCurrentSlotRebasesOnLastSync(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Params{SlotCount: 100, NormalSlotPeriod: 10 * time.Millisecond})

	f.s.mu.Lock()
	f.s.sync = syncMinor
	f.s.lastSyncMETSlot = 97
	f.s.mu.Unlock()

	// MET slot 2 with the frame anchored at MET slot 97 is frame slot 5.
	f.clock.setMicros(20_000)
	f.s.mu.Lock()
	got := f.s.currentSlot()
	f.s.mu.Unlock()
	if got != 5 {
		t.Fatalf("currentSlot = %d, want 5", got)
	}
}

// ---- construction and counters ----

func TestCoarseTimerForcesMinorSync(t *testing.T) {
	t.Parallel()

	p := Params{SlotCount: 100, NormalSlotPeriod: 10 * time.Millisecond, WorstClockAccuracy: 2 * time.Millisecond}.Normalized()
	schedule, _ := table.NewScheduleTable(p.SlotCount, p.ActivitiesPerSlot)
	messages, _ := table.NewMessageTable(4)
	timer := &fakeTimer{accuracy: 30 * time.Millisecond}

	s, err := New(p, schedule, messages, Deps{
		Log:    logx.Nop(),
		Clock:  &fakeClock{},
		Wakeup: readyWakeup{},
		NewTimer: func(cb func()) (Timer, error) {
			return timer, nil
		},
		Transmitter: &fakeTx{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	snap := s.Snapshot()
	if snap.Sync != "minor" {
		t.Fatalf("Sync = %q, want minor (coarse timer)", snap.Sync)
	}
	// (30ms * 2) / 10ms + 1 = 7
	if snap.WorstCaseSlots != 7 {
		t.Fatalf("WorstCaseSlots = %d, want 7", snap.WorstCaseSlots)
	}
}

func TestResetCountersPreservesPhase(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Params{SlotCount: 100})

	f.s.mu.Lock()
	f.s.nextSlot = 42
	f.s.tablePassCount = 7
	f.s.counters.SlotsProcessed = 1234
	f.s.counters.SkippedSlots = 5
	f.s.ignoreMajorFrame = true
	f.s.mu.Unlock()

	f.s.ResetCounters()

	snap := f.s.Snapshot()
	if snap.Counters != (Counters{}) {
		t.Fatalf("counters not zeroed: %+v", snap.Counters)
	}
	if snap.NextSlot != 42 || snap.TablePassCount != 7 {
		t.Fatalf("phase perturbed: next=%d pass=%d, want 42 and 7",
			snap.NextSlot, snap.TablePassCount)
	}
	if snap.IgnoreMajorFrame {
		t.Fatal("ignore latch should clear on reset")
	}

	// Idempotent.
	f.s.ResetCounters()
	snap = f.s.Snapshot()
	if snap.NextSlot != 42 || snap.TablePassCount != 7 {
		t.Fatalf("second reset perturbed phase: next=%d pass=%d", snap.NextSlot, snap.TablePassCount)
	}
}

func TestStartTimersArmsStartupOneShot(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Params{SlotCount: 100, StartupPeriod: 5 * time.Second})

	if err := f.s.StartTimers(); err != nil {
		t.Fatalf("StartTimers: %v", err)
	}
	call := f.timer.lastCall()
	if call.initial != 5*time.Second || call.period != 0 {
		t.Fatalf("timer = %+v, want 5s one-shot", call)
	}
}

// ---- commanded table operations ----

func TestEnableRejectsInvalidEntry(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Params{SlotCount: 10})

	// Zero-valued entry (period 0) must not be enableable as-is.
	if err := f.s.SetEntryEnabled(3, 0, true); err == nil {
		t.Fatal("expected error enabling a zero-valued entry")
	}

	// Offset >= period is rejected at load.
	err := f.s.LoadScheduleEntry(3, 0, table.Entry{Enabled: true, Period: 2, Offset: 2, MsgIndex: 0})
	if err == nil {
		t.Fatal("expected error for offset >= period")
	}

	// A valid disabled entry can be enabled and disabled freely.
	if err := f.s.LoadScheduleEntry(3, 0, table.Entry{Period: 2, Offset: 1, MsgIndex: 0}); err != nil {
		t.Fatalf("LoadScheduleEntry: %v", err)
	}
	if err := f.s.SetEntryEnabled(3, 0, true); err != nil {
		t.Fatalf("SetEntryEnabled: %v", err)
	}
	if err := f.s.SetEntryEnabled(3, 0, false); err != nil {
		t.Fatalf("SetEntryEnabled off: %v", err)
	}
}

func TestReplaceTablesChecksGeometry(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Params{SlotCount: 10, ActivitiesPerSlot: 4})

	wrong, _ := table.NewScheduleTable(20, 4)
	msgs, _ := table.NewMessageTable(4)
	if err := f.s.ReplaceTables(wrong, msgs); err == nil {
		t.Fatal("expected geometry mismatch error")
	}

	right, _ := table.NewScheduleTable(10, 4)
	if err := f.s.ReplaceTables(right, msgs); err != nil {
		t.Fatalf("ReplaceTables: %v", err)
	}
}

func TestNewRejectsMismatchedSlotGrid(t *testing.T) {
	t.Parallel()

	// 100 slots of 5ms cover half the major frame; MET slots past the grid
	// would alias onto slot 0.
	p := Params{SlotCount: 100, NormalSlotPeriod: 5 * time.Millisecond}.Normalized()
	schedule, err := table.NewScheduleTable(p.SlotCount, p.ActivitiesPerSlot)
	if err != nil {
		t.Fatalf("NewScheduleTable: %v", err)
	}
	messages, err := table.NewMessageTable(4)
	if err != nil {
		t.Fatalf("NewMessageTable: %v", err)
	}
	_, err = New(p, schedule, messages, Deps{
		Log:    logx.Nop(),
		Clock:  &fakeClock{},
		Wakeup: readyWakeup{},
		NewTimer: func(func()) (Timer, error) {
			return &fakeTimer{accuracy: time.Microsecond}, nil
		},
		Transmitter: &fakeTx{},
	})
	if err == nil {
		t.Fatal("New should reject a slot grid that does not span the major frame")
	}

	// Counts that do not divide a second truncate the default period by a
	// few nanoseconds; that grid is still accepted.
	if err := (Params{SlotCount: 3}).Normalized().validate(); err != nil {
		t.Fatalf("default 3-slot grid: %v", err)
	}
}

func TestCommandHookErrorSurfacesFromWakeup(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Params{SlotCount: 10})
	f.cmds.err = errors.New("command pipe broken")

	f.s.mu.Lock()
	f.s.nextSlot = 9 // the time-sync slot
	f.s.minorFramesSinceTone = 9
	f.s.lastProcessCount = 3
	f.s.mu.Unlock()

	if err := f.s.RunOneWakeup(context.Background()); err == nil {
		t.Fatal("expected command hook error to propagate")
	}
}
