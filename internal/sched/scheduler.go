// Package sched implements the slot scheduler: a cyclic executive that
// divides each major frame into fixed minor-frame slots, reconciles the
// pending slot against wall time on every wakeup, and dispatches the
// activities defined by the schedule table.
package sched

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/iotpi-space/pi-sat/internal/bus"
	"github.com/iotpi-space/pi-sat/internal/table"
	"github.com/iotpi-space/pi-sat/pkg/logx"
)

// Deps carries the scheduler's collaborators. Log, Clock, Wakeup, NewTimer
// and Transmitter are required; Bus and Commands are optional.
type Deps struct {
	Log         logx.Logger
	Bus         bus.Bus
	Clock       MissionClock
	Wakeup      WakeupSignal
	NewTimer    func(cb func()) (Timer, error)
	Transmitter Transmitter
	Commands    CommandProcessor
}

// Scheduler owns the slot clock, the sync state machine and the schedule
// and message tables. All mutable state is guarded by mu; the tone and
// timer callbacks and the wakeup loop may run on different goroutines.
type Scheduler struct {
	params Params
	log    logx.Logger
	events bus.Bus
	clock  MissionClock
	timer  Timer
	wakeup WakeupSignal
	tx     Transmitter
	cmds   CommandProcessor

	// multiSlotLim keeps catch-up diagnostics from flooding the log when
	// the platform stalls for many frames in a row.
	multiSlotLim *rate.Limiter

	mu       sync.Mutex
	schedule *table.ScheduleTable
	messages *table.MessageTable

	sync                 syncState
	frameSource          FrameSource
	nextSlot             int
	minorFramesSinceTone int
	lastSyncMETSlot      int
	syncAttemptsLeft     int

	unexpectedMajorFrame bool
	consecutiveNoisy     int
	ignoreMajorFrame     bool
	sendNoisyDiag        bool

	lastProcessCount int
	tablePassCount   uint32
	worstCase        int

	counters Counters
}

var errMissingDep = errors.New("sched: missing dependency")

// New builds a scheduler around the given tables. The minor-frame timer is
// created immediately so its reported accuracy can select the sync policy,
// but it stays unarmed until StartTimers.
func New(p Params, schedule *table.ScheduleTable, messages *table.MessageTable, deps Deps) (*Scheduler, error) {
	p = p.withDefaults()
	if err := p.validate(); err != nil {
		return nil, err
	}
	if schedule == nil || messages == nil {
		return nil, errors.New("sched: nil table")
	}
	if deps.Clock == nil || deps.Wakeup == nil || deps.NewTimer == nil || deps.Transmitter == nil {
		return nil, errMissingDep
	}
	if deps.Bus == nil {
		deps.Bus = bus.Nop()
	}

	s := &Scheduler{
		params:           p,
		log:              deps.Log,
		events:           deps.Bus,
		clock:            deps.Clock,
		wakeup:           deps.Wakeup,
		tx:               deps.Transmitter,
		cmds:             deps.Commands,
		schedule:         schedule,
		messages:         messages,
		multiSlotLim:     rate.NewLimiter(rate.Every(time.Second), 5),
		sync:             syncNone,
		frameSource:      SourceNone,
		nextSlot:         0,
		lastProcessCount: 1,
		worstCase:        1,
		sendNoisyDiag:    true,
		// Start out as if a tone just landed on the sync slot, so the
		// first tone after boot classifies as on time.
		minorFramesSinceTone: p.TimeSyncSlot(),
	}

	timer, err := deps.NewTimer(s.OnMinorFrameTick)
	if err != nil {
		return nil, err
	}
	s.timer = timer

	// An inaccurate timer cannot be trusted to mark minor frames on its
	// own: derive slot boundaries from MET and widen the catch-up window
	// the jitter filter tolerates.
	if acc := timer.Accuracy(); acc > p.WorstClockAccuracy {
		s.sync |= syncMinor
		s.worstCase = int(acc*2/p.NormalSlotPeriod) + 1
		s.log.Info("minor frame timer too coarse, slaving slots to MET",
			logx.Duration("accuracy", acc),
			logx.Duration("worst_acceptable", p.WorstClockAccuracy),
			logx.Int("worst_case_slots_per_wakeup", s.worstCase))
	}

	return s, nil
}

// StartTimers arms the startup one-shot. The long delay gives an external
// tone a chance to take over before the timer-driven fallback starts
// marking frames from MET.
func (s *Scheduler) StartTimers() error {
	return s.timer.Set(s.params.StartupPeriod, 0)
}

// Stop cancels the minor-frame timer. The wakeup loop is stopped by
// cancelling the context passed to RunOneWakeup.
func (s *Scheduler) Stop() {
	s.timer.Stop()
}

// Params returns the frame geometry the scheduler was built with.
func (s *Scheduler) Params() Params { return s.params }

// ResetCounters zeroes the cumulative statistics and clears the noisy
// major frame latch. Slot position and table pass count are preserved so a
// counter reset never perturbs Period/Offset phasing.
func (s *Scheduler) ResetCounters() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters = Counters{}
	s.ignoreMajorFrame = false
	s.consecutiveNoisy = 0
	s.unexpectedMajorFrame = false
	s.sendNoisyDiag = true

	s.log.Info("scheduler counters reset")
}
