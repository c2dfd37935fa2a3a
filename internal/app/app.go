// Package app wires the scheduler daemon together: config, logging, tables,
// the frame timing sources, the scheduler core, and the optional telemetry,
// housekeeping and storage services.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/iotpi-space/pi-sat/internal/bus"
	"github.com/iotpi-space/pi-sat/internal/config"
	"github.com/iotpi-space/pi-sat/internal/downlink"
	"github.com/iotpi-space/pi-sat/internal/housekeeping"
	"github.com/iotpi-space/pi-sat/internal/met"
	rtsup "github.com/iotpi-space/pi-sat/internal/runtime/supervisor"
	"github.com/iotpi-space/pi-sat/internal/sched"
	"github.com/iotpi-space/pi-sat/internal/storage"
	"github.com/iotpi-space/pi-sat/internal/table"
	"github.com/iotpi-space/pi-sat/internal/telemetry"
	"github.com/iotpi-space/pi-sat/internal/timesvc"
	"github.com/iotpi-space/pi-sat/pkg/logx"
)

// messageTableSize is the fixed message table capacity. Schedule entries
// reference messages by index, so holes are allowed; dispatching a hole
// disables the entry.
const messageTableSize = 200

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	events bus.Bus
	clock  *met.Clock
	tone   *timesvc.ToneSource
	wakeup *timesvc.Wakeup

	sched *sched.Scheduler
	dl    *downlink.UDP

	store storage.Store
	hk    *housekeeping.Service
	tm    *telemetry.Service
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	slot, accuracy, startup, short, syncPeriod, err := cfg.Timing.Durations()
	if err != nil {
		return nil, err
	}
	params := sched.Params{
		SlotCount:            cfg.Timing.SlotCount,
		ActivitiesPerSlot:    cfg.Timing.ActivitiesPerSlot,
		NormalSlotPeriod:     slot,
		WorstClockAccuracy:   accuracy,
		StartupPeriod:        startup,
		ShortSlotPeriod:      short,
		SyncSlotPeriod:       syncPeriod,
		MaxLagCount:          cfg.Timing.MaxLag,
		MaxSlotsPerWakeup:    cfg.Timing.MaxSlotsPerWakeup,
		NoisyMajorFrameLimit: cfg.Timing.NoisyMajorFrameLimit,
		MaxSyncAttempts:      cfg.Timing.MaxSyncAttempts,
	}.Normalized()

	messages, err := table.LoadMessageFile(cfg.Tables.MessagePath, messageTableSize)
	if err != nil {
		return nil, fmt.Errorf("load message table: %w", err)
	}
	schedule, err := table.LoadScheduleFile(cfg.Tables.SchedulePath,
		params.SlotCount, params.ActivitiesPerSlot, messages.Len())
	if err != nil {
		return nil, fmt.Errorf("load schedule table: %w", err)
	}

	clock := met.NewClock()
	events := bus.New()
	wakeup := timesvc.NewWakeup()

	dl, err := downlink.Dial(cfg.Downlink.Addr, log.With(logx.String("comp", "downlink")))
	if err != nil {
		return nil, fmt.Errorf("downlink: %w", err)
	}

	timers := timesvc.Timers{}
	scheduler, err := sched.New(params, schedule, messages, sched.Deps{
		Log:    log.With(logx.String("comp", "sched")),
		Bus:    events,
		Clock:  clock,
		Wakeup: wakeup,
		NewTimer: func(cb func()) (sched.Timer, error) {
			return timers.NewTimer("minor-frame", cb)
		},
		Transmitter: dl,
	})
	if err != nil {
		_ = dl.Close()
		return nil, err
	}

	tonePeriod, err := config.ParseDurationField("major_frame.period", cfg.MajorFrame.Period)
	if err != nil {
		_ = dl.Close()
		return nil, err
	}
	flywheelAfter, err := config.ParseDurationField("major_frame.flywheel_after", cfg.MajorFrame.FlywheelAfter)
	if err != nil {
		_ = dl.Close()
		return nil, err
	}
	tone := timesvc.NewToneSource(timesvc.ToneConfig{
		Source:        cfg.MajorFrame.Source,
		Listen:        cfg.MajorFrame.Listen,
		Period:        tonePeriod,
		FlywheelAfter: flywheelAfter,
	}, clock, log.With(logx.String("comp", "tone")))
	tone.Register(scheduler.OnMajorFrameTone)

	var store storage.Store
	if cfg.Storage != nil {
		busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		if err != nil {
			_ = dl.Close()
			return nil, err
		}
		store, err = storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busyTimeout,
		}, log.With(logx.String("comp", "storage")))
		if err != nil {
			_ = dl.Close()
			return nil, fmt.Errorf("storage: %w", err)
		}
	}

	hk := housekeeping.New(housekeeping.Config{
		Enabled:      cfg.Housekeeping.Enabled,
		SnapshotSpec: cfg.Housekeeping.SnapshotSpec,
	}, log.With(logx.String("comp", "housekeeping")), store, events, scheduler.Snapshot)

	closeAll := func() {
		_ = dl.Close()
		if store != nil {
			_ = store.Close()
		}
	}
	readTimeout, err := config.ParseDurationField("telemetry.read_timeout", cfg.Telemetry.ReadTimeout)
	if err != nil {
		closeAll()
		return nil, err
	}
	writeTimeout, err := config.ParseDurationField("telemetry.write_timeout", cfg.Telemetry.WriteTimeout)
	if err != nil {
		closeAll()
		return nil, err
	}
	tm, err := telemetry.New(telemetry.Config{
		Enabled:      cfg.Telemetry.Enabled,
		Addr:         cfg.Telemetry.Addr,
		Token:        cfg.Telemetry.Token,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}, log.With(logx.String("comp", "telemetry")), scheduler)
	if err != nil {
		closeAll()
		return nil, err
	}

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logs,
		events:  events,
		clock:   clock,
		tone:    tone,
		wakeup:  wakeup,
		sched:   scheduler,
		dl:      dl,
		store:   store,
		hk:      hk,
		tm:      tm,
	}, nil
}

// Scheduler exposes the core for tests and tooling.
func (a *App) Scheduler() *sched.Scheduler { return a.sched }

// Done is closed when the app supervisor context is canceled (fatal error
// or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish. Timing
	// geometry is pinned at construction; a reload that changes it is
	// rejected rather than half-applied.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if !config.SameGeometry(a.cfgm.Get(), cfg) {
			return errors.New("timing section changed; restart required")
		}
		return nil
	})

	if a.tone.Enabled() {
		a.sup.GoRestart("tone.run", a.tone.Run,
			rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
	}

	a.sup.Go("sched.wakeup", a.wakeupLoop)

	if err := a.sched.StartTimers(); err != nil {
		return err
	}

	if a.hk.Enabled() {
		if err := a.hk.Start(a.sup.Context()); err != nil {
			return err
		}
	}
	if a.tm.Enabled() {
		a.tm.Start(a.sup.Context())
	}

	// Hot reload fan-out: logging swaps live, everything else logs what it
	// would need.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.logs.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: newCfg.Logging.File.Enabled,
						Path:    newCfg.Logging.File.Path,
					},
				})
				a.log.Info("config reloaded")
			}
		}
	})

	a.sup.Go("config.watch", a.cfgm.Watch)

	a.startWatchdog()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	a.log.Info("schedd started",
		logx.Int("slots", a.sched.Params().SlotCount),
		logx.Duration("slot_period", a.sched.Params().NormalSlotPeriod))
	return nil
}

// wakeupLoop drives the scheduler. Command-hook errors are logged and the
// loop keeps running; only context cancellation stops it.
func (a *App) wakeupLoop(ctx context.Context) error {
	for {
		if err := a.sched.RunOneWakeup(ctx); err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			a.log.Error("wakeup processing failed", logx.Err(err))
		}
	}
}

// startWatchdog pets the systemd watchdog at half the configured interval,
// when one is set on the unit.
func (a *App) startWatchdog() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	})
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	a.sup.Cancel()
	a.sched.Stop()
	a.tm.Stop(ctx)
	a.hk.Stop()

	err := a.sup.Wait(ctx)

	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.dl.Close()
	_ = a.logs.Close()
	return err
}
