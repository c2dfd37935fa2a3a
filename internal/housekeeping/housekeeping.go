// Package housekeeping persists scheduler diagnostics: it drains the event
// bus into the store and records periodic scheduler snapshots on a cron
// schedule.
package housekeeping

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/iotpi-space/pi-sat/internal/bus"
	"github.com/iotpi-space/pi-sat/internal/sched"
	"github.com/iotpi-space/pi-sat/internal/storage"
	"github.com/iotpi-space/pi-sat/pkg/logx"
)

type Config struct {
	Enabled bool

	// SnapshotSpec is a cron spec or descriptor ("@every 1m", "@hourly").
	// Empty defaults to every minute.
	SnapshotSpec string
}

const defaultSnapshotSpec = "@every 1m"

// Service owns the bus drain goroutine and the cron snapshot job. A nil
// store turns the service into a no-op.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	store  storage.Store
	events bus.Bus
	snap   func() sched.Snapshot

	parser cron.Parser
	c      *cron.Cron
	unsub  func()
	stopCh chan struct{}
}

func New(cfg Config, log logx.Logger, store storage.Store, events bus.Bus, snap func() sched.Snapshot) *Service {
	return &Service{
		cfg:    cfg,
		log:    log,
		store:  store,
		events: events,
		snap:   snap,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Service) Enabled() bool { return s.cfg.Enabled && s.store != nil }

func (s *Service) Start(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return errors.New("housekeeping already started")
	}
	s.stopCh = make(chan struct{})

	ch, unsub := s.events.Subscribe(64)
	s.unsub = unsub
	go s.drain(ctx, ch)

	spec := s.cfg.SnapshotSpec
	if spec == "" {
		spec = defaultSnapshotSpec
	}
	s.c = cron.New(cron.WithParser(s.parser))
	if _, err := s.c.AddFunc(spec, func() { s.takeSnapshot(ctx) }); err != nil {
		return err
	}
	s.c.Start()

	s.log.Info("housekeeping started", logx.String("snapshot_spec", spec))
	return nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	s.stopCh = nil

	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
	if s.c != nil {
		<-s.c.Stop().Done()
		s.c = nil
	}
	s.log.Info("housekeeping stopped")
}

func (s *Service) drain(ctx context.Context, ch <-chan bus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			s.persistEvent(ctx, e)
		}
	}
}

func (s *Service) persistEvent(ctx context.Context, e bus.Event) {
	var dataJSON string
	if e.Data != nil {
		if b, err := json.Marshal(e.Data); err == nil {
			dataJSON = string(b)
		}
	}

	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.store.AppendEvent(wctx, storage.EventRecord{
		At:       e.Time,
		Type:     e.Type,
		DataJSON: dataJSON,
	}); err != nil {
		s.log.Warn("event persist failed", logx.String("type", e.Type), logx.Err(err))
	}
}

func (s *Service) takeSnapshot(ctx context.Context) {
	snap := s.snap()
	b, err := json.Marshal(snap)
	if err != nil {
		s.log.Warn("snapshot marshal failed", logx.Err(err))
		return
	}

	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.store.AppendSnapshot(wctx, storage.SnapshotRecord{
		At:        time.Now(),
		StateJSON: string(b),
	}); err != nil {
		s.log.Warn("snapshot persist failed", logx.Err(err))
		return
	}

	s.log.Debug("scheduler snapshot recorded",
		logx.Int("next_slot", snap.NextSlot),
		logx.Uint32("table_passes", snap.TablePassCount),
		logx.String("sync", snap.Sync))
}
