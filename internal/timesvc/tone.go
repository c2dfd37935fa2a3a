package timesvc

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/iotpi-space/pi-sat/internal/met"
	logx "github.com/iotpi-space/pi-sat/pkg/logx"
)

// ToneConfig selects where the Major Frame tone comes from.
type ToneConfig struct {
	// Source: "internal" (local ticker), "udp" (external tone datagrams),
	// or "none" (no tone; the minor-frame timer free-runs on MET).
	Source string

	// Listen is the UDP listen address for the "udp" source.
	Listen string

	// Period is the major frame period. Defaults to 1s.
	Period time.Duration

	// FlywheelAfter marks the mission clock flywheeling when no tone has
	// arrived for this long ("udp" source only). Defaults to 3*Period.
	FlywheelAfter time.Duration
}

func (c ToneConfig) withDefaults() ToneConfig {
	c.Source = strings.TrimSpace(strings.ToLower(c.Source))
	if c.Source == "" {
		c.Source = "internal"
	}
	if c.Period <= 0 {
		c.Period = time.Second
	}
	if c.FlywheelAfter <= 0 {
		c.FlywheelAfter = 3 * c.Period
	}
	return c
}

// ToneSource delivers the Major Frame synchronization signal to a registered
// callback, and maintains the mission clock's flywheel flag for the UDP
// source (tone silence beyond the hold-off means the timing reference is
// free-running).
type ToneSource struct {
	cfg   ToneConfig
	log   logx.Logger
	clock *met.Clock
	cb    func()
}

func NewToneSource(cfg ToneConfig, clock *met.Clock, log logx.Logger) *ToneSource {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ToneSource{cfg: cfg.withDefaults(), clock: clock, log: log}
}

// Register installs the synchronization callback. Must be called before Run.
func (t *ToneSource) Register(cb func()) {
	t.cb = cb
}

// Enabled reports whether this source will deliver tones at all.
func (t *ToneSource) Enabled() bool { return t.cfg.Source != "none" }

// Run delivers tones until ctx is canceled. It returns nil on cancellation.
func (t *ToneSource) Run(ctx context.Context) error {
	if t.cfg.Source == "none" {
		<-ctx.Done()
		return nil
	}
	if t.cb == nil {
		return errors.New("timesvc: tone callback not registered")
	}

	switch t.cfg.Source {
	case "internal":
		return t.runInternal(ctx)
	case "udp":
		return t.runUDP(ctx)
	default:
		return errors.New("timesvc: unknown tone source " + t.cfg.Source)
	}
}

func (t *ToneSource) runInternal(ctx context.Context) error {
	ticker := time.NewTicker(t.cfg.Period)
	defer ticker.Stop()
	t.log.Info("major frame tone source started", logx.String("source", "internal"), logx.Duration("period", t.cfg.Period))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.cb()
		}
	}
}

func (t *ToneSource) runUDP(ctx context.Context) error {
	pc, err := net.ListenPacket("udp", t.cfg.Listen)
	if err != nil {
		return err
	}
	defer pc.Close()

	// Unblock the read loop on shutdown.
	go func() {
		<-ctx.Done()
		_ = pc.Close()
	}()

	t.log.Info("major frame tone source started",
		logx.String("source", "udp"),
		logx.String("listen", pc.LocalAddr().String()),
		logx.Duration("flywheel_after", t.cfg.FlywheelAfter),
	)

	buf := make([]byte, 64)
	flywheeling := false
	for {
		_ = pc.SetReadDeadline(time.Now().Add(t.cfg.FlywheelAfter))
		_, _, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if !flywheeling {
					flywheeling = true
					t.clock.SetFlywheel(true)
					t.log.Error("major frame tone silent; clock flywheeling",
						logx.Duration("hold_off", t.cfg.FlywheelAfter))
				}
				continue
			}
			return err
		}

		if flywheeling {
			flywheeling = false
			t.clock.SetFlywheel(false)
			t.log.Info("major frame tone recovered")
		}
		t.cb()
	}
}
