package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is schedd's on-disk configuration.
//
// Logging, telemetry, housekeeping, and storage sections are hot-reloadable.
// Timing geometry (slot count, activities per slot, slot period) is fixed for
// the life of the process: changes to the timing section are rejected by the
// reload validator and require a restart.
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Timing     TimingConfig     `json:"timing"`
	MajorFrame MajorFrameConfig `json:"major_frame"`
	Tables     TablesConfig     `json:"tables"`
	Downlink   DownlinkConfig   `json:"downlink"`

	Telemetry    TelemetryConfig    `json:"telemetry,omitempty"`
	Housekeeping HousekeepingConfig `json:"housekeeping,omitempty"`
	Storage      *StorageConfig     `json:"storage,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level,omitempty"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// TimingConfig is the schedule table geometry and the frame-timing policy
// knobs. All durations are Go duration strings (e.g. "10ms", "500us").
//
// Defaults (when fields are omitted/zero):
//   - slot_count: 100
//   - activities_per_slot: 8
//   - slot_period: 1s / slot_count
//   - clock_accuracy: "2ms" (worst acceptable minor-frame timer accuracy)
//   - startup_period: "5s"
//   - short_slot_period: slot_period / 2
//   - sync_slot_period: slot_period * 2
//   - max_lag: slot_count / 2
//   - max_slots_per_wakeup: 5
//   - noisy_major_frame_limit: 2
//   - max_sync_attempts: 100
type TimingConfig struct {
	SlotCount         int    `json:"slot_count,omitempty"`
	ActivitiesPerSlot int    `json:"activities_per_slot,omitempty"`
	SlotPeriod        string `json:"slot_period,omitempty"`
	ClockAccuracy     string `json:"clock_accuracy,omitempty"`
	StartupPeriod     string `json:"startup_period,omitempty"`
	ShortSlotPeriod   string `json:"short_slot_period,omitempty"`
	SyncSlotPeriod    string `json:"sync_slot_period,omitempty"`

	MaxLag               int `json:"max_lag,omitempty"`
	MaxSlotsPerWakeup    int `json:"max_slots_per_wakeup,omitempty"`
	NoisyMajorFrameLimit int `json:"noisy_major_frame_limit,omitempty"`
	MaxSyncAttempts      int `json:"max_sync_attempts,omitempty"`
}

// Durations parses the duration-string fields. Zero values mean "use default".
func (t TimingConfig) Durations() (slot, accuracy, startup, short, sync time.Duration, err error) {
	if slot, err = ParseDurationField("timing.slot_period", t.SlotPeriod); err != nil {
		return
	}
	if accuracy, err = ParseDurationField("timing.clock_accuracy", t.ClockAccuracy); err != nil {
		return
	}
	if startup, err = ParseDurationField("timing.startup_period", t.StartupPeriod); err != nil {
		return
	}
	if short, err = ParseDurationField("timing.short_slot_period", t.ShortSlotPeriod); err != nil {
		return
	}
	sync, err = ParseDurationField("timing.sync_slot_period", t.SyncSlotPeriod)
	return
}

// MajorFrameConfig selects the Major Frame tone source.
//
// Source values:
//   - "internal": a local 1 Hz ticker (bench/test use)
//   - "udp": tone datagrams from an external timing source
//   - "none": no tone source; the minor-frame timer free-runs on MET
type MajorFrameConfig struct {
	Source string `json:"source,omitempty"`
	Listen string `json:"listen,omitempty"`
	Period string `json:"period,omitempty"`

	// FlywheelAfter marks the mission clock as flywheeling when no tone
	// arrives for this long (udp source only). Default "3s".
	FlywheelAfter string `json:"flywheel_after,omitempty"`
}

type TablesConfig struct {
	SchedulePath string `json:"schedule_path"`
	MessagePath  string `json:"message_path"`
}

type DownlinkConfig struct {
	// Addr is the UDP host:port messages are transmitted to.
	Addr string `json:"addr"`
}

type TelemetryConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Token   string `json:"token,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}

type HousekeepingConfig struct {
	Enabled bool `json:"enabled"`

	// SnapshotSpec is a cron spec or @every interval for diagnostic
	// snapshot persistence, e.g. "@every 10s".
	SnapshotSpec string `json:"snapshot_spec,omitempty"`
}

type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// Validate checks cross-field constraints that strict decoding can't express.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if c.Timing.SlotCount < 0 || c.Timing.ActivitiesPerSlot < 0 {
		return fmt.Errorf("timing: slot_count and activities_per_slot must be >= 0")
	}
	if _, _, _, _, _, err := c.Timing.Durations(); err != nil {
		return err
	}
	switch strings.TrimSpace(strings.ToLower(c.MajorFrame.Source)) {
	case "", "internal", "none":
	case "udp":
		if strings.TrimSpace(c.MajorFrame.Listen) == "" {
			return fmt.Errorf("major_frame: listen address required for udp source")
		}
	default:
		return fmt.Errorf("major_frame: unknown source %q", c.MajorFrame.Source)
	}
	if _, err := ParseDurationField("major_frame.period", c.MajorFrame.Period); err != nil {
		return err
	}
	if _, err := ParseDurationField("major_frame.flywheel_after", c.MajorFrame.FlywheelAfter); err != nil {
		return err
	}
	if strings.TrimSpace(c.Tables.SchedulePath) == "" {
		return fmt.Errorf("tables: schedule_path is required")
	}
	if strings.TrimSpace(c.Tables.MessagePath) == "" {
		return fmt.Errorf("tables: message_path is required")
	}
	if strings.TrimSpace(c.Downlink.Addr) == "" {
		return fmt.Errorf("downlink: addr is required")
	}
	if c.Telemetry.Enabled && strings.TrimSpace(c.Telemetry.Addr) == "" {
		return fmt.Errorf("telemetry: addr required when enabled")
	}
	if _, err := ParseDurationField("telemetry.read_timeout", c.Telemetry.ReadTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("telemetry.write_timeout", c.Telemetry.WriteTimeout); err != nil {
		return err
	}
	if c.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}

// SameGeometry reports whether two configs share the timing geometry that is
// fixed for the process lifetime.
func SameGeometry(a, b *Config) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Timing == b.Timing
}
