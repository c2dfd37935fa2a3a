package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/iotpi-space/pi-sat/internal/sched"
)

// collector exposes a scheduler snapshot as prometheus metrics. It reads
// the snapshot once per scrape; the scheduler lock is held only for the
// copy.
type collector struct {
	snap func() sched.Snapshot

	slotsProcessed   *prometheus.Desc
	skippedSlots     *prometheus.Desc
	multipleSlots    *prometheus.Desc
	sameSlot         *prometheus.Desc
	activitySuccess  *prometheus.Desc
	activityFailure  *prometheus.Desc
	validFrames      *prometheus.Desc
	missedFrames     *prometheus.Desc
	unexpectedFrames *prometheus.Desc

	nextSlot     *prometheus.Desc
	tablePasses  *prometheus.Desc
	ignoreFrames *prometheus.Desc
	flywheeling  *prometheus.Desc
}

// NewCollector builds the scheduler metrics collector.
func NewCollector(snap func() sched.Snapshot) prometheus.Collector {
	ns := "schedd"
	return &collector{
		snap: snap,

		slotsProcessed: prometheus.NewDesc(ns+"_slots_processed_total",
			"Slots executed since start or counter reset.", nil, nil),
		skippedSlots: prometheus.NewDesc(ns+"_skipped_slots_total",
			"Lag-limit slot skips.", nil, nil),
		multipleSlots: prometheus.NewDesc(ns+"_multiple_slots_total",
			"Wakeups that processed more than one slot.", nil, nil),
		sameSlot: prometheus.NewDesc(ns+"_same_slot_total",
			"Wakeups where the slot clock had not advanced.", nil, nil),
		activitySuccess: prometheus.NewDesc(ns+"_activity_success_total",
			"Activities dispatched successfully.", nil, nil),
		activityFailure: prometheus.NewDesc(ns+"_activity_failure_total",
			"Activity dispatch failures (entry disabled).", nil, nil),
		validFrames: prometheus.NewDesc(ns+"_valid_major_frames_total",
			"Major frame tones accepted.", nil, nil),
		missedFrames: prometheus.NewDesc(ns+"_missed_major_frames_total",
			"Major frame rollovers with no tone.", nil, nil),
		unexpectedFrames: prometheus.NewDesc(ns+"_unexpected_major_frames_total",
			"Major frame tones classified as noisy.", nil, nil),

		nextSlot: prometheus.NewDesc(ns+"_next_slot",
			"Slot pending execution.", nil, nil),
		tablePasses: prometheus.NewDesc(ns+"_table_pass_count",
			"Completed passes over the schedule table.", nil, nil),
		ignoreFrames: prometheus.NewDesc(ns+"_ignore_major_frame",
			"1 when tones are latched as untrusted.", nil, nil),
		flywheeling: prometheus.NewDesc(ns+"_clock_flywheeling",
			"1 when the mission clock is flywheeling.", nil, nil),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.slotsProcessed
	ch <- c.skippedSlots
	ch <- c.multipleSlots
	ch <- c.sameSlot
	ch <- c.activitySuccess
	ch <- c.activityFailure
	ch <- c.validFrames
	ch <- c.missedFrames
	ch <- c.unexpectedFrames
	ch <- c.nextSlot
	ch <- c.tablePasses
	ch <- c.ignoreFrames
	ch <- c.flywheeling
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	s := c.snap()

	counter := func(d *prometheus.Desc, v uint32) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}
	boolGauge := func(d *prometheus.Desc, b bool) {
		v := 0.0
		if b {
			v = 1.0
		}
		gauge(d, v)
	}

	counter(c.slotsProcessed, s.Counters.SlotsProcessed)
	counter(c.skippedSlots, s.Counters.SkippedSlots)
	counter(c.multipleSlots, s.Counters.MultipleSlots)
	counter(c.sameSlot, s.Counters.SameSlot)
	counter(c.activitySuccess, s.Counters.ActivitySuccess)
	counter(c.activityFailure, s.Counters.ActivityFailure)
	counter(c.validFrames, s.Counters.ValidMajorFrames)
	counter(c.missedFrames, s.Counters.MissedMajorFrames)
	counter(c.unexpectedFrames, s.Counters.UnexpectedMajorFrames)

	gauge(c.nextSlot, float64(s.NextSlot))
	gauge(c.tablePasses, float64(s.TablePassCount))
	boolGauge(c.ignoreFrames, s.IgnoreMajorFrame)
	boolGauge(c.flywheeling, s.Flywheeling)
}
