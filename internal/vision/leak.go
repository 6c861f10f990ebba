package vision

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/framewatch/internal/monitoring"
)

const bytesPerMB = 1024.0 * 1024.0

// LeakParams configures the native-heap leak heuristic.
type LeakParams struct {
	// Enabled turns the heuristic on. When false the monitor is a no-op and
	// the advisory message stays empty.
	Enabled bool
	// ThresholdMB is the adjusted heap growth (in MB over baseline, GC
	// reclaim added back) above which a warning is raised. Generous by
	// default to avoid false positives.
	ThresholdMB float64
	// SettleDelay is how long after the first frame to wait before capturing
	// the baseline. Lets the allocator reach steady state first.
	SettleDelay time.Duration
	// GCShrinkThresholdMB is the between-frame heap shrink (in MB) treated
	// as evidence that a collection ran. Empirically calibrated.
	GCShrinkThresholdMB float64
	// DisplayRefresh is the minimum interval between changes of the
	// display-side message copy.
	DisplayRefresh time.Duration
}

// DefaultLeakParams returns the stock tuning for the leak heuristic.
func DefaultLeakParams() LeakParams {
	return LeakParams{
		Enabled:             true,
		ThresholdMB:         100,
		SettleDelay:         2 * time.Second,
		GCShrinkThresholdMB: 20,
		DisplayRefresh:      250 * time.Millisecond,
	}
}

// LeakSample is the per-frame diagnostic output of the monitor. Observers
// (recorder, plotter, status API) consume it; the monitor itself keeps only
// the most recent one.
type LeakSample struct {
	TimestampMillis int64   `json:"timestamp_ms"`
	HeapBytes       int64   `json:"heap_bytes"`
	Settled         bool    `json:"settled"`
	DeltaMB         float64 `json:"delta_mb"`
	AdjustedMB      float64 `json:"adjusted_mb"`
	RateMBPerSec    float64 `json:"rate_mb_per_sec"`
	GCReclaimedMB   float64 `json:"gc_reclaimed_mb"`
	GCEvents        int64   `json:"gc_events"`
	Message         string  `json:"message,omitempty"`
}

// LeakMonitor estimates the native-heap leak rate of a frame pipeline.
//
// OnFrame is called once per processed frame from the single frame thread
// and never blocks. DisplayMessage may be polled from another goroutine; the
// shared message crosses via atomics, and readers tolerate a one-frame-stale
// value, so the frame path takes no locks.
type LeakMonitor struct {
	meminfo MemInfoProbe

	params atomic.Pointer[LeakParams]

	// Frame-thread state. Written only by OnFrame.
	sawFirstFrame    bool
	firstFrameMillis int64
	settled          bool
	baselineBytes    int64
	baselineMillis   int64
	hasPreviousDelta bool
	previousDeltaMB  float64
	gcReclaimedMB    float64
	gcEvents         int64

	message    atomic.Value // string; empty means no warning
	lastSample atomic.Pointer[LeakSample]

	// Display-side cache, touched only by DisplayMessage callers.
	displayMu         sync.Mutex
	displayedMessage  string
	displayedAtMillis int64
}

// NewLeakMonitor creates a monitor with the given tuning. The meminfo probe
// is queried only when a leak is suspected; it may be nil, in which case the
// warning omits the free-RAM figure.
func NewLeakMonitor(params LeakParams, meminfo MemInfoProbe) *LeakMonitor {
	m := &LeakMonitor{meminfo: meminfo}
	m.params.Store(&params)
	m.message.Store("")
	return m
}

// Configure replaces the basic tuning knobs. Takes effect on the next frame.
func (m *LeakMonitor) Configure(enabled bool, thresholdMB float64, settleDelay time.Duration) {
	p := *m.params.Load()
	p.Enabled = enabled
	p.ThresholdMB = thresholdMB
	p.SettleDelay = settleDelay
	m.params.Store(&p)
}

// SetParams replaces the full tuning. Takes effect on the next frame.
func (m *LeakMonitor) SetParams(params LeakParams) {
	m.params.Store(&params)
}

// Params returns the current tuning.
func (m *LeakMonitor) Params() LeakParams {
	return *m.params.Load()
}

// OnFrame updates the estimate from one frame observation. nowMillis must be
// non-decreasing across calls; heapBytes is the current heap allocation as
// reported by the host probe.
func (m *LeakMonitor) OnFrame(nowMillis, heapBytes int64) {
	p := m.params.Load()
	if !p.Enabled {
		// Disabled: clear the advisory but freeze all other state so the
		// heuristic can be toggled without touching call sites.
		m.message.Store("")
		return
	}

	if !m.sawFirstFrame {
		m.sawFirstFrame = true
		m.firstFrameMillis = nowMillis
		return
	}

	if !m.settled {
		if nowMillis-m.firstFrameMillis > p.SettleDelay.Milliseconds() {
			// This frame establishes the baseline; no rate yet.
			m.settled = true
			m.baselineBytes = heapBytes
			m.baselineMillis = nowMillis
			m.storeSample(LeakSample{
				TimestampMillis: nowMillis,
				HeapBytes:       heapBytes,
				Settled:         true,
			})
		}
		return
	}

	deltaMB := float64(heapBytes-m.baselineBytes) / bytesPerMB

	if !m.hasPreviousDelta {
		// First post-settle sample: reference point only.
		m.hasPreviousDelta = true
		m.previousDeltaMB = deltaMB
	}

	if deltaMB-m.previousDeltaMB < -p.GCShrinkThresholdMB {
		// The heap shrank sharply between consecutive samples; a collection
		// probably ran. Assume it reclaimed the entire previously-observed
		// growth and fold that back into the running offset so the rate
		// estimate doesn't collapse to zero after each collection.
		monitoring.Logf("leak monitor: heap shrank by > %.0fMB between frames; GC probably ran", p.GCShrinkThresholdMB)
		m.gcReclaimedMB += m.previousDeltaMB
		m.gcEvents++
	}

	m.previousDeltaMB = deltaMB

	elapsedSec := float64(nowMillis-m.baselineMillis) / 1000.0
	if elapsedSec <= 0 {
		// Baseline-frame boundary; no rate to compute yet.
		return
	}

	adjustedMB := deltaMB + m.gcReclaimedMB
	rate := adjustedMB / elapsedSec

	msg := ""
	if adjustedMB > p.ThresholdMB {
		msg = m.formatWarning(rate)
	}
	m.message.Store(msg)

	m.storeSample(LeakSample{
		TimestampMillis: nowMillis,
		HeapBytes:       heapBytes,
		Settled:         true,
		DeltaMB:         deltaMB,
		AdjustedMB:      adjustedMB,
		RateMBPerSec:    rate,
		GCReclaimedMB:   m.gcReclaimedMB,
		GCEvents:        m.gcEvents,
		Message:         msg,
	})
}

// formatWarning builds the human-readable advisory. The system memory probe
// is queried here, off the common path.
func (m *LeakMonitor) formatWarning(rate float64) string {
	const advice = "DO NOT allocate new image buffers or re-assign buffer variables inside ProcessFrame()!"

	if m.meminfo != nil {
		avail, total, err := m.meminfo.MemInfo()
		if err == nil && total > 0 {
			freePercent := float64(avail) / float64(total) * 100
			return fmt.Sprintf("Pipeline leaking memory @ approx. %dMB/sec; %d%% RAM currently free. %s",
				int(rate), int(freePercent), advice)
		}
		if err != nil {
			monitoring.Logf("leak monitor: meminfo query failed: %v", err)
		}
	}

	return fmt.Sprintf("Pipeline leaking memory @ approx. %dMB/sec. %s", int(rate), advice)
}

// DisplayMessage returns the advisory for UI overlays. The returned string
// changes at most once per DisplayRefresh of wall-clock time, decoupling
// polling cadence from the per-frame update rate. Empty means no warning.
func (m *LeakMonitor) DisplayMessage(nowMillis int64) string {
	p := m.params.Load()

	m.displayMu.Lock()
	defer m.displayMu.Unlock()

	if nowMillis-m.displayedAtMillis > p.DisplayRefresh.Milliseconds() {
		m.displayedAtMillis = nowMillis
		m.displayedMessage = m.message.Load().(string)
	}
	return m.displayedMessage
}

// Message returns the live advisory without the display-side rate limit.
func (m *LeakMonitor) Message() string {
	return m.message.Load().(string)
}

// Snapshot returns the most recent per-frame sample, or nil before the
// monitor has settled.
func (m *LeakMonitor) Snapshot() *LeakSample {
	s := m.lastSample.Load()
	if s == nil {
		return nil
	}
	out := *s
	return &out
}

func (m *LeakMonitor) storeSample(s LeakSample) {
	m.lastSample.Store(&s)
}
