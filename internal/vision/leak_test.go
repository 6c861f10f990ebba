package vision

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

const testMB = int64(1024 * 1024)

type fakeMemInfo struct {
	avail int64
	total int64
	err   error
	calls int
}

func (f *fakeMemInfo) MemInfo() (int64, int64, error) {
	f.calls++
	return f.avail, f.total, f.err
}

// newSettledMonitor drives a monitor through first frame and settling.
// Returns the monitor with baseline heap `base` captured at t=2001ms.
func newSettledMonitor(t *testing.T, params LeakParams, meminfo MemInfoProbe, base int64) *LeakMonitor {
	t.Helper()
	m := NewLeakMonitor(params, meminfo)
	m.OnFrame(0, base) // first frame: records timestamp only
	m.OnFrame(2001, base)
	if s := m.Snapshot(); s == nil || !s.Settled {
		t.Fatal("monitor did not settle at t=2001ms")
	}
	return m
}

func TestLeakMonitor_PreSettleStaysQuiet(t *testing.T) {
	m := NewLeakMonitor(DefaultLeakParams(), nil)

	// First frame records the start timestamp and nothing else.
	m.OnFrame(0, 100*testMB)
	if m.Message() != "" {
		t.Errorf("expected empty message on first frame, got %q", m.Message())
	}
	if m.Snapshot() != nil {
		t.Error("expected no sample before settling")
	}

	// Frames inside the settle window are no-ops even with wild heap growth.
	for _, ts := range []int64{500, 1000, 1999, 2000} {
		m.OnFrame(ts, 900*testMB)
		if m.Message() != "" {
			t.Errorf("t=%dms: expected empty message during settle window, got %q", ts, m.Message())
		}
		if m.settled {
			t.Fatalf("t=%dms: settled before the delay elapsed", ts)
		}
	}
	if m.baselineBytes != 0 || m.baselineMillis != 0 {
		t.Errorf("baseline mutated before settling: bytes=%d millis=%d", m.baselineBytes, m.baselineMillis)
	}
}

func TestLeakMonitor_SettlesExactlyOnce(t *testing.T) {
	m := NewLeakMonitor(DefaultLeakParams(), nil)
	m.OnFrame(0, 50*testMB)

	// First frame strictly past firstFrame+2000ms establishes the baseline.
	m.OnFrame(2001, 80*testMB)
	if !m.settled {
		t.Fatal("expected settle at t=2001ms")
	}
	if m.baselineBytes != 80*testMB {
		t.Errorf("baseline = %d, want %d", m.baselineBytes, 80*testMB)
	}
	if m.baselineMillis != 2001 {
		t.Errorf("baseline timestamp = %d, want 2001", m.baselineMillis)
	}

	// Later frames never rewrite the baseline.
	m.OnFrame(9000, 200*testMB)
	if m.baselineBytes != 80*testMB || m.baselineMillis != 2001 {
		t.Errorf("baseline rewritten after settling: bytes=%d millis=%d", m.baselineBytes, m.baselineMillis)
	}
}

func TestLeakMonitor_RateWithoutGC(t *testing.T) {
	base := int64(100) * testMB
	m := newSettledMonitor(t, DefaultLeakParams(), nil, base)

	// Monotonic growth with no shrink: offset stays zero and the rate is
	// exactly (current-baseline)/MB/elapsed.
	heaps := []struct {
		ts   int64
		heap int64
	}{
		{3001, base + 10*testMB},
		{4001, base + 25*testMB},
		{7001, base + 60*testMB},
	}
	for _, f := range heaps {
		m.OnFrame(f.ts, f.heap)
	}

	s := m.Snapshot()
	if s == nil {
		t.Fatal("expected a sample")
	}
	if s.GCReclaimedMB != 0 || s.GCEvents != 0 {
		t.Errorf("expected no GC events, got reclaimed=%f events=%d", s.GCReclaimedMB, s.GCEvents)
	}
	wantRate := 60.0 / 5.0 // 60MB over 5s since baseline at t=2001
	if diff := s.RateMBPerSec - wantRate; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("rate = %f, want %f", s.RateMBPerSec, wantRate)
	}
}

func TestLeakMonitor_GCEventHeuristic(t *testing.T) {
	base := int64(100) * testMB
	m := newSettledMonitor(t, DefaultLeakParams(), nil, base)

	m.OnFrame(3001, base+50*testMB) // delta 50MB
	m.OnFrame(4001, base+5*testMB)  // shrink of 45MB > 20MB threshold

	s := m.Snapshot()
	if s.GCEvents != 1 {
		t.Fatalf("GC events = %d, want 1", s.GCEvents)
	}
	// The offset absorbs the previous delta (50), not the new one (5).
	if s.GCReclaimedMB != 50 {
		t.Errorf("reclaimed offset = %f, want 50", s.GCReclaimedMB)
	}
	// Adjusted growth carries the reclaimed memory forward.
	if want := 5.0 + 50.0; s.AdjustedMB != want {
		t.Errorf("adjusted = %f, want %f", s.AdjustedMB, want)
	}
}

func TestLeakMonitor_ShrinkAtThresholdIsNotGC(t *testing.T) {
	base := int64(100) * testMB
	m := newSettledMonitor(t, DefaultLeakParams(), nil, base)

	m.OnFrame(3001, base+50*testMB)
	// Shrink of exactly 20MB: the heuristic requires strictly more.
	m.OnFrame(4001, base+30*testMB)

	s := m.Snapshot()
	if s.GCEvents != 0 || s.GCReclaimedMB != 0 {
		t.Errorf("20MB shrink misclassified as GC: events=%d reclaimed=%f", s.GCEvents, s.GCReclaimedMB)
	}
}

func TestLeakMonitor_NegativeDeltaIsLegal(t *testing.T) {
	base := int64(100) * testMB
	m := newSettledMonitor(t, DefaultLeakParams(), nil, base)

	// Heap below baseline: negative delta, no warning, no GC event (shrink
	// from the reference sample is only 10MB).
	m.OnFrame(3001, base-10*testMB)
	s := m.Snapshot()
	if s.DeltaMB != -10 {
		t.Errorf("delta = %f, want -10", s.DeltaMB)
	}
	if s.Message != "" || m.Message() != "" {
		t.Errorf("expected no warning for shrunk heap, got %q", s.Message)
	}
}

func TestLeakMonitor_WarningScenario(t *testing.T) {
	meminfo := &fakeMemInfo{avail: 2 << 30, total: 8 << 30}
	base := int64(100) * testMB
	m := newSettledMonitor(t, DefaultLeakParams(), meminfo, base)

	if meminfo.calls != 0 {
		t.Fatalf("meminfo queried %d times before a leak was suspected", meminfo.calls)
	}

	// 150MB over baseline after 3s: adjusted 150 > 100 threshold, rate 50MB/s.
	m.OnFrame(5001, base+150*testMB)

	msg := m.Message()
	if msg == "" {
		t.Fatal("expected a leak warning")
	}
	if !strings.Contains(msg, "50MB/sec") {
		t.Errorf("warning %q does not report the 50MB/sec rate", msg)
	}
	if !strings.Contains(msg, "25% RAM currently free") {
		t.Errorf("warning %q does not report free RAM percent", msg)
	}
	if !strings.Contains(msg, "ProcessFrame") {
		t.Errorf("warning %q is missing the buffer-allocation advice", msg)
	}
	if meminfo.calls != 1 {
		t.Errorf("meminfo queried %d times, want 1 (suspect path only)", meminfo.calls)
	}

	// Follow-on GC: shrink of 140MB records the prior 150MB delta.
	m.OnFrame(6001, base+10*testMB)
	s := m.Snapshot()
	if s.GCEvents != 1 {
		t.Errorf("GC events = %d, want 1", s.GCEvents)
	}
	if s.GCReclaimedMB != 150 {
		t.Errorf("reclaimed offset = %f, want 150", s.GCReclaimedMB)
	}
	// Adjusted growth stays above threshold (10+150), so the warning holds.
	if m.Message() == "" {
		t.Error("expected warning to persist across the collection")
	}
}

func TestLeakMonitor_WarningWithoutMemInfo(t *testing.T) {
	base := int64(100) * testMB
	for name, probe := range map[string]MemInfoProbe{
		"nil probe":     nil,
		"failing probe": &fakeMemInfo{err: errors.New("proc unavailable")},
	} {
		t.Run(name, func(t *testing.T) {
			m := newSettledMonitor(t, DefaultLeakParams(), probe, base)
			m.OnFrame(5001, base+150*testMB)

			msg := m.Message()
			if msg == "" {
				t.Fatal("expected a warning even without a meminfo probe")
			}
			if strings.Contains(msg, "RAM currently free") {
				t.Errorf("warning %q should omit the free-RAM figure", msg)
			}
		})
	}
}

func TestLeakMonitor_BelowThresholdClearsMessage(t *testing.T) {
	base := int64(100) * testMB
	m := newSettledMonitor(t, DefaultLeakParams(), &fakeMemInfo{avail: 1, total: 4}, base)

	m.OnFrame(5001, base+150*testMB)
	if m.Message() == "" {
		t.Fatal("expected warning above threshold")
	}

	// A monitor whose growth never crosses the threshold stays silent.
	m2 := newSettledMonitor(t, DefaultLeakParams(), nil, base)
	m2.OnFrame(5001, base+50*testMB)
	if m2.Message() != "" {
		t.Errorf("expected empty message below threshold, got %q", m2.Message())
	}
}

func TestLeakMonitor_DisplayMessageRateLimit(t *testing.T) {
	base := int64(100) * testMB
	m := newSettledMonitor(t, DefaultLeakParams(), nil, base)

	// Trigger a warning, then poll faster than the refresh interval.
	m.OnFrame(5001, base+150*testMB)

	first := m.DisplayMessage(5251) // past the initial window; caches the warning
	if first == "" {
		t.Fatal("expected cached warning")
	}

	// The internal message clears, but polls within 250ms keep the old copy.
	m.Configure(false, 100, 2*time.Second)
	m.OnFrame(5350, base+150*testMB) // disabled: clears live message

	if got := m.DisplayMessage(5400); got != first {
		t.Errorf("display changed within 250ms window: %q -> %q", first, got)
	}
	if got := m.DisplayMessage(5501); got != first {
		t.Errorf("display changed at exactly 250ms: %q -> %q", first, got)
	}
	if got := m.DisplayMessage(5502); got != "" {
		t.Errorf("display did not refresh after 250ms: got %q", got)
	}
}

func TestLeakMonitor_DisabledFreezesState(t *testing.T) {
	base := int64(100) * testMB
	params := DefaultLeakParams()
	m := newSettledMonitor(t, params, nil, base)
	m.OnFrame(5001, base+150*testMB)
	if m.Message() == "" {
		t.Fatal("expected warning before disabling")
	}

	m.Configure(false, params.ThresholdMB, params.SettleDelay)

	before := *m.Snapshot()
	m.OnFrame(6001, base+500*testMB)

	if m.Message() != "" {
		t.Error("disabling should clear the message on the next frame")
	}
	after := *m.Snapshot()
	if before != after {
		t.Errorf("disabled frame mutated state:\nbefore %+v\nafter  %+v", before, after)
	}

	// Re-enabling resumes from the frozen state on the next frame.
	m.Configure(true, params.ThresholdMB, params.SettleDelay)
	m.OnFrame(7001, base+200*testMB)
	if m.Message() == "" {
		t.Error("expected warning to resume after re-enabling")
	}
}

func TestLeakMonitor_ZeroElapsedSkipsRate(t *testing.T) {
	base := int64(100) * testMB
	m := newSettledMonitor(t, DefaultLeakParams(), nil, base)

	// Same timestamp as the baseline frame: elapsed is zero, no division.
	m.OnFrame(2001, base+500*testMB)
	s := m.Snapshot()
	if s.RateMBPerSec != 0 {
		t.Errorf("rate computed with zero elapsed time: %f", s.RateMBPerSec)
	}
	if m.Message() != "" {
		t.Errorf("message set with zero elapsed time: %q", m.Message())
	}
}

func TestLeakMonitor_ConfigureTakesEffectNextFrame(t *testing.T) {
	base := int64(100) * testMB
	m := newSettledMonitor(t, DefaultLeakParams(), nil, base)

	// 50MB growth is under the default 100MB threshold.
	m.OnFrame(5001, base+50*testMB)
	if m.Message() != "" {
		t.Fatalf("unexpected warning: %q", m.Message())
	}

	// Tighten the threshold; the very next frame applies it.
	m.Configure(true, 25, 2*time.Second)
	m.OnFrame(6001, base+50*testMB)
	if m.Message() == "" {
		t.Error("expected warning after lowering the threshold")
	}
}

func TestLeakMonitor_GCShrinkThresholdConfigurable(t *testing.T) {
	base := int64(100) * testMB
	params := DefaultLeakParams()
	params.GCShrinkThresholdMB = 5
	m := newSettledMonitor(t, params, nil, base)

	m.OnFrame(3001, base+10*testMB)
	m.OnFrame(4001, base+4*testMB) // 6MB shrink crosses the 5MB setting

	if s := m.Snapshot(); s.GCEvents != 1 {
		t.Errorf("GC events = %d, want 1 with 5MB shrink threshold", s.GCEvents)
	}
}

func TestLeakMonitor_SnapshotIsACopy(t *testing.T) {
	base := int64(100) * testMB
	m := newSettledMonitor(t, DefaultLeakParams(), nil, base)
	m.OnFrame(3001, base+10*testMB)

	s1 := m.Snapshot()
	s1.AdjustedMB = 12345
	if s2 := m.Snapshot(); s2.AdjustedMB == 12345 {
		t.Error("Snapshot must return a copy, not shared state")
	}
}

func ExampleLeakMonitor() {
	m := NewLeakMonitor(DefaultLeakParams(), nil)
	m.OnFrame(0, 100<<20)    // first frame
	m.OnFrame(2001, 100<<20) // settles, baseline captured
	m.OnFrame(5001, 250<<20) // 150MB growth over 3s
	fmt.Println(m.Message())
	// Output: Pipeline leaking memory @ approx. 50MB/sec. DO NOT allocate new image buffers or re-assign buffer variables inside ProcessFrame()!
}
