package vision

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHeapPlotter_Lifecycle(t *testing.T) {
	hp := NewHeapPlotter()

	// Samples before Start are dropped.
	hp.ObserveFrame(LeakSample{TimestampMillis: 1})
	if hp.SampleCount() != 0 {
		t.Fatalf("recorded %d samples before Start", hp.SampleCount())
	}

	dir := filepath.Join(t.TempDir(), "plots")
	if err := hp.Start(dir); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !hp.IsEnabled() {
		t.Fatal("plotter not enabled after Start")
	}

	for i := int64(0); i < 10; i++ {
		hp.ObserveFrame(LeakSample{
			TimestampMillis: 2001 + i*1000,
			HeapBytes:       (100 + i*5) * testMB,
			AdjustedMB:      float64(i * 5),
			RateMBPerSec:    5,
			Settled:         true,
		})
	}
	if hp.SampleCount() != 10 {
		t.Fatalf("recorded %d samples, want 10", hp.SampleCount())
	}

	hp.Stop()
	hp.ObserveFrame(LeakSample{TimestampMillis: 99999})
	if hp.SampleCount() != 10 {
		t.Error("samples recorded after Stop")
	}

	n, err := hp.GeneratePlots()
	if err != nil {
		t.Fatalf("GeneratePlots: %v", err)
	}
	if n != 3 {
		t.Errorf("generated %d plots, want 3", n)
	}

	for _, name := range []string{"heap_mb.png", "adjusted_mb.png", "leak_rate.png"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing plot %s: %v", name, err)
		}
	}
}

func TestHeapPlotter_NoOutputDir(t *testing.T) {
	hp := NewHeapPlotter()
	if _, err := hp.GeneratePlots(); err == nil {
		t.Error("expected error without an output directory")
	}
}

func TestHeapPlotter_EmptyRun(t *testing.T) {
	hp := NewHeapPlotter()
	if err := hp.Start(t.TempDir()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	n, err := hp.GeneratePlots()
	if err != nil {
		t.Fatalf("GeneratePlots: %v", err)
	}
	if n != 0 {
		t.Errorf("generated %d plots for an empty run, want 0", n)
	}
}
