package vision

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// HeapPlotter records leak monitor samples over a run for visualization.
// It accumulates one point per observed frame and, after the run, renders
// PNG time series of heap size, adjusted growth, and the rate estimate.
type HeapPlotter struct {
	mu        sync.Mutex
	enabled   bool
	outputDir string
	samples   []LeakSample
}

// NewHeapPlotter creates a plotter. It records nothing until Start is called.
func NewHeapPlotter() *HeapPlotter {
	return &HeapPlotter{}
}

// Start initializes the plotter for a new run, creating outputDir.
func (hp *HeapPlotter) Start(outputDir string) error {
	hp.mu.Lock()
	defer hp.mu.Unlock()

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	hp.outputDir = outputDir
	hp.enabled = true
	hp.samples = hp.samples[:0]
	return nil
}

// Stop disables sampling. Call GeneratePlots() to produce output files.
func (hp *HeapPlotter) Stop() {
	hp.mu.Lock()
	defer hp.mu.Unlock()
	hp.enabled = false
}

// IsEnabled returns true if the plotter is currently recording.
func (hp *HeapPlotter) IsEnabled() bool {
	hp.mu.Lock()
	defer hp.mu.Unlock()
	return hp.enabled
}

// ObserveFrame implements FrameObserver.
func (hp *HeapPlotter) ObserveFrame(s LeakSample) {
	hp.mu.Lock()
	defer hp.mu.Unlock()
	if !hp.enabled {
		return
	}
	hp.samples = append(hp.samples, s)
}

// SampleCount returns the number of samples collected so far.
func (hp *HeapPlotter) SampleCount() int {
	hp.mu.Lock()
	defer hp.mu.Unlock()
	return len(hp.samples)
}

// GeneratePlots renders the collected series to PNG files in the output
// directory. Returns the number of plots written.
func (hp *HeapPlotter) GeneratePlots() (int, error) {
	hp.mu.Lock()
	defer hp.mu.Unlock()

	if hp.outputDir == "" {
		return 0, fmt.Errorf("no output directory configured")
	}
	if len(hp.samples) == 0 {
		return 0, nil
	}

	t0 := hp.samples[0].TimestampMillis

	heapPts := make(plotter.XYs, 0, len(hp.samples))
	adjPts := make(plotter.XYs, 0, len(hp.samples))
	ratePts := make(plotter.XYs, 0, len(hp.samples))
	for _, s := range hp.samples {
		x := float64(s.TimestampMillis-t0) / 1000.0
		heapPts = append(heapPts, plotter.XY{X: x, Y: float64(s.HeapBytes) / bytesPerMB})
		adjPts = append(adjPts, plotter.XY{X: x, Y: s.AdjustedMB})
		ratePts = append(ratePts, plotter.XY{X: x, Y: s.RateMBPerSec})
	}

	series := []struct {
		title string
		yAxis string
		file  string
		pts   plotter.XYs
	}{
		{"Heap Size", "Heap (MB)", "heap_mb.png", heapPts},
		{"Adjusted Growth Over Baseline", "Adjusted (MB)", "adjusted_mb.png", adjPts},
		{"Leak Rate Estimate", "Rate (MB/s)", "leak_rate.png", ratePts},
	}

	plotCount := 0
	for _, sp := range series {
		p := plot.New()
		p.Title.Text = sp.title
		p.X.Label.Text = "Time (s)"
		p.Y.Label.Text = sp.yAxis

		line, err := plotter.NewLine(sp.pts)
		if err != nil {
			return plotCount, fmt.Errorf("%s: %w", sp.file, err)
		}
		line.Width = vg.Points(1)
		p.Add(line)

		file := filepath.Join(hp.outputDir, sp.file)
		if err := p.Save(14*vg.Inch, 6*vg.Inch, file); err != nil {
			return plotCount, fmt.Errorf("save %s: %w", sp.file, err)
		}
		plotCount++
	}

	return plotCount, nil
}

// GetOutputDir returns the current output directory for plots.
func (hp *HeapPlotter) GetOutputDir() string {
	hp.mu.Lock()
	defer hp.mu.Unlock()
	return hp.outputDir
}

// FormatTimestamp generates a timestamp string for directory naming.
func FormatTimestamp(t time.Time) string {
	return t.Format("20060102_150405")
}

// MakePlotOutputDir creates a timestamped output directory name for plots,
// e.g. plots/run_20260823_101500.
func MakePlotOutputDir(baseDir string) string {
	return filepath.Join(baseDir, "run_"+FormatTimestamp(time.Now()))
}
