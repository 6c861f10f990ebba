package vision

import (
	"time"

	"github.com/banshee-data/framewatch/internal/monitoring"
)

// Pipeline is the per-frame image processing callback supplied by the
// application. All methods run on the single frame thread.
type Pipeline interface {
	// Init is called once, with the first frame, before any ProcessFrame.
	Init(Frame)
	// ProcessFrame transforms one frame and returns the frame to display.
	// It must not block and must not retain buffers across calls.
	ProcessFrame(Frame) Frame
	// OnViewportTapped is invoked when the user taps the rendered viewport.
	OnViewportTapped()
}

// PipelineBase provides no-op Init and OnViewportTapped so pipelines only
// need to implement ProcessFrame.
type PipelineBase struct{}

// Init implements Pipeline.
func (PipelineBase) Init(Frame) {}

// OnViewportTapped implements Pipeline.
func (PipelineBase) OnViewportTapped() {}

// FrameObserver receives the leak monitor's per-frame sample after each
// processed frame. Observers run on the frame thread and must be cheap.
type FrameObserver interface {
	ObserveFrame(LeakSample)
}

// RunnerConfig wires a Runner.
type RunnerConfig struct {
	// Pipeline is the user callback to drive. Required.
	Pipeline Pipeline
	// Leak is the heap monitor updated once per frame. Required.
	Leak *LeakMonitor
	// Clock supplies timestamps; nil means SystemClock.
	Clock Clock
	// Heap supplies heap sizes; nil means RuntimeHeapProbe.
	Heap HeapProbe
	// Stats is optional per-interval frame accounting.
	Stats *monitoring.FrameStats
	// Observers receive each frame's leak sample (recorder, plotter, ...).
	Observers []FrameObserver
}

// Runner dispatches frames into a Pipeline and runs the leak heuristic once
// per frame. It is driven from a single frame thread; only OverlayMessage is
// safe to call from other goroutines.
type Runner struct {
	pipeline  Pipeline
	leak      *LeakMonitor
	clock     Clock
	heap      HeapProbe
	stats     *monitoring.FrameStats
	observers []FrameObserver

	initDone   bool
	lastHeap   int64
	framesSeen uint64
	observed   *LeakSample // last sample already delivered to observers
}

// NewRunner creates a Runner. Clock and Heap default to the system
// implementations when nil.
func NewRunner(cfg RunnerConfig) *Runner {
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	heap := cfg.Heap
	if heap == nil {
		heap = RuntimeHeapProbe{}
	}
	return &Runner{
		pipeline:  cfg.Pipeline,
		leak:      cfg.Leak,
		clock:     clock,
		heap:      heap,
		stats:     cfg.Stats,
		observers: cfg.Observers,
	}
}

// ProcessFrame runs one frame through the pipeline and then updates the leak
// estimate. Init is dispatched exactly once, with the first frame.
func (r *Runner) ProcessFrame(f Frame) Frame {
	if !r.initDone {
		r.pipeline.Init(f)
		r.initDone = true
	}

	start := time.Now()
	out := r.pipeline.ProcessFrame(f)
	processing := time.Since(start)

	nowMillis := r.clock.NowMillis()
	heapBytes := r.heap.AllocatedBytes()
	r.leak.OnFrame(nowMillis, heapBytes)

	if r.stats != nil {
		r.stats.AddFrame(processing)
		if r.framesSeen > 0 {
			r.stats.AddHeapDelta(heapBytes - r.lastHeap)
		}
	}
	r.lastHeap = heapBytes
	r.framesSeen++

	if len(r.observers) > 0 {
		// Pre-settle frames store no sample; pointer identity skips
		// re-delivering a stale one.
		if s := r.leak.lastSample.Load(); s != nil && s != r.observed {
			r.observed = s
			for _, o := range r.observers {
				o.ObserveFrame(*s)
			}
		}
	}

	return out
}

// OnViewportTapped forwards a viewport tap to the pipeline.
func (r *Runner) OnViewportTapped() {
	r.pipeline.OnViewportTapped()
}

// OverlayMessage returns the rate-limited advisory for the UI overlay.
// Safe to call from a goroutine other than the frame thread.
func (r *Runner) OverlayMessage() string {
	return r.leak.DisplayMessage(r.clock.NowMillis())
}

// FramesSeen returns the number of frames dispatched so far.
func (r *Runner) FramesSeen() uint64 {
	return r.framesSeen
}
