// Command framewatch runs a demo vision pipeline under the heap leak
// monitor. Frames are generated synthetically at a fixed rate, processed
// through the pipeline runner, and the monitor's advisory is exposed over
// HTTP alongside the recorded session data.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/color"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/framewatch/internal/api"
	"github.com/banshee-data/framewatch/internal/config"
	"github.com/banshee-data/framewatch/internal/heaplog"
	"github.com/banshee-data/framewatch/internal/monitoring"
	"github.com/banshee-data/framewatch/internal/vision"
)

var (
	listen      = flag.String("listen", ":8080", "HTTP listen address")
	dbFile      = flag.String("db", "heaplog.db", "Path to the SQLite database file (empty disables recording)")
	configPath  = flag.String("config", "", "Path to a tuning config JSON file")
	runFor      = flag.Duration("duration", 0, "Stop after this long (0 runs until signalled)")
	leakPerSec  = flag.Float64("simulate-leak", 0, "Deliberately leak this many MB/sec in the demo pipeline")
	saveEvery   = flag.Int("save-every", 0, "Save every Nth processed frame as PNG (0 disables)")
	plotsDir    = flag.String("plots-dir", "", "Generate PNG plots into this directory on shutdown")
	logInterval = flag.Int("log-interval", 2, "Statistics logging interval in seconds")
	frameWidth  = flag.Int("width", 320, "Synthetic frame width")
	frameHeight = flag.Int("height", 240, "Synthetic frame height")
)

// demoPipeline renders a moving gradient. With a non-zero leak rate it
// retains buffers on purpose so the monitor has something to find.
type demoPipeline struct {
	vision.PipelineBase
	leakBytesPerFrame int
	retained          [][]byte
}

func (p *demoPipeline) Init(f vision.Frame) {
	log.Printf("demo pipeline initialised with %v frame", f.Image.Bounds().Size())
}

func (p *demoPipeline) ProcessFrame(f vision.Frame) vision.Frame {
	img, ok := f.Image.(*image.RGBA)
	if !ok {
		return f
	}

	// Shift the hue with the sequence number so the output visibly changes.
	shift := uint8(f.Seq % 255)
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y += 4 {
		for x := b.Min.X; x < b.Max.X; x += 4 {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x) + shift, G: uint8(y), B: shift, A: 255})
		}
	}

	if p.leakBytesPerFrame > 0 {
		// The exact anti-pattern the monitor warns about.
		p.retained = append(p.retained, make([]byte, p.leakBytesPerFrame))
	}

	return f
}

func loadTuning() *config.TuningConfig {
	if *configPath == "" {
		return config.EmptyTuningConfig()
	}
	cfg, err := config.LoadTuningConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load tuning config: %v", err)
	}
	return cfg
}

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := loadTuning()

	leak := vision.NewLeakMonitor(vision.LeakParams{
		Enabled:             cfg.GetLeakEnabled(),
		ThresholdMB:         cfg.GetLeakThresholdMB(),
		SettleDelay:         cfg.GetSettleDelay(),
		GCShrinkThresholdMB: cfg.GetGCShrinkThresholdMB(),
		DisplayRefresh:      cfg.GetDisplayRefresh(),
	}, vision.ProcMemInfoProbe{})

	stats := monitoring.NewFrameStats()

	var observers []vision.FrameObserver
	var store *heaplog.Store
	var sessionID string
	if *dbFile != "" {
		var err error
		store, err = heaplog.Open(*dbFile)
		if err != nil {
			log.Fatalf("failed to open heaplog store: %v", err)
		}
		defer store.Close()

		sess, err := store.StartSession(fmt.Sprintf("framewatch demo, simulate-leak=%.1fMB/s", *leakPerSec))
		if err != nil {
			log.Fatalf("failed to start session: %v", err)
		}
		sessionID = sess.ID
		observers = append(observers, heaplog.NewRecorder(store, sessionID, cfg.GetSampleStride()))
		log.Printf("recording session %s to %s", sessionID, *dbFile)
	}

	var plotter *vision.HeapPlotter
	if *plotsDir != "" {
		plotter = vision.NewHeapPlotter()
		if err := plotter.Start(vision.MakePlotOutputDir(*plotsDir)); err != nil {
			log.Fatalf("failed to start plotter: %v", err)
		}
		observers = append(observers, plotter)
	}

	fps := cfg.GetSourceFPS()
	leakBytesPerFrame := 0
	if *leakPerSec > 0 {
		leakBytesPerFrame = int(*leakPerSec * 1024 * 1024 / float64(fps))
	}

	runner := vision.NewRunner(vision.RunnerConfig{
		Pipeline:  &demoPipeline{leakBytesPerFrame: leakBytesPerFrame},
		Leak:      leak,
		Stats:     stats,
		Observers: observers,
	})

	var saver *vision.FrameSaver
	if *saveEvery > 0 {
		var err error
		saver, err = vision.NewFrameSaver(cfg.GetSaveDir(), cfg.GetMaxConcurrentSaves())
		if err != nil {
			log.Fatalf("failed to create frame saver: %v", err)
		}
		log.Printf("saving every %d frames to %s", *saveEvery, saver.Dir())
	}

	// HTTP status surface
	server := api.NewServer(leak, stats, store, sessionID)
	httpServer := &http.Server{
		Addr:    *listen,
		Handler: api.LoggingMiddleware(server.ServeMux()),
	}
	go func() {
		log.Printf("HTTP server listening on %s", *listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	// Periodic stats logging
	go func() {
		ticker := time.NewTicker(time.Duration(*logInterval) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats.LogStats()
				if msg := runner.OverlayMessage(); msg != "" {
					monitoring.Logf("OVERLAY: %s", msg)
				}
			}
		}
	}()

	runCtx := ctx
	if *runFor > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, *runFor)
		defer cancel()
	}

	// Frame loop: single thread, fixed rate.
	log.Printf("frame loop starting at %d fps", fps)
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	var seq uint64
frameLoop:
	for {
		select {
		case <-runCtx.Done():
			break frameLoop
		case now := <-ticker.C:
			seq++
			out := runner.ProcessFrame(vision.Frame{
				Seq:       seq,
				Timestamp: now,
				Image:     image.NewRGBA(image.Rect(0, 0, *frameWidth, *frameHeight)),
			})
			if saver != nil && seq%uint64(*saveEvery) == 0 {
				saver.Save(out, fmt.Sprintf("frame_%06d", out.Seq))
				stats.AddSaved()
			}
		}
	}

	log.Printf("frame loop stopped after %d frames", runner.FramesSeen())

	if saver != nil {
		saver.Wait()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}

	if store != nil {
		if err := store.EndSession(sessionID); err != nil {
			log.Printf("failed to end session: %v", err)
		}
	}

	if plotter != nil {
		plotter.Stop()
		n, err := plotter.GeneratePlots()
		if err != nil {
			log.Printf("plot generation failed: %v", err)
		} else if n > 0 {
			log.Printf("wrote %d plots to %s", n, plotter.GetOutputDir())
		}
	}
}
