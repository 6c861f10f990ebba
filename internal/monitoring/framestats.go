package monitoring

import (
	"fmt"
	"sync"
	"time"
)

// FrameSnapshot represents a snapshot of current frame statistics
type FrameSnapshot struct {
	FramesPerSec    float64
	ProcessMillis   float64 // mean per-frame processing time over the interval
	HeapGrowthMBSec float64 // heap growth rate over the interval (may be negative)
	SavedCount      int64
	Timestamp       time.Time
}

// FrameStats tracks per-frame statistics with thread-safe operations
type FrameStats struct {
	mu             sync.Mutex
	frameCount     int64
	processNanos   int64
	heapDeltaBytes int64
	savedCount     int64
	lastReset      time.Time
	startTime      time.Time
	latestSnapshot *FrameSnapshot
}

// NewFrameStats creates a new FrameStats instance
func NewFrameStats() *FrameStats {
	now := time.Now()
	return &FrameStats{
		lastReset: now,
		startTime: now,
	}
}

// AddFrame records one processed frame and its processing duration
func (fs *FrameStats) AddFrame(processing time.Duration) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.frameCount++
	fs.processNanos += processing.Nanoseconds()
}

// AddHeapDelta accumulates the heap size change observed since the last frame
func (fs *FrameStats) AddHeapDelta(bytes int64) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.heapDeltaBytes += bytes
}

// AddSaved increments the count of frames submitted for disk save
func (fs *FrameStats) AddSaved() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.savedCount++
}

// GetAndReset returns current stats and resets counters
func (fs *FrameStats) GetAndReset() (frames int64, processNanos int64, heapDelta int64, saved int64, duration time.Duration) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	now := time.Now()
	duration = now.Sub(fs.lastReset)
	frames = fs.frameCount
	processNanos = fs.processNanos
	heapDelta = fs.heapDeltaBytes
	saved = fs.savedCount

	fs.frameCount = 0
	fs.processNanos = 0
	fs.heapDeltaBytes = 0
	fs.savedCount = 0
	fs.lastReset = now

	return
}

// LogStats logs formatted statistics and stores snapshot for the web interface
func (fs *FrameStats) LogStats() {
	frames, processNanos, heapDelta, saved, duration := fs.GetAndReset()
	if frames == 0 {
		return
	}

	framesPerSec := float64(frames) / duration.Seconds()
	processMillis := float64(processNanos) / float64(frames) / 1e6
	heapMBSec := float64(heapDelta) / duration.Seconds() / (1024 * 1024)

	fs.mu.Lock()
	fs.latestSnapshot = &FrameSnapshot{
		FramesPerSec:    framesPerSec,
		ProcessMillis:   processMillis,
		HeapGrowthMBSec: heapMBSec,
		SavedCount:      saved,
		Timestamp:       time.Now(),
	}
	fs.mu.Unlock()

	logMsg := fmt.Sprintf("Frame stats: %.1f fps, %.2fms/frame, heap %+.2f MB/sec",
		framesPerSec, processMillis, heapMBSec)
	if saved > 0 {
		logMsg += fmt.Sprintf(", %d saved", saved)
	}
	Logf("%s", logMsg)
}

// GetUptime returns the time since the stats were created
func (fs *FrameStats) GetUptime() time.Duration {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return time.Since(fs.startTime)
}

// GetLatestSnapshot returns the most recent stats snapshot for the web interface
func (fs *FrameStats) GetLatestSnapshot() *FrameSnapshot {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.latestSnapshot == nil {
		return nil
	}
	// Return a copy to avoid race conditions
	snapshot := *fs.latestSnapshot
	return &snapshot
}
