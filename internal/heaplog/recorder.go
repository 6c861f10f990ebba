package heaplog

import (
	"github.com/banshee-data/framewatch/internal/monitoring"
	"github.com/banshee-data/framewatch/internal/vision"
)

// Recorder bridges the frame loop and the store: it implements
// vision.FrameObserver and persists samples, reclaim events, and warning
// transitions for one session. Store errors are logged, never surfaced to
// the frame path.
type Recorder struct {
	store     *Store
	sessionID string
	stride    int

	frameCount    int
	lastGCEvents  int64
	lastReclaimed float64
	lastMessage   string
}

// NewRecorder creates a recorder for the given session. stride controls
// sample downsampling: 1 records every observed frame, n records every nth.
func NewRecorder(store *Store, sessionID string, stride int) *Recorder {
	if stride < 1 {
		stride = 1
	}
	return &Recorder{
		store:     store,
		sessionID: sessionID,
		stride:    stride,
	}
}

// ObserveFrame implements vision.FrameObserver.
func (r *Recorder) ObserveFrame(s vision.LeakSample) {
	// Reclaim events and warning transitions are rare; record them
	// regardless of the sampling stride.
	if s.GCEvents > r.lastGCEvents {
		err := r.store.RecordGCEvent(GCEvent{
			SessionID:   r.sessionID,
			TimestampMS: s.TimestampMillis,
			ReclaimedMB: s.GCReclaimedMB - r.lastReclaimed,
			EventIndex:  s.GCEvents,
		})
		if err != nil {
			monitoring.Logf("heaplog recorder: %v", err)
		}
		r.lastGCEvents = s.GCEvents
		r.lastReclaimed = s.GCReclaimedMB
	}

	if s.Message != "" && s.Message != r.lastMessage {
		err := r.store.RecordWarning(Warning{
			SessionID:   r.sessionID,
			TimestampMS: s.TimestampMillis,
			Message:     s.Message,
		})
		if err != nil {
			monitoring.Logf("heaplog recorder: %v", err)
		}
	}
	r.lastMessage = s.Message

	if r.frameCount%r.stride == 0 {
		err := r.store.RecordSample(Sample{
			SessionID:    r.sessionID,
			TimestampMS:  s.TimestampMillis,
			HeapBytes:    s.HeapBytes,
			DeltaMB:      s.DeltaMB,
			AdjustedMB:   s.AdjustedMB,
			RateMBPerSec: s.RateMBPerSec,
		})
		if err != nil {
			monitoring.Logf("heaplog recorder: %v", err)
		}
	}
	r.frameCount++
}
