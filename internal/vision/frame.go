// Package vision provides the per-frame processing harness and the
// native-heap leak heuristic that runs alongside it.
package vision

import (
	"image"
	"time"
)

// Frame is one captured image moving through the pipeline.
type Frame struct {
	// Seq is a monotonically increasing frame counter assigned by the source.
	Seq uint64
	// Timestamp is the capture time of the frame.
	Timestamp time.Time
	// Image is the pixel payload. Pipelines must not retain it across frames.
	Image image.Image
}
