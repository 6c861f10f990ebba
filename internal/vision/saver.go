package vision

import (
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	"github.com/banshee-data/framewatch/internal/monitoring"
)

// DefaultMaxConcurrentSaves bounds how many frame writes may be in flight at
// once so a burst of saves cannot exhaust file handles or disk bandwidth.
const DefaultMaxConcurrentSaves = 5

// FrameSaver writes frames to disk as PNG files without blocking the frame
// thread. Submission is fire-and-forget: encoding and the write happen on a
// spawned goroutine, and errors are logged rather than returned.
type FrameSaver struct {
	dir    string
	tokens chan struct{}
	wg     sync.WaitGroup
}

// NewFrameSaver creates a saver rooted at dir, creating the directory if
// needed. maxConcurrent <= 0 selects DefaultMaxConcurrentSaves.
func NewFrameSaver(dir string, maxConcurrent int) (*FrameSaver, error) {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentSaves
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create save dir: %w", err)
	}
	return &FrameSaver{
		dir:    dir,
		tokens: make(chan struct{}, maxConcurrent),
	}, nil
}

// Dir returns the saver's base directory.
func (s *FrameSaver) Dir() string {
	return s.dir
}

// Save writes the frame as <dir>/<name>.png.
func (s *FrameSaver) Save(f Frame, name string) {
	s.SaveFullPath(f, filepath.Join(s.dir, name+".png"))
}

// SaveFullPath writes the frame to the given path. The call blocks only to
// acquire a concurrency token; the encode and write run asynchronously.
func (s *FrameSaver) SaveFullPath(f Frame, path string) {
	if f.Image == nil {
		monitoring.Logf("frame saver: skipping save of frame %d: no image payload", f.Seq)
		return
	}

	s.tokens <- struct{}{}
	s.wg.Add(1)

	go func() {
		defer func() {
			<-s.tokens
			s.wg.Done()
		}()

		out, err := os.Create(path)
		if err != nil {
			monitoring.Logf("frame saver: create %s: %v", path, err)
			return
		}
		defer out.Close()

		if err := png.Encode(out, f.Image); err != nil {
			monitoring.Logf("frame saver: encode %s: %v", path, err)
		}
	}()
}

// Wait blocks until all in-flight saves have finished. Intended for shutdown
// and tests.
func (s *FrameSaver) Wait() {
	s.wg.Wait()
}
