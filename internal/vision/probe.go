package vision

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Clock supplies monotonic wall-clock milliseconds to the leak monitor.
type Clock interface {
	NowMillis() int64
}

// SystemClock implements Clock using time.Now.
type SystemClock struct{}

// NowMillis returns the current wall-clock time in milliseconds.
func (SystemClock) NowMillis() int64 {
	return time.Now().UnixMilli()
}

// HeapProbe reports the current heap allocation attributable to the process.
type HeapProbe interface {
	AllocatedBytes() int64
}

// RuntimeHeapProbe implements HeapProbe from the Go runtime's own heap
// accounting. HeapAlloc covers live pipeline allocations, which is the
// closest equivalent of a native-heap query on this platform.
type RuntimeHeapProbe struct{}

// AllocatedBytes returns the bytes of allocated heap objects.
func (RuntimeHeapProbe) AllocatedBytes() int64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return int64(ms.HeapAlloc)
}

// MemInfoProbe reports a system memory snapshot. It is queried only when a
// leak is suspected, so implementations may be comparatively expensive.
type MemInfoProbe interface {
	MemInfo() (availableBytes, totalBytes int64, err error)
}

// ProcMemInfoProbe reads MemAvailable and MemTotal from /proc/meminfo.
type ProcMemInfoProbe struct {
	// Path overrides the meminfo location, used by tests. Empty means
	// /proc/meminfo.
	Path string
}

// MemInfo parses the kernel meminfo file. Values are reported in bytes.
func (p ProcMemInfoProbe) MemInfo() (int64, int64, error) {
	path := p.Path
	if path == "" {
		path = "/proc/meminfo"
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open meminfo: %w", err)
	}
	defer f.Close()

	var available, total int64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			total = parseMemInfoKB(line)
		case strings.HasPrefix(line, "MemAvailable:"):
			available = parseMemInfoKB(line)
		}
		if total > 0 && available > 0 {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, 0, fmt.Errorf("read meminfo: %w", err)
	}
	if total == 0 {
		return 0, 0, fmt.Errorf("meminfo: MemTotal not found in %s", path)
	}

	return available, total, nil
}

// parseMemInfoKB extracts the numeric kB value from a meminfo line such as
// "MemTotal:       16384000 kB" and returns it in bytes.
func parseMemInfoKB(line string) int64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	kb, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return kb * 1024
}
