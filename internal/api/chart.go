package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// handleHeapChart renders a quick line chart (HTML) of a session's heap
// samples using go-echarts. This is a debugging-only endpoint (no auth) to
// eyeball a run without external tooling.
// Query params:
//   - session_id (optional; defaults to the live session)
//   - max_points (optional; default 5000) to reduce payload size
func (s *Server) handleHeapChart(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeJSONError(w, http.StatusNotFound, "recording disabled")
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = s.sessionID
	}
	if sessionID == "" {
		s.writeJSONError(w, http.StatusNotFound, "no session available")
		return
	}

	maxPoints := 5000
	if mp := r.URL.Query().Get("max_points"); mp != "" {
		var v int
		if _, err := fmt.Sscanf(mp, "%d", &v); err == nil && v > 100 && v <= 50000 {
			maxPoints = v
		}
	}

	samples, err := s.store.SamplesForSession(sessionID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load samples: %v", err))
		return
	}
	if len(samples) == 0 {
		s.writeJSONError(w, http.StatusNotFound, "no samples for session")
		return
	}

	// Downsample by stride to stay within maxPoints
	stride := 1
	if len(samples) > maxPoints {
		stride = (len(samples) + maxPoints - 1) / maxPoints
	}

	t0 := samples[0].TimestampMS
	xAxis := make([]string, 0, len(samples)/stride+1)
	heapData := make([]opts.LineData, 0, len(samples)/stride+1)
	adjData := make([]opts.LineData, 0, len(samples)/stride+1)
	rateData := make([]opts.LineData, 0, len(samples)/stride+1)
	for i := 0; i < len(samples); i += stride {
		sm := samples[i]
		xAxis = append(xAxis, fmt.Sprintf("%.1fs", float64(sm.TimestampMS-t0)/1000))
		heapData = append(heapData, opts.LineData{Value: float64(sm.HeapBytes) / (1024 * 1024)})
		adjData = append(adjData, opts.LineData{Value: sm.AdjustedMB})
		rateData = append(rateData, opts.LineData{Value: sm.RateMBPerSec})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Heap Monitor", Theme: "dark", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Heap Growth",
			Subtitle: fmt.Sprintf("session=%s points=%d stride=%d", sessionID, len(xAxis), stride),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "MB"}),
	)
	line.SetXAxis(xAxis).
		AddSeries("heap (MB)", heapData).
		AddSeries("adjusted growth (MB)", adjData).
		AddSeries("rate (MB/s)", rateData)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
