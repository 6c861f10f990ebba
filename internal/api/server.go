// Package api exposes the monitoring status of a running pipeline host over
// HTTP. JSON endpoints serve the UI overlay and tooling; the debug chart
// endpoint renders directly from the heaplog store.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/framewatch/internal/config"
	"github.com/banshee-data/framewatch/internal/heaplog"
	"github.com/banshee-data/framewatch/internal/monitoring"
	"github.com/banshee-data/framewatch/internal/vision"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Server serves leak monitor status and tuning endpoints.
type Server struct {
	leak      *vision.LeakMonitor
	stats     *monitoring.FrameStats
	store     *heaplog.Store // may be nil when recording is disabled
	sessionID string
}

// NewServer creates a Server. store may be nil; session endpoints then
// report 404.
func NewServer(leak *vision.LeakMonitor, stats *monitoring.FrameStats, store *heaplog.Store, sessionID string) *Server {
	return &Server{
		leak:      leak,
		stats:     stats,
		store:     store,
		sessionID: sessionID,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the route table for the server.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.healthz)
	mux.HandleFunc("/api/leak/status", s.showLeakStatus)
	mux.HandleFunc("/api/leak/params", s.leakParams)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/debug/heap/chart", s.handleHeapChart)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// LeakStatus is the JSON shape of /api/leak/status.
type LeakStatus struct {
	Message   string                    `json:"message"`
	Sample    *vision.LeakSample        `json:"sample,omitempty"`
	Frames    *monitoring.FrameSnapshot `json:"frames,omitempty"`
	SessionID string                    `json:"session_id,omitempty"`
}

func (s *Server) showLeakStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	status := LeakStatus{
		Message:   s.leak.DisplayMessage(time.Now().UnixMilli()),
		Sample:    s.leak.Snapshot(),
		SessionID: s.sessionID,
	}
	if s.stats != nil {
		status.Frames = s.stats.GetLatestSnapshot()
	}

	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write status")
		return
	}
}

// leakParams serves GET (current tuning) and POST (partial runtime update).
// Updates take effect on the next processed frame.
func (s *Server) leakParams(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodGet:
		s.writeLeakParams(w)
	case http.MethodPost:
		patch := config.EmptyTuningConfig()
		if err := json.NewDecoder(r.Body).Decode(patch); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid params JSON: "+err.Error())
			return
		}
		if err := patch.Validate(); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}

		p := s.leak.Params()
		if patch.LeakEnabled != nil {
			p.Enabled = *patch.LeakEnabled
		}
		if patch.LeakThresholdMB != nil {
			p.ThresholdMB = *patch.LeakThresholdMB
		}
		if patch.SettleDelay != nil {
			p.SettleDelay = patch.GetSettleDelay()
		}
		if patch.GCShrinkThreshold != nil {
			p.GCShrinkThresholdMB = *patch.GCShrinkThreshold
		}
		if patch.DisplayRefresh != nil {
			p.DisplayRefresh = patch.GetDisplayRefresh()
		}
		s.leak.SetParams(p)

		s.writeLeakParams(w)
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) writeLeakParams(w http.ResponseWriter) {
	p := s.leak.Params()
	out := map[string]interface{}{
		"leak_enabled":           p.Enabled,
		"leak_threshold_mb":      p.ThresholdMB,
		"settle_delay":           p.SettleDelay.String(),
		"gc_shrink_threshold_mb": p.GCShrinkThresholdMB,
		"display_refresh":        p.DisplayRefresh.String(),
	}
	if err := json.NewEncoder(w).Encode(out); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write params")
	}
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.store == nil {
		s.writeJSONError(w, http.StatusNotFound, "recording disabled")
		return
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	sessions, err := s.store.RecentSessions(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to list sessions: "+err.Error())
		return
	}
	if sessions == nil {
		sessions = []heaplog.Session{}
	}

	if err := json.NewEncoder(w).Encode(sessions); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write sessions")
	}
}
