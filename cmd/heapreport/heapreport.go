// Command heapreport analyses recorded monitoring sessions offline. It
// fits a straight line to a session's adjusted heap growth to estimate the
// underlying leak rate independently of the per-frame heuristic, and can
// emit an HTML chart of the run.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/framewatch/internal/heaplog"
)

var (
	dbFile    = flag.String("db", "heaplog.db", "Path to the SQLite database file")
	sessionID = flag.String("session", "", "Session ID to analyse (default: latest)")
	list      = flag.Bool("list", false, "List recorded sessions and exit")
	limit     = flag.Int("limit", 20, "Number of sessions to list")
	htmlOut   = flag.String("html", "", "Write an HTML chart of the session to this file")
)

func main() {
	flag.Parse()

	store, err := heaplog.Open(*dbFile)
	if err != nil {
		log.Fatalf("failed to open %s: %v", *dbFile, err)
	}
	defer store.Close()

	if *list {
		if err := listSessions(store); err != nil {
			log.Fatal(err)
		}
		return
	}

	id := *sessionID
	if id == "" {
		latest, err := store.LatestSession()
		if err != nil {
			log.Fatalf("failed to find latest session: %v", err)
		}
		if latest == nil {
			log.Fatalf("no sessions recorded in %s", *dbFile)
		}
		id = latest.ID
	}

	if err := analyseSession(store, id); err != nil {
		log.Fatal(err)
	}
}

func listSessions(store *heaplog.Store) error {
	sessions, err := store.RecentSessions(*limit)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tSTARTED\tDURATION\tSAMPLES\tNOTES")
	for _, s := range sessions {
		started := time.UnixMilli(s.StartedAtMS).Format(time.RFC3339)
		duration := "running"
		if s.EndedAtMS != nil {
			duration = (time.Duration(*s.EndedAtMS-s.StartedAtMS) * time.Millisecond).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", s.ID, started, duration, s.SampleCount, s.Notes)
	}
	return w.Flush()
}

func analyseSession(store *heaplog.Store, id string) error {
	samples, err := store.SamplesForSession(id)
	if err != nil {
		return fmt.Errorf("failed to load samples: %w", err)
	}
	if len(samples) < 2 {
		return fmt.Errorf("session %s has %d samples, need at least 2", id, len(samples))
	}

	events, err := store.GCEventsForSession(id)
	if err != nil {
		return fmt.Errorf("failed to load gc events: %w", err)
	}
	warnings, err := store.WarningsForSession(id)
	if err != nil {
		return fmt.Errorf("failed to load warnings: %w", err)
	}

	// Least-squares fit of adjusted growth (MB) against time (s). The slope
	// is the leak-rate estimate for the whole run, which smooths out the
	// frame-to-frame noise the live heuristic sees.
	t0 := samples[0].TimestampMS
	xs := make([]float64, len(samples))
	ys := make([]float64, len(samples))
	for i, sm := range samples {
		xs[i] = float64(sm.TimestampMS-t0) / 1000
		ys[i] = sm.AdjustedMB
	}
	intercept, slope := stat.LinearRegression(xs, ys, nil, false)
	r2 := stat.RSquared(xs, ys, nil, intercept, slope)

	last := samples[len(samples)-1]
	span := time.Duration(last.TimestampMS-t0) * time.Millisecond

	fmt.Printf("session:        %s\n", id)
	fmt.Printf("samples:        %d over %s\n", len(samples), span.Round(time.Second))
	fmt.Printf("heap at start:  %.1fMB\n", float64(samples[0].HeapBytes)/(1024*1024))
	fmt.Printf("heap at end:    %.1fMB\n", float64(last.HeapBytes)/(1024*1024))
	fmt.Printf("adjusted growth: %.1fMB\n", last.AdjustedMB)
	fmt.Printf("fitted rate:    %+.3fMB/sec (r² %.3f)\n", slope, r2)
	fmt.Printf("gc events:      %d\n", len(events))
	fmt.Printf("warnings:       %d\n", len(warnings))
	for _, w := range warnings {
		fmt.Printf("  +%6.1fs  %s\n", float64(w.TimestampMS-t0)/1000, w.Message)
	}

	switch {
	case slope > 1:
		fmt.Printf("\nverdict: leaking (%.1fMB/sec sustained)\n", slope)
	case slope > 0.1:
		fmt.Printf("\nverdict: slow growth (%.2fMB/sec), worth a longer run\n", slope)
	default:
		fmt.Println("\nverdict: stable")
	}

	if *htmlOut != "" {
		if err := writeHTMLReport(*htmlOut, id, samples, slope, intercept); err != nil {
			return err
		}
		fmt.Printf("\nwrote chart to %s\n", *htmlOut)
	}
	return nil
}

func writeHTMLReport(path, id string, samples []heaplog.Sample, slope, intercept float64) error {
	t0 := samples[0].TimestampMS
	xAxis := make([]string, len(samples))
	adjData := make([]opts.LineData, len(samples))
	fitData := make([]opts.LineData, len(samples))
	for i, sm := range samples {
		x := float64(sm.TimestampMS-t0) / 1000
		xAxis[i] = fmt.Sprintf("%.1fs", x)
		adjData[i] = opts.LineData{Value: sm.AdjustedMB}
		fitData[i] = opts.LineData{Value: intercept + slope*x}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Heap Report", Theme: "dark", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Adjusted Heap Growth",
			Subtitle: fmt.Sprintf("session=%s fit=%+.3fMB/sec", id, slope),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "MB"}),
	)
	line.SetXAxis(xAxis).
		AddSeries("adjusted growth (MB)", adjData).
		AddSeries("least-squares fit", fitData)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}
