package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}
	return path
}

func TestLoadTuningConfig_Full(t *testing.T) {
	path := writeConfig(t, "tuning.json", `{
		"leak_enabled": false,
		"leak_threshold_mb": 50,
		"settle_delay": "5s",
		"gc_shrink_threshold_mb": 10,
		"display_refresh": "100ms",
		"sample_stride": 3,
		"save_dir": "/tmp/frames",
		"max_concurrent_saves": 2,
		"source_fps": 60
	}`)

	cfg, err := LoadTuningConfig(path)
	if err != nil {
		t.Fatalf("LoadTuningConfig: %v", err)
	}

	if cfg.GetLeakEnabled() {
		t.Error("leak_enabled should be false")
	}
	if got := cfg.GetLeakThresholdMB(); got != 50 {
		t.Errorf("threshold = %f, want 50", got)
	}
	if got := cfg.GetSettleDelay(); got != 5*time.Second {
		t.Errorf("settle delay = %v, want 5s", got)
	}
	if got := cfg.GetGCShrinkThresholdMB(); got != 10 {
		t.Errorf("gc shrink threshold = %f, want 10", got)
	}
	if got := cfg.GetDisplayRefresh(); got != 100*time.Millisecond {
		t.Errorf("display refresh = %v, want 100ms", got)
	}
	if got := cfg.GetSampleStride(); got != 3 {
		t.Errorf("sample stride = %d, want 3", got)
	}
	if got := cfg.GetSaveDir(); got != "/tmp/frames" {
		t.Errorf("save dir = %q", got)
	}
	if got := cfg.GetMaxConcurrentSaves(); got != 2 {
		t.Errorf("max concurrent saves = %d, want 2", got)
	}
	if got := cfg.GetSourceFPS(); got != 60 {
		t.Errorf("source fps = %d, want 60", got)
	}
}

func TestTuningConfig_Defaults(t *testing.T) {
	cfg := EmptyTuningConfig()

	if !cfg.GetLeakEnabled() {
		t.Error("default leak_enabled should be true")
	}
	if got := cfg.GetLeakThresholdMB(); got != 100 {
		t.Errorf("default threshold = %f, want 100", got)
	}
	if got := cfg.GetSettleDelay(); got != 2*time.Second {
		t.Errorf("default settle delay = %v, want 2s", got)
	}
	if got := cfg.GetGCShrinkThresholdMB(); got != 20 {
		t.Errorf("default gc shrink threshold = %f, want 20", got)
	}
	if got := cfg.GetDisplayRefresh(); got != 250*time.Millisecond {
		t.Errorf("default display refresh = %v, want 250ms", got)
	}
	if got := cfg.GetSampleStride(); got != 1 {
		t.Errorf("default sample stride = %d, want 1", got)
	}
	if got := cfg.GetMaxConcurrentSaves(); got != 5 {
		t.Errorf("default max concurrent saves = %d, want 5", got)
	}
	if got := cfg.GetSourceFPS(); got != 30 {
		t.Errorf("default source fps = %d, want 30", got)
	}
}

func TestLoadTuningConfig_PartialKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "partial.json", `{"leak_threshold_mb": 42}`)

	cfg, err := LoadTuningConfig(path)
	if err != nil {
		t.Fatalf("LoadTuningConfig: %v", err)
	}
	if got := cfg.GetLeakThresholdMB(); got != 42 {
		t.Errorf("threshold = %f, want 42", got)
	}
	if got := cfg.GetSettleDelay(); got != 2*time.Second {
		t.Errorf("settle delay should fall back to default, got %v", got)
	}
}

func TestLoadTuningConfig_Errors(t *testing.T) {
	cases := []struct {
		name    string
		path    string
		content string
	}{
		{"wrong extension", "tuning.yaml", "{}"},
		{"bad json", "bad.json", "{not json"},
		{"negative threshold", "neg.json", `{"leak_threshold_mb": -5}`},
		{"zero gc threshold", "gc.json", `{"gc_shrink_threshold_mb": 0}`},
		{"bad settle delay", "delay.json", `{"settle_delay": "soon"}`},
		{"zero stride", "stride.json", `{"sample_stride": 0}`},
		{"zero saves", "saves.json", `{"max_concurrent_saves": 0}`},
		{"fps out of range", "fps.json", `{"source_fps": 500}`},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			path := writeConfig(t, c.path, c.content)
			if _, err := LoadTuningConfig(path); err == nil {
				t.Errorf("expected error for %s", c.name)
			}
		})
	}
}

func TestLoadTuningConfig_MissingFile(t *testing.T) {
	if _, err := LoadTuningConfig("/nonexistent/tuning.json"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLeakParamsPatch(t *testing.T) {
	threshold := 100.0
	stride := 2
	base := &TuningConfig{LeakThresholdMB: &threshold, SampleStride: &stride}

	newThreshold := 25.0
	enabled := false
	patch := &TuningConfig{LeakThresholdMB: &newThreshold, LeakEnabled: &enabled}

	merged := base.LeakParamsPatch(patch)

	wantThreshold := 25.0
	wantEnabled := false
	want := &TuningConfig{
		LeakThresholdMB: &wantThreshold,
		LeakEnabled:     &wantEnabled,
		SampleStride:    &stride,
	}
	if diff := cmp.Diff(want, merged); diff != "" {
		t.Errorf("merged config mismatch (-want +got):\n%s", diff)
	}

	// The patch does not mutate the receiver.
	if *base.LeakThresholdMB != 100 || base.LeakEnabled != nil {
		t.Error("LeakParamsPatch mutated the base config")
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Skipf("defaults file not reachable from test dir: %v", r)
		}
	}()
	cfg := MustLoadDefaultConfig()
	if cfg.GetLeakThresholdMB() != 100 {
		t.Errorf("defaults file threshold = %f, want 100", cfg.GetLeakThresholdMB())
	}
}
