package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// The schema matches the /api/leak/params endpoint so the same JSON can be
// used for both startup configuration and runtime updates.
type TuningConfig struct {
	// Leak heuristic params
	LeakEnabled       *bool    `json:"leak_enabled,omitempty"`
	LeakThresholdMB   *float64 `json:"leak_threshold_mb,omitempty"`
	SettleDelay       *string  `json:"settle_delay,omitempty"` // duration string like "2s"
	GCShrinkThreshold *float64 `json:"gc_shrink_threshold_mb,omitempty"`
	DisplayRefresh    *string  `json:"display_refresh,omitempty"` // duration string like "250ms"

	// Recorder params
	SampleStride *int `json:"sample_stride,omitempty"`

	// Frame saver params
	SaveDir            *string `json:"save_dir,omitempty"`
	MaxConcurrentSaves *int    `json:"max_concurrent_saves,omitempty"`

	// Frame source params
	SourceFPS *int `json:"source_fps,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the
// max file size. Fields omitted from the JSON file retain their default
// values, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.LeakThresholdMB != nil && *c.LeakThresholdMB <= 0 {
		return fmt.Errorf("leak_threshold_mb must be positive, got %f", *c.LeakThresholdMB)
	}

	if c.GCShrinkThreshold != nil && *c.GCShrinkThreshold <= 0 {
		return fmt.Errorf("gc_shrink_threshold_mb must be positive, got %f", *c.GCShrinkThreshold)
	}

	if c.SettleDelay != nil && *c.SettleDelay != "" {
		if _, err := time.ParseDuration(*c.SettleDelay); err != nil {
			return fmt.Errorf("invalid settle_delay '%s': %w", *c.SettleDelay, err)
		}
	}

	if c.DisplayRefresh != nil && *c.DisplayRefresh != "" {
		if _, err := time.ParseDuration(*c.DisplayRefresh); err != nil {
			return fmt.Errorf("invalid display_refresh '%s': %w", *c.DisplayRefresh, err)
		}
	}

	if c.SampleStride != nil && *c.SampleStride < 1 {
		return fmt.Errorf("sample_stride must be at least 1, got %d", *c.SampleStride)
	}

	if c.MaxConcurrentSaves != nil && *c.MaxConcurrentSaves < 1 {
		return fmt.Errorf("max_concurrent_saves must be at least 1, got %d", *c.MaxConcurrentSaves)
	}

	if c.SourceFPS != nil && (*c.SourceFPS < 1 || *c.SourceFPS > 240) {
		return fmt.Errorf("source_fps must be between 1 and 240, got %d", *c.SourceFPS)
	}

	return nil
}

// GetLeakEnabled returns the leak_enabled value or the default.
func (c *TuningConfig) GetLeakEnabled() bool {
	if c.LeakEnabled == nil {
		return true // default: heuristic on
	}
	return *c.LeakEnabled
}

// GetLeakThresholdMB returns the leak_threshold_mb value or the default.
func (c *TuningConfig) GetLeakThresholdMB() float64 {
	if c.LeakThresholdMB == nil {
		return 100 // default; generous to avoid false positives
	}
	return *c.LeakThresholdMB
}

// GetSettleDelay parses and returns the SettleDelay as a time.Duration.
func (c *TuningConfig) GetSettleDelay() time.Duration {
	if c.SettleDelay == nil || *c.SettleDelay == "" {
		return 2 * time.Second // default
	}
	d, err := time.ParseDuration(*c.SettleDelay)
	if err != nil {
		return 2 * time.Second // default on parse error
	}
	return d
}

// GetGCShrinkThresholdMB returns the gc_shrink_threshold_mb value or the default.
func (c *TuningConfig) GetGCShrinkThresholdMB() float64 {
	if c.GCShrinkThreshold == nil {
		return 20 // default; empirically calibrated
	}
	return *c.GCShrinkThreshold
}

// GetDisplayRefresh parses and returns the DisplayRefresh as a time.Duration.
func (c *TuningConfig) GetDisplayRefresh() time.Duration {
	if c.DisplayRefresh == nil || *c.DisplayRefresh == "" {
		return 250 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.DisplayRefresh)
	if err != nil {
		return 250 * time.Millisecond // default on parse error
	}
	return d
}

// GetSampleStride returns the sample_stride value or the default.
func (c *TuningConfig) GetSampleStride() int {
	if c.SampleStride == nil {
		return 1 // default: record every frame
	}
	return *c.SampleStride
}

// GetSaveDir returns the save_dir value or the default.
func (c *TuningConfig) GetSaveDir() string {
	if c.SaveDir == nil || *c.SaveDir == "" {
		return "frames"
	}
	return *c.SaveDir
}

// GetMaxConcurrentSaves returns the max_concurrent_saves value or the default.
func (c *TuningConfig) GetMaxConcurrentSaves() int {
	if c.MaxConcurrentSaves == nil {
		return 5 // default
	}
	return *c.MaxConcurrentSaves
}

// GetSourceFPS returns the source_fps value or the default.
func (c *TuningConfig) GetSourceFPS() int {
	if c.SourceFPS == nil {
		return 30 // default
	}
	return *c.SourceFPS
}

// LeakParamsPatch applies non-nil leak fields from a runtime update onto an
// existing config, returning the merged result. Used by the params API.
func (c *TuningConfig) LeakParamsPatch(patch *TuningConfig) *TuningConfig {
	merged := *c
	if patch.LeakEnabled != nil {
		merged.LeakEnabled = patch.LeakEnabled
	}
	if patch.LeakThresholdMB != nil {
		merged.LeakThresholdMB = patch.LeakThresholdMB
	}
	if patch.SettleDelay != nil {
		merged.SettleDelay = patch.SettleDelay
	}
	if patch.GCShrinkThreshold != nil {
		merged.GCShrinkThreshold = patch.GCShrinkThreshold
	}
	if patch.DisplayRefresh != nil {
		merged.DisplayRefresh = patch.DisplayRefresh
	}
	return &merged
}
