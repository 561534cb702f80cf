package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StreamTuning represents the optional tuning file for stream parameters.
// All fields are pointers so a partial JSON file only overrides what it
// names; the Get* methods supply defaults for everything else.
type StreamTuning struct {
	// Frame assembly params
	BufferKiB *int `json:"buffer_kib,omitempty"`

	// Burst cycle params
	InterBurstDelay *string `json:"inter_burst_delay,omitempty"` // duration string like "10ms"
	WarmupBursts    *int    `json:"warmup_bursts,omitempty"`

	// Delivery params
	QueueDepth *int    `json:"queue_depth,omitempty"`
	FPSWindow  *string `json:"fps_window,omitempty"` // duration string like "1s"
}

// Helper functions to create pointers
func ptrInt(v int) *int          { return &v }
func ptrString(v string) *string { return &v }

// EmptyStreamTuning returns a StreamTuning with all fields set to nil,
// meaning every parameter falls back to its default.
func EmptyStreamTuning() *StreamTuning {
	return &StreamTuning{}
}

// LoadStreamTuning loads a StreamTuning from a JSON file.
// The file is validated to ensure it has a .json extension and is under the
// max file size. Fields omitted from the JSON file retain their default
// values, so partial configs are safe.
func LoadStreamTuning(path string) (*StreamTuning, error) {
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

	cfg := EmptyStreamTuning()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *StreamTuning) Validate() error {
	if c.BufferKiB != nil && *c.BufferKiB <= 0 {
		return fmt.Errorf("buffer_kib must be positive, got %d", *c.BufferKiB)
	}

	if c.WarmupBursts != nil && *c.WarmupBursts < 0 {
		return fmt.Errorf("warmup_bursts must be non-negative, got %d", *c.WarmupBursts)
	}

	if c.QueueDepth != nil && *c.QueueDepth < 1 {
		return fmt.Errorf("queue_depth must be at least 1, got %d", *c.QueueDepth)
	}

	if c.InterBurstDelay != nil && *c.InterBurstDelay != "" {
		if _, err := time.ParseDuration(*c.InterBurstDelay); err != nil {
			return fmt.Errorf("invalid inter_burst_delay '%s': %w", *c.InterBurstDelay, err)
		}
	}

	if c.FPSWindow != nil && *c.FPSWindow != "" {
		if _, err := time.ParseDuration(*c.FPSWindow); err != nil {
			return fmt.Errorf("invalid fps_window '%s': %w", *c.FPSWindow, err)
		}
	}

	return nil
}

// GetBufferSize returns the frame buffer capacity in bytes.
func (c *StreamTuning) GetBufferSize() int {
	if c.BufferKiB == nil {
		return 64 * 1024 // default
	}
	return *c.BufferKiB * 1024
}

// GetInterBurstDelay parses and returns the InterBurstDelay as a time.Duration.
func (c *StreamTuning) GetInterBurstDelay() time.Duration {
	if c.InterBurstDelay == nil || *c.InterBurstDelay == "" {
		return 10 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.InterBurstDelay)
	if err != nil {
		return 10 * time.Millisecond // default on parse error
	}
	return d
}

// GetWarmupBursts returns the warmup_bursts value or the default.
func (c *StreamTuning) GetWarmupBursts() int {
	if c.WarmupBursts == nil {
		return 0 // default: no warmup cycles
	}
	return *c.WarmupBursts
}

// GetQueueDepth returns the queue_depth value or the default.
func (c *StreamTuning) GetQueueDepth() int {
	if c.QueueDepth == nil {
		return 5 // default
	}
	return *c.QueueDepth
}

// GetFPSWindow parses and returns the FPSWindow as a time.Duration.
func (c *StreamTuning) GetFPSWindow() time.Duration {
	if c.FPSWindow == nil || *c.FPSWindow == "" {
		return time.Second // default
	}
	d, err := time.ParseDuration(*c.FPSWindow)
	if err != nil {
		return time.Second // default on parse error
	}
	return d
}
