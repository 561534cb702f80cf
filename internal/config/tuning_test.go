package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadStreamTuning(t *testing.T) {
	// Create temporary directory
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	// Write test config with flat schema
	testJSON := `{
  "buffer_kib": 128,
  "inter_burst_delay": "25ms",
  "warmup_bursts": 2,
  "queue_depth": 8,
  "fps_window": "5s"
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	// Load the config
	cfg, err := LoadStreamTuning(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Verify values
	if cfg.BufferKiB == nil || *cfg.BufferKiB != 128 {
		t.Errorf("Expected BufferKiB 128, got %v", cfg.BufferKiB)
	}
	if cfg.InterBurstDelay == nil || *cfg.InterBurstDelay != "25ms" {
		t.Errorf("Expected InterBurstDelay '25ms', got %v", cfg.InterBurstDelay)
	}
	if cfg.WarmupBursts == nil || *cfg.WarmupBursts != 2 {
		t.Errorf("Expected WarmupBursts 2, got %v", cfg.WarmupBursts)
	}
	if cfg.QueueDepth == nil || *cfg.QueueDepth != 8 {
		t.Errorf("Expected QueueDepth 8, got %v", cfg.QueueDepth)
	}
	if cfg.FPSWindow == nil || *cfg.FPSWindow != "5s" {
		t.Errorf("Expected FPSWindow '5s', got %v", cfg.FPSWindow)
	}

	// Getter methods should reflect the loaded values
	if cfg.GetBufferSize() != 128*1024 {
		t.Errorf("GetBufferSize() = %d, want %d", cfg.GetBufferSize(), 128*1024)
	}
	if cfg.GetInterBurstDelay() != 25*time.Millisecond {
		t.Errorf("GetInterBurstDelay() = %v, want 25ms", cfg.GetInterBurstDelay())
	}
	if cfg.GetWarmupBursts() != 2 {
		t.Errorf("GetWarmupBursts() = %d, want 2", cfg.GetWarmupBursts())
	}
	if cfg.GetQueueDepth() != 8 {
		t.Errorf("GetQueueDepth() = %d, want 8", cfg.GetQueueDepth())
	}
	if cfg.GetFPSWindow() != 5*time.Second {
		t.Errorf("GetFPSWindow() = %v, want 5s", cfg.GetFPSWindow())
	}
}

func TestLoadStreamTuningMissing(t *testing.T) {
	_, err := LoadStreamTuning("/nonexistent/path/to/config.json")
	if err == nil {
		t.Error("Expected error when loading missing file, got nil")
	}
}

func TestLoadStreamTuningInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid_config.json")

	// Write invalid JSON
	invalidJSON := `{
  "buffer_kib": "invalid"
`
	if err := os.WriteFile(configPath, []byte(invalidJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := LoadStreamTuning(configPath)
	if err == nil {
		t.Error("Expected error when loading invalid JSON, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *StreamTuning
		wantErr bool
	}{
		{
			name:    "empty config is valid",
			cfg:     EmptyStreamTuning(),
			wantErr: false,
		},
		{
			name: "full config is valid",
			cfg: &StreamTuning{
				BufferKiB:       ptrInt(64),
				InterBurstDelay: ptrString("10ms"),
				WarmupBursts:    ptrInt(1),
				QueueDepth:      ptrInt(5),
				FPSWindow:       ptrString("1s"),
			},
			wantErr: false,
		},
		{
			name: "zero buffer size",
			cfg: &StreamTuning{
				BufferKiB: ptrInt(0),
			},
			wantErr: true,
		},
		{
			name: "negative buffer size",
			cfg: &StreamTuning{
				BufferKiB: ptrInt(-64),
			},
			wantErr: true,
		},
		{
			name: "negative warmup bursts",
			cfg: &StreamTuning{
				WarmupBursts: ptrInt(-1),
			},
			wantErr: true,
		},
		{
			name: "zero queue depth",
			cfg: &StreamTuning{
				QueueDepth: ptrInt(0),
			},
			wantErr: true,
		},
		{
			name: "invalid inter burst delay",
			cfg: &StreamTuning{
				InterBurstDelay: ptrString("soon"),
			},
			wantErr: true,
		},
		{
			name: "invalid fps window",
			cfg: &StreamTuning{
				FPSWindow: ptrString("yearly"),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetInterBurstDelay(t *testing.T) {
	tests := []struct {
		name string
		cfg  *StreamTuning
		want time.Duration
	}{
		{
			name: "10 milliseconds",
			cfg: &StreamTuning{
				InterBurstDelay: ptrString("10ms"),
			},
			want: 10 * time.Millisecond,
		},
		{
			name: "1 second",
			cfg: &StreamTuning{
				InterBurstDelay: ptrString("1s"),
			},
			want: 1 * time.Second,
		},
		{
			name: "nil pointer returns default",
			cfg:  &StreamTuning{},
			want: 10 * time.Millisecond,
		},
		{
			name: "empty string returns default",
			cfg: &StreamTuning{
				InterBurstDelay: ptrString(""),
			},
			want: 10 * time.Millisecond,
		},
		{
			name: "invalid duration returns default",
			cfg: &StreamTuning{
				InterBurstDelay: ptrString("invalid"),
			},
			want: 10 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cfg.GetInterBurstDelay()
			if got != tt.want {
				t.Errorf("GetInterBurstDelay() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetFPSWindow(t *testing.T) {
	tests := []struct {
		name string
		cfg  *StreamTuning
		want time.Duration
	}{
		{
			name: "5 seconds",
			cfg: &StreamTuning{
				FPSWindow: ptrString("5s"),
			},
			want: 5 * time.Second,
		},
		{
			name: "2 minutes",
			cfg: &StreamTuning{
				FPSWindow: ptrString("2m"),
			},
			want: 2 * time.Minute,
		},
		{
			name: "nil pointer returns default",
			cfg:  &StreamTuning{},
			want: 1 * time.Second,
		},
		{
			name: "empty string returns default",
			cfg: &StreamTuning{
				FPSWindow: ptrString(""),
			},
			want: 1 * time.Second,
		},
		{
			name: "invalid duration returns default",
			cfg: &StreamTuning{
				FPSWindow: ptrString("invalid"),
			},
			want: 1 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cfg.GetFPSWindow()
			if got != tt.want {
				t.Errorf("GetFPSWindow() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadStreamTuningPartial(t *testing.T) {
	// Partial config: only override the buffer; everything else should keep defaults.
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "partial.json")

	partialJSON := `{
  "buffer_kib": 256
}`
	if err := os.WriteFile(configPath, []byte(partialJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadStreamTuning(configPath)
	if err != nil {
		t.Fatalf("Failed to load partial config: %v", err)
	}

	// Overridden value
	if cfg.GetBufferSize() != 256*1024 {
		t.Errorf("Expected overridden buffer size %d, got %d", 256*1024, cfg.GetBufferSize())
	}
	// Default values should be preserved
	if cfg.GetInterBurstDelay() != 10*time.Millisecond {
		t.Errorf("Expected default InterBurstDelay 10ms, got %v", cfg.GetInterBurstDelay())
	}
	if cfg.GetWarmupBursts() != 0 {
		t.Errorf("Expected default WarmupBursts 0, got %d", cfg.GetWarmupBursts())
	}
	if cfg.GetQueueDepth() != 5 {
		t.Errorf("Expected default QueueDepth 5, got %d", cfg.GetQueueDepth())
	}
	if cfg.GetFPSWindow() != time.Second {
		t.Errorf("Expected default FPSWindow 1s, got %v", cfg.GetFPSWindow())
	}
}

func TestLoadStreamTuningRejectsNonJSON(t *testing.T) {
	_, err := LoadStreamTuning("/some/path/config.yaml")
	if err == nil {
		t.Error("Expected error for non-.json extension, got nil")
	}
}

func TestLoadStreamTuningRejectsLargeFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "large.json")

	// Create a file larger than 1MB
	largeData := make([]byte, 2*1024*1024) // 2MB
	if err := os.WriteFile(configPath, largeData, 0644); err != nil {
		t.Fatalf("Failed to write large file: %v", err)
	}

	_, err := LoadStreamTuning(configPath)
	if err == nil {
		t.Error("Expected error for file size > 1MB, got nil")
	}
}

func TestLoadStreamTuningRejectsInvalidValues(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bad_values.json")

	badJSON := `{
  "buffer_kib": -1,
  "queue_depth": 5
}`
	if err := os.WriteFile(configPath, []byte(badJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := LoadStreamTuning(configPath)
	if err == nil {
		t.Error("Expected validation error for negative buffer_kib, got nil")
	}
}

func TestGetterDefaults(t *testing.T) {
	// Test that getter methods return expected defaults when pointers are nil
	cfg := EmptyStreamTuning()

	if cfg.GetBufferSize() != 64*1024 {
		t.Errorf("GetBufferSize() = %d, want %d", cfg.GetBufferSize(), 64*1024)
	}
	if cfg.GetInterBurstDelay() != 10*time.Millisecond {
		t.Errorf("GetInterBurstDelay() = %v, want 10ms", cfg.GetInterBurstDelay())
	}
	if cfg.GetWarmupBursts() != 0 {
		t.Errorf("GetWarmupBursts() = %d, want 0", cfg.GetWarmupBursts())
	}
	if cfg.GetQueueDepth() != 5 {
		t.Errorf("GetQueueDepth() = %d, want 5", cfg.GetQueueDepth())
	}
	if cfg.GetFPSWindow() != time.Second {
		t.Errorf("GetFPSWindow() = %v, want 1s", cfg.GetFPSWindow())
	}
}
