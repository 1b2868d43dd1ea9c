package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultAnalysisConfig(t *testing.T) {
	cfg := DefaultAnalysisConfig()

	// Test that defaults are set via pointers
	if cfg.Lagtimes == nil || len(*cfg.Lagtimes) != 6 {
		t.Errorf("Expected 6 default lagtimes, got %v", cfg.Lagtimes)
	}
	if cfg.MCMCSteps == nil || *cfg.MCMCSteps != 100000 {
		t.Errorf("Expected MCMCSteps 100000, got %v", cfg.MCMCSteps)
	}
	if cfg.Unit == nil || *cfg.Unit != "frames" {
		t.Errorf("Expected Unit 'frames', got %v", cfg.Unit)
	}
	if cfg.DBPath == nil || *cfg.DBPath != "kinetics_data.db" {
		t.Errorf("Expected DBPath 'kinetics_data.db', got %v", cfg.DBPath)
	}

	// Test getter methods
	if cfg.GetMCMCSteps() != 100000 {
		t.Errorf("GetMCMCSteps() = %d, want 100000", cfg.GetMCMCSteps())
	}
	if cfg.GetUnit() != "frames" {
		t.Errorf("GetUnit() = %s, want frames", cfg.GetUnit())
	}
	if cfg.GetFramesPerUnit() != 1 {
		t.Errorf("GetFramesPerUnit() = %f, want 1", cfg.GetFramesPerUnit())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults = %v, want nil", err)
	}
}

func TestLoadAnalysisConfig(t *testing.T) {
	// Create temporary directory
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	// Write test config with flat schema
	testJSON := `{
  "lagtimes": [1, 5, 25],
  "ntimescales": 3,
  "ck_max_time": 500,
  "mcmc_steps": 5000,
  "frames_per_unit": 10,
  "unit": "ns",
  "db_path": "/tmp/analysis.db",
  "listen_addr": ":9000"
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	// Load the config
	cfg, err := LoadAnalysisConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Verify values
	if got := cfg.GetLagtimes(); len(got) != 3 || got[0] != 1 || got[1] != 5 || got[2] != 25 {
		t.Errorf("GetLagtimes() = %v, want [1 5 25]", got)
	}
	if cfg.GetNTimescales() != 3 {
		t.Errorf("GetNTimescales() = %d, want 3", cfg.GetNTimescales())
	}
	if cfg.GetCKMaxTime() != 500 {
		t.Errorf("GetCKMaxTime() = %d, want 500", cfg.GetCKMaxTime())
	}
	if cfg.GetMCMCSteps() != 5000 {
		t.Errorf("GetMCMCSteps() = %d, want 5000", cfg.GetMCMCSteps())
	}
	if cfg.GetFramesPerUnit() != 10 {
		t.Errorf("GetFramesPerUnit() = %f, want 10", cfg.GetFramesPerUnit())
	}
	if cfg.GetUnit() != "ns" {
		t.Errorf("GetUnit() = %s, want ns", cfg.GetUnit())
	}
	if cfg.GetDBPath() != "/tmp/analysis.db" {
		t.Errorf("GetDBPath() = %s, want /tmp/analysis.db", cfg.GetDBPath())
	}
	if cfg.GetListenAddr() != ":9000" {
		t.Errorf("GetListenAddr() = %s, want :9000", cfg.GetListenAddr())
	}
}

func TestLoadAnalysisConfigMissing(t *testing.T) {
	_, err := LoadAnalysisConfig("/nonexistent/path/to/config.json")
	if err == nil {
		t.Error("Expected error when loading missing file, got nil")
	}
}

func TestLoadAnalysisConfigInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid_config.json")

	// Write invalid JSON
	invalidJSON := `{
  "lagtimes": "invalid"
`
	if err := os.WriteFile(configPath, []byte(invalidJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := LoadAnalysisConfig(configPath)
	if err == nil {
		t.Error("Expected error when loading invalid JSON, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *AnalysisConfig
		wantErr bool
	}{
		{
			name:    "valid config",
			cfg:     DefaultAnalysisConfig(),
			wantErr: false,
		},
		{
			name:    "empty config is valid",
			cfg:     &AnalysisConfig{},
			wantErr: false,
		},
		{
			name: "non-positive lagtime",
			cfg: &AnalysisConfig{
				Lagtimes: ptrInts([]int{1, 0, 5}),
			},
			wantErr: true,
		},
		{
			name: "negative ntimescales",
			cfg: &AnalysisConfig{
				NTimescales: ptrInt(-1),
			},
			wantErr: true,
		},
		{
			name: "negative ck max time",
			cfg: &AnalysisConfig{
				CKMaxTime: ptrInt(-10),
			},
			wantErr: true,
		},
		{
			name: "zero mcmc steps",
			cfg: &AnalysisConfig{
				MCMCSteps: ptrInt(0),
			},
			wantErr: true,
		},
		{
			name: "non-positive frames per unit",
			cfg: &AnalysisConfig{
				FramesPerUnit: ptrFloat64(0),
			},
			wantErr: true,
		},
		{
			name: "unknown unit",
			cfg: &AnalysisConfig{
				Unit: ptrString("lightyears"),
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

func TestLoadDefaultConfigFile(t *testing.T) {
	cfg, err := LoadAnalysisConfig("../../config/analysis.defaults.json")
	if err != nil {
		t.Fatalf("Failed to load defaults: %v", err)
	}
	if cfg.GetMCMCSteps() != 100000 {
		t.Errorf("Expected 100000, got %d", cfg.GetMCMCSteps())
	}
	if cfg.GetUnit() != "frames" {
		t.Errorf("Expected frames, got %s", cfg.GetUnit())
	}
}

func TestLoadExampleConfigFile(t *testing.T) {
	cfg, err := LoadAnalysisConfig("../../config/analysis.example.json")
	if err != nil {
		t.Fatalf("Failed to load example: %v", err)
	}
	if cfg.GetUnit() != "ns" {
		t.Errorf("Expected ns, got %s", cfg.GetUnit())
	}
	if cfg.GetFramesPerUnit() != 100 {
		t.Errorf("Expected 100, got %f", cfg.GetFramesPerUnit())
	}
}

func TestLoadAnalysisConfigPartial(t *testing.T) {
	// Partial config: only override the unit; everything else should keep defaults.
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "partial.json")

	partialJSON := `{
  "unit": "ps",
  "frames_per_unit": 2
}`
	if err := os.WriteFile(configPath, []byte(partialJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadAnalysisConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load partial config: %v", err)
	}

	// Overridden values
	if cfg.GetUnit() != "ps" {
		t.Errorf("Expected overridden Unit ps, got %s", cfg.GetUnit())
	}
	if cfg.GetFramesPerUnit() != 2 {
		t.Errorf("Expected overridden FramesPerUnit 2, got %f", cfg.GetFramesPerUnit())
	}
	// Default values should be preserved
	if cfg.GetMCMCSteps() != 100000 {
		t.Errorf("Expected default MCMCSteps 100000, got %d", cfg.GetMCMCSteps())
	}
	if got := cfg.GetLagtimes(); len(got) != 6 {
		t.Errorf("Expected 6 default lagtimes, got %v", got)
	}
	if cfg.GetListenAddr() != ":8081" {
		t.Errorf("Expected default ListenAddr :8081, got %s", cfg.GetListenAddr())
	}
}

func TestLoadAnalysisConfigRejectsNonJSON(t *testing.T) {
	_, err := LoadAnalysisConfig("/some/path/config.yaml")
	if err == nil {
		t.Error("Expected error for non-.json extension, got nil")
	}
}

func TestLoadAnalysisConfigRejectsLargeFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "large.json")

	// Create a file larger than 1MB
	largeData := make([]byte, 2*1024*1024) // 2MB
	if err := os.WriteFile(configPath, largeData, 0644); err != nil {
		t.Fatalf("Failed to write large file: %v", err)
	}

	_, err := LoadAnalysisConfig(configPath)
	if err == nil {
		t.Error("Expected error for file size > 1MB, got nil")
	}
}
