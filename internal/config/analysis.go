package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/kinetics.report/internal/units"
)

// DefaultConfigPath is the path to the canonical analysis defaults file.
// This is the single source of truth for all default analysis parameters.
const DefaultConfigPath = "config/analysis.defaults.json"

// AnalysisConfig represents the root configuration for analysis parameters.
// The schema matches the /api/sweep request body so the same JSON can be
// used for both startup configuration and per-request overrides.
type AnalysisConfig struct {
	// Model estimation params
	Lagtimes    *[]int `json:"lagtimes,omitempty"`
	NTimescales *int   `json:"ntimescales,omitempty"`

	// Chapman-Kolmogorov params
	CKMaxTime *int `json:"ck_max_time,omitempty"`

	// Monte Carlo params
	MCMCSteps *int `json:"mcmc_steps,omitempty"`

	// Reporting params
	FramesPerUnit *float64 `json:"frames_per_unit,omitempty"`
	Unit          *string  `json:"unit,omitempty"`

	// Service params
	DBPath     *string `json:"db_path,omitempty"`
	ListenAddr *string `json:"listen_addr,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInts(v []int) *[]int        { return &v }

// EmptyAnalysisConfig returns an AnalysisConfig with all fields set to nil.
// Use LoadAnalysisConfig to load actual values from the defaults file.
func EmptyAnalysisConfig() *AnalysisConfig {
	return &AnalysisConfig{}
}

// DefaultAnalysisConfig returns an AnalysisConfig with every field set to
// its default value.
func DefaultAnalysisConfig() *AnalysisConfig {
	return &AnalysisConfig{
		Lagtimes:      ptrInts([]int{1, 2, 5, 10, 20, 50}),
		NTimescales:   ptrInt(0),
		CKMaxTime:     ptrInt(0),
		MCMCSteps:     ptrInt(100000),
		FramesPerUnit: ptrFloat64(1),
		Unit:          ptrString(units.Frames),
		DBPath:        ptrString("kinetics_data.db"),
		ListenAddr:    ptrString(":8081"),
	}
}

// LoadAnalysisConfig loads an AnalysisConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadAnalysisConfig(path string) (*AnalysisConfig, error) {
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
	cfg := EmptyAnalysisConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical analysis defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *AnalysisConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadAnalysisConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *AnalysisConfig) Validate() error {
	// Validate Lagtimes if set
	if c.Lagtimes != nil {
		for _, lag := range *c.Lagtimes {
			if lag < 1 {
				return fmt.Errorf("lagtimes must be positive, got %d", lag)
			}
		}
	}

	// Validate NTimescales if set (0 selects nstates-1)
	if c.NTimescales != nil && *c.NTimescales < 0 {
		return fmt.Errorf("ntimescales must be non-negative, got %d", *c.NTimescales)
	}

	// Validate CKMaxTime if set (0 derives it from the largest lagtime)
	if c.CKMaxTime != nil && *c.CKMaxTime < 0 {
		return fmt.Errorf("ck_max_time must be non-negative, got %d", *c.CKMaxTime)
	}

	// Validate MCMCSteps if set
	if c.MCMCSteps != nil && *c.MCMCSteps < 1 {
		return fmt.Errorf("mcmc_steps must be positive, got %d", *c.MCMCSteps)
	}

	// Validate FramesPerUnit if set
	if c.FramesPerUnit != nil && *c.FramesPerUnit <= 0 {
		return fmt.Errorf("frames_per_unit must be positive, got %f", *c.FramesPerUnit)
	}

	// Validate Unit if set
	if c.Unit != nil && !units.IsValid(*c.Unit) {
		return fmt.Errorf("unit must be one of %s, got %q", units.GetValidUnitsString(), *c.Unit)
	}

	return nil
}

// GetLagtimes returns the lagtimes value or the default.
func (c *AnalysisConfig) GetLagtimes() []int {
	if c.Lagtimes == nil || len(*c.Lagtimes) == 0 {
		return []int{1, 2, 5, 10, 20, 50} // default
	}
	return *c.Lagtimes
}

// GetNTimescales returns the ntimescales value or the default.
// Zero selects one timescale fewer than the number of states.
func (c *AnalysisConfig) GetNTimescales() int {
	if c.NTimescales == nil {
		return 0
	}
	return *c.NTimescales
}

// GetCKMaxTime returns the ck_max_time value or the default.
// Zero lets the sweep derive ten times the largest lagtime.
func (c *AnalysisConfig) GetCKMaxTime() int {
	if c.CKMaxTime == nil {
		return 0
	}
	return *c.CKMaxTime
}

// GetMCMCSteps returns the mcmc_steps value or the default.
func (c *AnalysisConfig) GetMCMCSteps() int {
	if c.MCMCSteps == nil {
		return 100000
	}
	return *c.MCMCSteps
}

// GetFramesPerUnit returns the frames_per_unit value or the default.
func (c *AnalysisConfig) GetFramesPerUnit() float64 {
	if c.FramesPerUnit == nil {
		return 1
	}
	return *c.FramesPerUnit
}

// GetUnit returns the unit value or the default.
func (c *AnalysisConfig) GetUnit() string {
	if c.Unit == nil || !units.IsValid(*c.Unit) {
		return units.Frames
	}
	return *c.Unit
}

// GetDBPath returns the db_path value or the default.
func (c *AnalysisConfig) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "kinetics_data.db"
	}
	return *c.DBPath
}

// GetListenAddr returns the listen_addr value or the default.
func (c *AnalysisConfig) GetListenAddr() string {
	if c.ListenAddr == nil || *c.ListenAddr == "" {
		return ":8081"
	}
	return *c.ListenAddr
}
