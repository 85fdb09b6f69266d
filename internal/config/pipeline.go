// Package config holds the JSON pipeline configuration. Fields are pointers
// so partial configs are safe: anything omitted falls back to the documented
// default through its Get* accessor.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical pipeline defaults file.
const DefaultConfigPath = "config/pipeline.defaults.json"

// PipelineConfig is the root configuration for one processing run. The same
// schema serves startup configuration and per-run overrides.
type PipelineConfig struct {
	// Mosaic params
	MosaicPolicy *string `json:"mosaic_policy,omitempty"` // last_wins | prefer_valid | lowest_cloud

	// Masking params
	Sensor      *string `json:"sensor,omitempty"`
	RulesetPath *string `json:"ruleset_path,omitempty"` // optional external ruleset JSON

	// Composite params
	Reducer        *string `json:"reducer,omitempty"` // max_index | median | mean_valid | first_valid | last_valid
	IndexBand      *string `json:"index_band,omitempty"`
	PeriodInterval *string `json:"period_interval,omitempty"` // "monthly" or a duration string like "240h"

	// Smoothing params
	SmoothMethod    *string  `json:"smooth_method,omitempty"` // penalized | local_interp
	Spline          *bool    `json:"spline,omitempty"`
	Lambda          *float64 `json:"lambda,omitempty"`
	OutlierK        *float64 `json:"outlier_k,omitempty"`
	MaxIterations   *int     `json:"max_iterations,omitempty"`
	MinValidSamples *int     `json:"min_valid_samples,omitempty"`
	ClipMin         *float64 `json:"clip_min,omitempty"`
	ClipMax         *float64 `json:"clip_max,omitempty"`
	TargetStepDays  *int     `json:"target_step_days,omitempty"`
	CovariateBand   *string  `json:"covariate_band,omitempty"`

	// Execution params
	ChunkRows *int `json:"chunk_rows,omitempty"`
	ChunkCols *int `json:"chunk_cols,omitempty"`
	Workers   *int `json:"workers,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyPipelineConfig returns a PipelineConfig with all fields nil.
// Use LoadPipelineConfig to load actual values from a file.
func EmptyPipelineConfig() *PipelineConfig {
	return &PipelineConfig{}
}

// LoadPipelineConfig loads a PipelineConfig from a JSON file. The file must
// have a .json extension and stay under the max file size. Fields omitted
// from the JSON retain their defaults, so partial configs are safe.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyPipelineConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *PipelineConfig) Validate() error {
	if c.MosaicPolicy != nil {
		switch *c.MosaicPolicy {
		case "last_wins", "prefer_valid", "lowest_cloud":
		default:
			return fmt.Errorf("unknown mosaic_policy %q", *c.MosaicPolicy)
		}
	}

	if c.Reducer != nil {
		switch *c.Reducer {
		case "max_index", "median", "mean_valid", "first_valid", "last_valid":
		default:
			return fmt.Errorf("unknown reducer %q", *c.Reducer)
		}
	}

	if c.SmoothMethod != nil {
		switch *c.SmoothMethod {
		case "penalized", "local_interp":
		default:
			return fmt.Errorf("unknown smooth_method %q", *c.SmoothMethod)
		}
	}

	if c.PeriodInterval != nil && *c.PeriodInterval != "" && *c.PeriodInterval != "monthly" {
		if _, err := time.ParseDuration(*c.PeriodInterval); err != nil {
			return fmt.Errorf("invalid period_interval '%s': %w", *c.PeriodInterval, err)
		}
	}

	if c.Lambda != nil && *c.Lambda <= 0 {
		return fmt.Errorf("lambda must be positive, got %f", *c.Lambda)
	}

	if c.OutlierK != nil && *c.OutlierK < 0 {
		return fmt.Errorf("outlier_k must be non-negative, got %f", *c.OutlierK)
	}

	if c.MaxIterations != nil && *c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1, got %d", *c.MaxIterations)
	}

	if c.MinValidSamples != nil && *c.MinValidSamples < 1 {
		return fmt.Errorf("min_valid_samples must be at least 1, got %d", *c.MinValidSamples)
	}

	if c.ClipMin != nil && c.ClipMax != nil && *c.ClipMin >= *c.ClipMax {
		return fmt.Errorf("clip_min %f must be below clip_max %f", *c.ClipMin, *c.ClipMax)
	}

	if c.TargetStepDays != nil && *c.TargetStepDays < 1 {
		return fmt.Errorf("target_step_days must be at least 1, got %d", *c.TargetStepDays)
	}

	if c.ChunkRows != nil && *c.ChunkRows < 1 {
		return fmt.Errorf("chunk_rows must be at least 1, got %d", *c.ChunkRows)
	}
	if c.ChunkCols != nil && *c.ChunkCols < 1 {
		return fmt.Errorf("chunk_cols must be at least 1, got %d", *c.ChunkCols)
	}
	if c.Workers != nil && *c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", *c.Workers)
	}

	return nil
}

// GetMosaicPolicy returns the mosaic_policy value or the default.
func (c *PipelineConfig) GetMosaicPolicy() string {
	if c.MosaicPolicy == nil {
		return "last_wins"
	}
	return *c.MosaicPolicy
}

// GetSensor returns the sensor value or the default.
func (c *PipelineConfig) GetSensor() string {
	if c.Sensor == nil {
		return "landsat-c2l2"
	}
	return *c.Sensor
}

// GetRulesetPath returns the ruleset_path value; empty means use the
// built-in ruleset for the configured sensor.
func (c *PipelineConfig) GetRulesetPath() string {
	if c.RulesetPath == nil {
		return ""
	}
	return *c.RulesetPath
}

// GetReducer returns the reducer value or the default.
func (c *PipelineConfig) GetReducer() string {
	if c.Reducer == nil {
		return "max_index"
	}
	return *c.Reducer
}

// GetIndexBand returns the index_band value or the default.
func (c *PipelineConfig) GetIndexBand() string {
	if c.IndexBand == nil {
		return "evi"
	}
	return *c.IndexBand
}

// GetPeriodInterval returns the composite bucket length, or zero for
// calendar-month buckets.
func (c *PipelineConfig) GetPeriodInterval() time.Duration {
	if c.PeriodInterval == nil || *c.PeriodInterval == "" || *c.PeriodInterval == "monthly" {
		return 0
	}
	d, err := time.ParseDuration(*c.PeriodInterval)
	if err != nil {
		return 0
	}
	return d
}

// GetSmoothMethod returns the smooth_method value or the default.
func (c *PipelineConfig) GetSmoothMethod() string {
	if c.SmoothMethod == nil {
		return "penalized"
	}
	return *c.SmoothMethod
}

// GetSpline returns the spline value or the default.
func (c *PipelineConfig) GetSpline() bool {
	if c.Spline == nil {
		return false
	}
	return *c.Spline
}

// GetLambda returns the lambda value or the default.
func (c *PipelineConfig) GetLambda() float64 {
	if c.Lambda == nil {
		return 10.0
	}
	return *c.Lambda
}

// GetOutlierK returns the outlier_k value or the default.
func (c *PipelineConfig) GetOutlierK() float64 {
	if c.OutlierK == nil {
		return 2.5
	}
	return *c.OutlierK
}

// GetMaxIterations returns the max_iterations value or the default.
func (c *PipelineConfig) GetMaxIterations() int {
	if c.MaxIterations == nil {
		return 5
	}
	return *c.MaxIterations
}

// GetMinValidSamples returns the min_valid_samples value or the default.
func (c *PipelineConfig) GetMinValidSamples() int {
	if c.MinValidSamples == nil {
		return 2
	}
	return *c.MinValidSamples
}

// GetClipMin returns the clip_min value or the default.
func (c *PipelineConfig) GetClipMin() float64 {
	if c.ClipMin == nil {
		return -1.0
	}
	return *c.ClipMin
}

// GetClipMax returns the clip_max value or the default.
func (c *PipelineConfig) GetClipMax() float64 {
	if c.ClipMax == nil {
		return 1.0
	}
	return *c.ClipMax
}

// GetTargetStepDays returns the target_step_days value or the default.
func (c *PipelineConfig) GetTargetStepDays() int {
	if c.TargetStepDays == nil {
		return 10
	}
	return *c.TargetStepDays
}

// GetCovariateBand returns the covariate_band value; empty disables the
// covariate term.
func (c *PipelineConfig) GetCovariateBand() string {
	if c.CovariateBand == nil {
		return ""
	}
	return *c.CovariateBand
}

// GetChunkRows returns the chunk_rows value or the default.
func (c *PipelineConfig) GetChunkRows() int {
	if c.ChunkRows == nil {
		return 256
	}
	return *c.ChunkRows
}

// GetChunkCols returns the chunk_cols value or the default.
func (c *PipelineConfig) GetChunkCols() int {
	if c.ChunkCols == nil {
		return 256
	}
	return *c.ChunkCols
}

// GetWorkers returns the workers value or the default.
func (c *PipelineConfig) GetWorkers() int {
	if c.Workers == nil {
		return 4
	}
	return *c.Workers
}
