// Package config defines pipeline configuration and its loading layers.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults.
// - Wrap external errors with this package's sentinels.
package config

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/c2h5oh/datasize"
)

// Overwrite policies for existing loader outputs.
const (
	PolicySkip      = "skip"
	PolicyOverwrite = "overwrite"
	PolicyAsk       = "ask"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// AnalysisName and RootPath place every output under
	// <root_path>/<analysis_name>.
	AnalysisName string `koanf:"analysis_name"`
	RootPath     string `koanf:"root_path"`

	// RawPathTemplate locates one raw trial; {subject}, {trial} and {hemi}
	// are substituted.
	RawPathTemplate string `koanf:"raw_path_template"`

	// Subjects to process, in order.
	Subjects []string `koanf:"subjects"`

	// Trials is the session x condition grid of trial identifiers.
	Trials [][]string `koanf:"trials"`

	// TargetResolution is the retained vertex count without masks.
	TargetResolution int `koanf:"target_resolution"`

	// TemporalDownsampleRate keeps every n-th sample.
	TemporalDownsampleRate int `koanf:"temporal_downsample_rate"`

	// MaskPaths lists MNE label files; the hemisphere comes from the name.
	MaskPaths []string `koanf:"mask_paths"`

	// OverwritePolicy is skip, overwrite or ask.
	OverwritePolicy string `koanf:"overwrite_policy"`

	// LagMs is the requested model-to-data lag.
	LagMs float64 `koanf:"lag_ms"`

	// ModelPath is the model RDM time course CSV.
	ModelPath string `koanf:"model_path"`

	// NeighboursPath is the optional searchlight neighbourhood file.
	NeighboursPath string `koanf:"neighbours_path"`

	// TemporalWindow widens each searchlight pattern by +/- samples.
	TemporalWindow int `koanf:"temporal_window"`

	// WorkerCount sets the pool size; QueueSize bounds waiting jobs.
	WorkerCount int `koanf:"worker_count"`
	QueueSize   int `koanf:"queue_size"`

	// MaxTensorSize caps one in-memory source tensor, e.g. "4GB".
	MaxTensorSize string `koanf:"max_tensor_size"`

	// MetricsTextfile, when set, receives a Prometheus text dump at exit.
	MetricsTextfile string `koanf:"metrics_textfile"`

	// MetricsAddr, when set, serves /metrics while a command runs.
	MetricsAddr string `koanf:"metrics_addr"`
}

// New creates a Config with defaults. The context is accepted first to
// follow the project-wide convention.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:               "info",
		AnalysisName:           "rsa",
		TargetResolution:       10242,
		TemporalDownsampleRate: 1,
		OverwritePolicy:        PolicyAsk,
		WorkerCount:            runtime.NumCPU(),
		QueueSize:              1024,
		MaxTensorSize:          "4GB",
	}
}

// Validate checks the settings every command needs.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.AnalysisName) == "" {
		problems = append(problems, "analysis_name must not be empty")
	}
	if strings.TrimSpace(c.RootPath) == "" {
		problems = append(problems, "root_path must not be empty")
	}
	if len(c.Subjects) == 0 {
		problems = append(problems, "subjects must not be empty")
	}
	if c.TargetResolution < 1 {
		problems = append(problems, "target_resolution must be positive")
	}
	if c.TemporalDownsampleRate < 1 {
		problems = append(problems, "temporal_downsample_rate must be at least 1")
	}
	switch c.OverwritePolicy {
	case PolicySkip, PolicyOverwrite, PolicyAsk:
	default:
		problems = append(problems, fmt.Sprintf("overwrite_policy %q must be skip, overwrite or ask", c.OverwritePolicy))
	}
	if c.WorkerCount < 0 || c.QueueSize < 0 {
		problems = append(problems, "worker_count and queue_size must not be negative")
	}
	if _, err := c.MaxTensorBytes(); err != nil {
		problems = append(problems, err.Error())
	}
	return invalid(problems)
}

// ValidateLoad adds the checks of the loading stage.
func (c *Config) ValidateLoad() error {
	if err := c.Validate(); err != nil {
		return err
	}
	var problems []string
	if strings.TrimSpace(c.RawPathTemplate) == "" {
		problems = append(problems, "raw_path_template must not be empty")
	} else if !strings.Contains(c.RawPathTemplate, "{trial}") {
		problems = append(problems, "raw_path_template must contain {trial}")
	}
	if len(c.Trials) == 0 || len(c.Trials[0]) == 0 {
		problems = append(problems, "trials must hold at least one session and condition")
	}
	for s, row := range c.Trials {
		if len(row) != len(c.Trials[0]) {
			problems = append(problems, fmt.Sprintf("trials session %d has %d conditions, want %d", s, len(row), len(c.Trials[0])))
		}
	}
	return invalid(problems)
}

// ValidateFit adds the checks of the fitting stage.
func (c *Config) ValidateFit() error {
	if err := c.Validate(); err != nil {
		return err
	}
	var problems []string
	if strings.TrimSpace(c.ModelPath) == "" {
		problems = append(problems, "model_path must not be empty")
	}
	if c.LagMs < 0 {
		problems = append(problems, "lag_ms must not be negative")
	}
	if c.TemporalWindow < 0 {
		problems = append(problems, "temporal_window must not be negative")
	}
	return invalid(problems)
}

// MaxTensorBytes parses MaxTensorSize. Zero means no limit.
func (c *Config) MaxTensorBytes() (uint64, error) {
	if strings.TrimSpace(c.MaxTensorSize) == "" {
		return 0, nil
	}
	size, err := datasize.ParseString(c.MaxTensorSize)
	if err != nil {
		return 0, fmt.Errorf("max_tensor_size %q: %v", c.MaxTensorSize, err)
	}
	return size.Bytes(), nil
}

// Conditions returns the number of conditions per session.
func (c *Config) Conditions() int {
	if len(c.Trials) == 0 {
		return 0
	}
	return len(c.Trials[0])
}

// Sessions returns the number of sessions.
func (c *Config) Sessions() int { return len(c.Trials) }

func invalid(problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
}
