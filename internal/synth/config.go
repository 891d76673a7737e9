package synth

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
)

// ErrInvalidConfig is returned for unusable generator settings.
var ErrInvalidConfig = errors.New("invalid synth config")

// Config describes one synthetic dataset.
type Config struct {
	Root     string   // everything is written below Root
	Subjects []string // subject identifiers

	Sessions   int
	Conditions int
	Vertices   int
	Timepoints int
	Tmin       float64 // seconds
	Tstep      float64 // seconds

	// ModelTimepoints is the model course length; LagSteps is the delay the
	// data follows the models by.
	ModelTimepoints int
	LagSteps        int

	Noise float64
	// MissingFraction is the share of trials left off disk. The first trial
	// of every subject and hemisphere is always written.
	MissingFraction float64
	Seed            uint64
	Workers         int
}

// Default returns a small dataset rooted at root.
func Default(root string) *Config {
	return &Config{
		Root:            root,
		Subjects:        []string{"s01", "s02"},
		Sessions:        2,
		Conditions:      4,
		Vertices:        24,
		Timepoints:      40,
		Tmin:            -0.1,
		Tstep:           0.004,
		ModelTimepoints: 36,
		LagSteps:        2,
		Noise:           0.05,
		MissingFraction: 0.1,
		Seed:            1,
		Workers:         runtime.NumCPU(),
	}
}

// Validate checks the settings.
func (c *Config) Validate() error {
	switch {
	case c.Root == "":
		return fmt.Errorf("%w: root must not be empty", ErrInvalidConfig)
	case len(c.Subjects) == 0:
		return fmt.Errorf("%w: no subjects", ErrInvalidConfig)
	case c.Sessions < 1:
		return fmt.Errorf("%w: sessions must be positive", ErrInvalidConfig)
	case c.Conditions < 3:
		return fmt.Errorf("%w: at least 3 conditions are needed to fit two models", ErrInvalidConfig)
	case c.Vertices < 1 || c.Timepoints < 1 || c.ModelTimepoints < 1:
		return fmt.Errorf("%w: vertices and timepoints must be positive", ErrInvalidConfig)
	case !(c.Tstep > 0):
		return fmt.Errorf("%w: tstep must be positive", ErrInvalidConfig)
	case c.LagSteps < 0:
		return fmt.Errorf("%w: lag must not be negative", ErrInvalidConfig)
	case c.MissingFraction < 0 || c.MissingFraction >= 1:
		return fmt.Errorf("%w: missing fraction must be in [0, 1)", ErrInvalidConfig)
	}
	return nil
}

// TrialID names the trial of session s and condition c.
func TrialID(s, c int) string { return fmt.Sprintf("sess%d-cond%d", s+1, c+1) }

// RawTemplate is the raw trial path template of the dataset.
func (c *Config) RawTemplate() string {
	return filepath.Join(c.Root, "raw", "{subject}", "{trial}-{hemi}.stc")
}

// Trials returns the session x condition grid of trial identifiers.
func (c *Config) Trials() [][]string {
	grid := make([][]string, c.Sessions)
	for s := range grid {
		grid[s] = make([]string, c.Conditions)
		for k := range grid[s] {
			grid[s][k] = TrialID(s, k)
		}
	}
	return grid
}

// Stats reports what Generate wrote.
type Stats struct {
	TrialsWritten  int
	TrialsOmitted  int
	Omitted        []string
	ModelPath      string
	NeighboursPath string
	ConfigPath     string
}
