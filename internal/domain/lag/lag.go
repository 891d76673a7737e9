// Package lag converts a requested model-to-data lag into whole sample steps.
package lag

import (
	"errors"
	"fmt"
	"math"

	"github.com/okian/meshrsa/internal/domain/mesh"
)

// Sentinel errors.
var (
	ErrNegativeLag     = errors.New("lag must not be negative")
	ErrInvalidTimestep = errors.New("timestep must be positive")
)

// exactTolerance is the relative slack under which a lag counts as an exact
// multiple of the timestep. 10ms over 2.5ms is exact even though the float
// quotient is not.
const exactTolerance = 1e-9

// Spec is the lag actually applied.
type Spec struct {
	RequestedMs float64
	AchievedMs  float64
	Steps       int
	// Adjusted is set when the request was not a multiple of the timestep and
	// was rounded down.
	Adjusted bool
}

// Align computes the nearest achievable lag not exceeding requestedMs for a
// sampling step of tstep seconds.
func Align(tstep, requestedMs float64) (Spec, error) {
	if !(tstep > 0) || math.IsInf(tstep, 0) {
		return Spec{}, fmt.Errorf("%w: %v", ErrInvalidTimestep, tstep)
	}
	if requestedMs < 0 || math.IsNaN(requestedMs) {
		return Spec{}, fmt.Errorf("%w: %v", ErrNegativeLag, requestedMs)
	}
	stepMs := tstep * 1000
	desired := requestedMs / stepMs
	nearest := math.Round(desired)
	if math.Abs(desired-nearest) <= exactTolerance*math.Max(1, math.Abs(desired)) {
		steps := int(nearest)
		return Spec{RequestedMs: requestedMs, AchievedMs: float64(steps) * stepMs, Steps: steps}, nil
	}
	steps := int(math.Floor(desired))
	return Spec{
		RequestedMs: requestedMs,
		AchievedMs:  float64(steps) * stepMs,
		Steps:       steps,
		Adjusted:    true,
	}, nil
}

// Apply returns the timing of lagged results: Tmin moves forward by the lag.
func (s Spec) Apply(meta mesh.TimingMetadata) mesh.TimingMetadata {
	return meta.Shifted(s.Steps)
}

// String renders the lag for status lines.
func (s Spec) String() string {
	return fmt.Sprintf("requested %gms, achieved %gms (%d steps)", s.RequestedMs, s.AchievedMs, s.Steps)
}
