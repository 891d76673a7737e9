// Package stacker builds the per-timepoint design matrices of the dynamic
// GLM from lagged model time courses.
package stacker

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/okian/meshrsa/internal/domain/rdm"
)

// ErrEmptyOverlap is returned when data and lagged models do not overlap.
var ErrEmptyOverlap = errors.New("empty overlap between data and lagged models")

// Stack is one design matrix per overlapping timepoint. Design[i] is pairs x
// models and holds the model RDMs at model timepoint i; it explains data
// timepoint i+Lag.
type Stack struct {
	Lag     int
	Overlap int
	Design  []*mat.Dense
}

// Overlap returns min(nData, nModel) - lagSteps, clamped at zero.
func Overlap(nData, nModel, lagSteps int) int {
	n := min(nData, nModel) - lagSteps
	if n < 0 {
		return 0
	}
	return n
}

// Build stacks the models for every overlapping timepoint.
func Build(models *rdm.ModelTimeCourse, lagSteps, nData int) (*Stack, error) {
	if err := models.Validate(); err != nil {
		return nil, err
	}
	overlap := Overlap(nData, models.Timepoints(), lagSteps)
	if overlap <= 0 {
		return nil, fmt.Errorf("%w: %d data, %d model timepoints, lag %d", ErrEmptyOverlap, nData, models.Timepoints(), lagSteps)
	}
	pairs, nm := models.Pairs(), models.Models()
	design := make([]*mat.Dense, overlap)
	for t := 0; t < overlap; t++ {
		x := mat.NewDense(pairs, nm, nil)
		for m := 0; m < nm; m++ {
			x.SetCol(m, models.RDMs[t][m])
		}
		design[t] = x
	}
	return &Stack{Lag: lagSteps, Overlap: overlap, Design: design}, nil
}

// DataIndex is the data timepoint explained by design matrix t.
func (s *Stack) DataIndex(t int) int { return t + s.Lag }
