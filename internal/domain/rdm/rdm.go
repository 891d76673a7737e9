// Package rdm holds representational dissimilarity matrices in condensed
// form: the upper triangle (i<j) of a condition x condition matrix, row-major.
package rdm

import (
	"errors"
	"fmt"
	"math"
)

// Sentinel errors.
var (
	ErrEmptyModels  = errors.New("no model time courses")
	ErrRaggedModels = errors.New("model time courses differ in shape")
	ErrPairCount    = errors.New("length is not a triangular pair count")
)

// PairCount returns the condensed length for n conditions.
func PairCount(n int) int {
	if n < 2 {
		return 0
	}
	return n * (n - 1) / 2
}

// Conditions inverts PairCount.
func Conditions(pairs int) (int, error) {
	n := int(math.Round((1 + math.Sqrt(1+8*float64(pairs))) / 2))
	if pairs < 1 || PairCount(n) != pairs {
		return 0, fmt.Errorf("%w: %d", ErrPairCount, pairs)
	}
	return n, nil
}

// ModelTimeCourse is the candidate model RDMs over time: RDMs[t][m] is model
// m at model timepoint t.
type ModelTimeCourse struct {
	Names []string
	RDMs  [][][]float64
}

// Timepoints returns T_model.
func (mt *ModelTimeCourse) Timepoints() int { return len(mt.RDMs) }

// Models returns M.
func (mt *ModelTimeCourse) Models() int { return len(mt.Names) }

// Pairs returns the condensed RDM length shared by every model.
func (mt *ModelTimeCourse) Pairs() int {
	if len(mt.RDMs) == 0 || len(mt.RDMs[0]) == 0 {
		return 0
	}
	return len(mt.RDMs[0][0])
}

// Validate checks that every timepoint has every model and every RDM has the
// same triangular length.
func (mt *ModelTimeCourse) Validate() error {
	if mt.Models() == 0 || mt.Timepoints() == 0 {
		return ErrEmptyModels
	}
	p := mt.Pairs()
	if _, err := Conditions(p); err != nil {
		return err
	}
	for t, row := range mt.RDMs {
		if len(row) != mt.Models() {
			return fmt.Errorf("%w: timepoint %d has %d models, want %d", ErrRaggedModels, t, len(row), mt.Models())
		}
		for m, v := range row {
			if len(v) != p {
				return fmt.Errorf("%w: timepoint %d model %q has %d pairs, want %d", ErrRaggedModels, t, mt.Names[m], len(v), p)
			}
		}
	}
	return nil
}

// PairIndex returns the condensed index of conditions i<j among n.
func PairIndex(i, j, n int) int {
	return i*n - i*(i+1)/2 + (j - i - 1)
}
