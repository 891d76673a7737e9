// Package glm fits the searchlight dynamic GLM: for every vertex and every
// overlapping timepoint, the observed RDM regressed on the lagged model RDMs.
package glm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/okian/meshrsa/internal/domain/stacker"
)

// ErrShape is returned when the responses and the stack disagree.
var ErrShape = errors.New("responses and design do not match")

// cancelCheckEvery is how many vertices a unit fits between context checks.
const cancelCheckEvery = 64

// Responses serves observed RDMs per vertex and data timepoint.
type Responses interface {
	Vertices() int
	Timepoints() int
	Pairs() int
	// Response writes the RDM of vertex v at data timepoint t into dst.
	Response(v, t int, dst []float64) []float64
}

// Executor runs independent units and returns one error slot per unit after
// all have finished.
type Executor interface {
	Execute(ctx context.Context, kind string, units []func(context.Context) error) []error
}

// Result is the pre-sized output of a fit over vertices x overlap timepoints.
type Result struct {
	Vertices   int
	Timepoints int
	Coefs      int // intercept + models

	Coefficients   []float64 // (vertex, timepoint, coef)
	Deviance       []float64 // (vertex, timepoint)
	IllConditioned []bool    // (vertex, timepoint)

	illCount atomic.Int64
}

// NewResult allocates a result.
func NewResult(vertices, timepoints, coefs int) *Result {
	return &Result{
		Vertices:       vertices,
		Timepoints:     timepoints,
		Coefs:          coefs,
		Coefficients:   make([]float64, vertices*timepoints*coefs),
		Deviance:       make([]float64, vertices*timepoints),
		IllConditioned: make([]bool, vertices*timepoints),
	}
}

// Coef returns coefficient k (0 = intercept) of vertex v at timepoint t.
func (r *Result) Coef(v, t, k int) float64 {
	return r.Coefficients[(v*r.Timepoints+t)*r.Coefs+k]
}

// CoefsAt returns the coefficients of vertex v at timepoint t. The slice
// aliases the result.
func (r *Result) CoefsAt(v, t int) []float64 {
	i := (v*r.Timepoints + t) * r.Coefs
	return r.Coefficients[i : i+r.Coefs]
}

// DevianceAt returns the deviance of vertex v at timepoint t.
func (r *Result) DevianceAt(v, t int) float64 { return r.Deviance[v*r.Timepoints+t] }

// IllConditionedAt reports the diagnostic flag of vertex v at timepoint t.
func (r *Result) IllConditionedAt(v, t int) bool { return r.IllConditioned[v*r.Timepoints+t] }

// IllCount returns the number of flagged fits.
func (r *Result) IllCount() int { return int(r.illCount.Load()) }

func (r *Result) store(v, t int, fit Fit) {
	copy(r.CoefsAt(v, t), fit.Coefficients)
	i := v*r.Timepoints + t
	r.Deviance[i] = fit.Deviance
	r.IllConditioned[i] = fit.IllConditioned
	if fit.IllConditioned {
		r.illCount.Add(1)
	}
}

// Plan allocates the result and returns one unit per overlap timepoint. Each
// unit writes only its own timepoint of the result.
func Plan(responses Responses, stack *stacker.Stack) (*Result, []func(context.Context) error, error) {
	if stack == nil || stack.Overlap <= 0 {
		return nil, nil, stacker.ErrEmptyOverlap
	}
	pairs, _ := stack.Design[0].Dims()
	if responses.Pairs() != pairs {
		return nil, nil, fmt.Errorf("%w: %d observed pairs, %d model pairs", ErrShape, responses.Pairs(), pairs)
	}
	if last := stack.DataIndex(stack.Overlap - 1); last >= responses.Timepoints() {
		return nil, nil, fmt.Errorf("%w: design needs data timepoint %d of %d", ErrShape, last, responses.Timepoints())
	}
	_, models := stack.Design[0].Dims()
	res := NewResult(responses.Vertices(), stack.Overlap, models+1)

	units := make([]func(context.Context) error, stack.Overlap)
	for t := range units {
		units[t] = func(ctx context.Context) error {
			return fitTimepoint(ctx, responses, stack, res, t)
		}
	}
	return res, units, nil
}

func fitTimepoint(ctx context.Context, responses Responses, stack *stacker.Stack, res *Result, t int) error {
	x := stack.Design[t]
	dt := stack.DataIndex(t)
	var buf []float64
	for v := 0; v < res.Vertices; v++ {
		if v%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		buf = responses.Response(v, dt, buf)
		res.store(v, t, OLS(buf, x))
	}
	return nil
}

// Run plans and executes a fit, returning the first unit error.
func Run(ctx context.Context, exec Executor, responses Responses, stack *stacker.Stack) (*Result, error) {
	res, units, err := Plan(responses, stack)
	if err != nil {
		return nil, err
	}
	if err := errors.Join(exec.Execute(ctx, "fit", units)...); err != nil {
		return nil, err
	}
	return res, nil
}
