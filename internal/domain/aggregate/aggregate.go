// Package aggregate reduces GLM coefficients to best-model maps and
// time-collapsed medians.
//
// Arg-max ties go to the lowest model index. NaN coefficients are ignored by
// both the arg-max and the median; a vertex whose values are all NaN gets
// index -1 and a NaN value.
package aggregate

import (
	"math"
	"sort"

	"github.com/okian/meshrsa/internal/domain/glm"
)

// Best is an arg-max over model coefficients, intercept excluded. Index is
// 0-based over models; -1 when no model has a value.
type Best struct {
	Index int
	Value float64
}

// ModelNumber is the 1-based model number written to result files, 0 for
// none.
func (b Best) ModelNumber() int { return b.Index + 1 }

// Summary holds every derived map of one fit.
type Summary struct {
	Vertices   int
	Timepoints int
	Coefs      int

	Best       []Best    // (vertex, timepoint)
	Median     []float64 // (vertex, coef), intercept included
	BestMedian []Best    // vertex
}

// BestAt returns the best model of vertex v at timepoint t.
func (s *Summary) BestAt(v, t int) Best { return s.Best[v*s.Timepoints+t] }

// MedianAt returns the median of coefficient k of vertex v.
func (s *Summary) MedianAt(v, k int) float64 { return s.Median[v*s.Coefs+k] }

// ArgMax returns the first maximal non-intercept coefficient of coefs, where
// coefs[0] is the intercept.
func ArgMax(coefs []float64) Best {
	best := Best{Index: -1, Value: math.NaN()}
	for m := 1; m < len(coefs); m++ {
		c := coefs[m]
		if math.IsNaN(c) {
			continue
		}
		if best.Index < 0 || c > best.Value {
			best = Best{Index: m - 1, Value: c}
		}
	}
	return best
}

// Median returns the median of the non-NaN values of xs, averaging the two
// middle values for even counts, NaN when none. xs is not modified.
func Median(xs []float64) float64 {
	vals := make([]float64, 0, len(xs))
	for _, x := range xs {
		if !math.IsNaN(x) {
			vals = append(vals, x)
		}
	}
	n := len(vals)
	if n == 0 {
		return math.NaN()
	}
	sort.Float64s(vals)
	if n%2 == 1 {
		return vals[n/2]
	}
	return (vals[n/2-1] + vals[n/2]) / 2
}

// Summarize computes best-model maps and medians over the time axis.
func Summarize(res *glm.Result) *Summary {
	s := &Summary{
		Vertices:   res.Vertices,
		Timepoints: res.Timepoints,
		Coefs:      res.Coefs,
		Best:       make([]Best, res.Vertices*res.Timepoints),
		Median:     make([]float64, res.Vertices*res.Coefs),
		BestMedian: make([]Best, res.Vertices),
	}
	column := make([]float64, res.Timepoints)
	for v := 0; v < res.Vertices; v++ {
		for t := 0; t < res.Timepoints; t++ {
			s.Best[v*res.Timepoints+t] = ArgMax(res.CoefsAt(v, t))
		}
		medians := s.Median[v*res.Coefs : (v+1)*res.Coefs]
		for k := 0; k < res.Coefs; k++ {
			for t := 0; t < res.Timepoints; t++ {
				column[t] = res.Coef(v, t, k)
			}
			medians[k] = Median(column)
		}
		s.BestMedian[v] = ArgMax(medians)
	}
	return s
}
