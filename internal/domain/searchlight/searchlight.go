// Package searchlight computes the observed dissimilarity vector of every
// vertex and timepoint from a source tensor.
//
// The pattern of a condition at (v, t) is its session-mean activity over the
// neighbourhood of v and the samples t-w..t+w (clipped to the recording).
// Sessions whose trial is missing are left out of the mean; a condition with
// no session yields NaN dissimilarities. Dissimilarity is correlation
// distance, 1 - r.
package searchlight

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/okian/meshrsa/internal/domain/mesh"
	"github.com/okian/meshrsa/internal/domain/rdm"
)

// Sentinel errors.
var (
	ErrTooFewConditions = errors.New("searchlight needs at least two conditions")
	ErrWindow           = errors.New("temporal window must not be negative")
)

// Neighbourhoods maps a raw vertex number to the raw vertex numbers of its
// searchlight, centre included or not.
type Neighbourhoods map[int][]int

// Builder serves RDMs for one subject and hemisphere. It is safe for
// concurrent use once built.
type Builder struct {
	vertices   int
	timepoints int
	conditions int
	window     int
	rows       [][]int   // tensor rows per searchlight centre
	mean       []float64 // (vertex, time, condition) session means
}

// NewBuilder precomputes session means and resolves neighbourhoods onto the
// retained vertices of meta. Neighbours outside the retained set are dropped;
// a vertex absent from hoods is its own searchlight.
func NewBuilder(tensor *mesh.SourceTensor, meta mesh.TimingMetadata, hoods Neighbourhoods, window int) (*Builder, error) {
	if tensor.Conditions < 2 {
		return nil, fmt.Errorf("%w: %d", ErrTooFewConditions, tensor.Conditions)
	}
	if window < 0 {
		return nil, fmt.Errorf("%w: %d", ErrWindow, window)
	}
	if len(meta.Vertices) != tensor.Vertices {
		return nil, fmt.Errorf("%w: %d vertices in metadata, %d in tensor", mesh.ErrShape, len(meta.Vertices), tensor.Vertices)
	}

	b := &Builder{
		vertices:   tensor.Vertices,
		timepoints: tensor.Timepoints,
		conditions: tensor.Conditions,
		window:     window,
		rows:       resolve(meta.Vertices, hoods),
		mean:       sessionMeans(tensor),
	}
	return b, nil
}

func resolve(vertices []int, hoods Neighbourhoods) [][]int {
	row := make(map[int]int, len(vertices))
	for i, v := range vertices {
		row[v] = i
	}
	out := make([][]int, len(vertices))
	for i, v := range vertices {
		members := []int{i}
		for _, n := range hoods[v] {
			if r, ok := row[n]; ok && r != i {
				members = append(members, r)
			}
		}
		out[i] = members
	}
	return out
}

func sessionMeans(s *mesh.SourceTensor) []float64 {
	out := make([]float64, s.Vertices*s.Timepoints*s.Conditions)
	i := 0
	for v := 0; v < s.Vertices; v++ {
		for t := 0; t < s.Timepoints; t++ {
			for c := 0; c < s.Conditions; c++ {
				sum, n := 0.0, 0
				for sess := 0; sess < s.Sessions; sess++ {
					x := s.At(v, t, c, sess)
					if math.IsNaN(x) {
						continue
					}
					sum += x
					n++
				}
				if n == 0 {
					out[i] = math.NaN()
				} else {
					out[i] = sum / float64(n)
				}
				i++
			}
		}
	}
	return out
}

// Vertices returns the number of searchlight centres.
func (b *Builder) Vertices() int { return b.vertices }

// Timepoints returns the number of data timepoints.
func (b *Builder) Timepoints() int { return b.timepoints }

// Pairs returns the RDM length.
func (b *Builder) Pairs() int { return rdm.PairCount(b.conditions) }

// Size returns the number of features in the searchlight of v at t.
func (b *Builder) Size(v, t int) int {
	lo, hi := b.span(t)
	return len(b.rows[v]) * (hi - lo)
}

func (b *Builder) span(t int) (int, int) {
	return max(0, t-b.window), min(b.timepoints, t+b.window+1)
}

// Response writes the RDM of vertex v at data timepoint t into dst, growing
// it when needed, and returns it.
func (b *Builder) Response(v, t int, dst []float64) []float64 {
	pairs := b.Pairs()
	if cap(dst) < pairs {
		dst = make([]float64, pairs)
	}
	dst = dst[:pairs]

	lo, hi := b.span(t)
	features := len(b.rows[v]) * (hi - lo)
	patterns := make([][]float64, b.conditions)
	for c := range patterns {
		p := make([]float64, 0, features)
		for _, r := range b.rows[v] {
			for tt := lo; tt < hi; tt++ {
				p = append(p, b.mean[(r*b.timepoints+tt)*b.conditions+c])
			}
		}
		patterns[c] = p
	}

	k := 0
	for i := 0; i < b.conditions; i++ {
		for j := i + 1; j < b.conditions; j++ {
			dst[k] = distance(patterns[i], patterns[j])
			k++
		}
	}
	return dst
}

// distance is the correlation distance, NaN for missing or constant
// patterns.
func distance(x, y []float64) float64 {
	if len(x) < 2 || hasNaN(x) || hasNaN(y) {
		return math.NaN()
	}
	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return math.NaN()
	}
	return 1 - r
}

func hasNaN(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
