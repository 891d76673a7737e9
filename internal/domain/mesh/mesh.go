// Package mesh contains the cortical-surface data types passed between the
// loader, the fitter and the storage adapters.
package mesh

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Sentinel errors for mesh values.
var (
	ErrUnknownHemisphere = errors.New("unknown hemisphere")
	ErrShape             = errors.New("tensor shape mismatch")
)

// Hemisphere is a cortical hemisphere.
type Hemisphere int

// Hemispheres, processed independently throughout.
const (
	Left Hemisphere = iota
	Right
)

// Hemispheres lists both hemispheres in processing order.
var Hemispheres = [2]Hemisphere{Left, Right}

// String returns the MNE suffix, lh or rh.
func (h Hemisphere) String() string {
	switch h {
	case Left:
		return "lh"
	case Right:
		return "rh"
	default:
		return fmt.Sprintf("hemisphere(%d)", int(h))
	}
}

// ParseHemisphere accepts lh/rh and left/right, case-insensitive.
func ParseHemisphere(s string) (Hemisphere, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lh", "left", "l":
		return Left, nil
	case "rh", "right", "r":
		return Right, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownHemisphere, s)
	}
}

// PerHemisphere holds one value per hemisphere.
type PerHemisphere[T any] [2]T

// Get returns the value for h.
func (p *PerHemisphere[T]) Get(h Hemisphere) T { return p[h] }

// Set stores the value for h.
func (p *PerHemisphere[T]) Set(h Hemisphere, v T) { p[h] = v }

// Recording is one raw trial as read from disk: vertex x time samples.
type Recording struct {
	Tmin     float64 // seconds
	Tstep    float64 // seconds
	Vertices []int   // raw vertex numbers, one per data row
	Data     *mat.Dense
}

// VertexCount returns the number of raw vertices.
func (r *Recording) VertexCount() int {
	n, _ := r.Data.Dims()
	return n
}

// TimepointCount returns the number of raw samples.
func (r *Recording) TimepointCount() int {
	_, t := r.Data.Dims()
	return t
}

// TimingMetadata describes time and space of a downsampled recording.
type TimingMetadata struct {
	Tmin     float64 // seconds
	Tmax     float64 // seconds, Tmin + n*Tstep
	Tstep    float64 // seconds
	Vertices []int   // ascending
}

// NewTimingMetadata builds metadata for n timepoints.
func NewTimingMetadata(tmin, tstep float64, n int, vertices []int) TimingMetadata {
	return TimingMetadata{
		Tmin:     tmin,
		Tmax:     tmin + float64(n)*tstep,
		Tstep:    tstep,
		Vertices: vertices,
	}
}

// TimepointCount derives the number of timepoints from the time range.
func (m TimingMetadata) TimepointCount() int {
	if m.Tstep <= 0 {
		return 0
	}
	return int(math.Round((m.Tmax - m.Tmin) / m.Tstep))
}

// Shifted returns a copy whose Tmin is moved by steps samples. Tmax is kept
// as is.
func (m TimingMetadata) Shifted(steps int) TimingMetadata {
	out := m
	out.Tmin = m.Tmin + m.Tstep*float64(steps)
	out.Vertices = append([]int(nil), m.Vertices...)
	return out
}

// Collapsed returns the all-zero timing written with time-collapsed results.
func (m TimingMetadata) Collapsed() TimingMetadata {
	return TimingMetadata{Vertices: append([]int(nil), m.Vertices...)}
}

// SourceTensor is a dense (vertex, time, condition, session) array. Slices of
// trials that failed to load are all NaN.
type SourceTensor struct {
	Vertices   int
	Timepoints int
	Conditions int
	Sessions   int
	Data       []float64
}

// NewSourceTensor allocates a zeroed tensor.
func NewSourceTensor(vertices, timepoints, conditions, sessions int) *SourceTensor {
	return &SourceTensor{
		Vertices:   vertices,
		Timepoints: timepoints,
		Conditions: conditions,
		Sessions:   sessions,
		Data:       make([]float64, vertices*timepoints*conditions*sessions),
	}
}

// Bytes is the in-memory size of the samples.
func (s *SourceTensor) Bytes() uint64 {
	return SizeOf(s.Vertices, s.Timepoints, s.Conditions, s.Sessions)
}

// SizeOf returns the sample bytes of a tensor with the given dims.
func SizeOf(vertices, timepoints, conditions, sessions int) uint64 {
	return uint64(vertices) * uint64(timepoints) * uint64(conditions) * uint64(sessions) * 8
}

func (s *SourceTensor) index(v, t, c, sess int) int {
	return ((v*s.Timepoints+t)*s.Conditions+c)*s.Sessions + sess
}

// At returns one sample.
func (s *SourceTensor) At(v, t, c, sess int) float64 {
	return s.Data[s.index(v, t, c, sess)]
}

// Set stores one sample.
func (s *SourceTensor) Set(v, t, c, sess int, x float64) {
	s.Data[s.index(v, t, c, sess)] = x
}

// SetSlice copies a vertex x time matrix into condition c, session sess.
func (s *SourceTensor) SetSlice(c, sess int, m mat.Matrix) error {
	r, col := m.Dims()
	if r != s.Vertices || col != s.Timepoints {
		return fmt.Errorf("%w: slice %dx%d, tensor %dx%d", ErrShape, r, col, s.Vertices, s.Timepoints)
	}
	for v := 0; v < r; v++ {
		for t := 0; t < col; t++ {
			s.Set(v, t, c, sess, m.At(v, t))
		}
	}
	return nil
}

// SetMissing fills condition c, session sess with NaN.
func (s *SourceTensor) SetMissing(c, sess int) {
	nan := math.NaN()
	for v := 0; v < s.Vertices; v++ {
		for t := 0; t < s.Timepoints; t++ {
			s.Set(v, t, c, sess, nan)
		}
	}
}

// Missing reports whether condition c, session sess is entirely NaN.
func (s *SourceTensor) Missing(c, sess int) bool {
	for v := 0; v < s.Vertices; v++ {
		for t := 0; t < s.Timepoints; t++ {
			if !math.IsNaN(s.At(v, t, c, sess)) {
				return false
			}
		}
	}
	return true
}

// Slice returns condition c, session sess as a vertex x time matrix.
func (s *SourceTensor) Slice(c, sess int) *mat.Dense {
	out := mat.NewDense(s.Vertices, s.Timepoints, nil)
	for v := 0; v < s.Vertices; v++ {
		for t := 0; t < s.Timepoints; t++ {
			out.Set(v, t, s.At(v, t, c, sess))
		}
	}
	return out
}

// Mask is a labelled set of raw vertex numbers on one hemisphere.
type Mask struct {
	Name       string
	Hemisphere Hemisphere
	Vertices   []int
}
