// Package downsample reduces raw trial recordings to the target spatial and
// temporal resolution.
//
// Spatial reduction is either a mask (union of the hemisphere's mask vertices)
// or, only when no masks are given at all, a contiguous prefix of the first TargetResolution vertices. The prefix
// form is only meaningful because source spaces are laid out so that low
// vertex numbers form a canonical low-resolution subset of the mesh; it is
// not a general-purpose decimation.
package downsample

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/okian/meshrsa/internal/domain/mesh"
)

// Sentinel errors.
var (
	ErrInsufficientResolution = errors.New("insufficient raw spatial resolution")
	ErrInvalidRate            = errors.New("temporal downsample rate must be >= 1")
	ErrInvalidResolution      = errors.New("target resolution must be >= 1")
	ErrEmptyMask              = errors.New("no mask vertices on hemisphere")
)

// Plan fixes how every trial of one subject/hemisphere is reduced.
type Plan struct {
	Hemisphere mesh.Hemisphere
	Vertices   []int // retained raw vertex numbers, ascending
	Rate       int   // keep every Rate-th sample
}

// MaskVertices returns the ascending, de-duplicated union of the vertices of
// the masks on hemisphere h. It returns nil when no mask covers h.
func MaskVertices(masks []mesh.Mask, h mesh.Hemisphere) []int {
	seen := make(map[int]struct{})
	for _, m := range masks {
		if m.Hemisphere != h {
			continue
		}
		for _, v := range m.Vertices {
			seen[v] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]int, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// NewPlan validates the configuration and selects the retained vertices.
// Without masks the first targetResolution vertices are retained. With masks
// that miss h the plan is empty and Check fails with ErrEmptyMask.
func NewPlan(h mesh.Hemisphere, targetResolution, rate int, masks []mesh.Mask) (Plan, error) {
	if targetResolution < 1 {
		return Plan{}, fmt.Errorf("%w: %d", ErrInvalidResolution, targetResolution)
	}
	if rate < 1 {
		return Plan{}, fmt.Errorf("%w: %d", ErrInvalidRate, rate)
	}
	vertices := MaskVertices(masks, h)
	switch {
	case len(masks) > 0 && vertices == nil:
		vertices = []int{}
	case vertices == nil:
		vertices = make([]int, targetResolution)
		for i := range vertices {
			vertices[i] = i
		}
	}
	return Plan{Hemisphere: h, Vertices: vertices, Rate: rate}, nil
}

// Empty reports whether the plan keeps no vertex.
func (p Plan) Empty() bool { return len(p.Vertices) == 0 }

// TimepointCount is the number of samples kept from n raw samples.
func (p Plan) TimepointCount(n int) int {
	if n <= 0 {
		return 0
	}
	return (n + p.Rate - 1) / p.Rate
}

// Check fails with ErrInsufficientResolution when rec cannot supply the plan.
// An empty plan fails with ErrEmptyMask.
func (p Plan) Check(rec *mesh.Recording, targetResolution int) error {
	if p.Empty() {
		return fmt.Errorf("%w: %s", ErrEmptyMask, p.Hemisphere)
	}
	if n := rec.VertexCount(); n < targetResolution {
		return fmt.Errorf("%w: %d raw vertices, target %d", ErrInsufficientResolution, n, targetResolution)
	}
	_, err := p.rows(rec)
	return err
}

// rows maps the retained vertex numbers onto recording rows.
func (p Plan) rows(rec *mesh.Recording) ([]int, error) {
	n := rec.VertexCount()
	if len(rec.Vertices) == 0 {
		for _, v := range p.Vertices {
			if v < 0 || v >= n {
				return nil, fmt.Errorf("%w: vertex %d beyond %d raw vertices", ErrInsufficientResolution, v, n)
			}
		}
		return p.Vertices, nil
	}
	index := make(map[int]int, len(rec.Vertices))
	for row, v := range rec.Vertices {
		index[v] = row
	}
	rows := make([]int, len(p.Vertices))
	for i, v := range p.Vertices {
		row, ok := index[v]
		if !ok {
			return nil, fmt.Errorf("%w: vertex %d not in recording", ErrInsufficientResolution, v)
		}
		rows[i] = row
	}
	return rows, nil
}

// Apply returns the reduced vertex x time samples and the timing of rec.
// The first kept sample is raw index 0, so Tmin is unchanged.
func (p Plan) Apply(rec *mesh.Recording) (*mat.Dense, mesh.TimingMetadata, error) {
	if p.Empty() {
		return nil, mesh.TimingMetadata{}, fmt.Errorf("%w: %s", ErrEmptyMask, p.Hemisphere)
	}
	rows, err := p.rows(rec)
	if err != nil {
		return nil, mesh.TimingMetadata{}, err
	}
	nt := p.TimepointCount(rec.TimepointCount())
	if nt == 0 || len(rows) == 0 {
		return nil, mesh.TimingMetadata{}, fmt.Errorf("%w: empty recording", ErrInsufficientResolution)
	}
	out := mat.NewDense(len(rows), nt, nil)
	for i, row := range rows {
		for j := 0; j < nt; j++ {
			out.Set(i, j, rec.Data.At(row, j*p.Rate))
		}
	}
	vertices := append([]int(nil), p.Vertices...)
	meta := mesh.NewTimingMetadata(rec.Tmin, rec.Tstep*float64(p.Rate), nt, vertices)
	return out, meta, nil
}
