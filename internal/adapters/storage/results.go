package storage

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/okian/meshrsa/internal/domain/aggregate"
	"github.com/okian/meshrsa/internal/domain/glm"
	"github.com/okian/meshrsa/internal/domain/mesh"
	"github.com/okian/meshrsa/pkg/metrics"
)

// ResultSet is everything written for one subject and hemisphere.
type ResultSet struct {
	Subject    string
	Hemisphere mesh.Hemisphere
	// Meta is the lag-shifted timing of the per-timepoint maps.
	Meta    mesh.TimingMetadata
	Fit     *glm.Result
	Summary *aggregate.Summary
}

type resultFile struct {
	path string
	kind string
	rec  *mesh.Recording
}

// WriteResults writes every coefficient, deviance and best-model map of rs
// and returns the paths written. Per-timepoint maps carry rs.Meta; median
// maps carry the collapsed metadata.
func (l Layout) WriteResults(ctx context.Context, rs ResultSet) ([]string, error) {
	fit, sum := rs.Fit, rs.Summary
	if len(rs.Meta.Vertices) != fit.Vertices {
		return nil, fmt.Errorf("%w: %d metadata vertices for %d fitted", mesh.ErrShape, len(rs.Meta.Vertices), fit.Vertices)
	}
	timed := func(fill func(v, t int) float64) *mesh.Recording {
		data := mat.NewDense(fit.Vertices, fit.Timepoints, nil)
		for v := 0; v < fit.Vertices; v++ {
			for t := 0; t < fit.Timepoints; t++ {
				data.Set(v, t, fill(v, t))
			}
		}
		return &mesh.Recording{Tmin: rs.Meta.Tmin, Tstep: rs.Meta.Tstep, Vertices: rs.Meta.Vertices, Data: data}
	}
	collapsed := rs.Meta.Collapsed()
	static := func(fill func(v int) float64) *mesh.Recording {
		data := mat.NewDense(fit.Vertices, 1, nil)
		for v := 0; v < fit.Vertices; v++ {
			data.Set(v, 0, fill(v))
		}
		return &mesh.Recording{Tmin: collapsed.Tmin, Tstep: collapsed.Tstep, Vertices: collapsed.Vertices, Data: data}
	}

	s, h := rs.Subject, rs.Hemisphere
	var files []resultFile
	for k := 0; k < fit.Coefs; k++ {
		files = append(files,
			resultFile{l.CoefPath(s, k, h), "coef", timed(func(v, t int) float64 { return fit.Coef(v, t, k) })},
			resultFile{l.MedianCoefPath(s, k, h), "median_coef", static(func(v int) float64 { return sum.MedianAt(v, k) })},
		)
	}
	files = append(files,
		resultFile{l.SummaryPath(s, "deviance", h), "deviance", timed(fit.DevianceAt)},
		resultFile{l.SummaryPath(s, "best-value", h), "best_value", timed(func(v, t int) float64 { return sum.BestAt(v, t).Value })},
		resultFile{l.SummaryPath(s, "best-model", h), "best_model", timed(func(v, t int) float64 { return float64(sum.BestAt(v, t).ModelNumber()) })},
		resultFile{l.SummaryPath(s, "median-best-value", h), "median_best_value", static(func(v int) float64 { return sum.BestMedian[v].Value })},
		resultFile{l.SummaryPath(s, "median-best-model", h), "median_best_model", static(func(v int) float64 { return float64(sum.BestMedian[v].ModelNumber()) })},
	)

	written := make([]string, 0, len(files))
	for _, f := range files {
		if err := WriteSTCFile(ctx, f.path, f.rec); err != nil {
			metrics.RecordErrorByComponent("storage", "write_result")
			return written, fmt.Errorf("write %s: %w", f.path, err)
		}
		metrics.RecordFileWritten(f.kind)
		written = append(written, f.path)
	}
	return written, nil
}
