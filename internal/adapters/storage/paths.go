package storage

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/okian/meshrsa/internal/domain/mesh"
)

// Layout maps pipeline artefacts to deterministic paths under
// <root>/<analysis>.
type Layout struct {
	Root     string
	Analysis string
}

func (l Layout) base() string { return filepath.Join(l.Root, l.Analysis) }

// MeshPath is the persisted tensor of one subject and hemisphere.
func (l Layout) MeshPath(subject string, h mesh.Hemisphere) string {
	return filepath.Join(l.base(), "mesh", subject+"-"+h.String()+".mesh.zst")
}

// MissingLogPath is the shared log of substituted trial paths.
func (l Layout) MissingLogPath() string {
	return filepath.Join(l.base(), "missing-files.log")
}

// ResultDir holds every result file of one subject.
func (l Layout) ResultDir(subject string) string {
	return filepath.Join(l.base(), "glm", subject)
}

// CoefPath is the per-timepoint map of coefficient k, 0 being the intercept.
func (l Layout) CoefPath(subject string, k int, h mesh.Hemisphere) string {
	return filepath.Join(l.ResultDir(subject), "coef-"+strconv.Itoa(k)+"-"+h.String()+".stc")
}

// MedianCoefPath is the time-collapsed map of coefficient k.
func (l Layout) MedianCoefPath(subject string, k int, h mesh.Hemisphere) string {
	return filepath.Join(l.ResultDir(subject), "median-coef-"+strconv.Itoa(k)+"-"+h.String()+".stc")
}

// SummaryPath is a named summary map such as deviance or best-model.
func (l Layout) SummaryPath(subject, name string, h mesh.Hemisphere) string {
	return filepath.Join(l.ResultDir(subject), name+"-"+h.String()+".stc")
}

// RawTrialPath expands a template with {subject}, {trial} and {hemi}.
func RawTrialPath(template, subject, trial string, h mesh.Hemisphere) string {
	return strings.NewReplacer(
		"{subject}", subject,
		"{trial}", trial,
		"{hemi}", h.String(),
	).Replace(template)
}
