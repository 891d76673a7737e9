package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/okian/meshrsa/internal/domain/rdm"
)

// ParseModels reads model RDM time courses from CSV rows
// "model,timepoint,d1,...,dP". A first row whose second field is
// "timepoint" is taken as a header. Every model must cover timepoints
// 0..T-1 exactly once; models keep their first-appearance order.
func ParseModels(r io.Reader) (*rdm.ModelTimeCourse, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	type row struct {
		t   int
		rdm []float64
	}
	var names []string
	byModel := make(map[string][]row)

	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadFormat, err)
		}
		if line == 1 && len(rec) > 1 && strings.EqualFold(strings.TrimSpace(rec[1]), "timepoint") {
			continue
		}
		if len(rec) < 3 {
			return nil, fmt.Errorf("%w: line %d has %d fields", ErrBadFormat, line, len(rec))
		}
		name := strings.TrimSpace(rec[0])
		t, err := strconv.Atoi(strings.TrimSpace(rec[1]))
		if err != nil || t < 0 {
			return nil, fmt.Errorf("%w: line %d timepoint %q", ErrBadFormat, line, rec[1])
		}
		vals := make([]float64, len(rec)-2)
		for i, s := range rec[2:] {
			vals[i], err = strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d value %q", ErrBadFormat, line, s)
			}
		}
		if _, ok := byModel[name]; !ok {
			names = append(names, name)
		}
		byModel[name] = append(byModel[name], row{t: t, rdm: vals})
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no model rows", rdm.ErrEmptyModels)
	}

	timepoints := len(byModel[names[0]])
	mt := &rdm.ModelTimeCourse{Names: names, RDMs: make([][][]float64, timepoints)}
	for t := range mt.RDMs {
		mt.RDMs[t] = make([][]float64, len(names))
	}
	for m, name := range names {
		rows := byModel[name]
		if len(rows) != timepoints {
			return nil, fmt.Errorf("%w: model %s has %d timepoints, %s has %d", rdm.ErrRaggedModels, name, len(rows), names[0], timepoints)
		}
		for _, r := range rows {
			if r.t >= timepoints || mt.RDMs[r.t][m] != nil {
				return nil, fmt.Errorf("%w: model %s timepoint %d repeated or out of range", ErrBadFormat, name, r.t)
			}
			mt.RDMs[r.t][m] = r.rdm
		}
	}
	if err := mt.Validate(); err != nil {
		return nil, err
	}
	return mt, nil
}

// ReadModels reads the model CSV at path.
func ReadModels(path string) (*rdm.ModelTimeCourse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	mt, err := ParseModels(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return mt, nil
}
