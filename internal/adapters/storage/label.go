package storage

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/okian/meshrsa/internal/domain/mesh"
)

// LabelHemisphere infers the hemisphere from an MNE label file name ending
// in -lh.label or -rh.label.
func LabelHemisphere(path string) (mesh.Hemisphere, error) {
	base := filepath.Base(path)
	switch {
	case strings.HasSuffix(base, "-lh.label"):
		return mesh.Left, nil
	case strings.HasSuffix(base, "-rh.label"):
		return mesh.Right, nil
	default:
		return 0, fmt.Errorf("%w: %s", mesh.ErrUnknownHemisphere, base)
	}
}

// ParseLabel reads an MNE label: a comment line, the vertex count, then one
// "vertex x y z value" line per vertex. Vertices are returned ascending and
// de-duplicated.
func ParseLabel(r io.Reader, name string, h mesh.Hemisphere) (mesh.Mask, error) {
	mask := mesh.Mask{Name: name, Hemisphere: h}
	sc := bufio.NewScanner(r)

	if !sc.Scan() {
		return mask, fmt.Errorf("%w: empty label", ErrBadFormat)
	}
	if !sc.Scan() {
		return mask, fmt.Errorf("%w: label has no vertex count", ErrBadFormat)
	}
	count, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
	if err != nil || count < 0 {
		return mask, fmt.Errorf("%w: label vertex count %q", ErrBadFormat, sc.Text())
	}

	seen := make(map[int]struct{}, count)
	for i := 0; i < count; i++ {
		if !sc.Scan() {
			return mask, fmt.Errorf("%w: label ends after %d of %d vertices", ErrBadFormat, i, count)
		}
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			return mask, fmt.Errorf("%w: blank label line %d", ErrBadFormat, i+3)
		}
		v, err := strconv.Atoi(fields[0])
		if err != nil || v < 0 {
			return mask, fmt.Errorf("%w: label vertex %q", ErrBadFormat, fields[0])
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		mask.Vertices = append(mask.Vertices, v)
	}
	if err := sc.Err(); err != nil {
		return mask, err
	}
	sort.Ints(mask.Vertices)
	return mask, nil
}

// ReadLabel reads one label file.
func ReadLabel(path string) (mesh.Mask, error) {
	h, err := LabelHemisphere(path)
	if err != nil {
		return mesh.Mask{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return mesh.Mask{}, err
	}
	defer f.Close()

	name := strings.TrimSuffix(filepath.Base(path), "-"+h.String()+".label")
	mask, err := ParseLabel(f, name, h)
	if err != nil {
		return mask, fmt.Errorf("read %s: %w", path, err)
	}
	return mask, nil
}

// ReadLabels reads every label in paths.
func ReadLabels(paths []string) ([]mesh.Mask, error) {
	masks := make([]mesh.Mask, 0, len(paths))
	for _, p := range paths {
		m, err := ReadLabel(p)
		if err != nil {
			return nil, err
		}
		masks = append(masks, m)
	}
	return masks, nil
}
