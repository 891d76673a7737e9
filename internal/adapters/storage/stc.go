package storage

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/okian/meshrsa/internal/domain/mesh"
)

// maxSTCSamples rejects headers whose vertex x time product cannot be a real
// recording.
const maxSTCSamples = 1 << 31

// ReadSTC decodes an MNE source estimate: big-endian float32 tmin and tstep
// in milliseconds, uint32 vertex count and vertex numbers, uint32 time count,
// then float32 samples stored time-major.
func ReadSTC(r io.Reader) (*mesh.Recording, error) {
	br := bufio.NewReaderSize(r, writeBufferSize)

	var hdr struct {
		TminMs  float32
		TstepMs float32
		N       uint32
	}
	if err := binary.Read(br, binary.BigEndian, &hdr); err != nil {
		return nil, badSTC(err)
	}
	verts := make([]uint32, hdr.N)
	if err := binary.Read(br, binary.BigEndian, verts); err != nil {
		return nil, badSTC(err)
	}
	var nt uint32
	if err := binary.Read(br, binary.BigEndian, &nt); err != nil {
		return nil, badSTC(err)
	}
	if hdr.N == 0 || nt == 0 || uint64(hdr.N)*uint64(nt) > maxSTCSamples {
		return nil, fmt.Errorf("%w: stc dims %dx%d", ErrBadFormat, hdr.N, nt)
	}

	nv, ntp := int(hdr.N), int(nt)
	samples := make([]float32, nv*ntp)
	if err := binary.Read(br, binary.BigEndian, samples); err != nil {
		return nil, badSTC(err)
	}

	data := mat.NewDense(nv, ntp, nil)
	for t := 0; t < ntp; t++ {
		row := samples[t*nv : (t+1)*nv]
		for v, x := range row {
			data.Set(v, t, float64(x))
		}
	}
	vertices := make([]int, nv)
	for i, v := range verts {
		vertices[i] = int(v)
	}
	return &mesh.Recording{
		Tmin:     float64(hdr.TminMs) / 1000,
		Tstep:    float64(hdr.TstepMs) / 1000,
		Vertices: vertices,
		Data:     data,
	}, nil
}

func badSTC(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated stc", ErrBadFormat)
	}
	return err
}

// WriteSTC encodes rec in the layout read by ReadSTC. Samples are narrowed to
// float32; NaN is preserved.
func WriteSTC(w io.Writer, rec *mesh.Recording) error {
	nv, nt := rec.Data.Dims()
	if len(rec.Vertices) != nv {
		return fmt.Errorf("%w: %d vertices for %d rows", mesh.ErrShape, len(rec.Vertices), nv)
	}

	hdr := struct {
		TminMs  float32
		TstepMs float32
		N       uint32
	}{float32(rec.Tmin * 1000), float32(rec.Tstep * 1000), uint32(nv)}
	if err := binary.Write(w, binary.BigEndian, hdr); err != nil {
		return err
	}
	verts := make([]uint32, nv)
	for i, v := range rec.Vertices {
		verts[i] = uint32(v)
	}
	if err := binary.Write(w, binary.BigEndian, verts); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(nt)); err != nil {
		return err
	}

	buf := make([]byte, 4*nv)
	for t := 0; t < nt; t++ {
		for v := 0; v < nv; v++ {
			binary.BigEndian.PutUint32(buf[4*v:], math.Float32bits(float32(rec.Data.At(v, t))))
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// ReadSTCFile reads one trial from disk.
func ReadSTCFile(path string) (*mesh.Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rec, err := ReadSTC(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return rec, nil
}

// WriteSTCFile writes rec atomically.
func WriteSTCFile(ctx context.Context, path string, rec *mesh.Recording) error {
	return WriteFileAtomic(ctx, path, func(w io.Writer) error {
		return WriteSTC(w, rec)
	})
}
