package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/okian/meshrsa/internal/domain/mesh"
)

// meshMagic opens every tensor file; the zstd stream follows it.
var meshMagic = [8]byte{'M', 'R', 'S', 'A', 'M', 'S', 'H', '1'}

const sampleChunk = 8192

type meshHeader struct {
	Tmin, Tmax, Tstep float64
	Vertices          uint32
	Timepoints        uint32
	Conditions        uint32
	Sessions          uint32
}

// WriteMesh encodes a tensor and its timing metadata. Samples are stored as
// raw float64 bits so a round trip is exact, NaN included.
func WriteMesh(w io.Writer, t *mesh.SourceTensor, meta mesh.TimingMetadata) error {
	if len(meta.Vertices) != t.Vertices {
		return fmt.Errorf("%w: %d metadata vertices for %d tensor rows", mesh.ErrShape, len(meta.Vertices), t.Vertices)
	}
	if _, err := w.Write(meshMagic[:]); err != nil {
		return err
	}
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("create zstd encoder: %w", err)
	}

	hdr := meshHeader{
		Tmin: meta.Tmin, Tmax: meta.Tmax, Tstep: meta.Tstep,
		Vertices:   uint32(t.Vertices),
		Timepoints: uint32(t.Timepoints),
		Conditions: uint32(t.Conditions),
		Sessions:   uint32(t.Sessions),
	}
	if err := binary.Write(enc, binary.LittleEndian, hdr); err != nil {
		enc.Close()
		return err
	}
	verts := make([]uint32, len(meta.Vertices))
	for i, v := range meta.Vertices {
		verts[i] = uint32(v)
	}
	if err := binary.Write(enc, binary.LittleEndian, verts); err != nil {
		enc.Close()
		return err
	}

	buf := make([]byte, 8*sampleChunk)
	for start := 0; start < len(t.Data); start += sampleChunk {
		chunk := t.Data[start:min(start+sampleChunk, len(t.Data))]
		for i, x := range chunk {
			binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(x))
		}
		if _, err := enc.Write(buf[:8*len(chunk)]); err != nil {
			enc.Close()
			return err
		}
	}
	return enc.Close()
}

// ReadMesh decodes a file written by WriteMesh.
func ReadMesh(r io.Reader) (*mesh.SourceTensor, mesh.TimingMetadata, error) {
	var meta mesh.TimingMetadata
	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, meta, badMesh(err)
	}
	if !bytes.Equal(magic[:], meshMagic[:]) {
		return nil, meta, fmt.Errorf("%w: not a mesh tensor", ErrBadFormat)
	}
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, meta, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()
	br := bufio.NewReaderSize(dec, writeBufferSize)

	var hdr meshHeader
	if err := binary.Read(br, binary.LittleEndian, &hdr); err != nil {
		return nil, meta, badMesh(err)
	}
	n := uint64(hdr.Vertices) * uint64(hdr.Timepoints) * uint64(hdr.Conditions) * uint64(hdr.Sessions)
	if n > math.MaxInt32*uint64(8) {
		return nil, meta, fmt.Errorf("%w: tensor dims overflow", ErrBadFormat)
	}
	verts := make([]uint32, hdr.Vertices)
	if err := binary.Read(br, binary.LittleEndian, verts); err != nil {
		return nil, meta, badMesh(err)
	}

	t := mesh.NewSourceTensor(int(hdr.Vertices), int(hdr.Timepoints), int(hdr.Conditions), int(hdr.Sessions))
	buf := make([]byte, 8*sampleChunk)
	for start := 0; start < len(t.Data); start += sampleChunk {
		chunk := t.Data[start:min(start+sampleChunk, len(t.Data))]
		b := buf[:8*len(chunk)]
		if _, err := io.ReadFull(br, b); err != nil {
			return nil, meta, badMesh(err)
		}
		for i := range chunk {
			chunk[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
		}
	}

	meta = mesh.TimingMetadata{Tmin: hdr.Tmin, Tmax: hdr.Tmax, Tstep: hdr.Tstep, Vertices: make([]int, len(verts))}
	for i, v := range verts {
		meta.Vertices[i] = int(v)
	}
	return t, meta, nil
}

func badMesh(err error) error {
	return fmt.Errorf("%w: truncated mesh tensor: %v", ErrBadFormat, err)
}

// SaveMesh persists a tensor atomically.
func SaveMesh(ctx context.Context, path string, t *mesh.SourceTensor, meta mesh.TimingMetadata) error {
	return WriteFileAtomic(ctx, path, func(w io.Writer) error {
		return WriteMesh(w, t, meta)
	})
}

// LoadMesh reads a persisted tensor.
func LoadMesh(path string) (*mesh.SourceTensor, mesh.TimingMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, mesh.TimingMetadata{}, err
	}
	defer f.Close()

	t, meta, err := ReadMesh(f)
	if err != nil {
		return nil, meta, fmt.Errorf("read %s: %w", path, err)
	}
	return t, meta, nil
}
