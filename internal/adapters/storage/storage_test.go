package storage_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"gonum.org/v1/gonum/mat"

	"github.com/okian/meshrsa/internal/adapters/storage"
	"github.com/okian/meshrsa/internal/domain/aggregate"
	"github.com/okian/meshrsa/internal/domain/glm"
	"github.com/okian/meshrsa/internal/domain/mesh"
)

func TestSTC(t *testing.T) {
	Convey("Given a recording with a NaN sample", t, func() {
		rec := &mesh.Recording{
			Tmin:     -0.1,
			Tstep:    0.004,
			Vertices: []int{0, 3, 7},
			Data:     mat.NewDense(3, 2, []float64{1, 2, 0.5, math.NaN(), -1.25, 8}),
		}

		Convey("When it is written and read back", func() {
			var buf bytes.Buffer
			So(storage.WriteSTC(&buf, rec), ShouldBeNil)
			got, err := storage.ReadSTC(&buf)

			Convey("Then timing, vertices and samples survive", func() {
				So(err, ShouldBeNil)
				So(got.Tmin, ShouldAlmostEqual, -0.1, 1e-9)
				So(got.Tstep, ShouldAlmostEqual, 0.004, 1e-9)
				So(got.Vertices, ShouldResemble, []int{0, 3, 7})
				So(got.VertexCount(), ShouldEqual, 3)
				So(got.TimepointCount(), ShouldEqual, 2)
				So(got.Data.At(1, 0), ShouldEqual, 0.5)
				So(math.IsNaN(got.Data.At(1, 1)), ShouldBeTrue)
				So(got.Data.At(2, 1), ShouldEqual, 8)
			})
		})

		Convey("When the samples are inspected on disk", func() {
			var buf bytes.Buffer
			small := &mesh.Recording{Tstep: 0.001, Vertices: []int{0, 1}, Data: mat.NewDense(2, 2, []float64{1, 2, 3, 4})}
			So(storage.WriteSTC(&buf, small), ShouldBeNil)
			raw := buf.Bytes()

			Convey("Then they are big-endian and time-major", func() {
				So(len(raw), ShouldEqual, 24+16)
				So(binary.BigEndian.Uint32(raw[8:]), ShouldEqual, 2)
				var samples [4]float32
				for i := range samples {
					samples[i] = math.Float32frombits(binary.BigEndian.Uint32(raw[24+4*i:]))
				}
				So(samples, ShouldResemble, [4]float32{1, 3, 2, 4})
			})
		})

		Convey("When the file is truncated", func() {
			var buf bytes.Buffer
			So(storage.WriteSTC(&buf, rec), ShouldBeNil)
			_, err := storage.ReadSTC(bytes.NewReader(buf.Bytes()[:buf.Len()-3]))

			Convey("Then ErrBadFormat is returned", func() {
				So(errors.Is(err, storage.ErrBadFormat), ShouldBeTrue)
			})
		})

		Convey("When vertices and rows disagree", func() {
			bad := &mesh.Recording{Vertices: []int{0}, Data: mat.NewDense(2, 1, nil)}
			So(errors.Is(storage.WriteSTC(io.Discard, bad), mesh.ErrShape), ShouldBeTrue)
		})
	})
}

func TestMeshContainer(t *testing.T) {
	Convey("Given a tensor with a missing slice", t, func() {
		tensor := mesh.NewSourceTensor(3, 4, 2, 2)
		for i := range tensor.Data {
			tensor.Data[i] = math.Sin(float64(i)) * 1e-9
		}
		tensor.SetMissing(1, 0)
		meta := mesh.NewTimingMetadata(-0.2, 0.008, 4, []int{0, 1, 5})

		Convey("When it is saved and loaded", func() {
			path := filepath.Join(t.TempDir(), "mesh", "s01-lh.mesh.zst")
			So(storage.SaveMesh(context.Background(), path, tensor, meta), ShouldBeNil)
			got, gotMeta, err := storage.LoadMesh(path)

			Convey("Then the round trip is bitwise exact", func() {
				So(err, ShouldBeNil)
				So(gotMeta, ShouldResemble, meta)
				So(got.Vertices, ShouldEqual, 3)
				So(got.Timepoints, ShouldEqual, 4)
				So(got.Conditions, ShouldEqual, 2)
				So(got.Sessions, ShouldEqual, 2)
				So(got.Missing(1, 0), ShouldBeTrue)
				same := true
				for i := range tensor.Data {
					if math.Float64bits(got.Data[i]) != math.Float64bits(tensor.Data[i]) {
						same = false
					}
				}
				So(same, ShouldBeTrue)
			})
		})

		Convey("When the magic is wrong", func() {
			_, _, err := storage.ReadMesh(strings.NewReader("NOTAMESH and more"))
			So(errors.Is(err, storage.ErrBadFormat), ShouldBeTrue)
		})

		Convey("When the stream is cut short", func() {
			var buf bytes.Buffer
			So(storage.WriteMesh(&buf, tensor, meta), ShouldBeNil)
			_, _, err := storage.ReadMesh(bytes.NewReader(buf.Bytes()[:12]))
			So(err, ShouldNotBeNil)
		})
	})
}

func TestWriteFileAtomic(t *testing.T) {
	Convey("Given a target in a missing directory", t, func() {
		dir := t.TempDir()
		dest := filepath.Join(dir, "a", "b", "out.bin")

		Convey("When the write succeeds", func() {
			err := storage.WriteFileAtomic(context.Background(), dest, func(w io.Writer) error {
				_, err := w.Write([]byte("payload"))
				return err
			})

			Convey("Then only the final file exists", func() {
				So(err, ShouldBeNil)
				data, _ := os.ReadFile(dest)
				So(string(data), ShouldEqual, "payload")
				entries, _ := os.ReadDir(filepath.Dir(dest))
				So(len(entries), ShouldEqual, 1)
				So(storage.Exists(dest), ShouldBeTrue)
			})
		})

		Convey("When the write fails", func() {
			boom := errors.New("boom")
			err := storage.WriteFileAtomic(context.Background(), dest, func(io.Writer) error { return boom })

			Convey("Then nothing is left behind", func() {
				So(errors.Is(err, boom), ShouldBeTrue)
				So(storage.Exists(dest), ShouldBeFalse)
				entries, _ := os.ReadDir(filepath.Dir(dest))
				So(len(entries), ShouldEqual, 0)
			})
		})

		Convey("When the context is cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			err := storage.WriteFileAtomic(ctx, dest, func(io.Writer) error { return nil })
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
		})
	})
}

func TestLabels(t *testing.T) {
	Convey("Given an MNE label file", t, func() {
		body := "#Label of fusiform\n3\n12 1.0 2.0 3.0 0.0\n4 0 0 0 0\n12 0 0 0 0\n"
		path := filepath.Join(t.TempDir(), "fusiform-rh.label")
		So(os.WriteFile(path, []byte(body), 0o644), ShouldBeNil)

		mask, err := storage.ReadLabel(path)

		Convey("Then vertices are sorted, unique and on the named hemisphere", func() {
			So(err, ShouldBeNil)
			So(mask.Name, ShouldEqual, "fusiform")
			So(mask.Hemisphere, ShouldEqual, mesh.Right)
			So(mask.Vertices, ShouldResemble, []int{4, 12})
		})
	})

	Convey("Given malformed labels", t, func() {
		_, err := storage.LabelHemisphere("roi.label")
		So(errors.Is(err, mesh.ErrUnknownHemisphere), ShouldBeTrue)

		_, err = storage.ParseLabel(strings.NewReader("#c\nthree\n"), "x", mesh.Left)
		So(errors.Is(err, storage.ErrBadFormat), ShouldBeTrue)

		_, err = storage.ParseLabel(strings.NewReader("#c\n2\n1 0 0 0 0\n"), "x", mesh.Left)
		So(errors.Is(err, storage.ErrBadFormat), ShouldBeTrue)
	})
}

func TestModels(t *testing.T) {
	Convey("Given a model CSV with a header", t, func() {
		csv := "model,timepoint,d1,d2,d3\n" +
			"visual,0,0.1,0.2,0.3\n" +
			"semantic,0,1,2,3\n" +
			"visual,1,0.4,0.5,0.6\n" +
			"semantic,1,4,5,6\n"

		mt, err := storage.ParseModels(strings.NewReader(csv))

		Convey("Then models keep order and timepoints are indexed", func() {
			So(err, ShouldBeNil)
			So(mt.Names, ShouldResemble, []string{"visual", "semantic"})
			So(mt.Timepoints(), ShouldEqual, 2)
			So(mt.Pairs(), ShouldEqual, 3)
			So(mt.RDMs[1][0], ShouldResemble, []float64{0.4, 0.5, 0.6})
			So(mt.RDMs[0][1], ShouldResemble, []float64{1, 2, 3})
		})
	})

	Convey("Given malformed model CSVs", t, func() {
		_, err := storage.ParseModels(strings.NewReader("a,0,1,2,3\nb,0,1,2\n"))
		So(err, ShouldNotBeNil)

		_, err = storage.ParseModels(strings.NewReader("a,0,1,x,3\n"))
		So(errors.Is(err, storage.ErrBadFormat), ShouldBeTrue)

		_, err = storage.ParseModels(strings.NewReader("a,0,1,2,3\na,0,1,2,3\n"))
		So(errors.Is(err, storage.ErrBadFormat), ShouldBeTrue)

		_, err = storage.ParseModels(strings.NewReader("a,0,1,2\n"))
		So(err, ShouldNotBeNil)

		_, err = storage.ParseModels(strings.NewReader(""))
		So(err, ShouldNotBeNil)
	})
}

func TestNeighbourhoods(t *testing.T) {
	Convey("Given a neighbourhood file", t, func() {
		hoods, err := storage.ParseNeighbourhoods(strings.NewReader("# radius 10mm\n0: 1 2\n\n5:\n"))

		So(err, ShouldBeNil)
		So(hoods[0], ShouldResemble, []int{1, 2})
		So(hoods[5], ShouldBeEmpty)
		So(len(hoods), ShouldEqual, 2)
	})

	Convey("Given a line without a colon", t, func() {
		_, err := storage.ParseNeighbourhoods(strings.NewReader("0 1 2\n"))
		So(errors.Is(err, storage.ErrBadFormat), ShouldBeTrue)
	})
}

func TestLayout(t *testing.T) {
	Convey("Given a layout", t, func() {
		l := storage.Layout{Root: "/data", Analysis: "rsa"}

		So(l.MeshPath("s01", mesh.Left), ShouldEqual, "/data/rsa/mesh/s01-lh.mesh.zst")
		So(l.MissingLogPath(), ShouldEqual, "/data/rsa/missing-files.log")
		So(l.CoefPath("s01", 0, mesh.Right), ShouldEqual, "/data/rsa/glm/s01/coef-0-rh.stc")
		So(l.MedianCoefPath("s01", 2, mesh.Left), ShouldEqual, "/data/rsa/glm/s01/median-coef-2-lh.stc")
		So(l.SummaryPath("s01", "best-model", mesh.Left), ShouldEqual, "/data/rsa/glm/s01/best-model-lh.stc")
		So(storage.RawTrialPath("/raw/{subject}/{trial}-{hemi}.stc", "s01", "s1c2", mesh.Right),
			ShouldEqual, "/raw/s01/s1c2-rh.stc")
	})
}

func TestWriteResults(t *testing.T) {
	Convey("Given a fit of 2 vertices over 3 timepoints and 1 model", t, func() {
		res := glm.NewResult(2, 3, 2)
		for v := 0; v < 2; v++ {
			for tp := 0; tp < 3; tp++ {
				copy(res.CoefsAt(v, tp), []float64{0.5, float64(v*3 + tp)})
				res.Deviance[v*3+tp] = 0.25
			}
		}
		meta := mesh.NewTimingMetadata(0, 0.01, 5, []int{2, 9}).Shifted(2)
		l := storage.Layout{Root: t.TempDir(), Analysis: "rsa"}

		written, err := l.WriteResults(context.Background(), storage.ResultSet{
			Subject: "s01", Hemisphere: mesh.Left, Meta: meta,
			Fit: res, Summary: aggregate.Summarize(res),
		})

		Convey("Then every map is written", func() {
			So(err, ShouldBeNil)
			So(len(written), ShouldEqual, 2*2+5)
			for _, p := range written {
				So(storage.Exists(p), ShouldBeTrue)
			}
		})

		Convey("And per-timepoint maps carry the shifted timing", func() {
			rec, err := storage.ReadSTCFile(l.CoefPath("s01", 1, mesh.Left))
			So(err, ShouldBeNil)
			So(rec.Tmin, ShouldAlmostEqual, 0.02, 1e-7)
			So(rec.Vertices, ShouldResemble, []int{2, 9})
			So(rec.TimepointCount(), ShouldEqual, 3)
			So(rec.Data.At(1, 2), ShouldEqual, 5)

			best, err := storage.ReadSTCFile(l.SummaryPath("s01", "best-model", mesh.Left))
			So(err, ShouldBeNil)
			So(best.Data.At(0, 0), ShouldEqual, 1)
		})

		Convey("And median maps carry collapsed timing", func() {
			rec, err := storage.ReadSTCFile(l.MedianCoefPath("s01", 1, mesh.Left))
			So(err, ShouldBeNil)
			So(rec.Tmin, ShouldEqual, 0)
			So(rec.Tstep, ShouldEqual, 0)
			So(rec.TimepointCount(), ShouldEqual, 1)
			So(rec.Data.At(1, 0), ShouldEqual, 4)
		})
	})
}
