package searchlight_test

import (
	"errors"
	"math"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/meshrsa/internal/domain/mesh"
	"github.com/okian/meshrsa/internal/domain/searchlight"
)

// tensorWith builds 2 vertices x 3 timepoints x 3 conditions x 2 sessions
// where condition c at vertex v, time t equals (c+1)*(v+1)*(t+1), and
// condition 2 is the negation of condition 0.
func tensorWith() (*mesh.SourceTensor, mesh.TimingMetadata) {
	s := mesh.NewSourceTensor(2, 3, 3, 2)
	for v := 0; v < 2; v++ {
		for t := 0; t < 3; t++ {
			for sess := 0; sess < 2; sess++ {
				base := float64((v + 1) * (t + 1))
				s.Set(v, t, 0, sess, base)
				s.Set(v, t, 1, sess, 2*base+float64(sess))
				s.Set(v, t, 2, sess, -base)
			}
		}
	}
	return s, mesh.NewTimingMetadata(0, 0.01, 3, []int{10, 20})
}

func TestBuilder(t *testing.T) {
	Convey("Given a tensor with three related conditions", t, func() {
		tensor, meta := tensorWith()

		Convey("When building with both vertices in one searchlight", func() {
			b, err := searchlight.NewBuilder(tensor, meta, searchlight.Neighbourhoods{10: {20}, 20: {10}}, 1)
			So(err, ShouldBeNil)
			got := b.Response(0, 1, nil)

			Convey("Then the RDM follows correlation distance", func() {
				So(b.Pairs(), ShouldEqual, 3)
				So(len(got), ShouldEqual, 3)
				So(got[0], ShouldAlmostEqual, 0, 1e-12) // 0 vs 1: affine, r = 1
				So(got[1], ShouldAlmostEqual, 2, 1e-12) // 0 vs 2: negated, r = -1
				So(got[2], ShouldAlmostEqual, 2, 1e-12)
				So(b.Size(0, 1), ShouldEqual, 6)
				So(b.Size(0, 0), ShouldEqual, 4)
			})
		})

		Convey("When one condition is missing in every session", func() {
			tensor.SetMissing(1, 0)
			tensor.SetMissing(1, 1)
			b, err := searchlight.NewBuilder(tensor, meta, nil, 1)
			So(err, ShouldBeNil)
			got := b.Response(1, 1, make([]float64, 0, 8))

			Convey("Then pairs with that condition are NaN", func() {
				So(math.IsNaN(got[0]), ShouldBeTrue)
				So(math.IsNaN(got[2]), ShouldBeTrue)
				So(got[1], ShouldAlmostEqual, 2, 1e-12)
			})
		})

		Convey("When one session of a condition is missing", func() {
			tensor.SetMissing(1, 1)
			b, _ := searchlight.NewBuilder(tensor, meta, nil, 1)
			got := b.Response(0, 1, nil)

			Convey("Then the other session still represents it", func() {
				So(got[0], ShouldAlmostEqual, 0, 1e-12)
			})
		})

		Convey("When the temporal window is zero and the searchlight is one vertex", func() {
			b, _ := searchlight.NewBuilder(tensor, meta, nil, 0)
			got := b.Response(0, 0, nil)

			Convey("Then single-feature patterns give NaN", func() {
				So(math.IsNaN(got[0]), ShouldBeTrue)
			})
		})
	})

	Convey("Given invalid inputs", t, func() {
		tensor, meta := tensorWith()

		_, err := searchlight.NewBuilder(mesh.NewSourceTensor(1, 1, 1, 1), mesh.TimingMetadata{Vertices: []int{0}}, nil, 0)
		So(errors.Is(err, searchlight.ErrTooFewConditions), ShouldBeTrue)

		_, err = searchlight.NewBuilder(tensor, meta, nil, -1)
		So(errors.Is(err, searchlight.ErrWindow), ShouldBeTrue)

		meta.Vertices = meta.Vertices[:1]
		_, err = searchlight.NewBuilder(tensor, meta, nil, 1)
		So(errors.Is(err, mesh.ErrShape), ShouldBeTrue)
	})
}
