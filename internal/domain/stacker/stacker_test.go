package stacker_test

import (
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/meshrsa/internal/domain/rdm"
	"github.com/okian/meshrsa/internal/domain/stacker"
)

func timeCourse(timepoints, models int) *rdm.ModelTimeCourse {
	mt := &rdm.ModelTimeCourse{Names: make([]string, models), RDMs: make([][][]float64, timepoints)}
	for m := range mt.Names {
		mt.Names[m] = string(rune('a' + m))
	}
	for t := range mt.RDMs {
		mt.RDMs[t] = make([][]float64, models)
		for m := range mt.RDMs[t] {
			mt.RDMs[t][m] = []float64{float64(t), float64(m), float64(t * m)}
		}
	}
	return mt
}

func TestOverlap(t *testing.T) {
	Convey("Given 120 data and 100 model timepoints lagged by 5", t, func() {
		So(stacker.Overlap(120, 100, 5), ShouldEqual, 95)
	})

	Convey("Given a lag longer than the recordings", t, func() {
		So(stacker.Overlap(10, 12, 11), ShouldEqual, 0)
	})
}

func TestBuild(t *testing.T) {
	Convey("Given 100 model timepoints of 3 models", t, func() {
		models := timeCourse(100, 3)

		Convey("When stacking against 120 data timepoints with lag 5", func() {
			stack, err := stacker.Build(models, 5, 120)

			Convey("Then 95 pairs x models matrices are produced", func() {
				So(err, ShouldBeNil)
				So(stack.Overlap, ShouldEqual, 95)
				So(len(stack.Design), ShouldEqual, 95)
				r, c := stack.Design[0].Dims()
				So(r, ShouldEqual, 3)
				So(c, ShouldEqual, 3)
			})

			Convey("And matrix t holds model timepoint t aligned to data t+lag", func() {
				x := stack.Design[10]
				So(x.At(0, 2), ShouldEqual, 10.0)
				So(x.At(1, 2), ShouldEqual, 2.0)
				So(x.At(2, 2), ShouldEqual, 20.0)
				So(stack.DataIndex(10), ShouldEqual, 15)
			})
		})

		Convey("When the lag consumes every timepoint", func() {
			_, err := stacker.Build(models, 100, 120)

			Convey("Then ErrEmptyOverlap is returned", func() {
				So(errors.Is(err, stacker.ErrEmptyOverlap), ShouldBeTrue)
			})
		})
	})

	Convey("Given malformed models", t, func() {
		_, err := stacker.Build(&rdm.ModelTimeCourse{}, 0, 10)

		So(errors.Is(err, rdm.ErrEmptyModels), ShouldBeTrue)
	})
}
