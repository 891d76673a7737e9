package glm_test

import (
	"context"
	"errors"
	"math"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"gonum.org/v1/gonum/mat"

	"github.com/okian/meshrsa/internal/domain/glm"
	"github.com/okian/meshrsa/internal/domain/rdm"
	"github.com/okian/meshrsa/internal/domain/stacker"
)

type inline struct{}

func (inline) Execute(ctx context.Context, _ string, units []func(context.Context) error) []error {
	errs := make([]error, len(units))
	for i, u := range units {
		errs[i] = u(ctx)
	}
	return errs
}

// linear serves y = 0.5 + (v+1)*m1 - m2 evaluated on the model RDMs at the
// model timepoint t-lag.
type linear struct {
	models *rdm.ModelTimeCourse
	lag    int
	nv, nt int
}

func (l linear) Vertices() int   { return l.nv }
func (l linear) Timepoints() int { return l.nt }
func (l linear) Pairs() int      { return l.models.Pairs() }
func (l linear) Response(v, t int, dst []float64) []float64 {
	mt := t - l.lag
	dst = dst[:0]
	for k := 0; k < l.models.Pairs(); k++ {
		dst = append(dst, 0.5+float64(v+1)*l.models.RDMs[mt][0][k]-l.models.RDMs[mt][1][k])
	}
	return dst
}

func models(timepoints int) *rdm.ModelTimeCourse {
	mt := &rdm.ModelTimeCourse{Names: []string{"m1", "m2"}}
	for t := 0; t < timepoints; t++ {
		a := make([]float64, 6)
		b := make([]float64, 6)
		for k := range a {
			a[k] = float64((k*7+t)%5) + 0.1*float64(k)
			b[k] = math.Sin(float64(k + t))
		}
		mt.RDMs = append(mt.RDMs, [][]float64{a, b})
	}
	return mt
}

func TestOLS(t *testing.T) {
	Convey("Given a noiseless linear response", t, func() {
		x := mat.NewDense(5, 2, []float64{
			1, 0,
			2, 1,
			3, 5,
			4, 2,
			5, 3,
		})
		y := make([]float64, 5)
		for i := range y {
			y[i] = 1.5 + 2*x.At(i, 0) - 0.5*x.At(i, 1)
		}

		fit := glm.OLS(y, x)

		Convey("Then coefficients are recovered exactly", func() {
			So(fit.IllConditioned, ShouldBeFalse)
			So(fit.Observations, ShouldEqual, 5)
			So(fit.Coefficients[0], ShouldAlmostEqual, 1.5, 1e-9)
			So(fit.Coefficients[1], ShouldAlmostEqual, 2, 1e-9)
			So(fit.Coefficients[2], ShouldAlmostEqual, -0.5, 1e-9)
			So(fit.Deviance, ShouldAlmostEqual, 0, 1e-18)
		})

		Convey("When a row holds NaN", func() {
			y[2] = math.NaN()
			fit := glm.OLS(y, x)

			Convey("Then the row is dropped and the fit still holds", func() {
				So(fit.Observations, ShouldEqual, 4)
				So(fit.Coefficients[1], ShouldAlmostEqual, 2, 1e-9)
			})
		})
	})

	Convey("Given residual noise", t, func() {
		x := mat.NewDense(4, 1, []float64{0, 1, 2, 3})
		y := []float64{0, 2, 1, 3}

		fit := glm.OLS(y, x)

		Convey("Then deviance is the residual sum of squares", func() {
			// slope 0.8, intercept 0.3, residuals -0.3 0.9 -0.9 0.3
			So(fit.Coefficients[0], ShouldAlmostEqual, 0.3, 1e-9)
			So(fit.Coefficients[1], ShouldAlmostEqual, 0.8, 1e-9)
			So(fit.Deviance, ShouldAlmostEqual, 1.8, 1e-9)
		})
	})

	Convey("Given all-zero predictors", t, func() {
		x := mat.NewDense(3, 2, nil)
		fit := glm.OLS([]float64{1, 2, 6}, x)

		Convey("Then the minimum-norm fit is returned and flagged", func() {
			So(fit.IllConditioned, ShouldBeTrue)
			So(fit.Coefficients, ShouldResemble, []float64{3, 0, 0})
			So(fit.Deviance, ShouldAlmostEqual, 14, 1e-12)
		})
	})

	Convey("Given too few complete rows", t, func() {
		x := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
		fit := glm.OLS([]float64{1, 2}, x)

		Convey("Then the estimate is NaN and flagged", func() {
			So(fit.IllConditioned, ShouldBeTrue)
			So(math.IsNaN(fit.Coefficients[1]), ShouldBeTrue)
			So(math.IsNaN(fit.Deviance), ShouldBeTrue)
		})
	})

	Convey("Given collinear predictors", t, func() {
		x := mat.NewDense(4, 2, []float64{1, 2, 2, 4, 3, 6, 4, 8})
		fit := glm.OLS([]float64{1, 2, 3, 5}, x)

		Convey("Then the fit is flagged", func() {
			So(fit.IllConditioned, ShouldBeTrue)
		})
	})

	Convey("Given only NaN responses", t, func() {
		fit := glm.OLS([]float64{math.NaN(), math.NaN()}, mat.NewDense(2, 1, []float64{1, 2}))

		So(fit.IllConditioned, ShouldBeTrue)
		So(fit.Observations, ShouldEqual, 0)
	})
}

func TestRun(t *testing.T) {
	Convey("Given 12 data and 10 model timepoints with lag 2", t, func() {
		mt := models(10)
		stack, err := stacker.Build(mt, 2, 12)
		So(err, ShouldBeNil)
		responses := linear{models: mt, lag: 2, nv: 3, nt: 12}

		Convey("When fitting every vertex and timepoint", func() {
			res, err := glm.Run(context.Background(), inline{}, responses, stack)

			Convey("Then the result is sized vertices x overlap x coefs", func() {
				So(err, ShouldBeNil)
				So(res.Vertices, ShouldEqual, 3)
				So(res.Timepoints, ShouldEqual, 8)
				So(res.Coefs, ShouldEqual, 3)
				So(len(res.Coefficients), ShouldEqual, 3*8*3)
			})

			Convey("And each vertex recovers its own weights at every timepoint", func() {
				for v := 0; v < 3; v++ {
					for tp := 0; tp < 8; tp++ {
						So(res.Coef(v, tp, 0), ShouldAlmostEqual, 0.5, 1e-8)
						So(res.Coef(v, tp, 1), ShouldAlmostEqual, float64(v+1), 1e-8)
						So(res.Coef(v, tp, 2), ShouldAlmostEqual, -1, 1e-8)
						So(res.DevianceAt(v, tp), ShouldAlmostEqual, 0, 1e-12)
						So(res.IllConditionedAt(v, tp), ShouldBeFalse)
					}
				}
				So(res.IllCount(), ShouldEqual, 0)
			})
		})

		Convey("When the context is already cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_, err := glm.Run(ctx, inline{}, responses, stack)

			Convey("Then the cancellation is reported", func() {
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
			})
		})

		Convey("When the responses have a different pair count", func() {
			other := models(10)
			for _, row := range other.RDMs {
				for m := range row {
					row[m] = row[m][:3]
				}
			}
			_, err := glm.Run(context.Background(), inline{}, linear{models: other, nv: 1, nt: 12}, stack)

			Convey("Then ErrShape is returned", func() {
				So(errors.Is(err, glm.ErrShape), ShouldBeTrue)
			})
		})
	})
}
