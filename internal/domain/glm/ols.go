package glm

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

// conditionLimit flags designs whose condition number makes the weights
// meaningless even when the solve succeeds.
const conditionLimit = 1e12

// Fit is one ordinary least squares fit with an intercept.
type Fit struct {
	// Coefficients holds the intercept followed by one weight per model.
	Coefficients []float64
	// Deviance is the residual sum of squares, the normal-family deviance.
	Deviance float64
	// Observations is the number of complete rows used.
	Observations int
	// IllConditioned is set for degenerate or near-singular designs.
	IllConditioned bool
}

// OLS regresses y on the columns of x plus an intercept. Rows where y or any
// predictor is NaN are dropped.
//
// When every predictor is zero on the complete rows the minimum-norm solution
// is returned (intercept = mean of y, weights 0) and the fit is flagged.
// Fewer complete rows than coefficients leaves the estimate NaN and flagged.
// A near-singular design keeps a finite estimate but is flagged.
func OLS(y []float64, x mat.Matrix) Fit {
	n, models := x.Dims()
	if len(y) != n {
		panic(mat.ErrShape)
	}
	p := models + 1

	rows := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if math.IsNaN(y[i]) {
			continue
		}
		complete := true
		for m := 0; m < models; m++ {
			if math.IsNaN(x.At(i, m)) {
				complete = false
				break
			}
		}
		if complete {
			rows = append(rows, i)
		}
	}

	fit := Fit{Coefficients: nanSlice(p), Deviance: math.NaN(), Observations: len(rows)}
	if len(rows) == 0 {
		fit.IllConditioned = true
		return fit
	}

	if allZero(x, rows, models) {
		mean := 0.0
		for _, i := range rows {
			mean += y[i]
		}
		mean /= float64(len(rows))
		dev := 0.0
		for _, i := range rows {
			d := y[i] - mean
			dev += d * d
		}
		for k := range fit.Coefficients {
			fit.Coefficients[k] = 0
		}
		fit.Coefficients[0] = mean
		fit.Deviance = dev
		fit.IllConditioned = true
		return fit
	}

	if len(rows) < p {
		fit.IllConditioned = true
		return fit
	}

	design := mat.NewDense(len(rows), p, nil)
	resp := mat.NewVecDense(len(rows), nil)
	for r, i := range rows {
		design.Set(r, 0, 1)
		for m := 0; m < models; m++ {
			design.Set(r, m+1, x.At(i, m))
		}
		resp.SetVec(r, y[i])
	}

	var qr mat.QR
	qr.Factorize(design)
	if qr.Cond() > conditionLimit {
		fit.IllConditioned = true
	}
	beta := mat.NewVecDense(p, nanSlice(p))
	if err := qr.SolveVecTo(beta, false, resp); err != nil {
		fit.IllConditioned = true
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return fit
		}
	}
	for k := 0; k < p; k++ {
		b := beta.AtVec(k)
		if math.IsNaN(b) || math.IsInf(b, 0) {
			fit.IllConditioned = true
			return fit
		}
	}

	var fitted mat.VecDense
	fitted.MulVec(design, beta)
	dev := 0.0
	for r := 0; r < len(rows); r++ {
		d := resp.AtVec(r) - fitted.AtVec(r)
		dev += d * d
	}
	for k := 0; k < p; k++ {
		fit.Coefficients[k] = beta.AtVec(k)
	}
	fit.Deviance = dev
	return fit
}

func allZero(x mat.Matrix, rows []int, models int) bool {
	for _, i := range rows {
		for m := 0; m < models; m++ {
			if x.At(i, m) != 0 {
				return false
			}
		}
	}
	return true
}

func nanSlice(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}
