package mproj

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

// LAMP maps each row of x into the projected space through a locally
// weighted orthogonal affine transform anchored on the control points: xs
// holds the control points in the original space (C rows), ys their fixed
// locations in the projected space (C rows, P columns). Weights fall off
// with the inverse distance to each control point, floored at tol so a row
// coincident with a control point gets a dominant weight and lands on that
// control point's projection.
//
// The original-space dimension of x and xs must be at least P; callers pad
// narrow feature vectors with zero columns.
func LAMP(x, xs, ys *mat.Dense, tol float64) (*mat.Dense, error) {
	m, n := x.Dims()
	c, cn := xs.Dims()
	cy, p := ys.Dims()
	if c != cy {
		return nil, errors.New("mproj: control point count mismatch between xs and ys")
	}
	if n != cn {
		return nil, errors.New("mproj: original-space dimension mismatch between x and xs")
	}
	if n < p {
		return nil, errors.New("mproj: original-space dimension smaller than projection dimension")
	}
	if tol <= 0 {
		tol = 1e-9
	}

	y := mat.NewDense(m, p, nil)
	alphas := make([]float64, c)
	xTilde := make([]float64, n)
	yTilde := make([]float64, p)
	a := mat.NewDense(c, n, nil)
	b := mat.NewDense(c, p, nil)

	for row := 0; row < m; row++ {
		// Inverse-distance weights with the epsilon floor.
		var sumAlpha float64
		for i := 0; i < c; i++ {
			var dist float64
			for k := 0; k < n; k++ {
				d := xs.At(i, k) - x.At(row, k)
				dist += d * d
			}
			alphas[i] = 1 / math.Max(math.Sqrt(dist), tol)
			sumAlpha += alphas[i]
		}

		// Weighted centroids in both spaces.
		for k := range xTilde {
			xTilde[k] = 0
		}
		for k := range yTilde {
			yTilde[k] = 0
		}
		for i := 0; i < c; i++ {
			for k := 0; k < n; k++ {
				xTilde[k] += alphas[i] * xs.At(i, k)
			}
			for k := 0; k < p; k++ {
				yTilde[k] += alphas[i] * ys.At(i, k)
			}
		}
		for k := range xTilde {
			xTilde[k] /= sumAlpha
		}
		for k := range yTilde {
			yTilde[k] /= sumAlpha
		}

		// Weighted, centered control matrices.
		for i := 0; i < c; i++ {
			w := math.Sqrt(alphas[i])
			for k := 0; k < n; k++ {
				a.Set(i, k, w*(xs.At(i, k)-xTilde[k]))
			}
			for k := 0; k < p; k++ {
				b.Set(i, k, w*(ys.At(i, k)-yTilde[k]))
			}
		}

		// Orthogonal mapping M = U[:, :p] V' from the SVD of A'B.
		var atb mat.Dense
		atb.Mul(a.T(), b)
		var svd mat.SVD
		if !svd.Factorize(&atb, mat.SVDFull) {
			return nil, errors.New("mproj: SVD failed in affine mapping")
		}
		var u, v mat.Dense
		svd.UTo(&u)
		svd.VTo(&v)

		for k := 0; k < p; k++ {
			var coord float64
			for d := 0; d < n; d++ {
				// (M)_{d,k} = sum_r U_{d,r} V_{k,r} over the first p
				// singular directions.
				var mdk float64
				for r := 0; r < p; r++ {
					mdk += u.At(d, r) * v.At(k, r)
				}
				coord += (x.At(row, d) - xTilde[d]) * mdk
			}
			y.Set(row, k, coord+yTilde[k])
		}
	}
	return y, nil
}
