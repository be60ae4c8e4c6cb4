// Package mproj implements the multidimensional-projection kernels behind
// the projection engine: classical MDS, SMACOF stress majorization, the
// LAMP locally-affine mapping and orthogonal Procrustes alignment. All
// functions are pure: they take matrices in, return matrices out, and every
// iteration cap and tolerance is an explicit parameter.
package mproj

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrTooFewPoints is returned when a projection is requested for fewer than
// two points.
var ErrTooFewPoints = errors.New("mproj: need at least 2 points")

// Classical computes Torgerson classical scaling of the symmetric distance
// matrix d into dim dimensions: double-center the squared distances and
// take the top eigenpairs. Dimensions with non-positive eigenvalues come
// out as zero coordinates.
func Classical(d *mat.SymDense, dim int) (*mat.Dense, error) {
	n := d.SymmetricDim()
	if n < 2 {
		return nil, ErrTooFewPoints
	}

	// B = -1/2 * J * D^2 * J with J = I - 11'/n, computed directly from
	// row/column/grand means of the squared distances.
	sq := make([]float64, n*n)
	rowMean := make([]float64, n)
	var grand float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := d.At(i, j)
			v *= v
			sq[i*n+j] = v
			rowMean[i] += v
			grand += v
		}
	}
	for i := range rowMean {
		rowMean[i] /= float64(n)
	}
	grand /= float64(n * n)

	b := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			b.SetSym(i, j, -0.5*(sq[i*n+j]-rowMean[i]-rowMean[j]+grand))
		}
	}

	var es mat.EigenSym
	if !es.Factorize(b, true) {
		return nil, errors.New("mproj: eigendecomposition failed")
	}
	vals := es.Values(nil) // ascending
	var vecs mat.Dense
	es.VectorsTo(&vecs)

	coords := mat.NewDense(n, dim, nil)
	for k := 0; k < dim; k++ {
		ev := n - 1 - k // take from the top
		if ev < 0 {
			break
		}
		lambda := vals[ev]
		if lambda <= 0 {
			continue
		}
		scale := math.Sqrt(lambda)
		for i := 0; i < n; i++ {
			coords.Set(i, k, vecs.At(i, ev)*scale)
		}
	}
	return coords, nil
}

// Stress returns the raw stress of configuration y against the target
// distances d: the sum over pairs of squared differences between projected
// and target distances.
func Stress(d *mat.SymDense, y *mat.Dense) float64 {
	n, _ := y.Dims()
	var s float64
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			diff := pointDist(y, i, j) - d.At(i, j)
			s += diff * diff
		}
	}
	return s
}

// SMACOF iteratively improves init by stress majorization (the Guttman
// transform) until the relative stress improvement drops below eps or
// maxIter iterations have run. It returns the final configuration, its
// stress and the number of iterations performed.
func SMACOF(d *mat.SymDense, init *mat.Dense, maxIter int, eps float64) (*mat.Dense, float64, int) {
	n, dim := init.Dims()
	z := mat.DenseCopyOf(init)
	stress := Stress(d, z)
	if n < 2 {
		return z, stress, 0
	}

	next := mat.NewDense(n, dim, nil)
	bz := make([]float64, n*n)
	iter := 0
	for ; iter < maxIter; iter++ {
		// B(Z): b_ij = -delta_ij / d_ij(Z) off-diagonal, rows sum to zero.
		for i := range bz {
			bz[i] = 0
		}
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				if i == j {
					continue
				}
				dij := pointDist(z, i, j)
				if dij > 0 {
					bz[i*n+j] = -d.At(i, j) / dij
				}
			}
		}
		for i := 0; i < n; i++ {
			var rowSum float64
			for j := 0; j < n; j++ {
				if j != i {
					rowSum += bz[i*n+j]
				}
			}
			bz[i*n+i] = -rowSum
		}

		// Guttman transform: Z <- (1/n) B(Z) Z.
		for i := 0; i < n; i++ {
			for k := 0; k < dim; k++ {
				var sum float64
				for j := 0; j < n; j++ {
					sum += bz[i*n+j] * z.At(j, k)
				}
				next.Set(i, k, sum/float64(n))
			}
		}
		z, next = next, z

		newStress := Stress(d, z)
		if stress > 0 && (stress-newStress)/stress < eps {
			stress = newStress
			iter++
			break
		}
		stress = newStress
	}
	return z, stress, iter
}

func pointDist(y *mat.Dense, i, j int) float64 {
	_, dim := y.Dims()
	var sum float64
	for k := 0; k < dim; k++ {
		d := y.At(i, k) - y.At(j, k)
		sum += d * d
	}
	return math.Sqrt(sum)
}
