package mproj

import (
	"errors"

	"gonum.org/v1/gonum/mat"
)

// Rigid is a rotation/reflection plus translation fitted between two point
// configurations. No scaling is involved, so applying it preserves all
// relative distances exactly.
type Rigid struct {
	q    *mat.Dense // dim×dim orthogonal map; nil means translation only
	from []float64  // centroid of the fitted source
	to   []float64  // centroid of the fitted reference
}

// FitRigid finds the rigid transform minimizing the squared difference
// between x and ref, with corresponding rows describing the same point.
// The engines fit it on the points shared between consecutive frames and
// apply it to whole frames, so per-timestep MDS output, which is only
// determined up to an orthogonal transform, does not flip or spin between
// frames.
func FitRigid(ref, x *mat.Dense) (Rigid, error) {
	n, dim := x.Dims()
	rn, rdim := ref.Dims()
	if n != rn || dim != rdim {
		return Rigid{}, errors.New("mproj: configuration dimensions differ")
	}
	if n == 0 {
		return Rigid{}, errors.New("mproj: empty configuration")
	}

	r := Rigid{from: colMeans(x), to: colMeans(ref)}

	// Cross-covariance of the centered configurations.
	cov := mat.NewDense(dim, dim, nil)
	for a := 0; a < dim; a++ {
		for b := 0; b < dim; b++ {
			var sum float64
			for i := 0; i < n; i++ {
				sum += (x.At(i, a) - r.from[a]) * (ref.At(i, b) - r.to[b])
			}
			cov.Set(a, b, sum)
		}
	}

	var svd mat.SVD
	if !svd.Factorize(cov, mat.SVDFull) {
		// Degenerate configuration (for example all points coincident):
		// keep the translation onto the reference centroid.
		return r, nil
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	q := mat.NewDense(dim, dim, nil)
	q.Mul(&u, v.T())
	r.q = q
	return r, nil
}

// Apply maps x through the fitted transform.
func (r Rigid) Apply(x *mat.Dense) *mat.Dense {
	n, dim := x.Dims()
	out := mat.NewDense(n, dim, nil)
	for i := 0; i < n; i++ {
		for b := 0; b < dim; b++ {
			var sum float64
			if r.q != nil {
				for a := 0; a < dim; a++ {
					sum += (x.At(i, a) - r.from[a]) * r.q.At(a, b)
				}
			} else {
				sum = x.At(i, b) - r.from[b]
			}
			out.Set(i, b, sum+r.to[b])
		}
	}
	return out
}

// Procrustes aligns x to ref in one step: FitRigid on the full
// configurations followed by Apply.
func Procrustes(ref, x *mat.Dense) (*mat.Dense, error) {
	r, err := FitRigid(ref, x)
	if err != nil {
		return nil, err
	}
	return r.Apply(x), nil
}

func colMeans(m *mat.Dense) []float64 {
	n, dim := m.Dims()
	means := make([]float64, dim)
	for i := 0; i < n; i++ {
		for k := 0; k < dim; k++ {
			means[k] += m.At(i, k)
		}
	}
	for k := range means {
		means[k] /= float64(n)
	}
	return means
}
