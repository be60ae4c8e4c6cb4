package mproj

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// distMatrix builds the pairwise Euclidean distance matrix of a point
// configuration.
func distMatrix(pts *mat.Dense) *mat.SymDense {
	n, _ := pts.Dims()
	d := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d.SetSym(i, j, pointDist(pts, i, j))
		}
	}
	return d
}

func TestClassicalRecoversDistances(t *testing.T) {
	// A unit square in the plane.
	pts := mat.NewDense(4, 2, []float64{0, 0, 1, 0, 1, 1, 0, 1})
	d := distMatrix(pts)

	coords, err := Classical(d, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Classical scaling recovers the configuration up to rotation and
	// reflection, so compare pairwise distances only.
	for i := 0; i < 4; i++ {
		for j := i + 1; j < 4; j++ {
			got := pointDist(coords, i, j)
			want := d.At(i, j)
			if math.Abs(got-want) > 1e-9 {
				t.Errorf("d(%d,%d) = %v, want %v", i, j, got, want)
			}
		}
	}
}

func TestClassicalTooFewPoints(t *testing.T) {
	d := mat.NewSymDense(1, nil)
	if _, err := Classical(d, 2); !errors.Is(err, ErrTooFewPoints) {
		t.Fatalf("expected ErrTooFewPoints, got %v", err)
	}
}

func TestClassicalTwoPoints(t *testing.T) {
	d := mat.NewSymDense(2, nil)
	d.SetSym(0, 1, 4)

	coords, err := Classical(d, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := pointDist(coords, 0, 1); math.Abs(got-4) > 1e-9 {
		t.Errorf("recovered distance %v, want 4", got)
	}
}

func TestStressZeroForPerfectFit(t *testing.T) {
	pts := mat.NewDense(3, 2, []float64{0, 0, 3, 0, 0, 4})
	d := distMatrix(pts)
	if s := Stress(d, pts); s > 1e-12 {
		t.Errorf("stress of exact configuration = %v, want 0", s)
	}
}

func TestSMACOFReducesStress(t *testing.T) {
	// Distances from a pentagon, initial layout deliberately poor.
	pts := mat.NewDense(5, 2, nil)
	for i := 0; i < 5; i++ {
		a := 2 * math.Pi * float64(i) / 5
		pts.Set(i, 0, math.Cos(a))
		pts.Set(i, 1, math.Sin(a))
	}
	d := distMatrix(pts)

	// Start from the true layout nudged off target.
	init := mat.NewDense(5, 2, nil)
	for i := 0; i < 5; i++ {
		init.Set(i, 0, pts.At(i, 0)+0.15*float64(i%2))
		init.Set(i, 1, pts.At(i, 1)-0.1*float64((i+1)%2))
	}
	before := Stress(d, init)

	y, after, iters := SMACOF(d, init, 500, 1e-12)
	if iters == 0 {
		t.Fatal("expected at least one iteration")
	}
	if after >= before {
		t.Errorf("stress did not improve: %v -> %v", before, after)
	}
	if after > 1e-3 {
		t.Errorf("residual stress too high: %v", after)
	}
	n, dim := y.Dims()
	if n != 5 || dim != 2 {
		t.Errorf("unexpected output dims %dx%d", n, dim)
	}
}

func TestSMACOFRespectsMaxIter(t *testing.T) {
	pts := mat.NewDense(4, 2, []float64{0, 0, 1, 0, 1, 1, 0, 1})
	d := distMatrix(pts)
	init := mat.NewDense(4, 2, []float64{0.1, 0.2, 0.3, 0.1, 0.2, 0.4, 0.5, 0.3})

	_, _, iters := SMACOF(d, init, 3, 0)
	if iters > 3 {
		t.Errorf("ran %d iterations, cap was 3", iters)
	}
}
