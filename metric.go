package enviz

import (
	"fmt"
	"math"
	"sort"
)

// Metric computes the distance between two equal-length value vectors.
// Components where either operand is absent are excluded from the
// computation (pairwise deletion), never zero-filled. ok is false when no
// component has both operands defined, in which case the distance is
// undefined.
type Metric func(a, b []float64) (d float64, ok bool)

// metricRegistry maps metric names to implementations. The exact metric is
// a configuration choice, not a fixed property of the engine.
var metricRegistry = map[string]Metric{
	"euclidean":   Euclidean,
	"sqeuclidean": SquaredEuclidean,
	"cityblock":   Cityblock,
	"chebyshev":   Chebyshev,
	"cosine":      Cosine,
}

// RegisterMetric adds a named metric, replacing any existing registration.
func RegisterMetric(name string, m Metric) {
	metricRegistry[name] = m
}

// MetricByName resolves a metric name. The empty name resolves to
// "euclidean".
func MetricByName(name string) (Metric, error) {
	if name == "" {
		name = "euclidean"
	}
	m, ok := metricRegistry[name]
	if !ok {
		return nil, fmt.Errorf("unknown distance metric %q", name)
	}
	return m, nil
}

// MetricNames returns the registered metric names, sorted.
func MetricNames() []string {
	out := make([]string, 0, len(metricRegistry))
	for name := range metricRegistry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// pairwise iterates the components where both operands are defined.
func pairwise(a, b []float64, f func(x, y float64)) (n int) {
	for i := range a {
		if IsAbsent(a[i]) || IsAbsent(b[i]) {
			continue
		}
		f(a[i], b[i])
		n++
	}
	return n
}

// Euclidean is the default metric.
func Euclidean(a, b []float64) (float64, bool) {
	var sum float64
	n := pairwise(a, b, func(x, y float64) {
		d := x - y
		sum += d * d
	})
	if n == 0 {
		return 0, false
	}
	return math.Sqrt(sum), true
}

// SquaredEuclidean omits the final square root.
func SquaredEuclidean(a, b []float64) (float64, bool) {
	var sum float64
	n := pairwise(a, b, func(x, y float64) {
		d := x - y
		sum += d * d
	})
	if n == 0 {
		return 0, false
	}
	return sum, true
}

// Cityblock is the L1 distance.
func Cityblock(a, b []float64) (float64, bool) {
	var sum float64
	n := pairwise(a, b, func(x, y float64) {
		sum += math.Abs(x - y)
	})
	if n == 0 {
		return 0, false
	}
	return sum, true
}

// Chebyshev is the L∞ distance.
func Chebyshev(a, b []float64) (float64, bool) {
	var max float64
	n := pairwise(a, b, func(x, y float64) {
		if d := math.Abs(x - y); d > max {
			max = d
		}
	})
	if n == 0 {
		return 0, false
	}
	return max, true
}

// Cosine is the cosine dissimilarity 1 - cos(a, b). It is a divergence, not
// a metric; the engines only require symmetry and non-negativity.
func Cosine(a, b []float64) (float64, bool) {
	var dot, na, nb float64
	n := pairwise(a, b, func(x, y float64) {
		dot += x * y
		na += x * x
		nb += y * y
	})
	if n == 0 || na == 0 || nb == 0 {
		return 0, false
	}
	c := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if c > 1 {
		c = 1
	} else if c < -1 {
		c = -1
	}
	return 1 - c, true
}
