package enviz

import (
	"math"
	"sort"
)

// Sample is a single observation: a time value in day offsets and a numeric
// value. A value may be absent for a given time at a given entity; absent
// values are encoded as NaN.
type Sample struct {
	Time  float64 `json:"time" yaml:"time"`
	Value float64 `json:"value" yaml:"value"`
}

// Absent returns the canonical marker for a missing value.
func Absent() float64 {
	return math.NaN()
}

// IsAbsent reports whether v is the absent-value marker.
func IsAbsent(v float64) bool {
	return math.IsNaN(v)
}

// TimeSeries is an ordered sequence of samples for one (entity, property)
// pair. Time values are strictly increasing with no duplicates.
type TimeSeries struct {
	samples []Sample
}

// NewTimeSeries builds a TimeSeries from samples that are already sorted.
// It returns ErrNonMonotonicSeries if any time value repeats or decreases.
func NewTimeSeries(samples []Sample) (TimeSeries, error) {
	for i := 1; i < len(samples); i++ {
		if samples[i].Time <= samples[i-1].Time {
			return TimeSeries{}, ErrNonMonotonicSeries
		}
	}
	out := make([]Sample, len(samples))
	copy(out, samples)
	return TimeSeries{samples: out}, nil
}

// NormalizeSamples sorts samples ascending by time and validates that no
// time value occurs twice. Loaders call this before constructing series, so
// unsorted input is accepted at the boundary but duplicates are not.
func NormalizeSamples(samples []Sample) ([]Sample, error) {
	out := make([]Sample, len(samples))
	copy(out, samples)
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	for i := 1; i < len(out); i++ {
		if out[i].Time == out[i-1].Time {
			return nil, ErrNonMonotonicSeries
		}
	}
	return out, nil
}

// Len returns the number of samples.
func (ts TimeSeries) Len() int {
	return len(ts.samples)
}

// At returns the i-th sample.
func (ts TimeSeries) At(i int) Sample {
	return ts.samples[i]
}

// Samples returns a copy of the underlying samples.
func (ts TimeSeries) Samples() []Sample {
	out := make([]Sample, len(ts.samples))
	copy(out, ts.samples)
	return out
}

// Times returns the time values of all samples in order.
func (ts TimeSeries) Times() []float64 {
	out := make([]float64, len(ts.samples))
	for i, s := range ts.samples {
		out[i] = s.Time
	}
	return out
}
