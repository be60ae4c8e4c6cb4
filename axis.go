package enviz

import "sort"

// CanonicalTimeAxis is the sorted, deduplicated union of all time values
// observed across a set of series. Once built it is immutable; adding
// entities requires rebuilding from the full set again.
type CanonicalTimeAxis struct {
	times []float64
	index map[float64]int
}

// BuildAxis collects every sample time across the input series, sorts them
// ascending and drops duplicates.
func BuildAxis(series ...TimeSeries) CanonicalTimeAxis {
	seen := make(map[float64]struct{})
	for _, ts := range series {
		for _, s := range ts.samples {
			seen[s.Time] = struct{}{}
		}
	}
	times := make([]float64, 0, len(seen))
	for t := range seen {
		times = append(times, t)
	}
	sort.Float64s(times)

	index := make(map[float64]int, len(times))
	for i, t := range times {
		index[t] = i
	}
	return CanonicalTimeAxis{times: times, index: index}
}

// Len returns the number of timesteps on the axis.
func (a CanonicalTimeAxis) Len() int {
	return len(a.times)
}

// Time returns the time value at axis position i.
func (a CanonicalTimeAxis) Time(i int) float64 {
	return a.times[i]
}

// Times returns a copy of all time values in order.
func (a CanonicalTimeAxis) Times() []float64 {
	out := make([]float64, len(a.times))
	copy(out, a.times)
	return out
}

// Index returns the axis position of time t, or -1 if t is not on the axis.
func (a CanonicalTimeAxis) Index(t float64) int {
	i, ok := a.index[t]
	if !ok {
		return -1
	}
	return i
}

// Align places each sample of series at the axis position matching its time
// value and marks every other position absent. The result always has length
// Len(). Alignment is exact positional matching, never interpolation.
//
// Align returns ErrAxisMismatch if the series contains a time value the
// axis does not; the axis must be built from a superset of the series.
func (a CanonicalTimeAxis) Align(series TimeSeries) ([]float64, error) {
	out := make([]float64, len(a.times))
	for i := range out {
		out[i] = Absent()
	}
	for _, s := range series.samples {
		idx, ok := a.index[s.Time]
		if !ok {
			return nil, ErrAxisMismatch
		}
		out[idx] = s.Value
	}
	return out, nil
}

// Window selects a contiguous range of timesteps by time value. The zero
// Window means the full axis.
type Window struct {
	From float64 `json:"from" yaml:"from"`
	To   float64 `json:"to" yaml:"to"`
}

// IsFull reports whether the window is the zero value, meaning no bounds.
func (w Window) IsFull() bool {
	return w.From == 0 && w.To == 0
}

// Clip returns the half-open index range [start, end) of axis positions
// covered by the window.
func (w Window) Clip(a CanonicalTimeAxis) (start, end int) {
	if w.IsFull() {
		return 0, a.Len()
	}
	start = sort.SearchFloat64s(a.times, w.From)
	end = sort.SearchFloat64s(a.times, w.To)
	if end < a.Len() && a.times[end] == w.To {
		end++
	}
	return start, end
}
