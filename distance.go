package enviz

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
)

// DistanceRequest selects what the distance engine computes: a group and
// property, a time window over the group's canonical axis, and a metric
// name from the registry.
type DistanceRequest struct {
	Group    string `json:"group" yaml:"group"`
	Property string `json:"property" yaml:"property"`
	Window   Window `json:"window" yaml:"window"`
	Metric   string `json:"metric" yaml:"metric"`
}

// fingerprint produces a content-addressed cache key for the request.
func (r DistanceRequest) fingerprint() string {
	raw := fmt.Sprintf("%s|%s|%g|%g|%s", r.Group, r.Property, r.Window.From, r.Window.To, r.Metric)
	return "dist" + fmt.Sprintf("%x", sha256.Sum256([]byte(raw)))
}

// DistanceMatrix is the symmetric pairwise distance matrix between
// realizations at one timestep. The diagonal is zero. Views treat it as
// read-only.
type DistanceMatrix struct {
	// Step is the position on the group's canonical axis.
	Step int `json:"step"`
	// Time is the axis time value at Step.
	Time float64 `json:"time"`
	// IDs fixes the row/column order of the matrix.
	IDs []string `json:"ids"`
	// Values is the row-major n×n distance matrix.
	Values []float64 `json:"values"`
	// Defined marks which cells hold a defined distance. A pair is
	// undefined when the two realizations share no defined entity value at
	// this timestep.
	Defined []bool `json:"defined"`
	// Unreliable is set when at least one off-diagonal pair is undefined,
	// so views can flag the timestep instead of reading zeros.
	Unreliable bool `json:"unreliable"`
	// Vectors holds the per-realization entity-value vectors the matrix was
	// computed from, in IDs order. The projection engine's affine mapping
	// operates on these.
	Vectors [][]float64 `json:"vectors"`
}

// jsonDistanceMatrix is the cache encoding of DistanceMatrix. Absent
// vector components are NaN in memory, which JSON cannot carry, so they
// round-trip as null.
type jsonDistanceMatrix struct {
	Step       int          `json:"step"`
	Time       float64      `json:"time"`
	IDs        []string     `json:"ids"`
	Values     []float64    `json:"values"`
	Defined    []bool       `json:"defined"`
	Unreliable bool         `json:"unreliable"`
	Vectors    [][]*float64 `json:"vectors"`
}

// MarshalJSON implements json.Marshaler.
func (m *DistanceMatrix) MarshalJSON() ([]byte, error) {
	enc := jsonDistanceMatrix{
		Step:       m.Step,
		Time:       m.Time,
		IDs:        m.IDs,
		Values:     m.Values,
		Defined:    m.Defined,
		Unreliable: m.Unreliable,
		Vectors:    make([][]*float64, len(m.Vectors)),
	}
	for i, vec := range m.Vectors {
		enc.Vectors[i] = make([]*float64, len(vec))
		for j := range vec {
			if !IsAbsent(vec[j]) {
				v := vec[j]
				enc.Vectors[i][j] = &v
			}
		}
	}
	return json.Marshal(enc)
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *DistanceMatrix) UnmarshalJSON(data []byte) error {
	var dec jsonDistanceMatrix
	if err := json.Unmarshal(data, &dec); err != nil {
		return err
	}
	m.Step = dec.Step
	m.Time = dec.Time
	m.IDs = dec.IDs
	m.Values = dec.Values
	m.Defined = dec.Defined
	m.Unreliable = dec.Unreliable
	m.Vectors = make([][]float64, len(dec.Vectors))
	for i, vec := range dec.Vectors {
		m.Vectors[i] = make([]float64, len(vec))
		for j := range vec {
			if vec[j] == nil {
				m.Vectors[i][j] = Absent()
			} else {
				m.Vectors[i][j] = *vec[j]
			}
		}
	}
	return nil
}

// N returns the number of realizations in the matrix.
func (m *DistanceMatrix) N() int {
	return len(m.IDs)
}

// At returns the distance between realizations i and j and whether it is
// defined.
func (m *DistanceMatrix) At(i, j int) (float64, bool) {
	idx := i*len(m.IDs) + j
	return m.Values[idx], m.Defined[idx]
}

// ActiveIndices returns the indices of realizations whose distances to the
// other returned realizations are all defined at this timestep. Only these
// can be projected together. Membership is settled against the surviving
// set, not all rows: realizations with undefined pairs are dropped one at a
// time, most undefined pairs first (lowest index on ties), until every
// remaining pair is defined. One realization going dark at a timestep thus
// drops only itself, not the still-defined pairs around it.
func (m *DistanceMatrix) ActiveIndices() []int {
	n := m.N()
	active := make([]int, 0, n)
	for i := 0; i < n; i++ {
		active = append(active, i)
	}
	for len(active) > 1 {
		worst, worstCount := -1, 0
		for _, i := range active {
			count := 0
			for _, j := range active {
				if i == j {
					continue
				}
				if _, def := m.At(i, j); !def {
					count++
				}
			}
			if count > worstCount {
				worst, worstCount = i, count
			}
		}
		if worstCount == 0 {
			break
		}
		kept := make([]int, 0, len(active)-1)
		for _, i := range active {
			if i != worst {
				kept = append(kept, i)
			}
		}
		active = kept
	}
	// A lone survivor is not projectable against anything; callers
	// additionally require len >= 2.
	return active
}

// DistanceResult is the ordered sequence of per-timestep matrices for one
// request, plus the optional distance-to-observed values feeding the rank
// engine.
type DistanceResult struct {
	Request  DistanceRequest   `json:"request"`
	Times    []float64         `json:"times"`
	Matrices []*DistanceMatrix `json:"matrices"`

	// HasObserved reports whether observed data was available for the
	// request's (group, property).
	HasObserved bool `json:"has_observed"`
	// ToObserved[t] maps realization id to its distance from the observed
	// value at timestep t. Realizations without a defined distance are
	// omitted from the map.
	ToObserved []map[string]float64 `json:"to_observed,omitempty"`
}

// DistanceEngine computes per-timestep distance matrices between
// realizations. It caches its most recent result so re-entrant view
// queries do not trigger recomputation; recomputation happens only when
// the request changes.
type DistanceEngine struct {
	ensemble *Ensemble
	cfg      DistanceConfig
	cache    *resultCache

	// mu serializes Compute and Invalidate so concurrent scheduler workers
	// funneling into the engine cannot race on the most-recent-result slot.
	mu      sync.Mutex
	lastKey string
	last    *DistanceResult
}

// NewDistanceEngine creates a distance engine over an ensemble. cache may
// be nil to disable retention of older results.
func NewDistanceEngine(en *Ensemble, cfg DistanceConfig, cache *resultCache) *DistanceEngine {
	return &DistanceEngine{ensemble: en, cfg: cfg, cache: cache}
}

// Invalidate drops the engine's cached results. Call after mutating the
// underlying ensemble.
func (de *DistanceEngine) Invalidate() {
	de.mu.Lock()
	defer de.mu.Unlock()
	de.lastKey = ""
	de.last = nil
	if de.cache != nil {
		de.cache.invalidatePrefix("dist")
	}
}

// Compute returns one DistanceMatrix per timestep in the request window.
// The computation is chunked per timestep and honors ctx cancellation so a
// superseded request stops promptly.
func (de *DistanceEngine) Compute(ctx context.Context, req DistanceRequest) (*DistanceResult, error) {
	de.mu.Lock()
	defer de.mu.Unlock()
	key := req.fingerprint()
	if de.last != nil && key == de.lastKey {
		return de.last, nil
	}
	if de.cache != nil {
		var cached DistanceResult
		if de.cache.get(key, &cached) {
			de.lastKey, de.last = key, &cached
			return &cached, nil
		}
	}

	name := req.Metric
	if name == "" {
		name = de.cfg.Metric
	}
	metric, err := MetricByName(name)
	if err != nil {
		return nil, &ComputeError{Stage: "distance", Message: "resolving metric", Cause: err}
	}
	ft, err := de.ensemble.groupVectors(req.Group, req.Property)
	if err != nil {
		return nil, err
	}
	start, end := req.Window.Clip(ft.Axis)
	if start >= end {
		return nil, &ComputeError{Stage: "distance", Message: "clipping window", Cause: ErrEmptyWindow}
	}

	obs, hasObs, err := de.ensemble.Observed(req.Group, req.Property)
	if err != nil {
		return nil, err
	}
	var agg *GroupSeries
	if hasObs {
		agg, err = de.ensemble.GroupQuery(req.Group, req.Property, AggSum)
		if err != nil {
			return nil, err
		}
	}

	res := &DistanceResult{Request: req, HasObserved: hasObs}
	n := len(ft.Realizations)
	for t := start; t < end; t++ {
		if err := ctx.Err(); err != nil {
			return nil, &ComputeError{Stage: "distance", Message: "cancelled", Cause: ErrSuperseded}
		}
		m := &DistanceMatrix{
			Step:    t,
			Time:    ft.Axis.Time(t),
			IDs:     ft.Realizations,
			Values:  make([]float64, n*n),
			Defined: make([]bool, n*n),
			Vectors: make([][]float64, n),
		}
		for i := 0; i < n; i++ {
			m.Vectors[i] = ft.vectorAt(i, t)
			m.Defined[i*n+i] = true // zero diagonal is always defined
		}
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				d, ok := metric(m.Vectors[i], m.Vectors[j])
				if ok {
					m.Values[i*n+j], m.Values[j*n+i] = d, d
					m.Defined[i*n+j], m.Defined[j*n+i] = true, true
				} else {
					m.Unreliable = true
				}
			}
		}
		res.Times = append(res.Times, m.Time)
		res.Matrices = append(res.Matrices, m)

		if hasObs {
			res.ToObserved = append(res.ToObserved, de.observedDistances(agg, obs, t, metric))
		}
	}

	de.lastKey, de.last = key, res
	if de.cache != nil {
		de.cache.put(key, res)
	}
	return res, nil
}

// observedDistances compares each realization's aggregated group value at
// timestep t against the observed value using the configured metric over
// single-component vectors.
func (de *DistanceEngine) observedDistances(agg *GroupSeries, obs []float64, t int, metric Metric) map[string]float64 {
	out := make(map[string]float64, len(agg.Realizations))
	ov := obs[t]
	if IsAbsent(ov) {
		return out
	}
	for _, rid := range agg.Realizations {
		rv := agg.Values[rid][t]
		if d, ok := metric([]float64{rv}, []float64{ov}); ok {
			out[rid] = d
		}
	}
	return out
}
