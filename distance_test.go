package enviz

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
)

// buildGapEnsemble creates realizations A, B, C with a single producer well.
// B has no sample at t=60 while A and C cover all of t=0,30,60,90,120.
func buildGapEnsemble(t *testing.T) *Ensemble {
	t.Helper()
	en := NewEnsemble()
	data := map[string][]Sample{
		"A": {{Time: 0, Value: 1}, {Time: 30, Value: 2}, {Time: 60, Value: 3}, {Time: 90, Value: 4}, {Time: 120, Value: 5}},
		"B": {{Time: 0, Value: 2}, {Time: 30, Value: 4}, {Time: 90, Value: 8}, {Time: 120, Value: 10}},
		"C": {{Time: 0, Value: 3}, {Time: 30, Value: 6}, {Time: 60, Value: 9}, {Time: 90, Value: 12}, {Time: 120, Value: 15}},
	}
	for rid, samples := range data {
		r := NewRealization(rid)
		e := NewEntity("w1", EntityProducer, rid)
		ts, err := NewTimeSeries(samples)
		if err != nil {
			t.Fatalf("series %s: %v", rid, err)
		}
		e.SetSeries("rate", ts)
		r.AddEntity(e)
		en.AddRealization(r)
	}
	en.DefineGroup("field", []string{"w1"})
	return en
}

func TestDistanceComputeBasics(t *testing.T) {
	en := buildGapEnsemble(t)
	de := NewDistanceEngine(en, DistanceConfig{Metric: "euclidean"}, nil)

	res, err := de.Compute(context.Background(), DistanceRequest{Group: "field", Property: "rate"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Matrices) != 5 {
		t.Fatalf("expected 5 matrices, got %d", len(res.Matrices))
	}

	m := res.Matrices[0]
	if m.N() != 3 {
		t.Fatalf("expected 3 realizations, got %d", m.N())
	}
	for i := 0; i < m.N(); i++ {
		d, ok := m.At(i, i)
		if !ok || d != 0 {
			t.Errorf("diagonal (%d,%d) = (%v, %v), want (0, true)", i, i, d, ok)
		}
		for j := i + 1; j < m.N(); j++ {
			dij, ok1 := m.At(i, j)
			dji, ok2 := m.At(j, i)
			if ok1 != ok2 || dij != dji {
				t.Errorf("matrix not symmetric at (%d,%d)", i, j)
			}
		}
	}
	// IDs are sorted realization ids, so A, B, C. At t=0 w1 values are 1, 2, 3.
	if d, ok := m.At(0, 2); !ok || math.Abs(d-2) > 1e-12 {
		t.Errorf("d(A,C) at t0 = (%v, %v), want (2, true)", d, ok)
	}
}

func TestDistanceUndefinedPair(t *testing.T) {
	en := buildGapEnsemble(t)
	de := NewDistanceEngine(en, DistanceConfig{}, nil)

	res, err := de.Compute(context.Background(), DistanceRequest{Group: "field", Property: "rate"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// t=60 is axis step 2; B has no value there.
	m := res.Matrices[2]
	if !m.Unreliable {
		t.Error("timestep with an undefined pair must be flagged unreliable")
	}
	if _, ok := m.At(0, 1); ok {
		t.Error("d(A,B) must be undefined when B is absent")
	}
	if _, ok := m.At(1, 2); ok {
		t.Error("d(B,C) must be undefined when B is absent")
	}
	if d, ok := m.At(0, 2); !ok || math.Abs(d-6) > 1e-12 {
		t.Errorf("d(A,C) must stay defined, got (%v, %v)", d, ok)
	}

	active := m.ActiveIndices()
	if len(active) != 2 || active[0] != 0 || active[1] != 2 {
		t.Errorf("active indices = %v, want [0 2]", active)
	}

	// Other timesteps are fully defined.
	if res.Matrices[0].Unreliable {
		t.Error("fully defined timestep wrongly flagged unreliable")
	}
}

func TestDistanceWindow(t *testing.T) {
	en := buildGapEnsemble(t)
	de := NewDistanceEngine(en, DistanceConfig{}, nil)

	res, err := de.Compute(context.Background(), DistanceRequest{
		Group: "field", Property: "rate", Window: Window{From: 30, To: 90},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Matrices) != 3 {
		t.Fatalf("expected 3 matrices in window, got %d", len(res.Matrices))
	}
	if res.Times[0] != 30 || res.Times[2] != 90 {
		t.Errorf("unexpected window times: %v", res.Times)
	}
}

func TestDistanceEmptyWindow(t *testing.T) {
	en := buildGapEnsemble(t)
	de := NewDistanceEngine(en, DistanceConfig{}, nil)

	_, err := de.Compute(context.Background(), DistanceRequest{
		Group: "field", Property: "rate", Window: Window{From: 31, To: 32},
	})
	if !errors.Is(err, ErrEmptyWindow) {
		t.Fatalf("expected ErrEmptyWindow, got %v", err)
	}
	var ce *ComputeError
	if !errors.As(err, &ce) {
		t.Fatal("expected a *ComputeError wrapper")
	}
}

func TestDistanceUnknownMetric(t *testing.T) {
	en := buildGapEnsemble(t)
	de := NewDistanceEngine(en, DistanceConfig{}, nil)

	_, err := de.Compute(context.Background(), DistanceRequest{Group: "field", Property: "rate", Metric: "nope"})
	if err == nil {
		t.Fatal("expected error for unknown metric")
	}
}

func TestDistanceCancellation(t *testing.T) {
	en := buildGapEnsemble(t)
	de := NewDistanceEngine(en, DistanceConfig{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := de.Compute(ctx, DistanceRequest{Group: "field", Property: "rate"})
	if !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded, got %v", err)
	}
}

func TestDistanceToObserved(t *testing.T) {
	en := buildGapEnsemble(t)
	obs := mustSeries(t, Sample{Time: 0, Value: 1.5}, Sample{Time: 30, Value: 3})
	en.SetObserved("field", "rate", obs)

	de := NewDistanceEngine(en, DistanceConfig{}, nil)
	res, err := de.Compute(context.Background(), DistanceRequest{Group: "field", Property: "rate"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.HasObserved {
		t.Fatal("expected HasObserved")
	}
	if len(res.ToObserved) != len(res.Matrices) {
		t.Fatalf("ToObserved length %d, want %d", len(res.ToObserved), len(res.Matrices))
	}
	// At t=0 the observed value is 1.5 and realization sums are 1, 2, 3.
	d0 := res.ToObserved[0]
	if math.Abs(d0["A"]-0.5) > 1e-12 || math.Abs(d0["B"]-0.5) > 1e-12 || math.Abs(d0["C"]-1.5) > 1e-12 {
		t.Errorf("unexpected observed distances at t0: %v", d0)
	}
	// No observed value at t=60, so the map is empty there.
	if len(res.ToObserved[2]) != 0 {
		t.Errorf("expected no observed distances at t60, got %v", res.ToObserved[2])
	}
}

func TestDistanceResultReuse(t *testing.T) {
	en := buildGapEnsemble(t)
	de := NewDistanceEngine(en, DistanceConfig{}, nil)

	req := DistanceRequest{Group: "field", Property: "rate"}
	first, err := de.Compute(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := de.Compute(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Error("identical request must return the retained result")
	}

	de.Invalidate()
	third, err := de.Compute(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if third == first {
		t.Error("Invalidate must force recomputation")
	}
}

func TestDistanceMatrixJSONRoundTrip(t *testing.T) {
	m := &DistanceMatrix{
		Step:    2,
		Time:    60,
		IDs:     []string{"A", "B"},
		Values:  []float64{0, 1.5, 1.5, 0},
		Defined: []bool{true, true, true, true},
		Vectors: [][]float64{{1, Absent()}, {2, 3}},
	}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got DistanceMatrix
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Step != 2 || got.Time != 60 || got.Values[1] != 1.5 {
		t.Errorf("fields lost in round trip: %+v", got)
	}
	if !IsAbsent(got.Vectors[0][1]) {
		t.Error("absent vector component must survive the round trip")
	}
	if got.Vectors[1][1] != 3 {
		t.Errorf("vector value lost: %v", got.Vectors)
	}
}

func TestDistanceActiveIndicesDropWorstOffender(t *testing.T) {
	// Four realizations; B is dark, so every pair involving B is undefined
	// while the rest of the matrix is intact.
	n := 4
	m := &DistanceMatrix{
		IDs:     []string{"A", "B", "C", "D"},
		Values:  make([]float64, n*n),
		Defined: make([]bool, n*n),
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			m.Defined[i*n+j] = i != 1 && j != 1
		}
		m.Defined[i*n+i] = true
	}

	active := m.ActiveIndices()
	if len(active) != 3 || active[0] != 0 || active[1] != 2 || active[2] != 3 {
		t.Errorf("active indices = %v, want [0 2 3]", active)
	}
}

func TestDistanceActiveIndicesAllUndefined(t *testing.T) {
	n := 3
	m := &DistanceMatrix{
		IDs:     []string{"A", "B", "C"},
		Values:  make([]float64, n*n),
		Defined: make([]bool, n*n),
	}
	for i := 0; i < n; i++ {
		m.Defined[i*n+i] = true
	}

	if active := m.ActiveIndices(); len(active) >= 2 {
		t.Errorf("active indices = %v, want fewer than 2 survivors", active)
	}
}
