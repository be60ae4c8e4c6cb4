package enviz

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	cfg := DefaultConfig()
	s, err := NewSession(buildGapEnsemble(t), cfg)
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSessionRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Distance.Metric = "nope"
	if _, err := NewSession(NewEnsemble(), cfg); err == nil {
		t.Fatal("expected config validation error")
	}
}

func TestSessionDistancePipeline(t *testing.T) {
	s := newTestSession(t)

	done := make(chan *DistanceResult, 1)
	err := s.ComputeDistancesAsync(DistanceRequest{Group: "field", Property: "rate"},
		func(res *DistanceResult, err error) {
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			done <- res
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case res := <-done:
		if len(res.Matrices) != 5 {
			t.Errorf("expected 5 matrices, got %d", len(res.Matrices))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for distance result")
	}
}

func TestSessionProjectionPipeline(t *testing.T) {
	s := newTestSession(t)

	done := make(chan *ProjectionResult, 1)
	err := s.ComputeProjectionAsync(DistanceRequest{Group: "field", Property: "rate"}, StrategyMDS,
		func(res *ProjectionResult, err error) {
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			done <- res
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case res := <-done:
		if len(res.Frames) != 5 {
			t.Errorf("expected 5 frames, got %d", len(res.Frames))
		}
		// The timestep with B's gap still projects A and C.
		if !res.Frames[2].Defined || len(res.Frames[2].Coords) != 2 {
			t.Errorf("unexpected frame at the gap: %+v", res.Frames[2])
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for projection result")
	}
}

func TestSessionRankPipeline(t *testing.T) {
	cfg := DefaultConfig()
	en := buildGapEnsemble(t)
	en.SetObserved("field", "rate", mustSeries(t, Sample{Time: 0, Value: 1.5}))
	s, err := NewSession(en, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	done := make(chan *RankSeries, 1)
	err = s.ComputeRanksAsync(DistanceRequest{Group: "field", Property: "rate"},
		func(res *RankSeries, err error) {
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			done <- res
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case res := <-done:
		if len(res.Ranks) != 5 {
			t.Errorf("expected 5 rank steps, got %d", len(res.Ranks))
		}
		if res.Ranks[0].Ranks["A"] != 1 {
			t.Errorf("unexpected ranks at t0: %v", res.Ranks[0].Ranks)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for ranks")
	}
}

func TestSessionDispatchSerializesDelivery(t *testing.T) {
	cfg := DefaultConfig()
	s, err := NewSession(buildGapEnsemble(t), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	// Simulated interaction goroutine: deliveries run where Dispatch puts
	// them, never on the worker.
	var mu sync.Mutex
	var ran []string
	s.Dispatch = func(f func()) {
		mu.Lock()
		ran = append(ran, "dispatched")
		mu.Unlock()
		f()
	}

	done := make(chan struct{})
	err = s.ComputeDistancesAsync(DistanceRequest{Group: "field", Property: "rate"},
		func(*DistanceResult, error) { close(done) })
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(ran) != 1 {
		t.Errorf("expected delivery through Dispatch, got %v", ran)
	}
}

func TestSessionInvalidateDerived(t *testing.T) {
	s := newTestSession(t)

	done := make(chan *DistanceResult, 2)
	deliver := func(res *DistanceResult, err error) {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		done <- res
	}
	req := DistanceRequest{Group: "field", Property: "rate"}
	if err := s.ComputeDistancesAsync(req, deliver); err != nil {
		t.Fatal(err)
	}
	first := <-done

	s.InvalidateDerived()
	if err := s.ComputeDistancesAsync(req, deliver); err != nil {
		t.Fatal(err)
	}
	second := <-done
	if first == second {
		t.Error("invalidated results must be recomputed")
	}
}

func TestSessionClose(t *testing.T) {
	s, err := NewSession(buildGapEnsemble(t), DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close = %v, want ErrClosed", err)
	}
	if err := s.ComputeDistancesAsync(DistanceRequest{}, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("submit after Close = %v, want ErrClosed", err)
	}
}

func TestSessionConcurrentComputes(t *testing.T) {
	s := newTestSession(t)
	req := DistanceRequest{Group: "field", Property: "rate"}

	// The async entry points use distinct scheduler keys, so distance,
	// projection and rank computations for the same request can run on
	// concurrent worker goroutines. All of them funnel into the shared
	// engines; run the same mix here so the race detector covers it.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := s.Distance.Compute(context.Background(), req); err != nil {
				t.Errorf("distance: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := s.Projection.Compute(context.Background(), req, StrategyMDS); err != nil {
				t.Errorf("projection: %v", err)
			}
		}()
	}
	wg.Wait()
}
