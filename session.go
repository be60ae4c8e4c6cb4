package enviz

import (
	"context"
	"log/slog"
)

// Session wires the analytical pipeline over one ensemble: distance,
// projection and rank engines sharing a derived-result cache, the
// selection coordinator, and a scheduler for deferred recomputation.
type Session struct {
	cfg      Config
	ensemble *Ensemble
	cache    *resultCache

	// Busy, when set, receives the long-operation begin/end signal.
	Busy BusyFunc
	// Dispatch, when set, posts result delivery onto the interaction
	// goroutine. When nil, delivery runs on the worker goroutine.
	Dispatch DispatchFunc

	Distance   *DistanceEngine
	Projection *ProjectionEngine
	Rank       *RankEngine
	Selection  *SelectionCoordinator

	scheduler *Scheduler
	closed    bool
}

// NewSession validates cfg and assembles a session over the ensemble. The
// ensemble is exclusively owned by the session from here on; external
// mutation must go through session methods so derived caches stay
// consistent.
func NewSession(en *Ensemble, cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Session{
		cfg:      cfg,
		ensemble: en,
		cache:    newResultCache(cfg.Cache),
	}
	s.Distance = NewDistanceEngine(en, cfg.Distance, s.cache)
	s.Projection = NewProjectionEngine(s.Distance, cfg.Projection, s.cache)
	s.Rank = NewRankEngine(cfg.Rank)
	s.Selection = NewSelectionCoordinator(cfg.Debug)
	s.scheduler = NewScheduler(
		func(b bool) {
			if s.Busy != nil {
				s.Busy(b)
			}
		},
		func(f func()) {
			if s.Dispatch != nil {
				s.Dispatch(f)
			} else {
				f()
			}
		},
		cfg.BusyThreshold,
	)
	return s, nil
}

// SetLogger routes background-worker logging through log. The default
// discards everything.
func (s *Session) SetLogger(log *slog.Logger) {
	s.scheduler.SetLogger(log)
}

// Ensemble returns the underlying data store.
func (s *Session) Ensemble() *Ensemble {
	return s.ensemble
}

// Config returns the session configuration.
func (s *Session) Config() Config {
	return s.cfg
}

// CacheStats returns counters of the derived-result cache.
func (s *Session) CacheStats() CacheStats {
	return s.cache.stats()
}

// InvalidateDerived drops every derived result. Call after mutating the
// ensemble (adding realizations, redefining groups, attaching observed
// data).
func (s *Session) InvalidateDerived() {
	s.Distance.Invalidate()
	s.Projection.Invalidate()
}

// ComputeDistancesAsync runs the distance engine in the background. A
// newer request for the same selection supersedes an in-flight one; the
// superseded result is discarded. deliver never runs for superseded work.
func (s *Session) ComputeDistancesAsync(req DistanceRequest, deliver func(*DistanceResult, error)) error {
	if s.closed {
		return ErrClosed
	}
	s.scheduler.Submit("distance|"+req.Group+"|"+req.Property,
		func(ctx context.Context) (any, error) {
			return s.Distance.Compute(ctx, req)
		},
		func(v any, err error) {
			res, _ := v.(*DistanceResult)
			deliver(res, err)
		})
	return nil
}

// ComputeProjectionAsync runs distance + projection in the background with
// the same supersede semantics.
func (s *Session) ComputeProjectionAsync(req DistanceRequest, strategy ProjectionStrategy, deliver func(*ProjectionResult, error)) error {
	if s.closed {
		return ErrClosed
	}
	s.scheduler.Submit("projection|"+req.Group+"|"+req.Property,
		func(ctx context.Context) (any, error) {
			return s.Projection.Compute(ctx, req, strategy)
		},
		func(v any, err error) {
			res, _ := v.(*ProjectionResult)
			deliver(res, err)
		})
	return nil
}

// ComputeRanksAsync runs distance + ranking in the background with the
// same supersede semantics.
func (s *Session) ComputeRanksAsync(req DistanceRequest, deliver func(*RankSeries, error)) error {
	if s.closed {
		return ErrClosed
	}
	s.scheduler.Submit("rank|"+req.Group+"|"+req.Property,
		func(ctx context.Context) (any, error) {
			dist, err := s.Distance.Compute(ctx, req)
			if err != nil {
				return nil, err
			}
			return s.Rank.RankAll(ctx, dist)
		},
		func(v any, err error) {
			res, _ := v.(*RankSeries)
			deliver(res, err)
		})
	return nil
}

// Close cancels in-flight background work and releases the session. The
// ensemble data itself stays valid for the owner.
func (s *Session) Close() error {
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	s.scheduler.Close()
	return nil
}
