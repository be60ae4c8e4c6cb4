package enviz

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// BusyFunc is the long-operation signal consumed by the UI: it receives
// true when a deferred computation has been running longer than the busy
// threshold and false when that computation finishes. There is no other
// coupling between the core and the UI's affordances.
type BusyFunc func(busy bool)

// DispatchFunc posts a function onto the interaction goroutine. The default
// runs it inline, which is correct for callers that already serialize
// delivery themselves.
type DispatchFunc func(func())

// Scheduler defers expensive recomputation off the interaction thread so
// no distance or projection call blocks an interaction turnaround. Work is
// keyed: submitting a newer computation for the same key cancels the older
// one, and superseded results are discarded, never delivered.
type Scheduler struct {
	busy      BusyFunc
	dispatch  DispatchFunc
	threshold time.Duration
	log       *slog.Logger

	mu     sync.Mutex
	jobs   map[string]*schedJob
	closed bool
	wg     sync.WaitGroup
}

type schedJob struct {
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler. busy may be nil when the UI does not
// consume the signal; dispatch may be nil to deliver inline; threshold <= 0
// signals busy immediately.
func NewScheduler(busy BusyFunc, dispatch DispatchFunc, threshold time.Duration) *Scheduler {
	if busy == nil {
		busy = func(bool) {}
	}
	if dispatch == nil {
		dispatch = func(f func()) { f() }
	}
	return &Scheduler{
		busy:      busy,
		dispatch:  dispatch,
		threshold: threshold,
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		jobs:      make(map[string]*schedJob),
	}
}

// SetLogger replaces the scheduler's logger. The default discards
// everything. Call before the first Submit.
func (s *Scheduler) SetLogger(log *slog.Logger) {
	if log != nil {
		s.log = log
	}
}

// Submit starts compute in the background, cancelling any in-flight job
// with the same key first. deliver runs through the dispatch function with
// the result; it is never called for a superseded or cancelled job.
func (s *Scheduler) Submit(key string, compute func(context.Context) (any, error), deliver func(any, error)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if old, ok := s.jobs[key]; ok {
		old.cancel()
		s.log.Debug("superseding in-flight computation", "key", key)
	}
	ctx, cancel := context.WithCancel(context.Background())
	job := &schedJob{cancel: cancel}
	s.jobs[key] = job
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		var fired bool
		var timerMu sync.Mutex
		timer := time.AfterFunc(s.threshold, func() {
			timerMu.Lock()
			fired = true
			timerMu.Unlock()
			s.log.Debug("computation exceeded busy threshold", "key", key, "threshold", s.threshold)
			s.busy(true)
		})

		value, err := compute(ctx)

		timer.Stop()
		timerMu.Lock()
		if fired {
			s.busy(false)
		}
		timerMu.Unlock()

		s.mu.Lock()
		if s.jobs[key] == job {
			delete(s.jobs, key)
		}
		superseded := ctx.Err() != nil
		s.mu.Unlock()

		if superseded {
			s.log.Debug("discarding superseded result", "key", key)
			return // result discarded, never merged
		}
		if err != nil {
			s.log.Warn("deferred computation failed", "key", key, "error", err)
		}
		s.dispatch(func() { deliver(value, err) })
	}()
}

// Cancel aborts the in-flight job for key, if any.
func (s *Scheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[key]; ok {
		job.cancel()
		delete(s.jobs, key)
	}
}

// Close cancels all jobs and waits for their goroutines to exit.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for key, job := range s.jobs {
		job.cancel()
		delete(s.jobs, key)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
