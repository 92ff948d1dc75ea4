// Package reconciler keeps mounted views eventually consistent with the
// backend: entity lists merged with local pending flags, and the admin
// notification feed.
package reconciler

import (
	"context"
	"errors"
	"sync"
	"time"

	"approval-sync/internal/common/logger"
	"approval-sync/internal/common/metrics"
	"approval-sync/internal/common/observability"
)

// ErrNotRunning is returned by Refresh on a scheduler that is not started.
var ErrNotRunning = errors.New("reconciler: scheduler not running")

// RefreshOptions describe one refresh request.
type RefreshOptions struct {
	// Force bypasses the minimum refresh interval.
	Force bool
	// Confirm marks the cycle as confirming: a terminal backend status may
	// override a local pending flag first seen in this same cycle.
	Confirm bool
	Reason  string
}

// Request is handed to the load and apply phases of a cycle.
type Request struct {
	Seq     uint64
	Confirm bool
	Reason  string
}

// LoadFunc performs the network part of a cycle. It runs without the
// scheduler lock.
type LoadFunc[T any] func(ctx context.Context, req Request) (T, error)

// ApplyFunc publishes a load result. It runs under the scheduler lock and
// only for results that are not stale. The returned function, if any, runs
// after the lock is released.
type ApplyFunc[T any] func(req Request, result T, err error) func(ctx context.Context)

// SchedulerConfig holds the timing of one view.
type SchedulerConfig struct {
	Name               string
	PollInterval       time.Duration
	DebounceDelay      time.Duration
	MinRefreshInterval time.Duration
}

// Scheduler drives refresh cycles for one view: a poll timer, a debounced
// trigger, a rate guard, and sequence numbers that discard stale results.
type Scheduler[T any] struct {
	cfg    SchedulerConfig
	clock  Clock
	load   LoadFunc[T]
	apply  ApplyFunc[T]
	logger logger.Logger
	obs    *observability.Observability

	mu            sync.Mutex
	running       bool
	ctx           context.Context
	cancel        context.CancelFunc
	issued        uint64
	applied       uint64
	lastCompleted time.Time
	carryConfirm  bool
	pollTimer     Timer
	debounceTimer Timer
	debounceConf  bool
	debounceWhy   string
}

func NewScheduler[T any](cfg SchedulerConfig, clock Clock, load LoadFunc[T], apply ApplyFunc[T], log logger.Logger, obs *observability.Observability) *Scheduler[T] {
	if clock == nil {
		clock = RealClock()
	}
	return &Scheduler[T]{
		cfg:    cfg,
		clock:  clock,
		load:   load,
		apply:  apply,
		logger: logger.Component(log, "scheduler").WithFields(map[string]interface{}{"view": cfg.Name}),
		obs:    obs,
	}
}

// Start arms the poll timer. Cycles stop when ctx is cancelled or Stop is
// called. Starting a running scheduler is a no-op.
func (s *Scheduler[T]) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.armPollLocked()
}

// Stop cancels in-flight loads and timers. Results that arrive afterwards
// are dropped.
func (s *Scheduler[T]) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	s.cancel()
	if s.pollTimer != nil {
		s.pollTimer.Stop()
		s.pollTimer = nil
	}
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
		s.debounceTimer = nil
	}
}

// Running reports whether the scheduler is started.
func (s *Scheduler[T]) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Refresh runs one cycle and reports whether its result was applied. A
// non-forced request within MinRefreshInterval of the last completed cycle
// is skipped. The returned error is the load error of an applied cycle.
func (s *Scheduler[T]) Refresh(ctx context.Context, opts RefreshOptions) (bool, error) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false, ErrNotRunning
	}
	if !opts.Force && s.guardedLocked() {
		if opts.Confirm {
			s.carryConfirm = true
		}
		s.mu.Unlock()
		s.record(context.Background(), "skipped", 0)
		s.logger.Debug("refresh skipped by rate guard", map[string]interface{}{"reason": opts.Reason})
		return false, nil
	}
	s.issued++
	req := Request{Seq: s.issued, Confirm: opts.Confirm || s.carryConfirm, Reason: opts.Reason}
	s.carryConfirm = false
	runCtx := s.ctx
	s.mu.Unlock()

	loadCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(runCtx, cancel)
	start := s.clock.Now()
	result, err := s.load(loadCtx, req)
	stop()
	cancel()
	elapsed := s.clock.Now().Sub(start)

	s.mu.Lock()
	if !s.running || runCtx.Err() != nil {
		s.mu.Unlock()
		s.record(ctx, "stopped", elapsed)
		return false, nil
	}
	if req.Seq < s.applied {
		s.mu.Unlock()
		s.record(ctx, "stale", elapsed)
		s.logger.Debug("discarding stale refresh result", map[string]interface{}{
			"seq":     req.Seq,
			"applied": s.applied,
			"reason":  req.Reason,
		})
		return false, nil
	}
	s.applied = req.Seq
	s.lastCompleted = s.clock.Now()
	after := s.apply(req, result, err)
	s.mu.Unlock()

	if after != nil {
		after(runCtx)
	}

	outcome := "applied"
	if err != nil {
		outcome = "failed"
		s.logger.Warn("refresh failed", map[string]interface{}{"seq": req.Seq, "reason": req.Reason, "error": err})
	}
	s.record(ctx, outcome, elapsed)
	return true, err
}

func (s *Scheduler[T]) guardedLocked() bool {
	if s.cfg.MinRefreshInterval <= 0 || s.lastCompleted.IsZero() {
		return false
	}
	return s.clock.Now().Sub(s.lastCompleted) < s.cfg.MinRefreshInterval
}

// Mutate applies a local patch. It consumes a sequence number, so every
// load started before it is discarded when it completes.
func (s *Scheduler[T]) Mutate(fn func(seq uint64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	s.applied = s.issued
	fn(s.issued)
}

// Trigger schedules a refresh after the debounce delay. Further triggers
// within the delay restart it; the reason of the last trigger wins and the
// confirm flags are combined. The debounced refresh honours the rate guard.
func (s *Scheduler[T]) Trigger(reason string, confirm bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.debounceConf = s.debounceConf || confirm
	s.debounceWhy = reason
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	s.debounceTimer = s.clock.AfterFunc(s.cfg.DebounceDelay, s.onDebounce)
}

func (s *Scheduler[T]) onDebounce() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	opts := RefreshOptions{Confirm: s.debounceConf, Reason: s.debounceWhy}
	s.debounceConf = false
	s.debounceWhy = ""
	s.debounceTimer = nil
	ctx := s.ctx
	s.mu.Unlock()

	_, _ = s.Refresh(ctx, opts)
}

func (s *Scheduler[T]) armPollLocked() {
	if s.cfg.PollInterval <= 0 {
		return
	}
	s.pollTimer = s.clock.AfterFunc(s.cfg.PollInterval, s.onPoll)
}

// onPoll runs a forced cycle and re-arms the timer once it finishes, so
// ticks never overlap.
func (s *Scheduler[T]) onPoll() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.mu.Unlock()

	_, _ = s.Refresh(ctx, RefreshOptions{Force: true, Reason: "poll"})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running && ctx.Err() == nil {
		s.armPollLocked()
	}
}

func (s *Scheduler[T]) record(ctx context.Context, outcome string, elapsed time.Duration) {
	metrics.RefreshOutcomes.WithLabelValues(s.cfg.Name, outcome).Inc()
	s.obs.RecordRefresh(ctx, s.cfg.Name, outcome, elapsed)
}
