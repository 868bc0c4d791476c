// Package scheduler runs the ingestion job on a fixed interval. At most one
// run is in flight at a time; ticks that arrive during a run are skipped.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mfenderov/estate-pulse/internal/metrics"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Locker guards runs across processes. TryLock reports false when another
// holder owns key; release must be called once the run ends.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// Options configures a Scheduler.
type Options struct {
	Locker  Locker
	LockKey string        // default "estate-pulse:ingestion"
	LockTTL time.Duration // default 30m
	Metrics *metrics.Metrics
}

// Status is a snapshot of the scheduler.
type Status struct {
	Running      bool          `json:"running"`
	InFlight     bool          `json:"in_flight"`
	Interval     time.Duration `json:"interval"`
	Runs         int           `json:"runs"`
	LastRun      time.Time     `json:"last_run,omitzero"`
	LastDuration time.Duration `json:"last_duration"`
	LastError    string        `json:"last_error,omitempty"`
}

// Scheduler triggers a Job periodically.
type Scheduler struct {
	opts    Options
	metrics *metrics.Metrics
	logger  *slog.Logger

	inFlight atomic.Bool

	mu       sync.Mutex
	job      Job
	interval time.Duration
	stop     context.CancelFunc
	reset    chan time.Duration
	status   Status
}

// New creates a stopped Scheduler.
func New(opts Options) *Scheduler {
	if opts.LockKey == "" {
		opts.LockKey = "estate-pulse:ingestion"
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Minute
	}
	return &Scheduler{
		opts:    opts,
		metrics: metrics.OrNew(opts.Metrics),
		logger:  slog.Default().With("component", "scheduler"),
	}
}

// Start runs job every interval until ctx ends or Stop is called. Calling
// Start on a running scheduler replaces the job and interval.
func (s *Scheduler) Start(ctx context.Context, job Job, interval time.Duration) error {
	if job == nil {
		return errors.New("job is required")
	}
	if interval <= 0 {
		return errors.New("interval must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.job = job
	s.interval = interval
	if s.stop != nil {
		// Drain a pending reset so the newest interval wins.
		select {
		case <-s.reset:
		default:
		}
		s.reset <- interval
		s.logger.Info("scheduler job replaced", "interval", interval)
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.stop = cancel
	s.reset = make(chan time.Duration, 1)
	go s.loop(loopCtx, ctx, interval, s.reset)

	s.logger.Info("scheduler started", "interval", interval)
	return nil
}

func (s *Scheduler) loop(ctx, runCtx context.Context, interval time.Duration, reset <-chan time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer func() {
		s.mu.Lock()
		if s.reset == reset {
			s.stop = nil
		}
		s.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-reset:
			ticker.Reset(d)
		case <-ticker.C:
			s.mu.Lock()
			job := s.job
			s.mu.Unlock()
			s.launch(runCtx, job)
		}
	}
}

// Stop halts the ticker. A run in flight is left to finish on its own.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil {
		return
	}
	s.stop()
	s.stop = nil
	s.logger.Info("scheduler stopped")
}

// IsRunning reports whether the periodic trigger is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop != nil
}

// TriggerNow starts job immediately in the background. It reports false
// when a run is already in flight. The run outlives ctx's cancellation.
func (s *Scheduler) TriggerNow(ctx context.Context, job Job) bool {
	if job == nil {
		s.mu.Lock()
		job = s.job
		s.mu.Unlock()
		if job == nil {
			return false
		}
	}
	return s.launch(context.WithoutCancel(ctx), job)
}

// Status returns a snapshot.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.Running = s.stop != nil
	st.InFlight = s.inFlight.Load()
	st.Interval = s.interval
	return st
}

func (s *Scheduler) launch(ctx context.Context, job Job) bool {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.Warn("previous run still in progress, skipping")
		s.metrics.ScheduledRunsTotal.WithLabelValues("skipped").Inc()
		return false
	}
	go func() {
		defer s.inFlight.Store(false)
		s.run(ctx, job)
	}()
	return true
}

func (s *Scheduler) run(ctx context.Context, job Job) {
	if s.opts.Locker != nil {
		release, ok, err := s.opts.Locker.TryLock(ctx, s.opts.LockKey, s.opts.LockTTL)
		if err != nil {
			s.logger.Error("acquiring run lock", "error", err)
			s.finish(time.Now(), 0, err)
			return
		}
		if !ok {
			s.logger.Info("another instance holds the run lock, skipping")
			s.metrics.ScheduledRunsTotal.WithLabelValues("skipped").Inc()
			return
		}
		defer release()
	}

	start := time.Now()
	s.logger.Info("scheduled run starting")
	err := job(ctx)
	s.finish(start, time.Since(start), err)
}

func (s *Scheduler) finish(start time.Time, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		s.logger.Error("scheduled run failed", "error", err, "duration", elapsed)
	} else {
		s.logger.Info("scheduled run finished", "duration", elapsed)
	}
	s.metrics.ScheduledRunsTotal.WithLabelValues(status).Inc()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Runs++
	s.status.LastRun = start
	s.status.LastDuration = elapsed
	s.status.LastError = ""
	if err != nil {
		s.status.LastError = err.Error()
	}
}
