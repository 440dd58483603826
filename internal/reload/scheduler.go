// Package reload decides when the schema registry is refreshed.
//
// There is no timer goroutine: the worker calls Tick at the start of every
// cycle, so a reload never races a cycle's routing phase and the common case
// is a single time comparison.
package reload

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"tablesink/internal/metrics"
)

// DefaultOffset is added past the top of the hour.
const DefaultOffset = time.Second

// NextDeadline returns the start of the clock hour after now, in now's
// location, plus offset.
func NextDeadline(now time.Time, offset time.Duration) time.Time {
	top := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location())
	return top.Add(time.Hour + offset)
}

// Reloader rebuilds the schema registry. *registry.Registry satisfies it.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Scheduler triggers a reload once per deadline or on request.
type Scheduler struct {
	reloader Reloader
	offset   time.Duration
	clock    func() time.Time
	job      string
	logger   *slog.Logger

	requested atomic.Bool

	mu       sync.Mutex
	deadline time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithOffset sets the offset past the top of the hour.
func WithOffset(d time.Duration) Option { return func(s *Scheduler) { s.offset = d } }

// WithClock sets the time source used for the initial deadline.
func WithClock(clock func() time.Time) Option { return func(s *Scheduler) { s.clock = clock } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Scheduler) { s.logger = l } }

// WithJob sets the job label on reload metrics.
func WithJob(job string) Option { return func(s *Scheduler) { s.job = job } }

// New returns a scheduler whose first deadline is computed from the clock.
func New(reloader Reloader, opts ...Option) *Scheduler {
	s := &Scheduler{
		reloader: reloader,
		offset:   DefaultOffset,
		clock:    time.Now,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("component", "reload")
	s.deadline = NextDeadline(s.clock(), s.offset)
	return s
}

// Deadline returns the next scheduled reload time.
func (s *Scheduler) Deadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline
}

// RequestReload makes the next Tick reload regardless of the deadline. It is
// safe to call from any goroutine.
func (s *Scheduler) RequestReload() {
	s.requested.Store(true)
}

// Tick reloads when now has reached the deadline or a reload was requested,
// then moves the deadline past now. It reports whether a reload ran. Reload
// failures are logged and counted; the registry keeps its generation.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) bool {
	forced := s.requested.Swap(false)

	s.mu.Lock()
	due := !now.Before(s.deadline)
	if !due && !forced {
		s.mu.Unlock()
		return false
	}
	s.deadline = NextDeadline(now, s.offset)
	next := s.deadline
	s.mu.Unlock()

	start := time.Now()
	err := s.reloader.Reload(ctx)
	metrics.RecordReload(s.job, err)
	if err != nil {
		s.logger.Warn("schema reload failed", "err", err, "forced", forced, "next", next)
	} else {
		s.logger.Info("schema reload done", "forced", forced, "took", time.Since(start), "next", next)
	}
	return true
}
