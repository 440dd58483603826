package cycle

import (
	"context"
	"log/slog"
	"time"
)

// Processor runs one cycle. *Coordinator satisfies it.
type Processor interface {
	Process(ctx context.Context) (Status, error)
}

// Ticker is consulted before each cycle. *reload.Scheduler satisfies it.
type Ticker interface {
	Tick(ctx context.Context, now time.Time) bool
}

// Backoff defaults.
const (
	DefaultBackoffIncrement = time.Second
	DefaultMaxBackoff       = 5 * time.Second
)

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	BackoffIncrement time.Duration
	MaxBackoff       time.Duration
	Clock            func() time.Time
	Logger           *slog.Logger
}

// Runner is the single worker loop. Cycles never overlap and shutdown only
// happens between cycles.
type Runner struct {
	proc   Processor
	ticker Ticker

	increment time.Duration
	max       time.Duration
	clock     func() time.Time
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewRunner returns a runner; ticker may be nil.
func NewRunner(proc Processor, ticker Ticker, cfg RunnerConfig) *Runner {
	if cfg.BackoffIncrement <= 0 {
		cfg.BackoffIncrement = DefaultBackoffIncrement
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.MaxBackoff < cfg.BackoffIncrement {
		cfg.MaxBackoff = cfg.BackoffIncrement
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{
		proc:      proc,
		ticker:    ticker,
		increment: cfg.BackoffIncrement,
		max:       cfg.MaxBackoff,
		clock:     cfg.Clock,
		logger:    cfg.Logger.With("component", "runner"),
		sleep:     sleepContext,
	}
}

// Run loops until ctx is cancelled. Each iteration ticks the reload
// scheduler, then runs a cycle that is not interrupted by ctx. After a
// Backoff outcome or a failed cycle it waits, one increment longer each time
// up to the maximum; a Ready outcome resets the wait.
func (r *Runner) Run(ctx context.Context) error {
	var wait time.Duration
	for {
		if ctx.Err() != nil {
			r.logger.Info("runner stopped")
			return nil
		}
		if r.ticker != nil {
			r.ticker.Tick(ctx, r.clock())
		}

		status, err := r.proc.Process(context.WithoutCancel(ctx))
		if err != nil {
			r.logger.Error("cycle failed", "err", err)
		}
		if err == nil && status == Ready {
			wait = 0
			continue
		}

		wait = min(wait+r.increment, r.max)
		if err := r.sleep(ctx, wait); err != nil {
			r.logger.Info("runner stopped")
			return nil
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
