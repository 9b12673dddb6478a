package periodic

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// Runner calls a function on a Schedule until its context ends.
type Runner struct {
	name      string
	schedule  Schedule
	jitter    time.Duration
	immediate bool
	logger    *slog.Logger
	now       func() time.Time
	randN     func(n int64) int64
}

// Option configures a Runner.
type Option func(*Runner)

// WithJitter adds a random delay in [0, d) to every wait so that replicas
// started together spread their runs.
func WithJitter(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.jitter = d
		}
	}
}

// WithoutImmediateRun waits for the first scheduled time instead of running
// on start.
func WithoutImmediateRun() Option {
	return func(r *Runner) {
		r.immediate = false
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRunner creates a Runner; name labels its log lines.
func NewRunner(name string, schedule Schedule, opts ...Option) *Runner {
	if schedule == nil {
		panic("periodic: schedule is required")
	}
	r := &Runner{
		name:      name,
		schedule:  schedule,
		immediate: true,
		logger:    slog.Default(),
		now:       time.Now,
		randN:     rand.Int64N,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(logger.Component("periodic"), slog.String("runner", name))
	return r
}

// Run blocks, calling fn on the schedule. A failing run is logged and the
// next one is still scheduled. Runs never overlap. Run returns ctx.Err()
// once ctx is done.
func (r *Runner) Run(ctx context.Context, fn func(context.Context) error) error {
	r.logger.LogAttrs(ctx, slog.LevelInfo, "runner started",
		slog.String("schedule", r.schedule.String()),
		slog.Duration("jitter", r.jitter),
	)

	if r.immediate {
		r.runOnce(ctx, fn)
	}

	timer := time.NewTimer(r.wait())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.LogAttrs(context.WithoutCancel(ctx), slog.LevelInfo, "runner stopped")
			return ctx.Err()
		case <-timer.C:
			r.runOnce(ctx, fn)
			timer.Reset(r.wait())
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, fn func(context.Context) error) {
	if ctx.Err() != nil {
		return
	}
	started := r.now()
	err := fn(ctx)
	elapsed := r.now().Sub(started)
	if err != nil && ctx.Err() == nil {
		r.logger.LogAttrs(ctx, slog.LevelError, "run failed", logger.Duration(elapsed), logger.Error(err))
		return
	}
	r.logger.LogAttrs(ctx, slog.LevelDebug, "run finished", logger.Duration(elapsed))
}

func (r *Runner) wait() time.Duration {
	now := r.now()
	d := max(r.schedule.Next(now).Sub(now), 0)
	if r.jitter > 0 {
		d += time.Duration(r.randN(int64(r.jitter)))
	}
	return d
}
