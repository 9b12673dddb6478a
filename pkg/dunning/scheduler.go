package dunning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/notify"
	"github.com/dmitrymomot/billingkit/pkg/periodic"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

// Billing is the part of subscription.Service the pass drives.
type Billing interface {
	Plan(id string) (subscription.Plan, error)
	RetryPolicy() subscription.RetryPolicy
	ConvertTrial(ctx context.Context, businessID uuid.UUID) (*subscription.Outcome, error)
	Renew(ctx context.Context, businessID uuid.UUID) (*subscription.Outcome, error)
	RetryPayment(ctx context.Context, businessID uuid.UUID) (*subscription.Outcome, error)
	CancelForNonPayment(ctx context.Context, businessID uuid.UUID) (*subscription.Subscription, error)
	ExpireTrial(ctx context.Context, businessID uuid.UUID) (*subscription.Subscription, error)
	ExpireIncomplete(ctx context.Context, businessID uuid.UUID) (*subscription.Subscription, error)
}

// Source lists the subscriptions a pass looks at.
type Source interface {
	ListByStatus(ctx context.Context, status subscription.Status, limit int) ([]subscription.Subscription, error)
	ListTrialsEndingBefore(ctx context.Context, t time.Time, limit int) ([]subscription.Subscription, error)
	ListRenewalsDueBefore(ctx context.Context, t time.Time, limit int) ([]subscription.Subscription, error)
}

// Scheduler runs the dunning pass: trial conversion, renewals and retries of
// failed payments with escalation and cancellation.
type Scheduler struct {
	cfg     Config
	billing Billing
	source  Source
	sender  notify.Sender
	limiter *rate.Limiter
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the collectors updated by each pass.
func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Scheduler. The retry bound comes from billing.RetryPolicy so
// that the pass and the service cannot disagree.
func New(cfg Config, billing Billing, source Source, sender notify.Sender, opts ...Option) (*Scheduler, error) {
	if billing == nil || source == nil {
		panic("dunning: billing and source are required")
	}
	if sender == nil {
		sender = notify.NewLogSender(nil)
	}
	switch {
	case cfg.Workers <= 0:
		return nil, fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	case cfg.BatchSize <= 0:
		return nil, fmt.Errorf("%w: batch size must be positive", ErrInvalidConfig)
	case cfg.EscalationThreshold <= 0:
		return nil, fmt.Errorf("%w: escalation threshold must be positive", ErrInvalidConfig)
	case cfg.TrialGraceDays < 0:
		return nil, fmt.Errorf("%w: trial grace must not be negative", ErrInvalidConfig)
	}
	cfg.MaxRetries = billing.RetryPolicy().MaxRetries

	limit := rate.Inf
	if cfg.ChargesPerSecond > 0 {
		limit = rate.Limit(cfg.ChargesPerSecond)
	}
	s := &Scheduler{
		cfg:     cfg,
		billing: billing,
		source:  source,
		sender:  sender,
		limiter: rate.NewLimiter(limit, max(1, int(cfg.ChargesPerSecond))),
		metrics: NewMetrics(nil),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.Component("dunning"))
	return s, nil
}

// Run runs a pass on the configured interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	runner := periodic.NewRunner("dunning", periodic.Every(s.cfg.Interval),
		periodic.WithJitter(s.cfg.Jitter),
		periodic.WithLogger(s.logger),
	)
	return runner.Run(ctx, func(ctx context.Context) error {
		_, err := s.RunOnce(ctx)
		return err
	})
}

// RunOnce runs one pass. Failures of single subscriptions are logged and
// counted in the report; only a failed listing or a canceled ctx is returned.
func (s *Scheduler) RunOnce(ctx context.Context) (*Report, error) {
	rep := newReport(s.now())
	defer func() {
		rep.FinishedAt = s.now()
		s.metrics.PassDuration.Observe(rep.FinishedAt.Sub(rep.StartedAt).Seconds())
		s.metrics.LastPass.Set(float64(rep.FinishedAt.Unix()))
		s.logger.LogAttrs(ctx, slog.LevelInfo, "dunning pass finished", rep.attrs()...)
	}()

	phases := []struct {
		phase Phase
		run   func(context.Context, *Report) error
	}{
		{PhaseTrials, s.trials},
		{PhaseIncomplete, s.incomplete},
		{PhaseRenewals, s.renewals},
		{PhaseRetries, s.retries},
	}
	var errs []error
	for _, p := range phases {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if err := p.run(ctx, rep); err != nil {
			s.logger.LogAttrs(ctx, slog.LevelError, "dunning phase failed",
				slog.String("phase", string(p.phase)), logger.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", p.phase, err))
		}
	}
	return rep, errors.Join(errs...)
}

// trials converts ended trials. A trial that still cannot be charged after
// the grace period is expired.
func (s *Scheduler) trials(ctx context.Context, rep *Report) error {
	now := s.now()
	subs, err := s.source.ListTrialsEndingBefore(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return err
	}
	return s.each(ctx, rep, PhaseTrials, subs, func(ctx context.Context, sub subscription.Subscription) (Result, error) {
		if err := s.limiter.Wait(ctx); err != nil {
			return ResultError, err
		}
		out, err := s.billing.ConvertTrial(ctx, sub.BusinessID)
		if errors.Is(err, subscription.ErrNoPaymentMethod) && (out == nil || out.Event == "") {
			if sub.TrialEnd == nil || now.Before(sub.TrialEnd.Add(s.cfg.trialGrace())) {
				return ResultSkipped, err
			}
			ended, err := s.billing.ExpireTrial(ctx, sub.BusinessID)
			if err != nil {
				return ResultError, err
			}
			s.canceled(ctx, ended)
			return ResultExpired, nil
		}
		return s.afterBilling(ctx, rep, out, err)
	})
}

// incomplete expires subscriptions whose first payment still awaits customer
// action after IncompleteTTL.
func (s *Scheduler) incomplete(ctx context.Context, rep *Report) error {
	if s.cfg.IncompleteTTL <= 0 {
		return nil
	}
	cutoff := s.now().Add(-s.cfg.IncompleteTTL)
	subs, err := s.source.ListByStatus(ctx, subscription.StatusIncomplete, s.cfg.BatchSize)
	if err != nil {
		return err
	}
	return s.each(ctx, rep, PhaseIncomplete, subs, func(ctx context.Context, sub subscription.Subscription) (Result, error) {
		if sub.UpdatedAt.After(cutoff) {
			return ResultSkipped, nil
		}
		ended, err := s.billing.ExpireIncomplete(ctx, sub.BusinessID)
		if err != nil {
			return ResultError, err
		}
		s.canceled(ctx, ended)
		return ResultExpired, nil
	})
}

func (s *Scheduler) renewals(ctx context.Context, rep *Report) error {
	subs, err := s.source.ListRenewalsDueBefore(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		return err
	}
	return s.each(ctx, rep, PhaseRenewals, subs, func(ctx context.Context, sub subscription.Subscription) (Result, error) {
		if err := s.limiter.Wait(ctx); err != nil {
			return ResultError, err
		}
		out, err := s.billing.Renew(ctx, sub.BusinessID)
		return s.afterBilling(ctx, rep, out, err)
	})
}

// retries charges past-due subscriptions whose retry date has come. Rows
// already at the retry bound are canceled without another charge.
func (s *Scheduler) retries(ctx context.Context, rep *Report) error {
	now := s.now()
	subs, err := s.source.ListByStatus(ctx, subscription.StatusPastDue, s.cfg.BatchSize)
	if err != nil {
		return err
	}
	return s.each(ctx, rep, PhaseRetries, subs, func(ctx context.Context, sub subscription.Subscription) (Result, error) {
		if sub.FailedPaymentCount >= s.cfg.MaxRetries {
			return s.cancelForNonPayment(ctx, sub.BusinessID)
		}
		if !sub.RetryDue(now) {
			return ResultSkipped, nil
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return ResultError, err
		}
		out, err := s.billing.RetryPayment(ctx, sub.BusinessID)
		return s.afterBilling(ctx, rep, out, err)
	})
}

// each runs fn for every subscription on a bounded worker pool. A failing
// or panicking item is logged and counted; it never stops its siblings.
func (s *Scheduler) each(ctx context.Context, rep *Report, phase Phase, subs []subscription.Subscription, fn func(context.Context, subscription.Subscription) (Result, error)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for _, sub := range subs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := s.safely(gctx, sub, fn)
			rep.add(phase, res)
			s.metrics.Items.WithLabelValues(string(phase), string(res)).Inc()
			if err != nil {
				level := slog.LevelError
				if res != ResultError {
					level = slog.LevelWarn
				}
				s.logger.LogAttrs(gctx, level, "dunning item not settled",
					slog.String("phase", string(phase)),
					slog.String("result", string(res)),
					logger.BusinessID(sub.BusinessID),
					logger.SubscriptionID(sub.ID),
					logger.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

func (s *Scheduler) safely(ctx context.Context, sub subscription.Subscription, fn func(context.Context, subscription.Subscription) (Result, error)) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = ResultError, fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, sub)
}

// afterBilling sends the notifications for a billing outcome and applies the
// escalation and cancellation thresholds after a failed charge.
func (s *Scheduler) afterBilling(ctx context.Context, rep *Report, out *subscription.Outcome, err error) (Result, error) {
	if out == nil || out.Event == "" {
		if isNotDue(err) {
			return ResultSkipped, nil
		}
		return ResultError, err
	}
	sub := out.Subscription

	switch out.Event {
	case subscription.EventChargeSucceeded:
		s.confirmed(ctx, out)
		return ResultCharged, nil
	case subscription.EventCancel:
		s.canceled(ctx, sub)
		return ResultCanceled, nil
	}

	s.retryFailed(ctx, out, err)
	if sub.Status != subscription.StatusPastDue {
		return ResultFailed, err
	}
	if sub.FailedPaymentCount >= s.cfg.EscalationThreshold {
		s.escalate(ctx, rep, out, err)
	}
	if sub.FailedPaymentCount >= s.cfg.MaxRetries {
		res, cerr := s.cancelForNonPayment(ctx, sub.BusinessID)
		return res, errors.Join(err, cerr)
	}
	return ResultFailed, err
}

func (s *Scheduler) cancelForNonPayment(ctx context.Context, businessID uuid.UUID) (Result, error) {
	ended, err := s.billing.CancelForNonPayment(ctx, businessID)
	if err != nil {
		return ResultError, err
	}
	s.canceled(ctx, ended)
	return ResultCanceled, nil
}

func isNotDue(err error) bool {
	return errors.Is(err, subscription.ErrRetryNotDue) ||
		errors.Is(err, subscription.ErrRenewalNotDue) ||
		errors.Is(err, subscription.ErrTrialNotEnded) ||
		errors.Is(err, subscription.ErrNotInTrial) ||
		errors.Is(err, subscription.ErrNotActive) ||
		errors.Is(err, subscription.ErrNothingOutstanding) ||
		errors.Is(err, subscription.ErrSubscriptionNotFound)
}
