package dunning_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/billingerr"
	"github.com/dmitrymomot/billingkit/pkg/dunning"
	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/gateway/gatewaytest"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

func TestRetryExhaustion(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	biz := uuid.New()
	h.addCard(t, biz)
	h.gw.SetFallback(gatewaytest.Decline())
	h.pastDue(t, biz)

	for pass := 1; pass <= 5; pass++ {
		rep := h.run(t)
		sub := h.current(t, biz)
		assert.Equal(t, pass, sub.FailedPaymentCount, "pass %d", pass)
		assert.LessOrEqual(t, sub.FailedPaymentCount, 5)

		if pass < 5 {
			assert.Equal(t, subscription.StatusPastDue, sub.Status, "pass %d", pass)
			assert.True(t, sub.AutoRenewal)
			assert.Equal(t, 1, rep.Count(dunning.PhaseRetries, dunning.ResultFailed))
			require.NotNil(t, sub.NextRetryAt)

			// a pass before the retry date leaves the subscription alone
			skipped := h.run(t)
			assert.Equal(t, 1, skipped.Count(dunning.PhaseRetries, dunning.ResultSkipped))
			assert.Equal(t, pass, h.current(t, biz).FailedPaymentCount)

			h.clock.Set(*sub.NextRetryAt)
			continue
		}
		assert.Equal(t, subscription.StatusCanceled, sub.Status)
		assert.False(t, sub.AutoRenewal)
		assert.Equal(t, subscription.ReasonNonPayment, sub.CancellationReason)
		assert.Equal(t, 1, rep.Count(dunning.PhaseRetries, dunning.ResultCanceled))
	}

	assert.Len(t, h.gw.Charges(), 5)
	confirmations, failures, escalations, cancellations := h.out.counts()
	assert.Zero(t, confirmations)
	assert.Equal(t, 5, failures)
	assert.Equal(t, 3, escalations, "escalated at counts 3, 4 and 5")
	assert.Equal(t, 1, cancellations)
	assert.Equal(t, 3, h.out.escalations[0].FailedCount)
	assert.Equal(t, subscription.ReasonNonPayment, h.out.cancellations[0].Reason)

	assert.InDelta(t, 3, testutil.ToFloat64(h.metrics.Escalations), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.Cancellations.WithLabelValues(subscription.ReasonNonPayment)), 0)

	rep := h.run(t)
	assert.Zero(t, rep.Total(dunning.ResultFailed)+rep.Total(dunning.ResultCanceled), "canceled subscriptions are not retried")
	assert.Len(t, h.gw.Charges(), 5)
}

func TestRetryRecovers(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	biz := uuid.New()
	h.addCard(t, biz)
	h.gw.Queue(gatewaytest.Decline())
	h.pastDue(t, biz)

	h.run(t)
	sub := h.current(t, biz)
	require.Equal(t, 1, sub.FailedPaymentCount)
	require.NotNil(t, sub.NextRetryAt)
	assert.Equal(t, start.Add(24*time.Hour), *sub.NextRetryAt)

	h.clock.Set(*sub.NextRetryAt)
	rep := h.run(t)
	assert.Equal(t, 1, rep.Count(dunning.PhaseRetries, dunning.ResultCharged))

	sub = h.current(t, biz)
	assert.Equal(t, subscription.StatusActive, sub.Status)
	assert.Zero(t, sub.FailedPaymentCount)
	assert.Nil(t, sub.NextRetryAt)

	confirmations, failures, escalations, _ := h.out.counts()
	assert.Equal(t, 1, confirmations)
	assert.Equal(t, 1, failures)
	assert.Zero(t, escalations)
	assert.Equal(t, int64(2900), h.out.confirmations[0].Amount)
}

func TestTrialPhase(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("ended trial is converted with its pending discount", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, nil)
		biz := uuid.New()
		h.addCard(t, biz)
		_, err := h.discounts.CreateCode(ctx, percentCode("WELCOME20", 20))
		require.NoError(t, err)

		sub, err := h.svc.Subscribe(ctx, subscription.SubscribeRequest{BusinessID: biz, PlanID: pro.ID, DiscountCode: "WELCOME20"})
		require.NoError(t, err)

		rep := h.run(t)
		assert.Zero(t, rep.Total(dunning.ResultCharged), "trial has not ended")

		h.clock.Set(*sub.TrialEnd)
		rep = h.run(t)
		assert.Equal(t, 1, rep.Count(dunning.PhaseTrials, dunning.ResultCharged))

		got := h.current(t, biz)
		assert.Equal(t, subscription.StatusActive, got.Status)
		assert.Nil(t, got.PendingDiscount)

		require.Len(t, h.out.confirmations, 1)
		n := h.out.confirmations[0]
		assert.Equal(t, int64(75920), n.Amount)
		assert.Equal(t, int64(18980), n.DiscountAmount)
		assert.Equal(t, "Pro", n.PlanName)
		assert.Equal(t, got.CurrentPeriodEnd, n.PeriodEnd)
	})

	t.Run("declined conversion moves to past due and waits for the retry date", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, nil)
		biz := uuid.New()
		h.addCard(t, biz)
		h.gw.SetFallback(gatewaytest.Decline())

		sub, err := h.svc.Subscribe(ctx, subscription.SubscribeRequest{BusinessID: biz, PlanID: pro.ID})
		require.NoError(t, err)

		h.clock.Set(*sub.TrialEnd)
		rep := h.run(t)
		assert.Equal(t, 1, rep.Count(dunning.PhaseTrials, dunning.ResultFailed))
		assert.Equal(t, 1, rep.Count(dunning.PhaseRetries, dunning.ResultSkipped))
		assert.Len(t, h.gw.Charges(), 1)

		got := h.current(t, biz)
		assert.Equal(t, subscription.StatusPastDue, got.Status)
		require.Len(t, h.out.failures, 1)
		assert.Equal(t, int64(94900), h.out.failures[0].Amount)
		assert.Equal(t, "Your card was declined.", h.out.failures[0].Reason)
		assert.Equal(t, got.NextRetryAt, h.out.failures[0].NextRetryAt)
	})

	t.Run("trial without a payment method expires after the grace period", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, nil)
		biz := uuid.New()

		sub, err := h.svc.Subscribe(ctx, subscription.SubscribeRequest{BusinessID: biz, PlanID: pro.ID})
		require.NoError(t, err)

		h.clock.Set(*sub.TrialEnd)
		rep := h.run(t)
		assert.Equal(t, 1, rep.Count(dunning.PhaseTrials, dunning.ResultSkipped))
		assert.Equal(t, subscription.StatusTrial, h.current(t, biz).Status)

		h.clock.Set(sub.TrialEnd.AddDate(0, 0, 3))
		rep = h.run(t)
		assert.Equal(t, 1, rep.Count(dunning.PhaseTrials, dunning.ResultExpired))

		got := h.current(t, biz)
		assert.Equal(t, subscription.StatusIncompleteExpired, got.Status)
		require.Len(t, h.out.cancellations, 1)
		assert.Equal(t, subscription.ReasonTrialExpired, h.out.cancellations[0].Reason)
		assert.Empty(t, h.gw.Charges())
	})
}

func TestRenewalPhase(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	subscribe := func(t *testing.T, h *harness) (uuid.UUID, *subscription.Subscription) {
		t.Helper()
		biz := uuid.New()
		h.addCard(t, biz)
		sub, err := h.svc.Subscribe(ctx, subscription.SubscribeRequest{BusinessID: biz, PlanID: basic.ID})
		require.NoError(t, err)
		require.Equal(t, subscription.StatusActive, sub.Status)
		return biz, sub
	}

	t.Run("due renewal is charged", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, nil)
		biz, sub := subscribe(t, h)

		h.clock.Set(*sub.NextBillingDate)
		rep := h.run(t)
		assert.Equal(t, 1, rep.Count(dunning.PhaseRenewals, dunning.ResultCharged))
		assert.Equal(t, sub.CurrentPeriodEnd.AddDate(0, 1, 0), h.current(t, biz).CurrentPeriodEnd)
		assert.Len(t, h.out.confirmations, 1)
	})

	t.Run("failed renewal starts dunning", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, nil)
		biz, sub := subscribe(t, h)
		h.gw.SetFallback(gatewaytest.Decline())

		h.clock.Set(*sub.NextBillingDate)
		rep := h.run(t)
		assert.Equal(t, 1, rep.Count(dunning.PhaseRenewals, dunning.ResultFailed))
		got := h.current(t, biz)
		assert.Equal(t, subscription.StatusPastDue, got.Status)
		assert.Equal(t, 1, got.FailedPaymentCount)
		assert.Len(t, h.out.failures, 1)
	})

	t.Run("scheduled cancellation ends the subscription", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, nil)
		biz, sub := subscribe(t, h)
		_, err := h.svc.Cancel(ctx, biz, subscription.CancelRequest{})
		require.NoError(t, err)

		h.clock.Set(*sub.NextBillingDate)
		rep := h.run(t)
		assert.Equal(t, 1, rep.Count(dunning.PhaseRenewals, dunning.ResultCanceled))
		assert.Equal(t, subscription.StatusCanceled, h.current(t, biz).Status)
		require.Len(t, h.out.cancellations, 1)
		assert.Len(t, h.gw.Charges(), 1, "only the initial charge")
	})
}

func TestIncompletePhase(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, nil)
	biz := uuid.New()
	h.addCard(t, biz)
	h.gw.Queue(gateway.Failure("authentication_required", "card needs authentication"))

	_, err := h.svc.Subscribe(ctx, subscription.SubscribeRequest{BusinessID: biz, PlanID: basic.ID})
	require.ErrorIs(t, err, subscription.ErrPaymentFailed)
	require.Equal(t, subscription.StatusIncomplete, h.current(t, biz).Status)

	rep := h.run(t)
	assert.Equal(t, 1, rep.Count(dunning.PhaseIncomplete, dunning.ResultSkipped))

	h.clock.Advance(24 * time.Hour)
	rep = h.run(t)
	assert.Equal(t, 1, rep.Count(dunning.PhaseIncomplete, dunning.ResultExpired))
	got := h.current(t, biz)
	assert.Equal(t, subscription.StatusIncompleteExpired, got.Status)
	assert.Equal(t, subscription.ReasonIncomplete, got.CancellationReason)
}

// faultyBilling breaks RetryPayment for selected businesses.
type faultyBilling struct {
	*subscription.Service
	failing  uuid.UUID
	panicing uuid.UUID
}

func (f *faultyBilling) RetryPayment(ctx context.Context, businessID uuid.UUID) (*subscription.Outcome, error) {
	switch businessID {
	case f.failing:
		return nil, errors.New("store unavailable")
	case f.panicing:
		panic("nil map write")
	}
	return f.Service.RetryPayment(ctx, businessID)
}

func TestPerItemIsolation(t *testing.T) {
	t.Parallel()
	failing, panicing, healthy := uuid.New(), uuid.New(), uuid.New()
	h := newHarness(t, func(svc *subscription.Service) dunning.Billing {
		return &faultyBilling{Service: svc, failing: failing, panicing: panicing}
	})
	for _, biz := range []uuid.UUID{failing, panicing, healthy} {
		h.addCard(t, biz)
		h.pastDue(t, biz)
	}

	rep, err := h.sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Count(dunning.PhaseRetries, dunning.ResultError))
	assert.Equal(t, 1, rep.Count(dunning.PhaseRetries, dunning.ResultCharged))

	assert.Equal(t, subscription.StatusActive, h.current(t, healthy).Status)
	assert.Equal(t, subscription.StatusPastDue, h.current(t, failing).Status)
	assert.InDelta(t, 2, testutil.ToFloat64(h.metrics.Items.WithLabelValues(string(dunning.PhaseRetries), string(dunning.ResultError))), 0)
}

// failingSource fails every listing.
type failingSource struct{}

func (failingSource) ListByStatus(context.Context, subscription.Status, int) ([]subscription.Subscription, error) {
	return nil, errors.New("connection refused")
}

func (failingSource) ListTrialsEndingBefore(context.Context, time.Time, int) ([]subscription.Subscription, error) {
	return nil, errors.New("connection refused")
}

func (failingSource) ListRenewalsDueBefore(context.Context, time.Time, int) ([]subscription.Subscription, error) {
	return nil, errors.New("connection refused")
}

func TestRunOnce(t *testing.T) {
	t.Parallel()

	t.Run("listing failures are reported after every phase ran", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, nil)
		sched, err := dunning.New(dunning.DefaultConfig(), h.svc, failingSource{}, h.out)
		require.NoError(t, err)

		rep, err := sched.RunOnce(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "trials")
		assert.Contains(t, err.Error(), "retries")
		assert.NotNil(t, rep)
	})

	t.Run("canceled context stops the pass", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := h.sched.RunOnce(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("run stops with its context", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, nil)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, h.sched.Run(ctx), context.DeadlineExceeded)
	})
}

func TestNew(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	tests := []struct {
		name   string
		mutate func(*dunning.Config)
	}{
		{"workers", func(c *dunning.Config) { c.Workers = 0 }},
		{"batch size", func(c *dunning.Config) { c.BatchSize = 0 }},
		{"escalation threshold", func(c *dunning.Config) { c.EscalationThreshold = 0 }},
		{"trial grace", func(c *dunning.Config) { c.TrialGraceDays = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := dunning.DefaultConfig()
			tt.mutate(&cfg)
			_, err := dunning.New(cfg, h.svc, h.subs, nil)
			require.ErrorIs(t, err, dunning.ErrInvalidConfig)
			assert.ErrorIs(t, err, billingerr.ErrConfiguration)
		})
	}

	t.Run("retry policy follows the config", func(t *testing.T) {
		t.Parallel()
		cfg := dunning.DefaultConfig()
		cfg.MaxRetries = 3
		cfg.RetryScheduleDays = []int{0, 2}
		p := cfg.RetryPolicy()
		assert.Equal(t, 3, p.MaxRetries)
		assert.Equal(t, 48*time.Hour, p.Delay(5))
	})
}
