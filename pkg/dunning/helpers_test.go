package dunning_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/discount"
	"github.com/dmitrymomot/billingkit/pkg/dunning"
	"github.com/dmitrymomot/billingkit/pkg/gateway/gatewaytest"
	"github.com/dmitrymomot/billingkit/pkg/ledger"
	"github.com/dmitrymomot/billingkit/pkg/notify"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

var start = time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var (
	pro = subscription.Plan{
		ID:        "pro_monthly",
		Name:      "Pro",
		Price:     subscription.Money{Amount: 94900, Currency: "USD"},
		Interval:  subscription.IntervalMonthly,
		TrialDays: 14,
	}
	basic = subscription.Plan{
		ID:       "basic_monthly",
		Name:     "Basic",
		Price:    subscription.Money{Amount: 2900, Currency: "USD"},
		Interval: subscription.IntervalMonthly,
	}
)

// outbox records notifications in the order they were sent.
type outbox struct {
	mu            sync.Mutex
	confirmations []notify.RenewalConfirmation
	failures      []notify.PaymentRetryFailure
	escalations   []notify.PaymentEscalation
	cancellations []notify.SubscriptionCancellation
}

func (o *outbox) SendRenewalConfirmation(_ context.Context, n notify.RenewalConfirmation) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.confirmations = append(o.confirmations, n)
	return nil
}

func (o *outbox) SendPaymentRetryFailure(_ context.Context, n notify.PaymentRetryFailure) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = append(o.failures, n)
	return nil
}

func (o *outbox) SendPaymentEscalation(_ context.Context, n notify.PaymentEscalation) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.escalations = append(o.escalations, n)
	return nil
}

func (o *outbox) SendSubscriptionCancellation(_ context.Context, n notify.SubscriptionCancellation) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancellations = append(o.cancellations, n)
	return nil
}

func (o *outbox) counts() (confirmations, failures, escalations, cancellations int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.confirmations), len(o.failures), len(o.escalations), len(o.cancellations)
}

type harness struct {
	svc       *subscription.Service
	subs      *subscription.MemoryStore
	methods   *subscription.MemoryPaymentMethods
	gw        *gatewaytest.Scripted
	discounts *discount.Engine
	codes     *discount.MemoryStore
	clock     *clock
	out       *outbox
	metrics   *dunning.Metrics
	sched     *dunning.Scheduler
}

func newHarness(t *testing.T, billing func(*subscription.Service) dunning.Billing) *harness {
	t.Helper()
	cfg := dunning.DefaultConfig()
	cfg.ChargesPerSecond = 0

	h := &harness{
		subs:    subscription.NewMemoryStore(),
		methods: subscription.NewMemoryPaymentMethods(),
		gw:      gatewaytest.New(),
		codes:   discount.NewMemoryStore(),
		clock:   &clock{now: start},
		out:     &outbox{},
		metrics: dunning.NewMetrics(prometheus.NewRegistry()),
	}
	h.discounts = discount.NewEngine(h.codes, discount.WithClock(h.clock.Now))
	led := ledger.New(ledger.NewMemoryStore(), h.gw, ledger.WithClock(h.clock.Now))
	svc, err := subscription.NewService(context.Background(),
		subscription.NewInMemSource(pro, basic),
		h.subs,
		subscription.NewCharger(h.methods, led, h.discounts, nil),
		subscription.WithClock(h.clock.Now),
		subscription.WithRetryPolicy(cfg.RetryPolicy()),
	)
	require.NoError(t, err)
	h.svc = svc

	var b dunning.Billing = svc
	if billing != nil {
		b = billing(svc)
	}
	h.sched, err = dunning.New(cfg, b, h.subs, h.out,
		dunning.WithClock(h.clock.Now),
		dunning.WithMetrics(h.metrics),
	)
	require.NoError(t, err)
	return h
}

func (h *harness) addCard(t *testing.T, businessID uuid.UUID) {
	t.Helper()
	require.NoError(t, h.methods.Save(context.Background(), &subscription.PaymentMethod{
		ID:            uuid.New(),
		BusinessID:    businessID,
		ProviderToken: "pm_card_visa",
		Brand:         "visa",
		Last4:         "4242",
		IsDefault:     true,
	}))
}

// pastDue stores a past-due subscription that has no recorded failure yet.
func (h *harness) pastDue(t *testing.T, businessID uuid.UUID) *subscription.Subscription {
	t.Helper()
	sub := &subscription.Subscription{
		ID:                 uuid.New(),
		BusinessID:         businessID,
		PlanID:             basic.ID,
		Status:             subscription.StatusPastDue,
		CurrentPeriodStart: start.AddDate(0, -1, 0),
		CurrentPeriodEnd:   start,
		AutoRenewal:        true,
		CreatedAt:          start.AddDate(0, -1, 0),
		UpdatedAt:          start,
	}
	require.NoError(t, h.subs.Create(context.Background(), sub))
	return sub
}

func (h *harness) run(t *testing.T) *dunning.Report {
	t.Helper()
	rep, err := h.sched.RunOnce(context.Background())
	require.NoError(t, err)
	return rep
}

func (h *harness) current(t *testing.T, businessID uuid.UUID) *subscription.Subscription {
	t.Helper()
	sub, err := h.svc.GetSubscription(context.Background(), businessID)
	require.NoError(t, err)
	return sub
}

func percentCode(code string, value int64) discount.Code {
	return discount.Code{Code: code, Type: discount.Percentage, Value: decimal.NewFromInt(value), Active: true}
}
