package subscription_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/discount"
	"github.com/dmitrymomot/billingkit/pkg/gateway/gatewaytest"
	"github.com/dmitrymomot/billingkit/pkg/ledger"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

var start = time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var (
	proMonthly = subscription.Plan{
		ID:        "pro_monthly",
		Name:      "Pro",
		Price:     subscription.Money{Amount: 94900, Currency: "USD"},
		Interval:  subscription.IntervalMonthly,
		TrialDays: 14,
		Limits:    map[subscription.Resource]int64{subscription.ResourceStaff: subscription.Unlimited},
		Features:  []subscription.Feature{subscription.FeatureOnlineBooking, subscription.FeatureAnalytics},
	}
	basicMonthly = subscription.Plan{
		ID:       "basic_monthly",
		Name:     "Basic",
		Price:    subscription.Money{Amount: 2900, Currency: "USD"},
		Interval: subscription.IntervalMonthly,
		Limits:   map[subscription.Resource]int64{subscription.ResourceStaff: 3},
	}
	basicYearly = subscription.Plan{
		ID:       "basic_yearly",
		Name:     "Basic",
		Price:    subscription.Money{Amount: 29000, Currency: "USD"},
		Interval: subscription.IntervalYearly,
	}
)

type harness struct {
	svc       *subscription.Service
	subs      *subscription.MemoryStore
	methods   *subscription.MemoryPaymentMethods
	gw        *gatewaytest.Scripted
	payments  *ledger.MemoryStore
	discounts *discount.Engine
	codes     *discount.MemoryStore
	clock     *testClock
}

func newHarness(t *testing.T, opts ...subscription.ServiceOption) *harness {
	t.Helper()
	h := &harness{
		subs:     subscription.NewMemoryStore(),
		methods:  subscription.NewMemoryPaymentMethods(),
		gw:       gatewaytest.New(),
		payments: ledger.NewMemoryStore(),
		codes:    discount.NewMemoryStore(),
		clock:    &testClock{now: start},
	}
	h.discounts = discount.NewEngine(h.codes, discount.WithClock(h.clock.Now))
	led := ledger.New(h.payments, h.gw, ledger.WithClock(h.clock.Now))
	charger := subscription.NewCharger(h.methods, led, h.discounts, nil)

	opts = append([]subscription.ServiceOption{subscription.WithClock(h.clock.Now)}, opts...)
	svc, err := subscription.NewService(context.Background(),
		subscription.NewInMemSource(proMonthly, basicMonthly, basicYearly),
		h.subs, charger, opts...)
	require.NoError(t, err)
	h.svc = svc
	return h
}

func (h *harness) addCard(t *testing.T, businessID uuid.UUID) *subscription.PaymentMethod {
	t.Helper()
	pm := &subscription.PaymentMethod{
		ID:                 uuid.New(),
		BusinessID:         businessID,
		ProviderCustomerID: "cus_" + businessID.String()[:8],
		ProviderToken:      "pm_card_visa",
		Brand:              "visa",
		Last4:              "4242",
		ExpMonth:           12,
		ExpYear:            2030,
		IsDefault:          true,
		CreatedAt:          start,
	}
	require.NoError(t, h.methods.Save(context.Background(), pm))
	return pm
}

func (h *harness) createCode(t *testing.T, c discount.Code) *discount.Code {
	t.Helper()
	created, err := h.discounts.CreateCode(context.Background(), c)
	require.NoError(t, err)
	return created
}

func (h *harness) paymentsOf(t *testing.T, sub *subscription.Subscription) []ledger.Payment {
	t.Helper()
	list, err := h.payments.ListBySubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	return list
}

func percentCode(code string, value int64) discount.Code {
	return discount.Code{Code: code, Type: discount.Percentage, Value: decimal.NewFromInt(value), Active: true}
}
