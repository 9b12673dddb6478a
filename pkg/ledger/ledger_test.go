package ledger_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/billingerr"
	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/gateway/gatewaytest"
	"github.com/dmitrymomot/billingkit/pkg/ledger"
)

func attempt(amount int64) ledger.Attempt {
	return ledger.Attempt{
		SubscriptionID:     uuid.New(),
		BusinessID:         uuid.New(),
		Amount:             amount,
		Currency:           "USD",
		PaymentMethodToken: "pm_card",
		CustomerID:         "cus_1",
	}
}

// observingGateway asserts the pending row exists when the gateway is called.
type observingGateway struct {
	*gatewaytest.Scripted
	store   *ledger.MemoryStore
	t       *testing.T
	checked bool
}

func (o *observingGateway) Charge(ctx context.Context, req gateway.ChargeRequest) gateway.Result {
	id, err := uuid.Parse(req.Metadata["payment_id"])
	require.NoError(o.t, err)
	p, err := o.store.Get(ctx, id)
	require.NoError(o.t, err)
	assert.Equal(o.t, ledger.StatusPending, p.Status)
	assert.Equal(o.t, p.IdempotencyKey, req.IdempotencyKey)
	o.checked = true
	return o.Scripted.Charge(ctx, req)
}

func TestLedgerCharge(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("pending row written before the gateway call", func(t *testing.T) {
		t.Parallel()
		store := ledger.NewMemoryStore()
		gw := &observingGateway{Scripted: gatewaytest.New(), store: store, t: t}
		l := ledger.New(store, gw)

		p, err := l.Charge(ctx, attempt(94900))
		require.NoError(t, err)
		assert.True(t, gw.checked)
		assert.Equal(t, ledger.StatusSucceeded, p.Status)
		assert.NotEmpty(t, p.ProviderID)
		assert.NotNil(t, p.CompletedAt)

		stored, err := store.Get(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusSucceeded, stored.Status)
	})

	t.Run("decline is recorded, not returned as error", func(t *testing.T) {
		t.Parallel()
		store := ledger.NewMemoryStore()
		l := ledger.New(store, gatewaytest.Declining())

		p, err := l.Charge(ctx, attempt(1000))
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusFailed, p.Status)
		assert.Equal(t, "card_declined", p.FailureCode)

		history, err := l.History(ctx, p.SubscriptionID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, ledger.StatusFailed, history[0].Status)
	})

	t.Run("fresh idempotency key per attempt", func(t *testing.T) {
		t.Parallel()
		gw := gatewaytest.New()
		l := ledger.New(ledger.NewMemoryStore(), gw)
		a := attempt(1000)
		_, err := l.Charge(ctx, a)
		require.NoError(t, err)
		_, err = l.Charge(ctx, a)
		require.NoError(t, err)

		charges := gw.Charges()
		require.Len(t, charges, 2)
		assert.NotEqual(t, charges[0].IdempotencyKey, charges[1].IdempotencyKey)
	})

	t.Run("zero amount succeeds without the gateway", func(t *testing.T) {
		t.Parallel()
		gw := gatewaytest.New()
		l := ledger.New(ledger.NewMemoryStore(), gw)
		p, err := l.Charge(ctx, attempt(0))
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusSucceeded, p.Status)
		assert.Empty(t, gw.Charges())
	})

	t.Run("invalid attempts", func(t *testing.T) {
		t.Parallel()
		l := ledger.New(ledger.NewMemoryStore(), gatewaytest.New())
		_, err := l.Charge(ctx, attempt(-1))
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
		a := attempt(100)
		a.Currency = ""
		_, err = l.Charge(ctx, a)
		assert.ErrorIs(t, err, billingerr.ErrValidation)
	})

	t.Run("store failure before the call stops the charge", func(t *testing.T) {
		t.Parallel()
		gw := gatewaytest.New()
		l := ledger.New(failingStore{ledger.NewMemoryStore()}, gw)
		p, err := l.Charge(ctx, attempt(1000))
		require.Error(t, err)
		assert.Nil(t, p)
		assert.Empty(t, gw.Charges())
	})
}

type failingStore struct{ *ledger.MemoryStore }

func (failingStore) Create(context.Context, *ledger.Payment) error { return errors.New("db down") }

type failingUpdateStore struct{ *ledger.MemoryStore }

func (failingUpdateStore) Update(context.Context, *ledger.Payment, ledger.Status) error {
	return errors.New("db down")
}

func TestLedgerChargeOutcomeNotRecorded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := failingUpdateStore{ledger.NewMemoryStore()}
	l := ledger.New(store, gatewaytest.New())

	p, err := l.Charge(ctx, attempt(1000))
	require.ErrorIs(t, err, ledger.ErrOutcomeNotRecorded)
	require.NotNil(t, p)
	assert.Equal(t, ledger.StatusSucceeded, p.Status)

	stale, err := l.StalePending(ctx, -time.Minute)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, p.ID, stale[0].ID)
}

func succeededPayment(t *testing.T, l *ledger.Ledger, amount int64) *ledger.Payment {
	t.Helper()
	p, err := l.Charge(context.Background(), attempt(amount))
	require.NoError(t, err)
	require.True(t, p.Succeeded())
	return p
}

func TestLedgerRefund(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("full refund then second refund fails", func(t *testing.T) {
		t.Parallel()
		gw := gatewaytest.New()
		l := ledger.New(ledger.NewMemoryStore(), gw)
		p := succeededPayment(t, l, 5000)

		refunded, err := l.Refund(ctx, p.ID, 5000, "requested_by_customer")
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusRefunded, refunded.Status)
		require.NotNil(t, refunded.RefundedAmount)
		assert.Equal(t, int64(5000), *refunded.RefundedAmount)

		_, err = l.Refund(ctx, p.ID, 5000, "requested_by_customer")
		assert.ErrorIs(t, err, ledger.ErrAlreadyRefunded)
		assert.Len(t, gw.Refunds(), 1)
	})

	t.Run("partial refund is recorded once", func(t *testing.T) {
		t.Parallel()
		l := ledger.New(ledger.NewMemoryStore(), gatewaytest.New())
		p := succeededPayment(t, l, 5000)

		refunded, err := l.Refund(ctx, p.ID, 1200, "goodwill")
		require.NoError(t, err)
		assert.Equal(t, int64(1200), *refunded.RefundedAmount)
		assert.LessOrEqual(t, *refunded.RefundedAmount, refunded.Amount)

		_, err = l.Refund(ctx, p.ID, 100, "goodwill")
		assert.ErrorIs(t, err, ledger.ErrAlreadyRefunded)
	})

	t.Run("exceeds amount", func(t *testing.T) {
		t.Parallel()
		gw := gatewaytest.New()
		l := ledger.New(ledger.NewMemoryStore(), gw)
		p := succeededPayment(t, l, 5000)

		_, err := l.Refund(ctx, p.ID, 5001, "")
		assert.ErrorIs(t, err, ledger.ErrExceedsAmount)
		assert.Empty(t, gw.Refunds())
	})

	t.Run("failed payment is not refundable", func(t *testing.T) {
		t.Parallel()
		l := ledger.New(ledger.NewMemoryStore(), gatewaytest.Declining())
		p, err := l.Charge(ctx, attempt(5000))
		require.NoError(t, err)
		_, err = l.Refund(ctx, p.ID, 100, "")
		assert.ErrorIs(t, err, ledger.ErrNotRefundable)
	})

	t.Run("gateway rejection leaves payment succeeded", func(t *testing.T) {
		t.Parallel()
		gw := gatewaytest.New()
		gw.RefundResult = gateway.Failure("charge_disputed", "charge is disputed")
		l := ledger.New(ledger.NewMemoryStore(), gw)
		p := succeededPayment(t, l, 5000)

		_, err := l.Refund(ctx, p.ID, 5000, "")
		assert.ErrorIs(t, err, ledger.ErrRefundFailed)
		assert.ErrorIs(t, err, billingerr.ErrGatewayFailure)

		stored, err := l.Get(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusSucceeded, stored.Status)
	})

	t.Run("invalid amount and unknown payment", func(t *testing.T) {
		t.Parallel()
		l := ledger.New(ledger.NewMemoryStore(), gatewaytest.New())
		_, err := l.Refund(ctx, uuid.New(), 0, "")
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
		_, err = l.Refund(ctx, uuid.New(), 10, "")
		assert.ErrorIs(t, err, ledger.ErrPaymentNotFound)
	})

	t.Run("concurrent refunds move money once", func(t *testing.T) {
		t.Parallel()
		gw := gatewaytest.New()
		l := ledger.New(ledger.NewMemoryStore(), gw)
		p := succeededPayment(t, l, 5000)

		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := l.Refund(ctx, p.ID, 5000, "")
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		var ok int
		for err := range errs {
			if err == nil {
				ok++
				continue
			}
			assert.ErrorIs(t, err, ledger.ErrAlreadyRefunded)
		}
		assert.Equal(t, 1, ok)
		assert.Len(t, gw.Refunds(), 1)
	})
}

func TestLedgerCancel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("succeeded payment is refunded instead", func(t *testing.T) {
		t.Parallel()
		gw := gatewaytest.New()
		l := ledger.New(ledger.NewMemoryStore(), gw)
		p := succeededPayment(t, l, 3000)

		canceled, err := l.Cancel(ctx, p.ID, "duplicate")
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusRefunded, canceled.Status)
		assert.Equal(t, int64(3000), *canceled.RefundedAmount)
		require.Len(t, gw.Refunds(), 1)
		assert.Equal(t, int64(3000), gw.Refunds()[0].Amount)
	})

	t.Run("pending payment is canceled once", func(t *testing.T) {
		t.Parallel()
		store := ledger.NewMemoryStore()
		gw := gatewaytest.New()
		l := ledger.New(store, gw)

		p := &ledger.Payment{ID: uuid.New(), Amount: 1000, Currency: "USD", Status: ledger.StatusPending, ProviderID: "pi_3ds"}
		require.NoError(t, store.Create(ctx, p))

		canceled, err := l.Cancel(ctx, p.ID, "")
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusCanceled, canceled.Status)
		assert.Equal(t, []string{"pi_3ds"}, gw.Canceled())

		_, err = l.Cancel(ctx, p.ID, "")
		assert.ErrorIs(t, err, ledger.ErrAlreadyCanceled)
	})

	t.Run("failed payment cannot be canceled", func(t *testing.T) {
		t.Parallel()
		l := ledger.New(ledger.NewMemoryStore(), gatewaytest.Declining())
		p, err := l.Charge(ctx, attempt(1000))
		require.NoError(t, err)
		_, err = l.Cancel(ctx, p.ID, "")
		assert.ErrorIs(t, err, ledger.ErrNotCancelable)
	})
}

// flakyUpdateStore fails the first n outcome writes.
type flakyUpdateStore struct {
	*ledger.MemoryStore
	failures atomic.Int32
}

func newFlakyUpdateStore(n int32) *flakyUpdateStore {
	s := &flakyUpdateStore{MemoryStore: ledger.NewMemoryStore()}
	s.failures.Store(n)
	return s
}

func (s *flakyUpdateStore) Update(ctx context.Context, p *ledger.Payment, from ledger.Status) error {
	if s.failures.Add(-1) >= 0 {
		return errors.New("db down")
	}
	return s.MemoryStore.Update(ctx, p, from)
}

// lookupDown fails every lookup with a transport error.
type lookupDown struct{ *gatewaytest.Scripted }

func (lookupDown) Lookup(context.Context, string) gateway.Result {
	return gateway.Failure(gateway.CodeTransport, "connection reset")
}

// blockingGateway holds every charge until release is closed.
type blockingGateway struct {
	*gatewaytest.Scripted
	entered chan uuid.UUID
	release chan struct{}
}

func (b *blockingGateway) Charge(ctx context.Context, req gateway.ChargeRequest) gateway.Result {
	b.entered <- uuid.MustParse(req.Metadata["payment_id"])
	<-b.release
	return b.Scripted.Charge(ctx, req)
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func TestLedgerCancelWaitsForInFlightCharge(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	gw := &blockingGateway{
		Scripted: gatewaytest.New(),
		entered:  make(chan uuid.UUID, 1),
		release:  make(chan struct{}),
	}
	l := ledger.New(store, gw)

	type result struct {
		p   *ledger.Payment
		err error
	}
	charged := make(chan result, 1)
	go func() {
		p, err := l.Charge(ctx, attempt(2500))
		charged <- result{p, err}
	}()
	id := <-gw.entered

	canceled := make(chan result, 1)
	go func() {
		p, err := l.Cancel(ctx, id, "requested_by_customer")
		canceled <- result{p, err}
	}()

	select {
	case <-canceled:
		t.Fatal("cancel completed while the charge was still at the gateway")
	case <-time.After(50 * time.Millisecond):
	}
	close(gw.release)

	c := <-charged
	require.NoError(t, c.err)
	assert.Equal(t, ledger.StatusSucceeded, c.p.Status)

	r := <-canceled
	require.NoError(t, r.err)
	assert.Equal(t, ledger.StatusRefunded, r.p.Status)
	require.Len(t, gw.Refunds(), 1)
	assert.Equal(t, c.p.ProviderID, gw.Refunds()[0].ProviderPaymentID)

	stored, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusRefunded, stored.Status)
	assert.Equal(t, c.p.ProviderID, stored.ProviderID)
}

func TestLedgerRefresh(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("by provider id", func(t *testing.T) {
		t.Parallel()
		store := ledger.NewMemoryStore()
		gw := gatewaytest.New()
		l := ledger.New(store, gw)

		processing := &ledger.Payment{ID: uuid.New(), Amount: 1000, Currency: "USD", Status: ledger.StatusPending, ProviderID: "pi_1"}
		require.NoError(t, store.Create(ctx, processing))

		gw.RetrieveResult = gateway.Result{Status: gateway.StatusFailure, ProviderStatus: "processing"}
		p, err := l.Refresh(ctx, processing.ID)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusPending, p.Status)

		gw.RetrieveResult = gateway.Success("")
		p, err = l.Refresh(ctx, processing.ID)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusSucceeded, p.Status)
	})

	t.Run("charge left pending is settled by payment id", func(t *testing.T) {
		t.Parallel()
		clk := newClock()
		store := newFlakyUpdateStore(1)
		l := ledger.New(store, gatewaytest.New(), ledger.WithClock(clk.Now))

		charged, err := l.Charge(ctx, attempt(4900))
		require.ErrorIs(t, err, ledger.ErrOutcomeNotRecorded)
		require.NotEmpty(t, charged.ProviderID)

		left, err := l.Get(ctx, charged.ID)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusPending, left.Status)
		assert.Empty(t, left.ProviderID)

		p, err := l.Refresh(ctx, charged.ID)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusSucceeded, p.Status)
		assert.Equal(t, charged.ProviderID, p.ProviderID)
		assert.NotNil(t, p.CompletedAt)

		stale, err := l.StalePending(ctx, -time.Minute)
		require.NoError(t, err)
		assert.Empty(t, stale)
	})

	t.Run("declined charge left pending is settled as failed", func(t *testing.T) {
		t.Parallel()
		store := newFlakyUpdateStore(1)
		l := ledger.New(store, gatewaytest.Declining())

		charged, err := l.Charge(ctx, attempt(4900))
		require.ErrorIs(t, err, ledger.ErrOutcomeNotRecorded)

		p, err := l.Refresh(ctx, charged.ID)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusFailed, p.Status)
		assert.Equal(t, "card_declined", p.FailureCode)
	})

	t.Run("row the gateway never saw fails after settling", func(t *testing.T) {
		t.Parallel()
		clk := newClock()
		store := ledger.NewMemoryStore()
		l := ledger.New(store, gatewaytest.New(), ledger.WithClock(clk.Now))

		orphan := &ledger.Payment{ID: uuid.New(), Amount: 1000, Currency: "USD", Status: ledger.StatusPending, CreatedAt: clk.Now(), UpdatedAt: clk.Now()}
		require.NoError(t, store.Create(ctx, orphan))

		p, err := l.Refresh(ctx, orphan.ID)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusPending, p.Status)

		clk.Advance(time.Hour)
		p, err = l.Refresh(ctx, orphan.ID)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusFailed, p.Status)
		assert.Equal(t, gateway.CodeNotFound, p.FailureCode)
	})

	t.Run("lookup failure keeps the row pending", func(t *testing.T) {
		t.Parallel()
		store := ledger.NewMemoryStore()
		l := ledger.New(store, lookupDown{gatewaytest.New()})

		orphan := &ledger.Payment{ID: uuid.New(), Amount: 1000, Currency: "USD", Status: ledger.StatusPending}
		require.NoError(t, store.Create(ctx, orphan))

		_, err := l.Refresh(ctx, orphan.ID)
		assert.ErrorIs(t, err, ledger.ErrRetrieveFailed)

		stored, err := store.Get(ctx, orphan.ID)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusPending, stored.Status)
	})
}

func TestLedgerCancelPendingWithoutProviderID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("charge that succeeded at the gateway is refunded", func(t *testing.T) {
		t.Parallel()
		gw := gatewaytest.New()
		l := ledger.New(newFlakyUpdateStore(1), gw)

		charged, err := l.Charge(ctx, attempt(3000))
		require.ErrorIs(t, err, ledger.ErrOutcomeNotRecorded)

		p, err := l.Cancel(ctx, charged.ID, "duplicate")
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusRefunded, p.Status)
		assert.Equal(t, charged.ProviderID, p.ProviderID)
		require.Len(t, gw.Refunds(), 1)
		assert.Empty(t, gw.Canceled())
	})

	t.Run("unknown charge is canceled once the lookup settles", func(t *testing.T) {
		t.Parallel()
		clk := newClock()
		store := ledger.NewMemoryStore()
		gw := gatewaytest.New()
		l := ledger.New(store, gw, ledger.WithClock(clk.Now))

		orphan := &ledger.Payment{ID: uuid.New(), Amount: 1000, Currency: "USD", Status: ledger.StatusPending, CreatedAt: clk.Now(), UpdatedAt: clk.Now()}
		require.NoError(t, store.Create(ctx, orphan))

		_, err := l.Cancel(ctx, orphan.ID, "")
		assert.ErrorIs(t, err, ledger.ErrOutcomeUnknown)

		clk.Advance(time.Hour)
		p, err := l.Cancel(ctx, orphan.ID, "")
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusCanceled, p.Status)
		assert.Empty(t, gw.Canceled())
	})
}
