package gateway_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/gateway"
)

type fakeStripe struct {
	mu              sync.Mutex
	idempotencyKeys []string
	forms           []map[string]string
	queries         []string
}

func (f *fakeStripe) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	form := map[string]string{}
	for k := range r.PostForm {
		form[k] = r.PostForm.Get(k)
	}
	f.mu.Lock()
	f.idempotencyKeys = append(f.idempotencyKeys, r.Header.Get("Idempotency-Key"))
	f.forms = append(f.forms, form)
	if q := r.URL.Query().Get("query"); q != "" {
		f.queries = append(f.queries, q)
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/payment_intents":
		switch form["amount"] {
		case "1000":
			fmt.Fprint(w, `{"id":"pi_ok","object":"payment_intent","status":"succeeded","amount":1000,"currency":"usd"}`)
		case "2000":
			w.WriteHeader(http.StatusPaymentRequired)
			fmt.Fprint(w, `{"error":{"type":"card_error","code":"card_declined","decline_code":"insufficient_funds","message":"Your card has insufficient funds.","payment_intent":{"id":"pi_declined","object":"payment_intent","status":"requires_payment_method"}}}`)
		case "3000":
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			fmt.Fprint(w, `{"id":"pi_slow","object":"payment_intent","status":"succeeded"}`)
		case "4000":
			fmt.Fprint(w, `{"id":"pi_3ds","object":"payment_intent","status":"requires_action"}`)
		default:
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `<html>upstream exploded</html>`)
		}
	case r.Method == http.MethodPost && r.URL.Path == "/v1/refunds":
		fmt.Fprint(w, `{"id":"re_1","object":"refund","status":"succeeded","amount":500}`)
	case r.Method == http.MethodPost && r.URL.Path == "/v1/payment_intents/pi_3ds/cancel":
		fmt.Fprint(w, `{"id":"pi_3ds","object":"payment_intent","status":"canceled"}`)
	case r.Method == http.MethodGet && r.URL.Path == "/v1/payment_intents/search":
		data := `[]`
		if strings.Contains(r.URL.Query().Get("query"), "'p1'") {
			data = `[{"id":"pi_ok","object":"payment_intent","status":"succeeded","metadata":{"payment_id":"p1"}}]`
		}
		fmt.Fprintf(w, `{"object":"search_result","data":%s,"has_more":false,"url":"/v1/payment_intents/search"}`, data)
	case r.Method == http.MethodGet && r.URL.Path == "/v1/payment_intents/pi_ok":
		fmt.Fprint(w, `{"id":"pi_ok","object":"payment_intent","status":"succeeded"}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such payment_intent"}}`)
	}
}

func newStripe(t *testing.T) (*gateway.StripeGateway, *fakeStripe) {
	t.Helper()
	fake := &fakeStripe{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	g := gateway.NewStripeGateway(gateway.StripeConfig{
		SecretKey: "sk_test_123",
		Timeout:   100 * time.Millisecond,
		BaseURL:   srv.URL,
	})
	return g, fake
}

func charge(amount int64) gateway.ChargeRequest {
	return gateway.ChargeRequest{
		IdempotencyKey:     fmt.Sprintf("attempt-%d", amount),
		Amount:             amount,
		Currency:           "USD",
		CustomerID:         "cus_1",
		PaymentMethodToken: "pm_card",
		Metadata:           map[string]string{"payment_id": "p1"},
	}
}

func TestStripeGatewayCharge(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		g, fake := newStripe(t)
		res := g.Charge(ctx, charge(1000))
		require.True(t, res.Succeeded(), res.ErrorMessage)
		assert.Equal(t, "pi_ok", res.ProviderID)

		fake.mu.Lock()
		defer fake.mu.Unlock()
		require.Len(t, fake.forms, 1)
		assert.Equal(t, "attempt-1000", fake.idempotencyKeys[0])
		assert.Equal(t, "usd", fake.forms[0]["currency"])
		assert.Equal(t, "true", fake.forms[0]["off_session"])
		assert.Equal(t, "true", fake.forms[0]["confirm"])
		assert.Equal(t, "pm_card", fake.forms[0]["payment_method"])
		assert.Equal(t, "p1", fake.forms[0]["metadata[payment_id]"])
	})

	t.Run("decline", func(t *testing.T) {
		t.Parallel()
		g, _ := newStripe(t)
		res := g.Charge(ctx, charge(2000))
		assert.Equal(t, gateway.StatusFailure, res.Status)
		assert.Equal(t, "insufficient_funds", res.ErrorCode)
		assert.Equal(t, "Your card has insufficient funds.", res.ErrorMessage)
		assert.Equal(t, "pi_declined", res.ProviderID)
		assert.Equal(t, "requires_payment_method", res.ProviderStatus)
	})

	t.Run("timeout is a failure", func(t *testing.T) {
		t.Parallel()
		g, _ := newStripe(t)
		start := time.Now()
		res := g.Charge(ctx, charge(3000))
		assert.Equal(t, gateway.StatusFailure, res.Status)
		assert.Equal(t, gateway.CodeTimeout, res.ErrorCode)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("incomplete intent keeps provider id", func(t *testing.T) {
		t.Parallel()
		g, _ := newStripe(t)
		res := g.Charge(ctx, charge(4000))
		assert.Equal(t, gateway.StatusFailure, res.Status)
		assert.Equal(t, "pi_3ds", res.ProviderID)
		assert.Equal(t, "requires_action", res.ProviderStatus)
	})

	t.Run("server error is not retried", func(t *testing.T) {
		t.Parallel()
		g, fake := newStripe(t)
		res := g.Charge(ctx, charge(5000))
		assert.Equal(t, gateway.StatusFailure, res.Status)
		assert.NotEmpty(t, res.ErrorMessage)

		fake.mu.Lock()
		defer fake.mu.Unlock()
		assert.Len(t, fake.forms, 1)
	})

	t.Run("invalid request never reaches stripe", func(t *testing.T) {
		t.Parallel()
		g, fake := newStripe(t)
		res := g.Charge(ctx, gateway.ChargeRequest{Amount: 0, Currency: "USD"})
		assert.Equal(t, gateway.CodeInvalidRequest, res.ErrorCode)

		fake.mu.Lock()
		defer fake.mu.Unlock()
		assert.Empty(t, fake.forms)
	})
}

func TestStripeGatewayRefundCancelRetrieve(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g, fake := newStripe(t)

	res := g.Refund(ctx, gateway.RefundRequest{IdempotencyKey: "refund-1", ProviderPaymentID: "pi_ok", Amount: 500, Reason: "customer asked"})
	require.True(t, res.Succeeded(), res.ErrorMessage)
	assert.Equal(t, "re_1", res.ProviderID)

	fake.mu.Lock()
	last := fake.forms[len(fake.forms)-1]
	fake.mu.Unlock()
	assert.Equal(t, "pi_ok", last["payment_intent"])
	assert.Equal(t, "customer asked", last["metadata[reason]"])
	assert.Empty(t, last["reason"])

	res = g.Cancel(ctx, "pi_3ds")
	assert.True(t, res.Succeeded(), res.ErrorMessage)

	res = g.Retrieve(ctx, "pi_ok")
	assert.True(t, res.Succeeded())
	assert.Equal(t, "succeeded", res.ProviderStatus)

	res = g.Retrieve(ctx, "pi_missing")
	assert.Equal(t, gateway.StatusFailure, res.Status)
	assert.Equal(t, "resource_missing", res.ErrorCode)
	assert.True(t, strings.HasPrefix(res.ErrorMessage, "No such"))
}

func TestStripeGatewayLookup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("finds the intent by payment id", func(t *testing.T) {
		t.Parallel()
		g, fake := newStripe(t)
		res := g.Lookup(ctx, "p1")
		require.True(t, res.Succeeded(), res.ErrorMessage)
		assert.Equal(t, "pi_ok", res.ProviderID)

		fake.mu.Lock()
		defer fake.mu.Unlock()
		require.Len(t, fake.queries, 1)
		assert.Equal(t, "metadata['payment_id']:'p1'", fake.queries[0])
	})

	t.Run("no intent", func(t *testing.T) {
		t.Parallel()
		g, _ := newStripe(t)
		res := g.Lookup(ctx, "p2")
		assert.Equal(t, gateway.StatusFailure, res.Status)
		assert.Equal(t, gateway.CodeNotFound, res.ErrorCode)
	})

	t.Run("rejects ids that would break the query", func(t *testing.T) {
		t.Parallel()
		g, fake := newStripe(t)
		assert.Equal(t, gateway.CodeInvalidRequest, g.Lookup(ctx, "p1' OR status:'succeeded").ErrorCode)
		assert.Equal(t, gateway.CodeInvalidRequest, g.Lookup(ctx, "").ErrorCode)

		fake.mu.Lock()
		defer fake.mu.Unlock()
		assert.Empty(t, fake.queries)
	})
}

func TestNewStripeGatewayRequiresKey(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { gateway.NewStripeGateway(gateway.StripeConfig{}) })
}
