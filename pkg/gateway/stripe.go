package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// StripeConfig configures the Stripe adapter.
type StripeConfig struct {
	SecretKey string        `env:"STRIPE_SECRET_KEY,required"`
	Timeout   time.Duration `env:"STRIPE_TIMEOUT" envDefault:"15s"`
	BaseURL   string        `env:"STRIPE_API_URL"` // empty means api.stripe.com
}

// StripeOption configures a StripeGateway.
type StripeOption func(*StripeGateway)

func WithHTTPClient(c *http.Client) StripeOption {
	return func(g *StripeGateway) {
		if c != nil {
			g.httpClient = c
		}
	}
}

func WithLogger(l *slog.Logger) StripeOption {
	return func(g *StripeGateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// StripeGateway charges stored cards through PaymentIntents. It owns its own
// API client instead of the package-global stripe.Key, and disables the SDK's
// network retries.
type StripeGateway struct {
	api        *client.API
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewStripeGateway panics when no secret key is configured.
func NewStripeGateway(cfg StripeConfig, opts ...StripeOption) *StripeGateway {
	if cfg.SecretKey == "" {
		panic("gateway: stripe secret key cannot be empty")
	}
	g := &StripeGateway{
		timeout: cfg.Timeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.timeout <= 0 {
		g.timeout = 15 * time.Second
	}
	if g.httpClient == nil {
		g.httpClient = &http.Client{Timeout: g.timeout}
	}
	g.logger = g.logger.With(logger.Component("gateway.stripe"))

	backendCfg := &stripe.BackendConfig{
		HTTPClient:        g.httpClient,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripe.String(strings.TrimRight(cfg.BaseURL, "/"))
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)

	g.api = &client.API{}
	g.api.Init(cfg.SecretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
	return g
}

func (g *StripeGateway) Charge(ctx context.Context, req ChargeRequest) Result {
	if req.Amount <= 0 || req.Currency == "" || req.PaymentMethodToken == "" {
		return Failure(CodeInvalidRequest, "charge requires a positive amount, a currency and a payment method")
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		PaymentMethod: stripe.String(req.PaymentMethodToken),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return g.failure(ctx, "charge", err)
	}
	return g.fromPaymentIntent(ctx, "charge", pi)
}

func (g *StripeGateway) Refund(ctx context.Context, req RefundRequest) Result {
	if req.ProviderPaymentID == "" || req.Amount <= 0 {
		return Failure(CodeInvalidRequest, "refund requires a provider payment id and a positive amount")
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.ProviderPaymentID),
		Amount:        stripe.Int64(req.Amount),
	}
	switch req.Reason {
	case "duplicate", "fraudulent", "requested_by_customer":
		params.Reason = stripe.String(req.Reason)
	case "":
	default:
		params.AddMetadata("reason", req.Reason)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	r, err := g.api.Refunds.New(params)
	if err != nil {
		return g.failure(ctx, "refund", err)
	}
	if r == nil || r.ID == "" {
		return Failure(CodeMalformedResponse, "refund response carried no id")
	}

	switch r.Status {
	case stripe.RefundStatusSucceeded, stripe.RefundStatusPending:
		res := Success(r.ID)
		res.ProviderStatus = string(r.Status)
		return res
	default:
		res := Failure("refund_"+string(r.Status), "refund was not accepted")
		res.ProviderID, res.ProviderStatus = r.ID, string(r.Status)
		return res
	}
}

func (g *StripeGateway) Cancel(ctx context.Context, providerPaymentID string) Result {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx

	pi, err := g.api.PaymentIntents.Cancel(providerPaymentID, params)
	if err != nil {
		return g.failure(ctx, "cancel", err)
	}
	if pi == nil || pi.Status != stripe.PaymentIntentStatusCanceled {
		return g.fromPaymentIntent(ctx, "cancel", pi)
	}
	res := Success(pi.ID)
	res.ProviderStatus = string(pi.Status)
	return res
}

func (g *StripeGateway) Retrieve(ctx context.Context, providerPaymentID string) Result {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := g.api.PaymentIntents.Get(providerPaymentID, params)
	if err != nil {
		return g.failure(ctx, "retrieve", err)
	}
	return g.fromPaymentIntent(ctx, "retrieve", pi)
}

// Lookup searches payment intents by the payment_id metadata Charge attaches.
// Stripe search is eventually consistent, so an intent created in the last
// minute may not be found yet.
func (g *StripeGateway) Lookup(ctx context.Context, paymentID string) Result {
	if paymentID == "" || strings.ContainsRune(paymentID, '\'') {
		return Failure(CodeInvalidRequest, "lookup requires a payment id")
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.PaymentIntentSearchParams{}
	params.Query = fmt.Sprintf("metadata['payment_id']:'%s'", paymentID)
	params.Limit = stripe.Int64(1)
	params.Context = ctx

	iter := g.api.PaymentIntents.Search(params)
	if iter.Next() {
		return g.fromPaymentIntent(ctx, "lookup", iter.PaymentIntent())
	}
	if err := iter.Err(); err != nil {
		return g.failure(ctx, "lookup", err)
	}
	return Failure(CodeNotFound, fmt.Sprintf("no payment intent carries payment_id %s", paymentID))
}

func (g *StripeGateway) fromPaymentIntent(ctx context.Context, op string, pi *stripe.PaymentIntent) Result {
	if pi == nil || pi.ID == "" {
		return Failure(CodeMalformedResponse, "payment intent response carried no id")
	}
	if pi.Status == stripe.PaymentIntentStatusSucceeded {
		res := Success(pi.ID)
		res.ProviderStatus = string(pi.Status)
		return res
	}

	res := Failure("payment_intent_"+string(pi.Status), fmt.Sprintf("payment intent is %s", pi.Status))
	res.ProviderID, res.ProviderStatus = pi.ID, string(pi.Status)
	g.logger.WarnContext(ctx, "stripe "+op+" not completed",
		slog.String("provider_id", pi.ID),
		slog.String("provider_status", string(pi.Status)),
	)
	return res
}

func (g *StripeGateway) failure(ctx context.Context, op string, err error) Result {
	var res Result
	var stripeErr *stripe.Error
	switch {
	case ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded):
		res = Failure(CodeTimeout, fmt.Sprintf("stripe %s timed out after %s", op, g.timeout))
	case errors.As(err, &stripeErr):
		code := string(stripeErr.Code)
		if stripeErr.DeclineCode != "" {
			code = string(stripeErr.DeclineCode)
		}
		if code == "" {
			code = string(stripeErr.Type)
		}
		msg := stripeErr.Msg
		if msg == "" {
			msg = fmt.Sprintf("stripe returned HTTP %d", stripeErr.HTTPStatusCode)
		}
		res = Failure(code, msg)
		if stripeErr.PaymentIntent != nil {
			res.ProviderID = stripeErr.PaymentIntent.ID
			res.ProviderStatus = string(stripeErr.PaymentIntent.Status)
		}
	default:
		res = Failure(CodeTransport, err.Error())
	}

	g.logger.WarnContext(ctx, "stripe "+op+" failed",
		slog.String("error_code", res.ErrorCode),
		logger.Error(err),
	)
	return res
}
