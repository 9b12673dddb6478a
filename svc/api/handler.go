package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrymomot/billingkit/pkg/discount"
	"github.com/dmitrymomot/billingkit/pkg/httpserver"
	"github.com/dmitrymomot/billingkit/pkg/ledger"
	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/notify"
	"github.com/dmitrymomot/billingkit/pkg/requestid"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

// Billing is the part of subscription.Service the API calls.
type Billing interface {
	Plans() []subscription.Plan
	Subscribe(ctx context.Context, req subscription.SubscribeRequest) (*subscription.Subscription, error)
	GetSubscription(ctx context.Context, businessID uuid.UUID) (*subscription.Subscription, error)
	History(ctx context.Context, businessID uuid.UUID) ([]subscription.Subscription, error)
	Cancel(ctx context.Context, businessID uuid.UUID, req subscription.CancelRequest) (*subscription.Subscription, error)
	Resume(ctx context.Context, businessID uuid.UUID) (*subscription.Subscription, error)
	ApplyDiscount(ctx context.Context, businessID uuid.UUID, code, userID string) (*subscription.Subscription, *discount.Calculation, error)
	ValidateDiscount(ctx context.Context, code, planID, userID string) (*discount.Result, error)
}

// Payments is the part of ledger.Ledger the API calls.
type Payments interface {
	Get(ctx context.Context, paymentID uuid.UUID) (*ledger.Payment, error)
	History(ctx context.Context, subscriptionID uuid.UUID) ([]ledger.Payment, error)
	Refund(ctx context.Context, paymentID uuid.UUID, amount int64, reason string) (*ledger.Payment, error)
	Cancel(ctx context.Context, paymentID uuid.UUID, reason string) (*ledger.Payment, error)
}

// Contacts stores who receives billing mail for a business.
type Contacts interface {
	Save(ctx context.Context, businessID uuid.UUID, ownerUserID string, r notify.Recipient) error
}

type Handler struct {
	billing   Billing
	payments  Payments
	contacts  Contacts
	cfg       Config
	log       *slog.Logger
	validator *validator.Validate
	checks    []httpserver.Check
	gatherer  prometheus.Gatherer
	metrics   *metrics
}

type Option func(*Handler)

func WithConfig(cfg Config) Option {
	return func(h *Handler) { h.cfg = cfg }
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithHealthChecks sets the readiness probes behind /healthz.
func WithHealthChecks(checks ...httpserver.Check) Option {
	return func(h *Handler) { h.checks = append(h.checks, checks...) }
}

// WithMetrics registers request metrics on reg and serves reg's gatherer
// at /metrics.
func WithMetrics(reg *prometheus.Registry) Option {
	return func(h *Handler) {
		h.gatherer = reg
		h.metrics = newMetrics(reg)
	}
}

// WithContacts enables PUT /v1/businesses/{businessID}/contact.
func WithContacts(c Contacts) Option {
	return func(h *Handler) { h.contacts = c }
}

func New(billing Billing, payments Payments, opts ...Option) *Handler {
	if billing == nil {
		panic("api: billing cannot be nil")
	}
	if payments == nil {
		panic("api: payments cannot be nil")
	}
	h := &Handler{
		billing:   billing,
		payments:  payments,
		cfg:       DefaultConfig(),
		log:       slog.Default(),
		validator: newValidator(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.With(logger.Component("api"))
	return h
}

// Routes returns the router serving every endpoint.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(h.accessLog)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", httpserver.HealthCheckHandler(h.log, h.cfg.HealthTimeout, h.checks...))
	if h.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(chimw.Timeout(h.cfg.RequestTimeout))

		r.Get("/plans", h.listPlans)
		r.Post("/discounts/validate", h.validateDiscount)

		r.Route("/businesses/{businessID}", func(r chi.Router) {
			r.Post("/subscription", h.subscribe)
			r.Get("/subscription", h.getSubscription)
			r.Delete("/subscription", h.cancelSubscription)
			r.Post("/subscription/resume", h.resumeSubscription)
			r.Post("/subscription/discount", h.applyDiscount)
			r.Get("/subscriptions", h.subscriptionHistory)
			if h.contacts != nil {
				r.Put("/contact", h.saveContact)
			}
		})

		r.Get("/subscriptions/{subscriptionID}/payments", h.paymentHistory)
		r.Post("/payments/{paymentID}/refund", h.refundPayment)
		r.Post("/payments/{paymentID}/cancel", h.cancelPayment)
	})
	return r
}

// accessLog logs one line per request and feeds the request metrics.
func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)
		h.metrics.observe(r.Method, route, status, elapsed)

		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		h.log.LogAttrs(r.Context(), level, "http request",
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", status),
			slog.Int("bytes", ww.BytesWritten()),
			logger.Duration(elapsed),
		)
	})
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, ValidationError{name: {"must be a valid UUID"}}
	}
	return id, nil
}
