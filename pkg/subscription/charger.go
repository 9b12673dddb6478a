package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/discount"
	"github.com/dmitrymomot/billingkit/pkg/ledger"
	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// PaymentRecorder records a charge attempt and performs it; *ledger.Ledger implements it.
type PaymentRecorder interface {
	Charge(ctx context.Context, a ledger.Attempt) (*ledger.Payment, error)
}

// DiscountEngine validates and consumes discount codes; *discount.Engine implements it.
type DiscountEngine interface {
	Validate(ctx context.Context, req discount.ValidateRequest) (*discount.Result, error)
	Apply(ctx context.Context, req discount.ApplyRequest) (discount.Application, error)
}

// Charge is the result of one Charger run.
type Charge struct {
	Payment  *ledger.Payment
	Method   *PaymentMethod
	Discount *discount.Calculation // nil when no discount applied
	// Pending is what remains of the subscription's pending discount after the charge.
	Pending *discount.Pending
}

func (c *Charge) Succeeded() bool {
	return c != nil && c.Payment != nil && c.Payment.Succeeded()
}

// Charger is the single path by which a subscription is charged, used at
// subscribe time, at trial end, at renewal and on retry.
type Charger struct {
	methods   PaymentMethodStore
	payments  PaymentRecorder
	discounts DiscountEngine
	logger    *slog.Logger
}

// NewCharger panics on nil dependencies.
func NewCharger(methods PaymentMethodStore, payments PaymentRecorder, discounts DiscountEngine, log *slog.Logger) *Charger {
	if methods == nil {
		panic("subscription: payment method store cannot be nil")
	}
	if payments == nil {
		panic("subscription: payment recorder cannot be nil")
	}
	if discounts == nil {
		panic("subscription: discount engine cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Charger{
		methods:   methods,
		payments:  payments,
		discounts: discounts,
		logger:    log.With(logger.Component("charger")),
	}
}

// PaymentMethod returns the business's default method or ErrNoPaymentMethod.
func (c *Charger) PaymentMethod(ctx context.Context, businessID uuid.UUID) (*PaymentMethod, error) {
	pm, err := c.methods.Default(ctx, businessID)
	if errors.Is(err, ErrNoPaymentMethod) {
		return nil, ErrNoPaymentMethod
	}
	if err != nil {
		return nil, fmt.Errorf("load default payment method: %w", err)
	}
	return pm, nil
}

// Charge bills sub for one period of plan at the price after its pending
// discount. The discount is consumed only when the payment succeeds; a failure
// to record its usage is logged and does not change the outcome. A returned
// error with a nil Charge means nothing reached the gateway.
func (c *Charger) Charge(ctx context.Context, sub *Subscription, plan Plan, description string) (*Charge, error) {
	pm, err := c.PaymentMethod(ctx, sub.BusinessID)
	if err != nil {
		return nil, err
	}

	calc := sub.PendingDiscount.Calculate(plan.Price.Amount)
	pmID := pm.ID
	p, err := c.payments.Charge(ctx, ledger.Attempt{
		SubscriptionID:     sub.ID,
		BusinessID:         sub.BusinessID,
		Amount:             calc.FinalAmount,
		Currency:           plan.Price.Currency,
		PaymentMethodID:    &pmID,
		CustomerID:         pm.ProviderCustomerID,
		PaymentMethodToken: pm.ProviderToken,
		Description:        description,
	})
	if p == nil {
		return nil, err
	}
	res := &Charge{Payment: p, Method: pm, Pending: sub.PendingDiscount}
	if !p.Succeeded() {
		return res, err
	}

	if sub.PendingDiscount.Eligible() {
		applied := calc
		res.Discount = &applied
		app, applyErr := c.discounts.Apply(ctx, discount.ApplyRequest{
			Pending:        sub.PendingDiscount,
			SubscriptionID: sub.ID,
			PaymentID:      p.ID,
			Amount:         plan.Price.Amount,
			Currency:       plan.Price.Currency,
		})
		res.Pending = app.Next
		if applyErr != nil {
			c.logger.LogAttrs(ctx, slog.LevelError, "discount usage not recorded after successful charge",
				logger.SubscriptionID(sub.ID),
				logger.PaymentID(p.ID),
				logger.DiscountCode(sub.PendingDiscount.Code),
				logger.Error(applyErr),
			)
		}
	} else {
		res.Pending = nil
	}
	return res, err
}
