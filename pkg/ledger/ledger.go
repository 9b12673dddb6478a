package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/lock"
	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// persistTimeout bounds writes that must happen even after the caller's
// context is gone, such as recording a gateway outcome.
const persistTimeout = 10 * time.Second

// lookupSettle is how long a pending row without a provider reference is
// given before a failed lookup counts as proof that no charge was made.
const lookupSettle = 5 * time.Minute

// Ledger records every charge attempt before the gateway is called and owns
// refunds and cancellations of recorded payments.
type Ledger struct {
	store   Store
	gateway gateway.Gateway
	locker  lock.Locker
	logger  *slog.Logger
	now     func() time.Time
}

// New panics on nil dependencies.
func New(store Store, gw gateway.Gateway, opts ...Option) *Ledger {
	if store == nil {
		panic("ledger: store cannot be nil")
	}
	if gw == nil {
		panic("ledger: gateway cannot be nil")
	}
	l := &Ledger{
		store:   store,
		gateway: gw,
		locker:  lock.NewMemoryLocker(),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(logger.Component("ledger"))
	return l
}

// Attempt describes a charge to perform against a stored payment method.
type Attempt struct {
	SubscriptionID     uuid.UUID
	BusinessID         uuid.UUID
	Amount             int64
	Currency           string
	PaymentMethodID    *uuid.UUID
	CustomerID         string
	PaymentMethodToken string
	Description        string
}

// Charge writes a pending row, calls the gateway with a fresh idempotency key
// and records the outcome. A declined or timed out charge is not an error: the
// returned payment has status failed. An error with a nil payment means
// nothing was sent to the gateway. ErrOutcomeNotRecorded comes with the
// payment as the gateway reported it while the stored row stays pending.
// Zero-amount attempts succeed without a gateway call.
//
// The payment lock is held from the pending insert until the outcome is
// stored, so Cancel and Refresh wait for an in-flight call.
func (l *Ledger) Charge(ctx context.Context, a Attempt) (*Payment, error) {
	if a.Amount < 0 {
		return nil, ErrInvalidAmount
	}
	if a.Currency == "" {
		return nil, ErrInvalidCurrency
	}

	id := uuid.New()
	var out *Payment
	err := lock.With(ctx, l.locker, lockKey(id), 0, func(ctx context.Context) error {
		var err error
		out, err = l.chargeLocked(ctx, id, a)
		return err
	})
	if err != nil && out == nil {
		return nil, err
	}
	return out, err
}

func (l *Ledger) chargeLocked(ctx context.Context, id uuid.UUID, a Attempt) (*Payment, error) {
	now := l.now()
	p := &Payment{
		ID:              id,
		SubscriptionID:  a.SubscriptionID,
		BusinessID:      a.BusinessID,
		Amount:          a.Amount,
		Currency:        a.Currency,
		Status:          StatusPending,
		PaymentMethodID: a.PaymentMethodID,
		IdempotencyKey:  "charge-" + id.String(),
		Description:     a.Description,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := l.store.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("record pending payment: %w", err)
	}

	var res gateway.Result
	if a.Amount == 0 {
		res = gateway.Success("")
	} else {
		res = l.gateway.Charge(ctx, gateway.ChargeRequest{
			IdempotencyKey:     p.IdempotencyKey,
			Amount:             a.Amount,
			Currency:           a.Currency,
			CustomerID:         a.CustomerID,
			PaymentMethodToken: a.PaymentMethodToken,
			Description:        a.Description,
			Metadata: map[string]string{
				"payment_id":      id.String(),
				"subscription_id": a.SubscriptionID.String(),
				"business_id":     a.BusinessID.String(),
			},
		})
	}

	completed := l.now()
	p.ProviderID = res.ProviderID
	p.CompletedAt = &completed
	p.UpdatedAt = completed
	if res.Succeeded() {
		p.Status = StatusSucceeded
	} else {
		p.Status = StatusFailed
		p.FailureCode = res.ErrorCode
		p.FailureMessage = res.ErrorMessage
	}

	attrs := []slog.Attr{
		logger.PaymentID(p.ID),
		logger.SubscriptionID(p.SubscriptionID),
		logger.Amount(p.Amount, p.Currency),
		logger.Status(p.Status),
	}

	// the gateway call already happened; record it even if the caller gave up
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := l.store.Update(persistCtx, p, StatusPending); err != nil {
		l.logger.LogAttrs(ctx, slog.LevelError, "gateway outcome not recorded, payment left pending",
			append(attrs, logger.Error(err))...)
		return p, errors.Join(ErrOutcomeNotRecorded, err)
	}

	if p.Succeeded() {
		l.logger.LogAttrs(ctx, slog.LevelInfo, "payment succeeded", attrs...)
	} else {
		l.logger.LogAttrs(ctx, slog.LevelWarn, "payment failed",
			append(attrs, slog.String("failure_code", p.FailureCode), slog.String("failure_message", p.FailureMessage))...)
	}
	return p, nil
}

// Refund returns amount of a succeeded payment. A payment is refunded at most
// once; amount may be less than the payment.
func (l *Ledger) Refund(ctx context.Context, paymentID uuid.UUID, amount int64, reason string) (*Payment, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var out *Payment
	err := lock.With(ctx, l.locker, lockKey(paymentID), 0, func(ctx context.Context) error {
		p, err := l.store.Get(ctx, paymentID)
		if err != nil {
			return err
		}
		out, err = l.refundLocked(ctx, p, amount, reason)
		return err
	})
	return out, err
}

func (l *Ledger) refundLocked(ctx context.Context, p *Payment, amount int64, reason string) (*Payment, error) {
	switch p.Status {
	case StatusRefunded:
		return p, ErrAlreadyRefunded
	case StatusSucceeded:
	default:
		return p, ErrNotRefundable
	}
	if amount > p.Refundable() {
		return p, ErrExceedsAmount
	}

	res := l.gateway.Refund(ctx, gateway.RefundRequest{
		IdempotencyKey:    "refund-" + p.ID.String(),
		ProviderPaymentID: p.ProviderID,
		Amount:            amount,
		Reason:            reason,
	})
	if !res.Succeeded() {
		l.logger.WarnContext(ctx, "refund rejected by gateway",
			logger.PaymentID(p.ID),
			slog.String("failure_code", res.ErrorCode),
			slog.String("failure_message", res.ErrorMessage),
		)
		return p, fmt.Errorf("%w: %s", ErrRefundFailed, res.ErrorMessage)
	}

	now := l.now()
	refunded := p.Amount - p.Refundable() + amount
	p.Status = StatusRefunded
	p.RefundedAmount = &refunded
	p.RefundReason = reason
	p.ProviderRefundID = res.ProviderID
	p.RefundedAt = &now
	p.UpdatedAt = now

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := l.store.Update(persistCtx, p, StatusSucceeded); err != nil {
		l.logger.ErrorContext(ctx, "refund not recorded", logger.PaymentID(p.ID), logger.Error(err))
		return p, errors.Join(ErrOutcomeNotRecorded, err)
	}

	l.logger.InfoContext(ctx, "payment refunded",
		logger.PaymentID(p.ID),
		logger.Amount(amount, p.Currency),
		slog.String("reason", reason),
	)
	return p, nil
}

// Cancel voids a payment record. Succeeded payments are refunded in full
// instead, because money that already moved cannot be canceled. A pending row
// without a provider reference is first looked up at the gateway; a charge
// found there is canceled or, when it succeeded, refunded. Pending payments
// with a provider reference are voided at the provider on a best effort
// basis before the row is marked canceled.
func (l *Ledger) Cancel(ctx context.Context, paymentID uuid.UUID, reason string) (*Payment, error) {
	var out *Payment
	err := lock.With(ctx, l.locker, lockKey(paymentID), 0, func(ctx context.Context) error {
		p, err := l.store.Get(ctx, paymentID)
		if err != nil {
			return err
		}
		out = p

		if p.Status == StatusPending && p.ProviderID == "" {
			if err := l.lookupLocked(ctx, p); err != nil {
				return err
			}
		}

		switch p.Status {
		case StatusCanceled:
			return ErrAlreadyCanceled
		case StatusSucceeded:
			if p.Refundable() == 0 {
				return ErrNotRefundable
			}
			out, err = l.refundLocked(ctx, p, p.Refundable(), reason)
			return err
		case StatusPending:
		default:
			return ErrNotCancelable
		}

		if p.ProviderID != "" {
			if res := l.gateway.Cancel(ctx, p.ProviderID); !res.Succeeded() {
				l.logger.WarnContext(ctx, "provider cancel failed, canceling local record",
					logger.PaymentID(p.ID),
					slog.String("failure_message", res.ErrorMessage),
				)
			}
		}

		now := l.now()
		p.Status = StatusCanceled
		p.CanceledAt = &now
		p.UpdatedAt = now
		if reason != "" {
			p.FailureMessage = reason
		}
		return l.store.Update(ctx, p, StatusPending)
	})
	return out, err
}

// lookupLocked resolves a pending row that has no provider reference by
// asking the gateway for the charge made under its payment id. A succeeded
// charge is recorded as succeeded. A charge still open at the provider only
// gains its reference. When the provider has no charge the row is left
// pending for Cancel to void; a row younger than lookupSettle fails with
// ErrOutcomeUnknown because the provider index may lag behind.
func (l *Ledger) lookupLocked(ctx context.Context, p *Payment) error {
	res := l.gateway.Lookup(ctx, p.ID.String())
	switch {
	case res.ErrorCode == gateway.CodeNotFound:
		if l.now().Sub(p.UpdatedAt) < lookupSettle {
			return ErrOutcomeUnknown
		}
		return nil
	case res.ProviderStatus == "" && !res.Succeeded():
		return fmt.Errorf("%w: %s", ErrRetrieveFailed, res.ErrorMessage)
	}

	now := l.now()
	p.ProviderID = res.ProviderID
	p.UpdatedAt = now
	if res.Succeeded() {
		p.Status = StatusSucceeded
		p.CompletedAt = &now
	}
	if err := l.store.Update(ctx, p, StatusPending); err != nil {
		return err
	}
	l.logger.InfoContext(ctx, "pending payment matched at the gateway",
		logger.PaymentID(p.ID),
		logger.Status(p.Status),
		slog.String("provider_id", p.ProviderID),
	)
	return nil
}

// Refresh resolves a pending payment using the provider's current view. Rows
// with a provider reference are retrieved by it; rows without one, left by a
// process that stopped between the gateway call and the outcome write, are
// looked up by payment id. A row the provider never saw is marked failed once
// it is older than lookupSettle. Rows in any other status are returned
// unchanged.
func (l *Ledger) Refresh(ctx context.Context, paymentID uuid.UUID) (*Payment, error) {
	var out *Payment
	err := lock.With(ctx, l.locker, lockKey(paymentID), 0, func(ctx context.Context) error {
		p, err := l.store.Get(ctx, paymentID)
		if err != nil {
			return err
		}
		out = p
		if p.Status != StatusPending {
			return nil
		}

		var res gateway.Result
		if p.ProviderID != "" {
			res = l.gateway.Retrieve(ctx, p.ProviderID)
		} else {
			res = l.gateway.Lookup(ctx, p.ID.String())
		}

		now := l.now()
		switch {
		case res.Succeeded():
			p.Status = StatusSucceeded
		case res.ErrorCode == gateway.CodeNotFound:
			if now.Sub(p.UpdatedAt) < lookupSettle {
				return nil
			}
			p.Status = StatusFailed
			p.FailureCode, p.FailureMessage = gateway.CodeNotFound, "charge never reached the gateway"
		case res.ProviderStatus == "":
			return fmt.Errorf("%w: %s", ErrRetrieveFailed, res.ErrorMessage)
		case res.ProviderStatus == "processing":
			if p.ProviderID != "" || res.ProviderID == "" {
				return nil
			}
		default:
			p.Status = StatusFailed
			p.FailureCode, p.FailureMessage = res.ErrorCode, res.ErrorMessage
		}

		if p.ProviderID == "" {
			p.ProviderID = res.ProviderID
		}
		if p.Status != StatusPending {
			p.CompletedAt = &now
		}
		p.UpdatedAt = now
		return l.store.Update(ctx, p, StatusPending)
	})
	return out, err
}

func (l *Ledger) Get(ctx context.Context, paymentID uuid.UUID) (*Payment, error) {
	return l.store.Get(ctx, paymentID)
}

// History lists a subscription's payments oldest first.
func (l *Ledger) History(ctx context.Context, subscriptionID uuid.UUID) ([]Payment, error) {
	return l.store.ListBySubscription(ctx, subscriptionID)
}

// StalePending lists payments still pending after olderThan, the trace of a
// process that died between calling the gateway and recording the outcome.
func (l *Ledger) StalePending(ctx context.Context, olderThan time.Duration) ([]Payment, error) {
	return l.store.ListPendingBefore(ctx, l.now().Add(-olderThan))
}

func lockKey(paymentID uuid.UUID) string {
	return "payment:" + paymentID.String()
}
