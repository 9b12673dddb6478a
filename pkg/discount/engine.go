package discount

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// Engine validates discount codes against prices and records their consumption.
type Engine struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine panics on a nil store.
func NewEngine(store Store, opts ...Option) *Engine {
	if store == nil {
		panic("discount: store cannot be nil")
	}
	e := &Engine{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(logger.Component("discount"))
	return e
}

// ValidateRequest describes a prospective redemption.
type ValidateRequest struct {
	Code     string
	PlanID   string
	Amount   int64
	Currency string
	UserID   string
}

// Result is the outcome of Validate. When Valid is false, Reason holds one of
// the validation sentinel errors and Discount is nil.
type Result struct {
	Valid    bool
	Code     *Code
	Discount *Calculation
	Reason   error
}

func invalid(c *Code, reason error) *Result {
	return &Result{Code: c, Reason: reason}
}

// Validate runs the redemption checks in order, stopping at the first failure:
// existence and active flag, validity window, global cap, per-user cap, plan
// allow-list, minimum purchase and currency. The returned error is reserved
// for bad input and storage failures.
func (e *Engine) Validate(ctx context.Context, req ValidateRequest) (*Result, error) {
	if req.Amount < 0 {
		return nil, ErrInvalidAmount
	}

	code, err := e.store.GetCode(ctx, NormalizeCode(req.Code))
	if errors.Is(err, ErrCodeNotFound) {
		return invalid(nil, ErrCodeNotFound), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load discount code: %w", err)
	}
	if !code.Active {
		return invalid(code, ErrCodeInactive), nil
	}

	now := e.now()
	if code.ValidFrom != nil && now.Before(*code.ValidFrom) {
		return invalid(code, ErrCodeNotStarted), nil
	}
	if code.ValidUntil != nil && !now.Before(*code.ValidUntil) {
		return invalid(code, ErrCodeExpired), nil
	}
	if code.MaxUses > 0 && code.UsedCount >= code.MaxUses {
		return invalid(code, ErrUsageLimitReached), nil
	}
	if code.MaxUsesPerUser > 0 {
		used, err := e.store.CountUserRedemptions(ctx, code.ID, req.UserID)
		if err != nil {
			return nil, fmt.Errorf("count user redemptions: %w", err)
		}
		if used >= code.MaxUsesPerUser {
			return invalid(code, ErrUserLimitReached), nil
		}
	}
	if !code.AppliesToPlan(req.PlanID) {
		return invalid(code, ErrPlanNotEligible), nil
	}
	if code.MinPurchaseAmount > 0 && req.Amount < code.MinPurchaseAmount {
		return invalid(code, ErrMinimumNotMet), nil
	}
	if code.Type == FixedAmount && req.Currency != "" && !strings.EqualFold(code.Currency, req.Currency) {
		return invalid(code, ErrCurrencyMismatch), nil
	}

	calc := Calculate(code.Type, code.Value, req.Amount)
	return &Result{Valid: true, Code: code, Discount: &calc}, nil
}

// ApplyRequest describes a successful payment that consumes a pending discount.
type ApplyRequest struct {
	Pending        *Pending
	SubscriptionID uuid.UUID
	PaymentID      uuid.UUID
	Amount         int64 // price before the discount
	Currency       string
}

// Application is the effect of Apply.
type Application struct {
	Usage    *Usage      // nil when the usage row was not recorded
	Discount Calculation // what the payment was discounted by
	Next     *Pending    // remaining pending discount, nil once exhausted
}

// Apply consumes one use of the pending discount for a payment that has
// already succeeded. Next is meaningful even when err is non-nil: the money
// moved at the discounted price, so the use counts whether or not the usage
// row could be written. Caps are enforced only on the first application of a
// pending discount; later recurring applications only add usage rows.
func (e *Engine) Apply(ctx context.Context, req ApplyRequest) (Application, error) {
	p := req.Pending
	if !p.Eligible() {
		return Application{}, ErrNothingPending
	}
	if slices.Contains(p.AppliedPaymentIDs, req.PaymentID) {
		return Application{Next: p}, ErrAlreadyApplied
	}

	calc := p.Calculate(req.Amount)
	usage := Usage{
		ID:             uuid.New(),
		CodeID:         p.CodeID,
		SubscriptionID: req.SubscriptionID,
		UserID:         p.RedeemedBy,
		PaymentID:      req.PaymentID,
		AmountBefore:   calc.OriginalAmount,
		DiscountAmount: calc.DiscountAmount,
		AmountAfter:    calc.FinalAmount,
		Currency:       req.Currency,
		CreatedAt:      e.now(),
	}
	app := Application{Discount: calc, Next: p.consume(req.PaymentID)}

	if err := e.store.Redeem(ctx, usage, len(p.AppliedPaymentIDs) == 0); err != nil {
		return app, errors.Join(ErrUsageNotRecorded, err)
	}
	app.Usage = &usage

	e.logger.InfoContext(ctx, "discount applied",
		logger.DiscountCode(p.Code),
		logger.SubscriptionID(req.SubscriptionID),
		logger.PaymentID(req.PaymentID),
		logger.Amount(calc.DiscountAmount, req.Currency),
		slog.Int("remaining_uses", p.RemainingUses-1),
	)
	return app, nil
}

// CreateCode validates and stores a new code definition.
func (e *Engine) CreateCode(ctx context.Context, c Code) (*Code, error) {
	c.Code = NormalizeCode(c.Code)
	c.Currency = strings.ToUpper(c.Currency)
	if err := validateDefinition(&c); err != nil {
		return nil, errors.Join(ErrInvalidCode, err)
	}

	now := e.now()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.UsedCount = 0
	c.CreatedAt, c.UpdatedAt = now, now

	if err := e.store.CreateCode(ctx, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func validateDefinition(c *Code) error {
	switch {
	case c.Code == "":
		return errors.New("code is required")
	case !c.Type.Valid():
		return fmt.Errorf("unknown type %q", c.Type)
	case !c.Value.IsPositive():
		return errors.New("value must be positive")
	case c.Type == Percentage && c.Value.GreaterThan(decimal.NewFromInt(100)):
		return errors.New("percentage cannot exceed 100")
	case c.Type == FixedAmount && !c.Value.IsInteger():
		return errors.New("fixed amount must be in minor units")
	case c.Type == FixedAmount && c.Currency == "":
		return errors.New("fixed amount requires a currency")
	case c.MaxUses < 0 || c.MaxUsesPerUser < 0 || c.MinPurchaseAmount < 0:
		return errors.New("limits must not be negative")
	case c.IsRecurring && c.MaxRecurringUses <= 0:
		return errors.New("recurring codes need max recurring uses")
	case c.ValidFrom != nil && c.ValidUntil != nil && !c.ValidUntil.After(*c.ValidFrom):
		return errors.New("validity window is empty")
	}
	return nil
}
