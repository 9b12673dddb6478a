package discount

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Type selects how Value is interpreted.
type Type string

const (
	// Percentage discounts take Value percent (0-100] off the amount.
	Percentage Type = "percentage"
	// FixedAmount discounts take Value minor units off the amount.
	FixedAmount Type = "fixed_amount"
)

func (t Type) Valid() bool {
	return t == Percentage || t == FixedAmount
}

// Code is a redeemable discount definition.
type Code struct {
	ID       uuid.UUID       `json:"id"`
	Code     string          `json:"code"`
	Type     Type            `json:"type"`
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency,omitempty"` // fixed-amount codes only
	Active   bool            `json:"active"`

	ValidFrom  *time.Time `json:"valid_from,omitempty"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`

	MaxUses           int64 `json:"max_uses"`          // 0 = unlimited
	MaxUsesPerUser    int64 `json:"max_uses_per_user"` // 0 = unlimited
	UsedCount         int64 `json:"used_count"`
	MinPurchaseAmount int64 `json:"min_purchase_amount"` // 0 = none

	PlanIDs []string `json:"plan_ids,omitempty"` // empty = every plan

	IsRecurring      bool `json:"is_recurring"`
	MaxRecurringUses int  `json:"max_recurring_uses"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AppliesToPlan reports whether the allow-list admits planID.
func (c *Code) AppliesToPlan(planID string) bool {
	return len(c.PlanIDs) == 0 || slices.Contains(c.PlanIDs, planID)
}

// Usage is the durable proof that a code was consumed by a payment.
type Usage struct {
	ID             uuid.UUID `json:"id"`
	CodeID         uuid.UUID `json:"code_id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	UserID         string    `json:"user_id"`
	PaymentID      uuid.UUID `json:"payment_id"`
	AmountBefore   int64     `json:"amount_before"`
	DiscountAmount int64     `json:"discount_amount"`
	AmountAfter    int64     `json:"amount_after"`
	Currency       string    `json:"currency"`
	CreatedAt      time.Time `json:"created_at"`
}

// Calculation is the effect of a discount on an amount.
// FinalAmount == OriginalAmount - DiscountAmount and FinalAmount >= 0.
type Calculation struct {
	OriginalAmount int64 `json:"original_amount"`
	DiscountAmount int64 `json:"discount_amount"`
	FinalAmount    int64 `json:"final_amount"`
}

// Pending is a validated discount attached to a subscription and consumed at
// charge time. Non-recurring codes start with one remaining use.
type Pending struct {
	CodeID            uuid.UUID       `json:"code_id"`
	Code              string          `json:"code"`
	Type              Type            `json:"type"`
	Value             decimal.Decimal `json:"value"`
	IsRecurring       bool            `json:"is_recurring"`
	RemainingUses     int             `json:"remaining_uses"`
	AppliedPaymentIDs []uuid.UUID     `json:"applied_payment_ids,omitempty"`
	RedeemedBy        string          `json:"redeemed_by"`
}

// NewPending builds the pending discount for a code redeemed by userID.
func NewPending(c *Code, userID string) *Pending {
	uses := 1
	if c.IsRecurring && c.MaxRecurringUses > 0 {
		uses = c.MaxRecurringUses
	}
	return &Pending{
		CodeID:        c.ID,
		Code:          c.Code,
		Type:          c.Type,
		Value:         c.Value,
		IsRecurring:   c.IsRecurring,
		RemainingUses: uses,
		RedeemedBy:    userID,
	}
}

// Eligible reports whether the discount still has uses left.
func (p *Pending) Eligible() bool {
	return p != nil && p.RemainingUses > 0
}

// Calculate previews the discount on amount without consuming it.
func (p *Pending) Calculate(amount int64) Calculation {
	if !p.Eligible() {
		return Calculation{OriginalAmount: amount, FinalAmount: amount}
	}
	return Calculate(p.Type, p.Value, amount)
}

// consume returns the state after paymentID used one application, or nil once exhausted.
func (p *Pending) consume(paymentID uuid.UUID) *Pending {
	next := *p
	next.AppliedPaymentIDs = append(slices.Clone(p.AppliedPaymentIDs), paymentID)
	next.RemainingUses--
	if next.RemainingUses <= 0 {
		return nil
	}
	return &next
}

// NormalizeCode canonicalizes user input for lookup.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
