package discount

import "github.com/dmitrymomot/billingkit/pkg/billingerr"

// Validation outcomes, in the order Validate checks them.
var (
	ErrCodeNotFound      = billingerr.New(billingerr.ErrValidation, "discount code not found")
	ErrCodeInactive      = billingerr.New(billingerr.ErrValidation, "discount code is inactive")
	ErrCodeNotStarted    = billingerr.New(billingerr.ErrValidation, "discount code is not valid yet")
	ErrCodeExpired       = billingerr.New(billingerr.ErrValidation, "discount code has expired")
	ErrUsageLimitReached = billingerr.New(billingerr.ErrValidation, "discount code usage limit reached")
	ErrUserLimitReached  = billingerr.New(billingerr.ErrValidation, "discount code already used by this user")
	ErrPlanNotEligible   = billingerr.New(billingerr.ErrValidation, "discount code does not apply to this plan")
	ErrMinimumNotMet     = billingerr.New(billingerr.ErrValidation, "amount is below the discount minimum")
	ErrCurrencyMismatch  = billingerr.New(billingerr.ErrValidation, "discount currency does not match the price")
)

var (
	ErrInvalidAmount    = billingerr.New(billingerr.ErrValidation, "amount must not be negative")
	ErrInvalidCode      = billingerr.New(billingerr.ErrValidation, "invalid discount code definition")
	ErrDuplicateCode    = billingerr.New(billingerr.ErrStateConflict, "discount code already exists")
	ErrNothingPending   = billingerr.New(billingerr.ErrStateConflict, "no pending discount to apply")
	ErrAlreadyApplied   = billingerr.New(billingerr.ErrStateConflict, "discount already applied to this payment")
	ErrUsageNotRecorded = billingerr.New(billingerr.ErrStateConflict, "discount usage could not be recorded")
)
