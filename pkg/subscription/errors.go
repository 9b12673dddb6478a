package subscription

import "github.com/dmitrymomot/billingkit/pkg/billingerr"

var (
	ErrPlanNotFound             = billingerr.New(billingerr.ErrValidation, "subscription plan not found")
	ErrMissingBusinessID        = billingerr.New(billingerr.ErrValidation, "business id is required")
	ErrInvalidPlanConfiguration = billingerr.New(billingerr.ErrConfiguration, "invalid subscription plan configuration")
	ErrFailedToLoadPlans        = billingerr.New(billingerr.ErrConfiguration, "failed to load subscription plans")

	ErrSubscriptionNotFound  = billingerr.New(billingerr.ErrNotFound, "subscription not found")
	ErrPaymentMethodNotFound = billingerr.New(billingerr.ErrNotFound, "payment method not found")

	ErrAlreadySubscribed      = billingerr.New(billingerr.ErrStateConflict, "business already has a subscription")
	ErrAlreadyCanceled        = billingerr.New(billingerr.ErrStateConflict, "subscription already canceled")
	ErrInvalidTransition      = billingerr.New(billingerr.ErrStateConflict, "transition not allowed from current status")
	ErrNotInTrial             = billingerr.New(billingerr.ErrStateConflict, "subscription is not in trial")
	ErrNotActive              = billingerr.New(billingerr.ErrStateConflict, "subscription is not active")
	ErrNothingOutstanding     = billingerr.New(billingerr.ErrStateConflict, "subscription has no outstanding payment")
	ErrTrialNotEnded          = billingerr.New(billingerr.ErrStateConflict, "trial has not ended")
	ErrRenewalNotDue          = billingerr.New(billingerr.ErrStateConflict, "renewal is not due")
	ErrRetryNotDue            = billingerr.New(billingerr.ErrStateConflict, "payment retry is not due")
	ErrRetriesRemaining       = billingerr.New(billingerr.ErrStateConflict, "payment retries are not exhausted")
	ErrRetriesExhausted       = billingerr.New(billingerr.ErrStateConflict, "payment retries are exhausted")
	ErrNotCanceling           = billingerr.New(billingerr.ErrStateConflict, "subscription is not scheduled for cancellation")
	ErrDiscountAlreadyPending = billingerr.New(billingerr.ErrStateConflict, "a discount is already pending")
	ErrConcurrentUpdate       = billingerr.New(billingerr.ErrStateConflict, "subscription was modified concurrently")

	ErrNoPaymentMethod = billingerr.New(billingerr.ErrConfiguration, "no default payment method on file")

	ErrPaymentFailed = billingerr.New(billingerr.ErrGatewayFailure, "payment failed")
)
