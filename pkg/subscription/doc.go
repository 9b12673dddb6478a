// Package subscription owns the authoritative status of a business's
// subscription and the rules for moving between statuses.
//
// # Lifecycle
//
// A plan with a trial starts in StatusTrial and is charged when the trial
// ends. A plan without one is charged on subscribe and lands in StatusActive
// or, when the charge fails, StatusUnpaid. From there:
//
//	trial      -> active | past_due | canceled | incomplete_expired
//	unpaid     -> active | incomplete | canceled
//	active     -> past_due | canceled
//	past_due   -> active | canceled
//	incomplete -> active | incomplete_expired
//
// The table lives in a stateless statemachine.Machine; guards and actions on
// the transitions keep FailedPaymentCount, retry dates and billing periods in
// step with the status.
//
// # Charging
//
// Every charge goes through Charger: it picks the business's default payment
// method, applies the pending discount, records the attempt in the ledger and,
// only after the payment succeeded, consumes the discount.
//
// # Concurrency
//
// Service operations for one business are serialized with a lock.Locker and
// saved with a version compare-and-set, so a user cancellation and a scheduled
// renewal cannot interleave.
//
// # Usage
//
//	charger := subscription.NewCharger(methods, ledger, discounts, log)
//	svc, err := subscription.NewService(ctx,
//		subscription.NewYAMLFileSource("plans.yaml"),
//		store,
//		charger,
//		subscription.WithLocker(locker),
//		subscription.WithLogger(log),
//	)
//
//	sub, err := svc.Subscribe(ctx, subscription.SubscribeRequest{
//		BusinessID:   businessID,
//		PlanID:       "pro_monthly",
//		UserID:       userID,
//		DiscountCode: "WELCOME20",
//	})
//
// Billing triggers (ConvertTrial, Renew, RetryPayment, CancelForNonPayment,
// ExpireTrial) are driven by the dunning scheduler.
package subscription
