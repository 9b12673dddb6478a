// Package dunning runs the periodic billing pass over all subscriptions.
//
// Each pass has four phases, run in order:
//
//  1. trials: ended trials are converted; a trial that still has no payment
//     method after TrialGraceDays is expired.
//  2. incomplete: subscriptions waiting on customer authentication longer
//     than IncompleteTTL are expired.
//  3. renewals: active subscriptions whose billing date has come are renewed,
//     or canceled when set to cancel at period end.
//  4. retries: past-due subscriptions are charged again once their retry
//     date has come. Every failure at or above EscalationThreshold notifies
//     support; reaching MaxRetries cancels the subscription.
//
// Items run on a bounded worker pool and gateway calls are rate limited. A
// failure or panic of one subscription is logged and counted in the Report
// and never aborts its siblings.
package dunning
