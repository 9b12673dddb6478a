package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrymomot/billingkit/pkg/statemachine"
)

// change is the payload carried through a transition; actions mutate sub.
type change struct {
	sub    *Subscription
	plan   Plan
	now    time.Time
	reason string
}

type (
	machine          = statemachine.Machine[Status, Event]
	transitionOption = statemachine.TransitionOption[Status, Event]
)

// newMachine builds the subscription lifecycle:
//
//	trial      -> active | past_due | canceled | incomplete_expired
//	unpaid     -> active | unpaid | incomplete | canceled
//	active     -> active | past_due | canceled
//	past_due   -> active | past_due | canceled
//	incomplete -> active | incomplete | incomplete_expired
//
// canceled and incomplete_expired are terminal.
func newMachine(policy RetryPolicy) *machine {
	succeed := statemachine.WithAction[Status, Event](chargeSucceeded)
	fail := statemachine.WithAction[Status, Event](chargeFailed(policy))
	end := statemachine.WithAction[Status, Event](ended)
	exhausted := statemachine.WithGuard[Status, Event](func(_ context.Context, _ Status, _ Event, data any) bool {
		return policy.Exhausted(data.(*change).sub.FailedPaymentCount)
	})

	t := func(from, to Status, ev Event, opts ...transitionOption) statemachine.Option[Status, Event] {
		return statemachine.WithTransition(from, to, ev, opts...)
	}

	return statemachine.MustNew(
		statemachine.WithTerminal[Status, Event](StatusCanceled, StatusIncompleteExpired),

		t(StatusTrial, StatusActive, EventChargeSucceeded, succeed),
		t(StatusTrial, StatusPastDue, EventChargeFailed, fail),
		t(StatusTrial, StatusCanceled, EventCancel, end),
		t(StatusTrial, StatusIncompleteExpired, EventExpire, end),

		t(StatusUnpaid, StatusActive, EventChargeSucceeded, succeed),
		t(StatusUnpaid, StatusUnpaid, EventChargeFailed, fail),
		t(StatusUnpaid, StatusIncomplete, EventActionRequired, fail),
		t(StatusUnpaid, StatusCanceled, EventCancel, end),

		t(StatusActive, StatusActive, EventChargeSucceeded, succeed),
		t(StatusActive, StatusPastDue, EventChargeFailed, fail),
		t(StatusActive, StatusCanceled, EventCancel, end),

		t(StatusPastDue, StatusActive, EventChargeSucceeded, succeed),
		t(StatusPastDue, StatusPastDue, EventChargeFailed, fail),
		t(StatusPastDue, StatusCanceled, EventRetriesExhausted, exhausted, end),
		t(StatusPastDue, StatusCanceled, EventCancel, end),

		t(StatusIncomplete, StatusActive, EventChargeSucceeded, succeed),
		t(StatusIncomplete, StatusIncomplete, EventChargeFailed, fail),
		t(StatusIncomplete, StatusIncompleteExpired, EventExpire, end),
	)
}

func chargeSucceeded(_ context.Context, from, _ Status, _ Event, data any) error {
	c := data.(*change)
	s := c.sub

	start := c.now
	// renewals continue the previous period so billing dates do not drift
	if from == StatusActive && !s.CurrentPeriodEnd.IsZero() {
		start = s.CurrentPeriodEnd
	}
	s.CurrentPeriodStart = start
	s.CurrentPeriodEnd = c.plan.PeriodEnd(start)
	next := s.CurrentPeriodEnd
	s.NextBillingDate = &next

	s.FailedPaymentCount = 0
	s.LastFailureAt = nil
	s.NextRetryAt = nil
	return nil
}

func chargeFailed(policy RetryPolicy) statemachine.Action[Status, Event] {
	return func(_ context.Context, _, to Status, _ Event, data any) error {
		c := data.(*change)
		s := c.sub

		now := c.now
		s.FailedPaymentCount++
		s.LastFailureAt = &now
		s.NextRetryAt = nil
		if to == StatusPastDue {
			next := policy.NextRetry(now, s.FailedPaymentCount)
			s.NextRetryAt = &next
		}
		return nil
	}
}

func ended(_ context.Context, _, _ Status, _ Event, data any) error {
	c := data.(*change)
	s := c.sub
	if c.reason == "" {
		return errors.New("cancellation reason is required")
	}

	now := c.now
	s.CanceledAt = &now
	s.CancellationReason = c.reason
	s.AutoRenewal = false
	s.CancelAtPeriodEnd = false
	s.NextBillingDate = nil
	s.NextRetryAt = nil
	return nil
}
