// Package statemachine implements a generic, stateless finite state machine.
//
// A Machine is a transition table keyed by (state, event). It never stores a
// current state, which makes it suitable for records that live in a database:
// load the record, Fire the event against its status, persist the result.
//
//	m := statemachine.MustNew(
//	    statemachine.WithTerminal[Status, Event](Canceled),
//	    statemachine.WithTransition(Trial, Active, ChargeSucceeded),
//	    statemachine.WithTransition(Trial, PastDue, ChargeFailed),
//	)
//	next, err := m.Fire(ctx, sub.Status, ChargeSucceeded, sub)
//
// Guards select between several transitions registered for the same pair;
// actions run in order and abort the transition on error. Failures are
// reported as *ErrNoTransitionAvailable or *ErrTransitionRejected.
package statemachine
