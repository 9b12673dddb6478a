package statemachine

import "fmt"

// Option configures a machine during construction.
type Option[S, E comparable] func(*Machine[S, E]) error

// TransitionOption configures guards and actions of a single transition.
type TransitionOption[S, E comparable] func(*Transition[S, E])

// WithTransition adds a transition from -> to on event.
func WithTransition[S, E comparable](from, to S, event E, opts ...TransitionOption[S, E]) Option[S, E] {
	return func(m *Machine[S, E]) error {
		t := Transition[S, E]{From: from, To: to, Event: event}
		for _, opt := range opts {
			opt(&t)
		}
		return m.add(t)
	}
}

// WithTransitions adds several transitions at once.
func WithTransitions[S, E comparable](transitions ...Transition[S, E]) Option[S, E] {
	return func(m *Machine[S, E]) error {
		for i, t := range transitions {
			if err := m.add(t); err != nil {
				return fmt.Errorf("transition[%d] %v->%v on %v: %w", i, t.From, t.To, t.Event, err)
			}
		}
		return nil
	}
}

// WithTerminal declares states with no outgoing transitions. Declare terminal
// states before transitions so a misplaced transition out of one is rejected.
func WithTerminal[S, E comparable](states ...S) Option[S, E] {
	return func(m *Machine[S, E]) error {
		for _, s := range states {
			if len(m.transitions[s]) > 0 {
				return fmt.Errorf("%w: %v already has outgoing transitions", ErrInvalidTransition, s)
			}
			m.terminal[s] = struct{}{}
		}
		return nil
	}
}

func WithGuard[S, E comparable](guard Guard[S, E]) TransitionOption[S, E] {
	return func(t *Transition[S, E]) {
		if guard != nil {
			t.Guards = append(t.Guards, guard)
		}
	}
}

func WithAction[S, E comparable](action Action[S, E]) TransitionOption[S, E] {
	return func(t *Transition[S, E]) {
		if action != nil {
			t.Actions = append(t.Actions, action)
		}
	}
}
