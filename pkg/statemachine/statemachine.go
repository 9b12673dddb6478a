package statemachine

import (
	"context"
	"fmt"
)

// Guard evaluates whether a transition should be allowed based on runtime conditions.
type Guard[S, E comparable] func(ctx context.Context, from S, event E, data any) bool

// Action executes side effects during a transition. Returning an error prevents the transition.
type Action[S, E comparable] func(ctx context.Context, from, to S, event E, data any) error

// Transition defines a state change triggered by an event, with optional guards and actions.
type Transition[S, E comparable] struct {
	From    S
	To      S
	Event   E
	Guards  []Guard[S, E]  // all must pass
	Actions []Action[S, E] // executed in order
}

// Machine is an immutable transition table. It holds no current state: callers
// pass the state of the record they loaded and persist the returned one, so a
// single Machine can serve any number of records concurrently.
type Machine[S, E comparable] struct {
	transitions map[S]map[E][]Transition[S, E]
	terminal    map[S]struct{}
}

// New builds a machine from options.
func New[S, E comparable](opts ...Option[S, E]) (*Machine[S, E], error) {
	m := &Machine[S, E]{
		transitions: make(map[S]map[E][]Transition[S, E]),
		terminal:    make(map[S]struct{}),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// MustNew is like New but panics on an invalid definition.
func MustNew[S, E comparable](opts ...Option[S, E]) *Machine[S, E] {
	m, err := New(opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to create state machine: %v", err))
	}
	return m
}

func (m *Machine[S, E]) add(t Transition[S, E]) error {
	if _, ok := m.terminal[t.From]; ok {
		return fmt.Errorf("%w: %v is terminal", ErrInvalidTransition, t.From)
	}
	if _, ok := m.transitions[t.From]; !ok {
		m.transitions[t.From] = make(map[E][]Transition[S, E])
	}
	// several transitions per from/event pair allow guard-based branching
	m.transitions[t.From][t.Event] = append(m.transitions[t.From][t.Event], t)
	return nil
}

// Fire resolves event from state from and returns the target state. The first
// transition whose guards all pass wins; its actions run before returning.
func (m *Machine[S, E]) Fire(ctx context.Context, from S, event E, data any) (S, error) {
	t, err := m.resolve(ctx, from, event, data)
	if err != nil {
		return from, err
	}
	for _, action := range t.Actions {
		if err := action(ctx, from, t.To, event, data); err != nil {
			return from, fmt.Errorf("action failed: %w", err)
		}
	}
	return t.To, nil
}

// CanFire reports whether Fire would find an allowed transition.
func (m *Machine[S, E]) CanFire(ctx context.Context, from S, event E, data any) bool {
	_, err := m.resolve(ctx, from, event, data)
	return err == nil
}

// IsTerminal reports whether s was declared terminal.
func (m *Machine[S, E]) IsTerminal(s S) bool {
	_, ok := m.terminal[s]
	return ok
}

// Events lists the events that have at least one transition out of from.
func (m *Machine[S, E]) Events(from S) []E {
	events := make([]E, 0, len(m.transitions[from]))
	for e := range m.transitions[from] {
		events = append(events, e)
	}
	return events
}

func (m *Machine[S, E]) resolve(ctx context.Context, from S, event E, data any) (*Transition[S, E], error) {
	candidates := m.transitions[from][event]
	if len(candidates) == 0 {
		return nil, &ErrNoTransitionAvailable{StateName: fmt.Sprint(from), EventName: fmt.Sprint(event)}
	}
	for i := range candidates {
		if guardsPass(ctx, candidates[i].Guards, from, event, data) {
			return &candidates[i], nil
		}
	}
	return nil, &ErrTransitionRejected{StateName: fmt.Sprint(from), EventName: fmt.Sprint(event)}
}

func guardsPass[S, E comparable](ctx context.Context, guards []Guard[S, E], from S, event E, data any) bool {
	for _, g := range guards {
		if !g(ctx, from, event, data) {
			return false
		}
	}
	return true
}
