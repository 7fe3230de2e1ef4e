// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fsm

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrInvalidTransition is returned when no edge exists for (state, event).
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrTerminal is returned for any event fired after a terminal state was reached.
	ErrTerminal = errors.New("machine is in a terminal state")
)

// Transition describes a single edge in the FSM.
// Guard may reject the transition before anything changes. Action runs after
// the new state is committed, so a failing Action does not roll back.
type Transition[S ~string, E ~string] struct {
	From   S
	Event  E
	To     S
	Guard  func(ctx context.Context, from S, event E) error
	Action func(ctx context.Context, from S, to S, event E) error
}

// Observer is notified after each committed transition.
type Observer[S ~string, E ~string] func(from, to S, event E)

// Machine is a small, test-friendly FSM runner.
// It is strict: unknown transitions are errors.
type Machine[S ~string, E ~string] struct {
	mu       sync.Mutex
	state    S
	index    map[string]Transition[S, E]
	terminal map[S]struct{}
	observer Observer[S, E]
}

// Option configures a Machine.
type Option[S ~string, E ~string] func(*Machine[S, E])

// WithTerminal marks states that no event can leave.
func WithTerminal[S ~string, E ~string](states ...S) Option[S, E] {
	return func(m *Machine[S, E]) {
		for _, s := range states {
			m.terminal[s] = struct{}{}
		}
	}
}

// WithObserver installs a callback run after every committed transition.
func WithObserver[S ~string, E ~string](o Observer[S, E]) Option[S, E] {
	return func(m *Machine[S, E]) { m.observer = o }
}

func New[S ~string, E ~string](initial S, transitions []Transition[S, E], opts ...Option[S, E]) (*Machine[S, E], error) {
	m := &Machine[S, E]{
		state:    initial,
		index:    make(map[string]Transition[S, E], len(transitions)),
		terminal: make(map[S]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, t := range transitions {
		if _, ok := m.terminal[t.From]; ok {
			return nil, fmt.Errorf("transition leaves terminal state: %s -> %s", t.From, t.Event)
		}
		k := key(t.From, t.Event)
		if _, exists := m.index[k]; exists {
			return nil, fmt.Errorf("duplicate transition: %s -> %s", t.From, t.Event)
		}
		m.index[k] = t
	}
	return m, nil
}

func (m *Machine[S, E]) State() S {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Can reports whether event has an edge from the current state.
func (m *Machine[S, E]) Can(event E) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.index[key(m.state, event)]
	return ok
}

// Fire applies an event: guard, commit, then action.
func (m *Machine[S, E]) Fire(ctx context.Context, event E) (S, error) {
	m.mu.Lock()
	from := m.state
	if _, done := m.terminal[from]; done {
		m.mu.Unlock()
		return from, fmt.Errorf("state=%s event=%s: %w", from, event, ErrTerminal)
	}
	t, ok := m.index[key(from, event)]
	if !ok {
		m.mu.Unlock()
		return from, fmt.Errorf("state=%s event=%s: %w", from, event, ErrInvalidTransition)
	}
	m.mu.Unlock()

	if t.Guard != nil {
		if err := t.Guard(ctx, from, event); err != nil {
			return from, err
		}
	}

	m.mu.Lock()
	if m.state != from {
		cur := m.state
		m.mu.Unlock()
		return cur, fmt.Errorf("concurrent transition detected: from=%s cur=%s event=%s", from, cur, event)
	}
	to := t.To
	m.state = to
	observer := m.observer
	m.mu.Unlock()

	if observer != nil {
		observer(from, to, event)
	}
	if t.Action != nil {
		if err := t.Action(ctx, from, to, event); err != nil {
			return to, err
		}
	}
	return to, nil
}

// Force moves the machine to state without consulting the table. It is
// meant for shutdown paths that must win regardless of the current state.
// Forcing out of a terminal state is refused.
func (m *Machine[S, E]) Force(state S, event E) (S, error) {
	m.mu.Lock()
	from := m.state
	if _, done := m.terminal[from]; done && from != state {
		m.mu.Unlock()
		return from, fmt.Errorf("state=%s event=%s: %w", from, event, ErrTerminal)
	}
	m.state = state
	observer := m.observer
	m.mu.Unlock()

	if observer != nil && from != state {
		observer(from, state, event)
	}
	return from, nil
}

func key[S ~string, E ~string](from S, event E) string {
	return string(from) + "|" + string(event)
}
