// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fsm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type state string
type event string

const (
	idle    state = "IDLE"
	running state = "RUNNING"
	stopped state = "STOPPED"

	start event = "start"
	stop  event = "stop"
	tick  event = "tick"
)

func TestFireCommitsBeforeAction(t *testing.T) {
	var m *Machine[state, event]
	var seen state
	m, err := New(idle, []Transition[state, event]{
		{From: idle, Event: start, To: running, Action: func(context.Context, state, state, event) error {
			seen = m.State()
			return nil
		}},
	})
	require.NoError(t, err)

	to, err := m.Fire(context.Background(), start)
	require.NoError(t, err)
	require.Equal(t, running, to)
	require.Equal(t, running, seen)
}

func TestUnknownTransitionIsRejected(t *testing.T) {
	m, err := New[state, event](idle, nil)
	require.NoError(t, err)

	cur, err := m.Fire(context.Background(), tick)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Equal(t, idle, cur)
	require.False(t, m.Can(tick))
}

func TestGuardRejectionKeepsState(t *testing.T) {
	denied := errors.New("denied")
	m, err := New(idle, []Transition[state, event]{
		{From: idle, Event: start, To: running, Guard: func(context.Context, state, event) error { return denied }},
	})
	require.NoError(t, err)

	cur, err := m.Fire(context.Background(), start)
	require.ErrorIs(t, err, denied)
	require.Equal(t, idle, cur)
}

func TestTerminalState(t *testing.T) {
	_, err := New(idle, []Transition[state, event]{
		{From: stopped, Event: start, To: running},
	}, WithTerminal[state, event](stopped))
	require.Error(t, err)

	m, err := New(idle, []Transition[state, event]{
		{From: idle, Event: stop, To: stopped},
	}, WithTerminal[state, event](stopped))
	require.NoError(t, err)

	_, err = m.Fire(context.Background(), stop)
	require.NoError(t, err)
	_, err = m.Fire(context.Background(), stop)
	require.ErrorIs(t, err, ErrTerminal)

	_, err = m.Force(running, start)
	require.ErrorIs(t, err, ErrTerminal)
	require.Equal(t, stopped, m.State())
}

func TestForceAndObserver(t *testing.T) {
	type edge struct {
		from, to state
		ev       event
	}
	var edges []edge
	m, err := New(idle, []Transition[state, event]{
		{From: idle, Event: start, To: running},
	}, WithObserver(func(from, to state, ev event) {
		edges = append(edges, edge{from, to, ev})
	}))
	require.NoError(t, err)

	_, err = m.Fire(context.Background(), start)
	require.NoError(t, err)
	from, err := m.Force(stopped, stop)
	require.NoError(t, err)
	require.Equal(t, running, from)

	require.Equal(t, []edge{{idle, running, start}, {running, stopped, stop}}, edges)
}

func TestDuplicateTransition(t *testing.T) {
	_, err := New(idle, []Transition[state, event]{
		{From: idle, Event: start, To: running},
		{From: idle, Event: start, To: stopped},
	})
	require.Error(t, err)
}
