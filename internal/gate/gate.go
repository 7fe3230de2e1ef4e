// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package gate provides a one-shot readiness signal that publishes a single
// value from one goroutine to any number of waiters.
package gate

import (
	"context"
	"errors"
	"sync"

	"github.com/ManuGH/scanlink/internal/metrics"
)

var (
	// ErrUnavailable is returned by Wait when the caller's context ends
	// before the gate fires. Callers treat it as a shutdown-adjacent
	// condition, not a crash.
	ErrUnavailable = errors.New("gate: value unavailable")

	// ErrAlreadyFired is returned by a second call to Fire.
	ErrAlreadyFired = errors.New("gate: already fired")
)

// Gate is armed unset on construction and fired at most once.
// The zero value is not usable; use New.
type Gate[T any] struct {
	mu    sync.Mutex
	fired bool
	value T
	ready chan struct{}
}

// New returns an armed, unset gate.
func New[T any]() *Gate[T] {
	return &Gate[T]{ready: make(chan struct{})}
}

// Fire publishes v and wakes every current and future waiter.
func (g *Gate[T]) Fire(v T) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fired {
		return ErrAlreadyFired
	}
	g.value = v
	g.fired = true
	close(g.ready)
	return nil
}

// Wait blocks until Fire has been called and returns the published value.
// If ctx ends first it returns the zero value and ErrUnavailable.
func (g *Gate[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-g.ready:
	default:
		select {
		case <-g.ready:
		case <-ctx.Done():
			metrics.IncGateWait("unavailable")
			var zero T
			return zero, ErrUnavailable
		}
	}
	metrics.IncGateWait("ready")
	// ready is closed under mu after value is set, so this read is ordered.
	return g.value, nil
}

// Fired reports whether Fire has been called, without blocking.
func (g *Gate[T]) Fired() bool {
	select {
	case <-g.ready:
		return true
	default:
		return false
	}
}
