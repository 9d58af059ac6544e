/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package engine arbitrates playback modes: the repeating loop, one-shot
// direct requests, and idle. It owns the signals the playback driver and
// the scheduler coordinate through.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
)

// Gate is a level-triggered waitable boolean. Waiters block until the gate
// is raised; a raised gate lets every waiter through until it is cleared.
type Gate struct {
	mu  sync.Mutex
	set bool
	ch  chan struct{}
}

// NewGate creates a gate in the given initial position.
func NewGate(raised bool) *Gate {
	g := &Gate{set: raised, ch: make(chan struct{})}
	if raised {
		close(g.ch)
	}
	return g
}

// Set raises the gate and releases all waiters.
func (g *Gate) Set() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.set {
		g.set = true
		close(g.ch)
	}
}

// Clear lowers the gate; subsequent waiters block.
func (g *Gate) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.set {
		g.set = false
		g.ch = make(chan struct{})
	}
}

// IsSet reports the gate position without blocking.
func (g *Gate) IsSet() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.set
}

// Wait blocks until the gate is raised or the context ends.
func (g *Gate) Wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		if g.set {
			g.mu.Unlock()
			return nil
		}
		ch := g.ch
		g.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// Flag is a one-shot signal: Set marks it, Consume reads and clears it in
// one step so an edge is observed at most once.
type Flag struct {
	v atomic.Bool
}

// Set marks the flag.
func (f *Flag) Set() { f.v.Store(true) }

// Consume reports whether the flag was set and clears it.
func (f *Flag) Consume() bool { return f.v.Swap(false) }

// IsSet reports the flag without clearing it.
func (f *Flag) IsSet() bool { return f.v.Load() }
