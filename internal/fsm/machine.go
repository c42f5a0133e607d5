// Package fsm implements a small Mealy-style state machine driven by an
// ordered table of guarded transitions.
package fsm

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyTable is returned when a machine is built without any transitions.
	ErrEmptyTable = errors.New("transition table is empty")

	// ErrNilGuard is returned when a transition has no guard.
	ErrNilGuard = errors.New("transition guard is nil")

	// ErrNoExit is returned when a state reachable from the initial state has
	// no outgoing transition and was not declared terminal.
	ErrNoExit = errors.New("reachable state has no outgoing transition")
)

// Transition is a single row of the transition table. Action runs before the
// machine moves to To and may be nil.
type Transition[S comparable, C any] struct {
	From   S
	Guard  func(C) bool
	To     S
	Action func(C)
}

// Option configures a Machine at construction time.
type Option[S comparable, C any] func(*Machine[S, C])

// WithTerminal declares states that are allowed to have no outgoing rule.
func WithTerminal[S comparable, C any](states ...S) Option[S, C] {
	return func(m *Machine[S, C]) {
		for _, s := range states {
			m.terminal[s] = struct{}{}
		}
	}
}

// WithUnmatched sets a hook invoked when Fire finds no matching rule.
func WithUnmatched[S comparable, C any](fn func(S)) Option[S, C] {
	return func(m *Machine[S, C]) {
		m.onUnmatched = fn
	}
}

// Machine holds the current state, the fixed transition table and the
// concrete state record that guards and actions operate on.
type Machine[S comparable, C any] struct {
	state S
	ctx   C
	table []Transition[S, C]

	terminal    map[S]struct{}
	onUnmatched func(S)
}

// New validates the table and returns a machine positioned at initial.
// The table is copied; later changes to the caller's slice have no effect.
func New[S comparable, C any](initial S, ctx C, table []Transition[S, C], opts ...Option[S, C]) (*Machine[S, C], error) {
	m := &Machine[S, C]{
		state:    initial,
		ctx:      ctx,
		table:    append([]Transition[S, C](nil), table...),
		terminal: make(map[S]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Machine[S, C]) validate() error {
	if len(m.table) == 0 {
		return ErrEmptyTable
	}

	exits := make(map[S]bool)
	for i, t := range m.table {
		if t.Guard == nil {
			return fmt.Errorf("rule %d (%v -> %v): %w", i, t.From, t.To, ErrNilGuard)
		}
		exits[t.From] = true
	}

	// walk every state reachable from the initial one
	seen := map[S]bool{m.state: true}
	queue := []S{m.state}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]

		if !exits[s] {
			if _, ok := m.terminal[s]; !ok {
				return fmt.Errorf("state %v: %w", s, ErrNoExit)
			}
			continue
		}

		for _, t := range m.table {
			if t.From == s && !seen[t.To] {
				seen[t.To] = true
				queue = append(queue, t.To)
			}
		}
	}
	return nil
}

// Fire applies the first rule whose origin is the current state and whose
// guard holds. It reports whether a rule was applied. Table order is the
// priority order among overlapping guards.
func (m *Machine[S, C]) Fire() bool {
	for _, t := range m.table {
		if t.From != m.state || !t.Guard(m.ctx) {
			continue
		}
		if t.Action != nil {
			t.Action(m.ctx)
		}
		m.state = t.To
		return true
	}

	if m.onUnmatched != nil {
		m.onUnmatched(m.state)
	}
	return false
}

// State returns the current state.
func (m *Machine[S, C]) State() S {
	return m.state
}

// Len returns the number of rules in the table.
func (m *Machine[S, C]) Len() int {
	return len(m.table)
}

// Always is a guard that always holds.
func Always[C any](C) bool {
	return true
}
