package fsm

import (
	"errors"
	"testing"
)

type light int

const (
	red light = iota
	green
	yellow
	broken
)

type record struct {
	canGo   bool
	slow    bool
	actions []string
}

func TestFireFirstMatchWins(t *testing.T) {
	tests := []struct {
		name       string
		canGo      bool
		slow       bool
		wantState  light
		wantAction string
	}{
		{name: "both guards hold", canGo: true, slow: true, wantState: green, wantAction: "go"},
		{name: "only second holds", canGo: false, slow: true, wantState: yellow, wantAction: "slow"},
		{name: "fallback", canGo: false, slow: false, wantState: red, wantAction: "wait"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &record{canGo: tt.canGo, slow: tt.slow}
			table := []Transition[light, *record]{
				{From: red, Guard: func(r *record) bool { return r.canGo }, To: green, Action: func(r *record) { r.actions = append(r.actions, "go") }},
				{From: red, Guard: func(r *record) bool { return r.slow }, To: yellow, Action: func(r *record) { r.actions = append(r.actions, "slow") }},
				{From: red, Guard: Always[*record], To: red, Action: func(r *record) { r.actions = append(r.actions, "wait") }},
				{From: green, Guard: Always[*record], To: red},
				{From: yellow, Guard: Always[*record], To: red},
			}

			m, err := New(red, rec, table)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			if !m.Fire() {
				t.Fatal("Fire() = false, want true")
			}
			if m.State() != tt.wantState {
				t.Errorf("State() = %v, want %v", m.State(), tt.wantState)
			}
			if len(rec.actions) != 1 || rec.actions[0] != tt.wantAction {
				t.Errorf("actions = %v, want [%s]", rec.actions, tt.wantAction)
			}
		})
	}
}

func TestFireUnmatched(t *testing.T) {
	var missed []light
	rec := &record{}
	m, err := New(red, rec, []Transition[light, *record]{
		{From: red, Guard: func(r *record) bool { return r.canGo }, To: green},
		{From: green, Guard: Always[*record], To: red},
	}, WithUnmatched[light, *record](func(s light) { missed = append(missed, s) }))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if m.Fire() {
		t.Fatal("Fire() = true, want false")
	}
	if m.State() != red {
		t.Errorf("State() = %v, want %v", m.State(), red)
	}
	if len(missed) != 1 || missed[0] != red {
		t.Errorf("unmatched hook calls = %v, want [red]", missed)
	}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		table   []Transition[light, *record]
		opts    []Option[light, *record]
		wantErr error
	}{
		{
			name:    "empty table",
			wantErr: ErrEmptyTable,
		},
		{
			name: "nil guard",
			table: []Transition[light, *record]{
				{From: red, To: green},
			},
			wantErr: ErrNilGuard,
		},
		{
			name: "reachable state without exit",
			table: []Transition[light, *record]{
				{From: red, Guard: Always[*record], To: broken},
			},
			wantErr: ErrNoExit,
		},
		{
			name: "terminal state declared",
			table: []Transition[light, *record]{
				{From: red, Guard: Always[*record], To: broken},
			},
			opts: []Option[light, *record]{WithTerminal[light, *record](broken)},
		},
		{
			name: "unreachable state without exit is fine",
			table: []Transition[light, *record]{
				{From: red, Guard: Always[*record], To: red},
				{From: yellow, Guard: Always[*record], To: broken},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(red, &record{}, tt.table, tt.opts...)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("New() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestTableIsCopied(t *testing.T) {
	table := []Transition[light, *record]{
		{From: red, Guard: Always[*record], To: green},
		{From: green, Guard: Always[*record], To: red},
	}
	m, err := New(red, &record{}, table)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	table[0].To = yellow
	m.Fire()
	if m.State() != green {
		t.Errorf("State() = %v, want %v", m.State(), green)
	}
	if m.Len() != 2 {
		t.Errorf("Len() = %d, want 2", m.Len())
	}
}
