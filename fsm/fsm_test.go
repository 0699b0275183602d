package fsm_test

import (
	"testing"

	"github.com/jetperch/fbp/fsm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	stateA fsm.StateID = iota
	stateB
	stateC
)

const eventE fsm.EventID = 1

func buildTable(t *testing.T, extra ...fsm.Transition) *fsm.Table {
	t.Helper()
	transitions := append([]fsm.Transition{
		{Current: fsm.Any, Next: stateA, Event: fsm.Reset, Name: "reset->A"},
	}, extra...)
	table, err := fsm.NewTable(
		[]fsm.State{{ID: stateA, Name: "A"}, {ID: stateB, Name: "B"}, {ID: stateC, Name: "C"}},
		transitions,
	)
	require.NoError(t, err)
	return table
}

// TestSkipSemantics is spec.md §8 scenario 6: table [(A,B,E,h_skip),(A,C,E,null)]
// with h_skip returning Skip — from state A, event E goes to state C, and
// h_skip is called exactly once.
func TestSkipSemantics(t *testing.T) {
	calls := 0
	hSkip := func(m *fsm.Machine, event fsm.EventID) fsm.StateID {
		calls++
		return fsm.Skip
	}

	table := buildTable(t,
		fsm.Transition{Current: stateA, Next: stateB, Event: eventE, Handler: hSkip, Name: "A->B"},
		fsm.Transition{Current: stateA, Next: stateC, Event: eventE, Name: "A->C"},
	)

	m, err := fsm.NewMachine(table, 8)
	require.NoError(t, err)
	require.NoError(t, m.Reset())
	require.Equal(t, stateA, m.State())

	require.NoError(t, m.Event(eventE))
	assert.Equal(t, stateC, m.State())
	assert.Equal(t, 1, calls)
}

// TestResetInvariant is spec.md §8: after reset() the state equals the
// target of the (Any, Reset) transition, and on_enter of that state fires
// exactly once with event Enter.
func TestResetInvariant(t *testing.T) {
	enters := 0
	var lastEvent fsm.EventID
	table, err := fsm.NewTable(
		[]fsm.State{
			{ID: stateA, Name: "A", OnEnter: func(m *fsm.Machine, event fsm.EventID) {
				enters++
				lastEvent = event
			}},
			{ID: stateB, Name: "B"},
		},
		[]fsm.Transition{
			{Current: fsm.Any, Next: stateA, Event: fsm.Reset, Name: "reset->A"},
		},
	)
	require.NoError(t, err)

	m, err := fsm.NewMachine(table, 8)
	require.NoError(t, err)
	require.NoError(t, m.Reset())

	assert.Equal(t, stateA, m.State())
	assert.Equal(t, 1, enters)
	assert.Equal(t, fsm.Enter, lastEvent)
}

func TestNullHandlerReturnStaysWithoutEnterExit(t *testing.T) {
	exits, enters := 0, 0
	table, err := fsm.NewTable(
		[]fsm.State{
			{ID: stateA, Name: "A",
				OnEnter: func(m *fsm.Machine, e fsm.EventID) { enters++ },
				OnExit:  func(m *fsm.Machine, e fsm.EventID) { exits++ }},
			{ID: stateB, Name: "B"},
		},
		[]fsm.Transition{
			{Current: fsm.Any, Next: stateA, Event: fsm.Reset},
			{Current: stateA, Next: stateB, Event: eventE, Handler: func(m *fsm.Machine, e fsm.EventID) fsm.StateID {
				return fsm.Null
			}},
		},
	)
	require.NoError(t, err)

	m, err := fsm.NewMachine(table, 8)
	require.NoError(t, err)
	require.NoError(t, m.Reset())
	require.Equal(t, 1, enters)

	require.NoError(t, m.Event(eventE))
	assert.Equal(t, stateA, m.State(), "Null return must not transition")
	assert.Equal(t, 1, enters, "no re-enter on Null return")
	assert.Equal(t, 0, exits, "no exit on Null return")
}

func TestReentrantEventsAreQueuedNotRecursed(t *testing.T) {
	var order []string
	table, err := fsm.NewTable(
		[]fsm.State{
			{ID: stateA, Name: "A"},
			{ID: stateB, Name: "B", OnEnter: func(m *fsm.Machine, e fsm.EventID) {
				order = append(order, "enter-B")
				// Emitted from within on_enter: must be queued, drained
				// after this dispatch completes, not recursed into.
				_ = m.Event(eventE)
				order = append(order, "after-emit")
			}},
			{ID: stateC, Name: "C", OnEnter: func(m *fsm.Machine, e fsm.EventID) {
				order = append(order, "enter-C")
			}},
		},
		[]fsm.Transition{
			{Current: fsm.Any, Next: stateA, Event: fsm.Reset},
			{Current: stateA, Next: stateB, Event: 2},
			{Current: stateB, Next: stateC, Event: eventE},
		},
	)
	require.NoError(t, err)

	m, err := fsm.NewMachine(table, 8)
	require.NoError(t, err)
	require.NoError(t, m.Reset())
	require.NoError(t, m.Event(2))

	assert.Equal(t, stateC, m.State())
	assert.Equal(t, []string{"enter-B", "after-emit", "enter-C"}, order)
}

func TestRingOverflowIsFatal(t *testing.T) {
	var fatalErr error

	// Fill the ring from within a handler so Event() doesn't drain between
	// pushes (reentrant guard keeps the outer Reset() call draining).
	table, err := fsm.NewTable(
		[]fsm.State{{ID: stateA, Name: "A", OnEnter: func(m *fsm.Machine, e fsm.EventID) {
			_ = m.Event(1)
			_ = m.Event(1)
			_ = m.Event(1)
		}}},
		[]fsm.Transition{{Current: fsm.Any, Next: stateA, Event: fsm.Reset}},
	)
	require.NoError(t, err)
	m, err := fsm.NewMachine(table, 2, fsm.WithFatal(func(err error) { fatalErr = err }))
	require.NoError(t, err)
	_ = m.Reset()
	assert.Error(t, fatalErr)
}

func TestTableValidationAggregatesErrors(t *testing.T) {
	_, err := fsm.NewTable(
		[]fsm.State{{ID: 1, Name: "wrong-index"}},
		[]fsm.Transition{{Current: 5, Next: fsm.Any, Event: fsm.Reset}},
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, fsm.ErrStateIndexMismatch)
	assert.ErrorIs(t, err, fsm.ErrUnknownState)
	assert.ErrorIs(t, err, fsm.ErrTransitionTargetReserved)
}
