// Package fsm implements the generic, priority-ordered transition-table
// state machine described in spec.md §4.1: a table of states with optional
// enter/exit handlers, a table of transitions scanned in priority order,
// and a bounded, reentrancy-guarded event queue.
package fsm

import (
	"errors"
	"fmt"

	"github.com/jetperch/fbp/fbplog"
	"go.uber.org/multierr"
)

// ID is the small-integer type shared by StateID and EventID. Non-negative
// values are caller-defined states/events; the negative values below are
// reserved sentinels (spec.md §3).
type ID int32

const (
	// Null means "no state" (the machine's state before its first reset)
	// when used as a state, or "matched, stay put" when returned from a
	// transition handler.
	Null ID = -1
	// Any matches any current state or any event in a transition, and
	// means "take the declared transition" when returned from a handler.
	Any ID = -2
	// Skip means "this transition does not apply; keep scanning" when
	// returned from a transition handler.
	Skip ID = -3

	// Enter and Exit are the synthetic events delivered to a state's
	// OnEnter/OnExit handlers.
	Enter ID = -4
	Exit  ID = -5
	// Reset is the synthetic event emitted by Machine.Reset.
	Reset ID = -6
)

type StateID = ID
type EventID = ID

// Handler is a transition handler. Its return value is interpreted per
// spec.md §4.1: Null (stay), Any (take the declared transition), Skip (keep
// scanning), or any other StateID (override the transition's target).
type Handler func(m *Machine, event EventID) StateID

// EnterExit is an on_enter/on_exit state handler.
type EnterExit func(m *Machine, event EventID)

// State is one row of the state table.
type State struct {
	ID      StateID
	Name    string
	OnEnter EnterExit
	OnExit  EnterExit
}

// Transition is one row of the transition table, in priority order: the
// first transition in the slice whose Current and Event both match wins.
type Transition struct {
	Current StateID
	Next    StateID
	Event   EventID
	Handler Handler
	Name    string
}

var (
	// ErrRingFull reports FsmInvariantViolation per spec.md §7: an event
	// was emitted faster than the machine could drain its queue.
	ErrRingFull = errors.New("fsm: event ring overflow")
	// ErrEmptyStateTable is a table-construction error.
	ErrEmptyStateTable = errors.New("fsm: state table must not be empty")
	// ErrStateIndexMismatch reports a state whose ID does not equal its
	// position in the table, per spec.md §9 ("validation checks ... run
	// at init").
	ErrStateIndexMismatch = errors.New("fsm: state table entry index does not match its ID")
	// ErrUnknownState reports a transition referencing an undeclared
	// state.
	ErrUnknownState = errors.New("fsm: transition references an undeclared state")
	// ErrTransitionTargetReserved reports a transition whose Next is a
	// sentinel rather than a concrete state.
	ErrTransitionTargetReserved = errors.New("fsm: transition Next must be a concrete state, not a sentinel")
)

// Table is a validated (state table, transition table) pair.
type Table struct {
	states      []State
	transitions []Transition
}

// NewTable validates and builds a Table. All structural problems found are
// aggregated via go.uber.org/multierr and returned together, rather than
// stopping at the first one — a table with several mistakes is reported in
// one pass.
func NewTable(states []State, transitions []Transition) (*Table, error) {
	var errs error
	if len(states) == 0 {
		errs = multierr.Append(errs, ErrEmptyStateTable)
	}
	known := make(map[StateID]bool, len(states))
	for i, s := range states {
		if s.ID != StateID(i) {
			errs = multierr.Append(errs, fmt.Errorf("%w: state %d (%q) has ID %d", ErrStateIndexMismatch, i, s.Name, s.ID))
		}
		known[s.ID] = true
	}
	for i, t := range transitions {
		if t.Current != Any && !known[t.Current] {
			errs = multierr.Append(errs, fmt.Errorf("%w: transition %d (%q) current=%d", ErrUnknownState, i, t.Name, t.Current))
		}
		if t.Next == Any || t.Next == Skip || t.Next == Null {
			errs = multierr.Append(errs, fmt.Errorf("%w: transition %d (%q) next=%d", ErrTransitionTargetReserved, i, t.Name, t.Next))
		} else if !known[t.Next] {
			errs = multierr.Append(errs, fmt.Errorf("%w: transition %d (%q) next=%d", ErrUnknownState, i, t.Name, t.Next))
		}
	}
	if errs != nil {
		return nil, errs
	}
	return &Table{states: states, transitions: transitions}, nil
}

func (t *Table) state(id StateID) *State {
	if id < 0 || int(id) >= len(t.states) {
		return nil
	}
	return &t.states[id]
}

// Machine is a running instance of a Table: current state plus a bounded,
// reentrancy-guarded event queue.
type Machine struct {
	table     *Table
	state     StateID
	ring      []EventID
	head      int
	count     int
	reentrant bool
	logger    fbplog.Logger
	fatal     func(error)
}

// Option configures a Machine at construction.
type Option func(*Machine)

// WithLogger injects a logger; defaults to fbplog.Nop.
func WithLogger(l fbplog.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// WithFatal overrides the fatal-invariant hook; defaults to logging then
// panicking. Tests substitute a non-exiting hook to observe the condition.
func WithFatal(f func(error)) Option {
	return func(m *Machine) { m.fatal = f }
}

// NewMachine creates a Machine over table with a ring buffer of the given
// power-of-two size (spec.md §4.1 suggests 8). The machine starts in the
// Null pseudo-state; call Reset to enter the table's initial state.
func NewMachine(table *Table, ringSize int, opts ...Option) (*Machine, error) {
	if ringSize <= 0 || ringSize&(ringSize-1) != 0 {
		return nil, fmt.Errorf("fsm: ring size %d must be a positive power of two", ringSize)
	}
	m := &Machine{
		table:  table,
		state:  Null,
		ring:   make([]EventID, ringSize),
		logger: fbplog.Nop{},
	}
	for _, o := range opts {
		o(m)
	}
	if m.fatal == nil {
		m.fatal = m.defaultFatal
	}
	return m, nil
}

func (m *Machine) defaultFatal(err error) {
	m.logger.Error("fsm: fatal invariant violation", "error", err)
	panic(err)
}

// State returns the machine's current state.
func (m *Machine) State() StateID { return m.state }

func (m *Machine) push(e EventID) error {
	if m.count == len(m.ring) {
		err := fmt.Errorf("%w: state=%d event=%d", ErrRingFull, m.state, e)
		m.fatal(err)
		return err
	}
	tail := (m.head + m.count) % len(m.ring)
	m.ring[tail] = e
	m.count++
	return nil
}

func (m *Machine) pop() (EventID, bool) {
	if m.count == 0 {
		return 0, false
	}
	e := m.ring[m.head]
	m.head = (m.head + 1) % len(m.ring)
	m.count--
	return e, true
}

// Event delivers e to the machine. If a handler is already running
// (reentrant), e is queued and this call returns immediately — the
// outer-most Event call drains it. Otherwise the ring is drained FIFO until
// empty, dispatching at most one transition per event.
func (m *Machine) Event(e EventID) error {
	if err := m.push(e); err != nil {
		return err
	}
	if m.reentrant {
		return nil
	}
	m.reentrant = true
	defer func() { m.reentrant = false }()
	for {
		next, ok := m.pop()
		if !ok {
			return nil
		}
		m.dispatchOne(next)
	}
}

// Reset emits the synthetic Reset event; the initial state before the first
// Reset is Null.
func (m *Machine) Reset() error { return m.Event(Reset) }

func (m *Machine) dispatchOne(e EventID) {
	for _, t := range m.table.transitions {
		if t.Current != Any && t.Current != m.state {
			continue
		}
		if t.Event != Any && t.Event != e {
			continue
		}
		target := t.Next
		if t.Handler != nil {
			switch ret := t.Handler(m, e); ret {
			case Null:
				return
			case Skip:
				continue
			case Any:
				// take transition as declared
			default:
				target = ret
			}
		}
		m.transition(target, e)
		return
	}
	m.logger.Debug("fsm: no matching transition", "state", m.state, "event", e)
}

func (m *Machine) transition(target StateID, event EventID) {
	from := m.state
	if s := m.table.state(from); s != nil && s.OnExit != nil {
		s.OnExit(m, Exit)
	}
	m.state = target
	if s := m.table.state(target); s != nil && s.OnEnter != nil {
		s.OnEnter(m, Enter)
	}
	m.logger.Debug("fsm: transition", "from", from, "to", target, "event", event)
}
