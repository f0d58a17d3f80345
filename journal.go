package txstep

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// StepIndex is the position of a step in its transaction. Index 0 is the
// terminal root every chain starts from; user steps start at 1.
type StepIndex int

// EventType defines the types of events that can occur for a step.
type EventType int

const (
	EventStarted EventType = iota
	EventSucceeded
	EventFailed
	EventUndoStarted
	EventUndoFinished
	EventUndoFailed
)

var eventTypeNames = map[EventType]string{
	EventStarted:      "started",
	EventSucceeded:    "succeeded",
	EventFailed:       "failed",
	EventUndoStarted:  "undo_started",
	EventUndoFinished: "undo_finished",
	EventUndoFailed:   "undo_failed",
}

func (e EventType) String() string {
	if s, ok := eventTypeNames[e]; ok {
		return s
	}
	return fmt.Sprintf("unknown event type: %d", int(e))
}

func (e EventType) MarshalText() ([]byte, error) {
	s, ok := eventTypeNames[e]
	if !ok {
		return nil, fmt.Errorf("invalid event type %d", int(e))
	}
	return []byte(s), nil
}

func (e *EventType) UnmarshalText(text []byte) error {
	for k, v := range eventTypeNames {
		if v == string(text) {
			*e = k
			return nil
		}
	}
	return fmt.Errorf("invalid event type %q", text)
}

// State is the lifecycle state of a step.
//
// Pending -> Running -> {Succeeded, Failed}, and independently
// Succeeded -> RollingBack -> {RolledBack, RollbackFailed}.
type State int

const (
	StatePending State = iota
	StateRunning
	StateSucceeded
	StateFailed
	StateRollingBack
	StateRolledBack
	StateRollbackFailed
)

var stateNames = map[State]string{
	StatePending:        "pending",
	StateRunning:        "running",
	StateSucceeded:      "succeeded",
	StateFailed:         "failed",
	StateRollingBack:    "rolling_back",
	StateRolledBack:     "rolled_back",
	StateRollbackFailed: "rollback_failed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("unknown state: %d", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	n, ok := stateNames[s]
	if !ok {
		return nil, fmt.Errorf("invalid state %d", int(s))
	}
	return []byte(n), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for k, v := range stateNames {
		if v == string(text) {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("invalid state %q", text)
}

// Resolved reports whether a step in this state holds a value.
func (s State) Resolved() bool {
	switch s {
	case StateSucceeded, StateRollingBack, StateRolledBack, StateRollbackFailed:
		return true
	}
	return false
}

// next returns the new state for a step after recording the given event.
func (s State) next(eventType EventType) (State, error) {
	switch s {
	case StatePending:
		if eventType == EventStarted {
			return StateRunning, nil
		}
	case StateRunning:
		switch eventType {
		case EventSucceeded:
			return StateSucceeded, nil
		case EventFailed:
			return StateFailed, nil
		}
	case StateSucceeded:
		if eventType == EventUndoStarted {
			return StateRollingBack, nil
		}
	case StateRollingBack:
		switch eventType {
		case EventUndoFinished:
			return StateRolledBack, nil
		case EventUndoFailed:
			return StateRollbackFailed, nil
		}
	}
	return s, &TransitionError{From: s, Event: eventType}
}

// TransitionError is returned for an event that is illegal in the step's
// current state.
type TransitionError struct {
	Step  StepIndex
	From  State
	Event EventType
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal event %s for step %d in state %s", e.Event, e.Step, e.From)
}

// Event is an entry in the journal.
type Event struct {
	TxID TxID      `json:"tx_id"`
	Step StepIndex `json:"step"`
	Name StepName  `json:"name,omitempty"`
	Type EventType `json:"type"`
	At   time.Time `json:"at"`
}

func (e Event) String() string {
	if e.Name != "" {
		return fmt.Sprintf("S%03d %s (%s)", e.Step, e.Type, e.Name)
	}
	return fmt.Sprintf("S%03d %s", e.Step, e.Type)
}

// Journal is the event log of one transaction. It is also the authority on
// each step's state: a transition only happens if its event can be recorded.
type Journal struct {
	txID    TxID
	states  *xsync.MapOf[StepIndex, State]
	observe func(Event)

	mu        sync.Mutex
	unwinding bool
	events    []Event
}

func newJournal(txID TxID, observe func(Event)) *Journal {
	return &Journal{
		txID:    txID,
		states:  xsync.NewMapOf[StepIndex, State](),
		observe: observe,
		events:  make([]Event, 0),
	}
}

// Record applies eventType to the step's state and appends the event. The
// state check and update happen atomically per step.
func (j *Journal) Record(step StepIndex, name StepName, eventType EventType) (Event, error) {
	var terr error
	j.states.Compute(step, func(old State, loaded bool) (State, bool) {
		next, err := old.next(eventType)
		if err != nil {
			terr = err
			return old, !loaded
		}
		return next, false
	})
	if terr != nil {
		if te, ok := terr.(*TransitionError); ok {
			te.Step = step
		}
		return Event{}, terr
	}

	ev := Event{TxID: j.txID, Step: step, Name: name, Type: eventType, At: time.Now()}
	j.mu.Lock()
	switch eventType {
	case EventFailed, EventUndoStarted, EventUndoFinished, EventUndoFailed:
		j.unwinding = true
	}
	j.events = append(j.events, ev)
	j.mu.Unlock()

	if j.observe != nil {
		j.observe(ev)
	}
	return ev, nil
}

// State returns the current state of a step.
func (j *Journal) State(step StepIndex) State {
	s, ok := j.states.Load(step)
	if !ok {
		return StatePending
	}
	return s
}

// Unwinding reports whether any step failed or started compensating.
func (j *Journal) Unwinding() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.unwinding
}

// Events returns a copy of the recorded events in recording order.
func (j *Journal) Events() []Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Event(nil), j.events...)
}

// String renders the journal for humans.
func (j *Journal) String() string {
	j.mu.Lock()
	defer j.mu.Unlock()

	var sb strings.Builder
	sb.WriteString("TX JOURNAL:\n")
	fmt.Fprintf(&sb, "tx id:     %s\n", j.txID)
	direction := "forward"
	if j.unwinding {
		direction = "unwinding"
	}
	fmt.Fprintf(&sb, "direction: %s\n", direction)
	fmt.Fprintf(&sb, "events (%d total):\n\n", len(j.events))
	for i, ev := range j.events {
		fmt.Fprintf(&sb, "%03d %s\n", i+1, ev)
	}
	return sb.String()
}
