package txstep

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateTransitions(t *testing.T) {
	legal := []struct {
		from  State
		event EventType
		to    State
	}{
		{StatePending, EventStarted, StateRunning},
		{StateRunning, EventSucceeded, StateSucceeded},
		{StateRunning, EventFailed, StateFailed},
		{StateSucceeded, EventUndoStarted, StateRollingBack},
		{StateRollingBack, EventUndoFinished, StateRolledBack},
		{StateRollingBack, EventUndoFailed, StateRollbackFailed},
	}
	for _, tc := range legal {
		got, err := tc.from.next(tc.event)
		require.NoError(t, err, "%s + %s", tc.from, tc.event)
		assert.Equal(t, tc.to, got)
	}

	illegal := []struct {
		from  State
		event EventType
	}{
		{StatePending, EventSucceeded},
		{StatePending, EventUndoStarted},
		{StateRunning, EventStarted},
		{StateFailed, EventUndoStarted},
		{StateSucceeded, EventStarted},
		{StateRolledBack, EventUndoStarted},
		{StateRollbackFailed, EventUndoStarted},
	}
	for _, tc := range illegal {
		_, err := tc.from.next(tc.event)
		var te *TransitionError
		require.ErrorAs(t, err, &te, "%s + %s", tc.from, tc.event)
		assert.Equal(t, tc.from, te.From)
	}
}

func TestJournalRecord(t *testing.T) {
	j := newJournal(NewTxID(), nil)
	assert.Equal(t, StatePending, j.State(1))

	_, err := j.Record(1, "debit", EventStarted)
	require.NoError(t, err)
	assert.False(t, j.Unwinding())

	_, err = j.Record(1, "debit", EventStarted)
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StepIndex(1), te.Step)
	assert.Equal(t, StateRunning, j.State(1))

	_, err = j.Record(2, "", EventSucceeded)
	require.Error(t, err)
	assert.Equal(t, StatePending, j.State(2), "a rejected event leaves no state behind")

	_, err = j.Record(1, "debit", EventFailed)
	require.NoError(t, err)
	assert.True(t, j.Unwinding())

	events := j.Events()
	require.Len(t, events, 2)
	assert.Equal(t, EventStarted, events[0].Type)
	assert.Equal(t, EventFailed, events[1].Type)
	assert.False(t, events[1].At.Before(events[0].At))
}

func TestJournalObservesChain(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	observer := func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, ev.String())
	}

	a := New(constant(1), NoOpBackward, WithObserver(observer))
	require.NoError(t, a.SetName("reserve"))
	b := a.Chain(failWith(errors.New("boom")), nil)
	_, err := b.Run(context.Background())
	require.Error(t, err)
	require.NoError(t, awaitCascade(t, b))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"S002 started",
		"S001 started (reserve)",
		"S001 succeeded (reserve)",
		"S002 failed",
		"S001 undo_started (reserve)",
		"S001 undo_finished (reserve)",
	}, seen)

	dump := a.Tx().Journal().String()
	assert.True(t, strings.HasPrefix(dump, "TX JOURNAL:\n"))
	assert.Contains(t, dump, "direction: unwinding")
	assert.Contains(t, dump, "events (6 total)")
	assert.Contains(t, dump, "006 S001 undo_finished (reserve)")
}

func TestEventJSON(t *testing.T) {
	id := NewTxID()
	j := newJournal(id, nil)
	_, err := j.Record(3, "ship", EventStarted)
	require.NoError(t, err)

	data, err := json.Marshal(j.Events())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"started"`)
	assert.Contains(t, string(data), `"tx_id":"`+id.String()+`"`)

	var decoded []Event
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, id, decoded[0].TxID)
	assert.Equal(t, StepIndex(3), decoded[0].Step)
	assert.Equal(t, StepName("ship"), decoded[0].Name)
	assert.Equal(t, EventStarted, decoded[0].Type)
}

func TestStateText(t *testing.T) {
	for s := StatePending; s <= StateRollbackFailed; s++ {
		text, err := s.MarshalText()
		require.NoError(t, err)

		var back State
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, s, back)
	}

	var s State
	assert.Error(t, s.UnmarshalText([]byte("exploded")))
	_, err := State(99).MarshalText()
	assert.Error(t, err)
	assert.Equal(t, "unknown state: 99", State(99).String())
}
