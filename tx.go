package txstep

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/fortressi/txstep/dag"
	"github.com/fortressi/txstep/future"
	"github.com/fortressi/txstep/set"
	"github.com/google/uuid"
	"github.com/tidwall/btree"
	"gonum.org/v1/gonum/graph/encoding"
)

// TxID uniquely identifies a transaction.
type TxID struct {
	uuid.UUID
}

func NewTxID() TxID {
	return TxID{UUID: uuid.New()}
}

// ParseTxID parses the canonical string form of a TxID.
func ParseTxID(s string) (TxID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return TxID{}, fmt.Errorf("invalid tx id %q: %w", s, err)
	}
	return TxID{UUID: id}, nil
}

// StepName is an optional human readable name, unique within a transaction.
type StepName string

func (s StepName) String() string {
	return string(s)
}

// rootIndex is the terminal predecessor of every chain. Running it always
// succeeds with no value and rolling it back always succeeds.
const rootIndex StepIndex = 0

type record struct {
	index    StepIndex
	prev     StepIndex
	forward  ForwardFunc
	backward BackwardFunc

	// guarded by Tx.mu
	name    StepName
	value   Value
	reason  error
	cascade *future.Future
}

// Tx owns the steps of one chain. Steps are stored in an append-only arena
// and refer to their predecessor by index, so a chain cannot form a cycle.
type Tx struct {
	opts    options
	journal *Journal
	metrics counters

	mu      sync.RWMutex
	records []*record
	names   set.Set[StepName]
	values  *btree.Map[StepName, Value]
}

func newTx(opts options) *Tx {
	return &Tx{
		opts:    opts,
		journal: newJournal(opts.id, opts.observer),
		records: []*record{{index: rootIndex, prev: -1}},
		values:  btree.NewMap[StepName, Value](16),
	}
}

func (tx *Tx) append(prev StepIndex, forward ForwardFunc, backward BackwardFunc) *Step {
	if forward == nil {
		forward = func(_ context.Context, _ Value) (Value, error) { return nil, nil }
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()
	idx := StepIndex(len(tx.records))
	tx.records = append(tx.records, &record{
		index:    idx,
		prev:     prev,
		forward:  forward,
		backward: backward,
	})
	return &Step{tx: tx, index: idx}
}

func (tx *Tx) record(i StepIndex) *record {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return tx.records[i]
}

func (tx *Tx) nameOf(r *record) StepName {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return r.name
}

func (tx *Tx) setName(r *record, name StepName) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if r.name != "" {
		return &StepError{Index: r.index, Name: r.name, Err: fmt.Errorf("step already named")}
	}
	if !tx.names.Insert(name) {
		return &StepError{Index: r.index, Name: name, Err: ErrDuplicateName}
	}
	r.name = name
	if tx.journal.State(r.index).Resolved() {
		tx.values.Set(name, r.value)
	}
	return nil
}

// ID returns the transaction id.
func (tx *Tx) ID() TxID {
	return tx.opts.id
}

// Journal returns the transaction's event log.
func (tx *Tx) Journal() *Journal {
	return tx.journal
}

// Len returns the number of steps, excluding the terminal root.
func (tx *Tx) Len() int {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return len(tx.records) - 1
}

// Step returns the handle for the step at index i, or nil.
func (tx *Tx) Step(i StepIndex) *Step {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	if i <= rootIndex || int(i) >= len(tx.records) {
		return nil
	}
	return &Step{tx: tx, index: i}
}

// Steps returns handles for all steps in creation order.
func (tx *Tx) Steps() []*Step {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	steps := make([]*Step, 0, len(tx.records)-1)
	for _, r := range tx.records[1:] {
		steps = append(steps, &Step{tx: tx, index: r.index})
	}
	return steps
}

// Lookup returns the resolved value of the named step.
func (tx *Tx) Lookup(name StepName) (Value, bool) {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return tx.values.Get(name)
}

// Names returns the names of resolved steps in lexical order.
func (tx *Tx) Names() []StepName {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return tx.values.Keys()
}

// LookupTyped returns the resolved value of the named step if it has type R.
func LookupTyped[R any](tx *Tx, name StepName) (R, bool) {
	var zero R
	v, ok := tx.Lookup(name)
	if !ok {
		return zero, false
	}
	r, ok := v.(R)
	if !ok {
		return zero, false
	}
	return r, true
}

// Graph renders the arena as a graph: one node per step, labelled with its
// name and state, and one edge from each predecessor to its successor.
func (tx *Tx) Graph() (*dag.Graph, error) {
	tx.mu.RLock()
	defer tx.mu.RUnlock()

	g := dag.New("tx")
	if err := g.SetAttribute(encoding.Attribute{Key: "label", Value: strconv.Quote(tx.opts.id.String())}); err != nil {
		return nil, err
	}
	for _, r := range tx.records {
		label := "(root)"
		if r.index != rootIndex {
			label = fmt.Sprintf("%d", r.index)
			if r.name != "" {
				label = string(r.name)
			}
			label += "\n" + tx.journal.State(r.index).String()
		}
		if _, err := g.AddNodeWithID(int64(r.index), encoding.Attribute{Key: "label", Value: strconv.Quote(label)}); err != nil {
			return nil, err
		}
	}
	for _, r := range tx.records[1:] {
		if err := g.Link(int64(r.prev), int64(r.index)); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// ExportToDot renders the transaction in Graphviz .dot format.
func (tx *Tx) ExportToDot() (string, error) {
	g, err := tx.Graph()
	if err != nil {
		return "", err
	}
	return g.ExportToDot()
}
