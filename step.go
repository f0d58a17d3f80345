package txstep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fortressi/txstep/future"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Step is a handle to one step of a transaction. Each step pairs a forward
// action with an optional backward action and depends on the value of the
// step it was chained from.
type Step struct {
	tx    *Tx
	index StepIndex
}

// New starts a new transaction whose first step runs forward. backward may be
// nil if the step needs no compensation.
func New(forward ForwardFunc, backward BackwardFunc, opts ...Option) *Step {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return newTx(o).append(rootIndex, forward, backward)
}

// Chain appends a step that runs after s and receives its value.
func (s *Step) Chain(forward ForwardFunc, backward BackwardFunc) *Step {
	return s.tx.append(s.index, forward, backward)
}

// Run executes every step up to and including s, in chain order. It returns
// the value produced by s, or the error of the first step that failed,
// unchanged.
//
// A step runs at most once; calling Run again, or running a chain whose
// predecessor already ran, fails with ErrAlreadyRun. When the forward action
// of s fails, the completed predecessors are compensated in reverse order.
func (s *Step) Run(ctx context.Context) (Value, error) {
	return s.tx.run(ctx, s.index)
}

// Start runs the chain on a new goroutine.
func (s *Step) Start(ctx context.Context) *future.Future {
	return future.Go(ctx, func(ctx context.Context) (Value, error) {
		return s.Run(ctx)
	})
}

// Rollback compensates s and then its predecessors, newest first. s must have
// run successfully. Under StopOnUndoError the first failing backward action
// ends the cascade and its error is returned unchanged.
func (s *Step) Rollback(ctx context.Context) error {
	return s.tx.rollback(ctx, s.index)
}

// Value returns the step's resolved value. ok is false unless the forward
// action completed successfully.
func (s *Step) Value() (v Value, ok bool) {
	if !s.State().Resolved() {
		return nil, false
	}
	s.tx.mu.RLock()
	defer s.tx.mu.RUnlock()
	return s.tx.records[s.index].value, true
}

func (s *Step) State() State {
	return s.tx.journal.State(s.index)
}

// RollbackReason returns the error that made this step start a rollback
// cascade, if any.
func (s *Step) RollbackReason() error {
	s.tx.mu.RLock()
	defer s.tx.mu.RUnlock()
	return s.tx.records[s.index].reason
}

// Cascade returns the rollback cascade started when this step's forward
// action failed, or nil. Awaiting it yields the cascade's error.
func (s *Step) Cascade() *future.Future {
	s.tx.mu.RLock()
	defer s.tx.mu.RUnlock()
	return s.tx.records[s.index].cascade
}

func (s *Step) SetName(name StepName) error {
	return s.tx.setName(s.tx.record(s.index), name)
}

func (s *Step) Name() StepName {
	return s.tx.nameOf(s.tx.record(s.index))
}

func (s *Step) Index() StepIndex {
	return s.index
}

// Prev returns the step s was chained from, or nil for the first step.
func (s *Step) Prev() *Step {
	return s.tx.Step(s.tx.record(s.index).prev)
}

func (s *Step) Tx() *Tx {
	return s.tx
}

func (s *Step) String() string {
	if name := s.Name(); name != "" {
		return fmt.Sprintf("step %d (%s)", s.index, name)
	}
	return fmt.Sprintf("step %d", s.index)
}

func (tx *Tx) run(ctx context.Context, i StepIndex) (Value, error) {
	if i == rootIndex {
		return nil, nil
	}
	r := tx.record(i)
	name := tx.nameOf(r)
	if _, err := tx.journal.Record(i, name, EventStarted); err != nil {
		return nil, &StepError{Index: i, Name: name, Err: ErrAlreadyRun}
	}

	prev, err := tx.run(ctx, r.prev)
	if err != nil {
		tx.mark(r, name, EventFailed)
		return nil, err
	}

	attrs := tx.spanAttrs(i, name)
	ctx, span := tx.opts.tracer.Start(ctx, "txstep.Run", trace.WithAttributes(attrs...))
	defer span.End()
	tx.metrics.init(tx.opts.meter, tx.opts.logger)
	add(ctx, tx.metrics.runs, metricAttrs(name)...)
	tx.opts.logger.Debug("step started", tx.logAttrs(i, name)...)

	v, err := future.Call(ctx, func(ctx context.Context) (Value, error) {
		v, err := r.forward(ctx, prev)
		if err != nil {
			return nil, err
		}
		return await(ctx, v)
	})
	if err != nil {
		tx.mu.Lock()
		r.reason = err
		tx.mu.Unlock()
		tx.mark(r, name, EventFailed)
		add(ctx, tx.metrics.failures, metricAttrs(name)...)
		span.RecordError(err)
		span.SetStatus(codes.Error, "forward action failed")
		tx.opts.logger.Info("step failed", append(tx.logAttrs(i, name), slog.Any("error", err))...)
		tx.startCascade(ctx, r, name)
		return nil, err
	}

	tx.mu.Lock()
	r.value = v
	if r.name != "" {
		tx.values.Set(r.name, v)
	}
	tx.mu.Unlock()
	tx.mark(r, name, EventSucceeded)
	tx.opts.logger.Debug("step succeeded", tx.logAttrs(i, name)...)
	return v, nil
}

// startCascade compensates the predecessors of a step whose forward action
// failed. The step itself has nothing to compensate.
func (tx *Tx) startCascade(ctx context.Context, r *record, name StepName) {
	ctx = context.WithoutCancel(ctx)
	tx.opts.logger.Info("starting rollback cascade",
		append(tx.logAttrs(r.index, name), slog.Int("from_step", int(r.prev)))...)

	f := future.Go(ctx, func(ctx context.Context) (Value, error) {
		err := tx.rollback(ctx, r.prev)
		if err != nil {
			tx.opts.logger.Error("rollback cascade failed",
				append(tx.logAttrs(r.index, name), slog.Any("error", err))...)
		}
		return nil, err
	})
	tx.mu.Lock()
	r.cascade = f
	tx.mu.Unlock()

	if tx.opts.cascade == CascadeAwaited {
		_, _ = f.Await(ctx)
	}
}

func (tx *Tx) rollback(ctx context.Context, i StepIndex) error {
	if i == rootIndex {
		return nil
	}
	r := tx.record(i)
	name := tx.nameOf(r)
	if _, err := tx.journal.Record(i, name, EventUndoStarted); err != nil {
		var te *TransitionError
		if errors.As(err, &te) && te.From.Resolved() {
			return &StepError{Index: i, Name: name, Err: ErrAlreadyRolledBack}
		}
		return &StepError{Index: i, Name: name, Err: ErrNotRun}
	}

	attrs := tx.spanAttrs(i, name)
	ctx, span := tx.opts.tracer.Start(ctx, "txstep.Rollback", trace.WithAttributes(attrs...))
	defer span.End()
	tx.metrics.init(tx.opts.meter, tx.opts.logger)

	var undoErr error
	if r.backward != nil {
		tx.mu.RLock()
		value := r.value
		tx.mu.RUnlock()
		_, undoErr = future.Call(ctx, func(ctx context.Context) (Value, error) {
			return nil, r.backward(ctx, value)
		})
	}

	if undoErr != nil {
		tx.mark(r, name, EventUndoFailed)
		add(ctx, tx.metrics.undoFailed, metricAttrs(name)...)
		span.RecordError(undoErr)
		span.SetStatus(codes.Error, "backward action failed")
		tx.opts.logger.Warn("step rollback failed", append(tx.logAttrs(i, name), slog.Any("error", undoErr))...)
		if tx.opts.undo == StopOnUndoError {
			return undoErr
		}
	} else {
		tx.mark(r, name, EventUndoFinished)
		add(ctx, tx.metrics.rollbacks, metricAttrs(name)...)
		tx.opts.logger.Debug("step rolled back", tx.logAttrs(i, name)...)
	}

	prevErr := tx.rollback(ctx, r.prev)
	if undoErr == nil {
		return prevErr
	}
	if prevErr == nil {
		return undoErr
	}
	return errors.Join(undoErr, prevErr)
}

// mark records a transition this goroutine owns. Failing here means the
// journal and the step disagree, which is a bug.
func (tx *Tx) mark(r *record, name StepName, eventType EventType) {
	if _, err := tx.journal.Record(r.index, name, eventType); err != nil {
		panic(fmt.Sprintf("txstep: %v", err))
	}
}

func (tx *Tx) spanAttrs(i StepIndex, name StepName) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("tx.id", tx.opts.id.String()),
		attribute.Int("step.index", int(i)),
		attribute.String("step.name", string(name)),
	}
}

func (tx *Tx) logAttrs(i StepIndex, name StepName) []any {
	attrs := []any{
		slog.String("tx", tx.opts.id.String()),
		slog.Int("step", int(i)),
	}
	if name != "" {
		attrs = append(attrs, slog.String("name", string(name)))
	}
	return attrs
}
