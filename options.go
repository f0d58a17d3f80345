package txstep

import (
	"io"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// CascadeMode controls how Run relates to the compensation cascade started
// by a failed forward action.
type CascadeMode int

const (
	// CascadeDetached starts the cascade and returns from Run without waiting
	// for it. Its outcome is only visible through Step.Cascade, the logger and
	// the observer.
	CascadeDetached CascadeMode = iota
	// CascadeAwaited waits for the cascade to settle before Run returns. Run
	// still returns the forward action's error.
	CascadeAwaited
)

// UndoPolicy controls what a rollback cascade does when a backward action fails.
type UndoPolicy int

const (
	// StopOnUndoError leaves the remaining predecessors untouched.
	StopOnUndoError UndoPolicy = iota
	// ContinueOnUndoError keeps compensating predecessors and reports every
	// backward failure joined together.
	ContinueOnUndoError
)

type options struct {
	id       TxID
	logger   *slog.Logger
	tracer   trace.Tracer
	meter    metric.Meter
	cascade  CascadeMode
	undo     UndoPolicy
	observer func(Event)
}

// Option configures a transaction created with New.
type Option func(*options)

func defaultOptions() options {
	return options{
		id:     NewTxID(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer: tracer,
		meter:  meter,
	}
}

// WithLogger sets the logger. A nil logger keeps the default, which discards.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTracer sets the tracer used for Run and Rollback spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithMeter sets the meter the step counters are created from.
func WithMeter(m metric.Meter) Option {
	return func(o *options) {
		if m != nil {
			o.meter = m
		}
	}
}

func WithID(id TxID) Option {
	return func(o *options) {
		o.id = id
	}
}

func WithCascade(mode CascadeMode) Option {
	return func(o *options) {
		o.cascade = mode
	}
}

func WithUndoPolicy(p UndoPolicy) Option {
	return func(o *options) {
		o.undo = p
	}
}

// WithObserver registers fn to be called after every journal event. fn runs
// on the goroutine that caused the event and must not block.
func WithObserver(fn func(Event)) Option {
	return func(o *options) {
		o.observer = fn
	}
}
