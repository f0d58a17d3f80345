package txstep

import (
	"context"
	"fmt"

	"github.com/fortressi/txstep/future"
)

// Value is what a forward action produces and its successor consumes.
type Value = future.Value

// ForwardFunc is the primary effect of a step. prev is the predecessor's
// resolved value, nil for the first step of a chain.
//
// The returned value may be Pending, in which case it is awaited and its
// outcome becomes the step's outcome.
type ForwardFunc func(ctx context.Context, prev Value) (Value, error)

// BackwardFunc compensates a step. It receives the step's own resolved value.
type BackwardFunc func(ctx context.Context, value Value) error

// Pending is a value that is still being computed, such as *future.Future.
type Pending interface {
	Await(ctx context.Context) (Value, error)
}

// NoOpBackward is an explicit compensation that does nothing. It differs from
// a nil backward only in intent.
func NoOpBackward(context.Context, Value) error {
	return nil
}

// Do adapts a forward action that needs neither context nor input.
func Do(fn func() (Value, error)) ForwardFunc {
	return func(context.Context, Value) (Value, error) {
		return fn()
	}
}

// Forward adapts a strongly typed forward action. A nil input becomes the
// zero In; any other value of the wrong type fails with *TypeError.
func Forward[In, Out any](fn func(ctx context.Context, in In) (Out, error)) ForwardFunc {
	return func(ctx context.Context, prev Value) (Value, error) {
		in, err := as[In](prev)
		if err != nil {
			return nil, err
		}
		return fn(ctx, in)
	}
}

// Backward adapts a strongly typed backward action.
func Backward[T any](fn func(ctx context.Context, value T) error) BackwardFunc {
	return func(ctx context.Context, value Value) error {
		v, err := as[T](value)
		if err != nil {
			return err
		}
		return fn(ctx, v)
	}
}

func as[T any](v Value) (T, error) {
	var zero T
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, &TypeError{Want: fmt.Sprintf("%T", &zero)[1:], Got: v}
	}
	return t, nil
}

// await resolves v until it is no longer Pending.
func await(ctx context.Context, v Value) (Value, error) {
	for {
		p, ok := v.(Pending)
		if !ok {
			return v, nil
		}
		var err error
		if v, err = p.Await(ctx); err != nil {
			return nil, err
		}
	}
}
