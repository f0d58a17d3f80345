// Package future provides pending values: the result of a computation that
// may not have finished yet.
package future

import (
	"context"
	"fmt"
	"runtime/debug"
)

// Value to be returned from a future
type Value = any

// Future represents a value that will become available in the future.
//
// A Future settles exactly once. Any number of goroutines may Await it.
type Future struct {
	done chan struct{}
	val  Value
	err  error
}

// PanicError carries the payload of a recovered panic. The payload is kept
// as-is so callers can inspect whatever was thrown.
type PanicError struct {
	Value any
	Stack []byte
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", p.Value)
}

// Unwrap returns the panic payload when it is itself an error.
func (p *PanicError) Unwrap() error {
	if err, ok := p.Value.(error); ok {
		return err
	}
	return nil
}

// Go runs fn in a goroutine and returns a future for its result.
func Go(ctx context.Context, fn func(context.Context) (Value, error)) *Future {
	f := newFuture()
	go func() {
		v, err := Call(ctx, fn)
		f.settle(v, err)
	}()
	return f
}

// Call invokes fn on the current goroutine, turning a panic into a *PanicError.
func Call(ctx context.Context, fn func(context.Context) (Value, error)) (v Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn(ctx)
}

// Resolved returns a future that already holds v.
func Resolved(v Value) *Future {
	f := newFuture()
	f.settle(v, nil)
	return f
}

// Rejected returns a future that already failed with err.
func Rejected(err error) *Future {
	f := newFuture()
	f.settle(nil, err)
	return f
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) settle(v Value, err error) {
	f.val, f.err = v, err
	close(f.done)
}

// Done is closed once the future has settled.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the future settles or ctx is done.
func (f *Future) Await(ctx context.Context) (Value, error) {
	select {
	case <-f.done:
		return f.val, f.err
	default:
	}
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Then chains a continuation that runs once this future resolved successfully.
// A failure skips fn and is passed through unchanged.
func (f *Future) Then(fn func(context.Context, Value) (Value, error)) *Future {
	return Go(context.Background(), func(ctx context.Context) (Value, error) {
		<-f.done
		if f.err != nil {
			return nil, f.err
		}
		return fn(ctx, f.val)
	})
}
