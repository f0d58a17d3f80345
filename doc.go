// Package txstep implements compensating step chains (sagas) in Go.
//
// A chain is a sequence of steps. Each step pairs a forward action with an
// optional backward action that undoes it. Steps run strictly in order and
// each forward action receives the value produced by its predecessor. When a
// forward action fails, the steps that already completed are compensated by
// running their backward actions newest first.
//
// Overview
//
//  1. Create the first step with New, passing its forward and backward
//     actions. Forward and Backward adapt strongly typed functions.
//  2. Extend the chain with Step.Chain. Each call returns the new tail.
//  3. Call Run on the tail. It runs every step up to the tail and returns the
//     tail's value, or the first error, unchanged.
//  4. Call Rollback on a step that ran successfully to compensate it and all
//     of its predecessors explicitly.
//
// A forward failure starts the compensation cascade on its own goroutine and
// Run does not wait for it by default. Use Step.Cascade to await it, or
// WithCascade(CascadeAwaited) to make Run wait. A failing backward action
// stops the cascade unless WithUndoPolicy(ContinueOnUndoError) is set.
//
// Every state change is recorded in the transaction's Journal, logged with
// log/slog and traced with OpenTelemetry.
//
// Example:
//
//	reserve := txstep.New(
//		txstep.Forward(func(ctx context.Context, _ struct{}) (*Reservation, error) { ... }),
//		txstep.Backward(func(ctx context.Context, r *Reservation) error { ... }),
//	)
//	charge := reserve.Chain(
//		txstep.Forward(func(ctx context.Context, r *Reservation) (*Receipt, error) { ... }),
//		nil,
//	)
//	receipt, err := charge.Run(ctx)
//
// For a runnable program, see examples/manual_rollback.
package txstep
