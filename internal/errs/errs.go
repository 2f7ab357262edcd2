// Package errs defines the error kinds surfaced by the simulator's public
// operations. Callers classify failures with errors.Is; packages attach
// detail by wrapping these sentinels with fmt.Errorf and %w.
package errs

import "errors"

var (
	// ErrInvalidRequest marks a request rejected by validation before any
	// state change (bad amount, precision mismatch, unknown pair).
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNotEnoughBalance marks an operation that would leave an available
	// balance negative. State is unchanged when it is returned.
	ErrNotEnoughBalance = errors.New("not enough balance")

	// ErrNotFound marks an unknown order or loan id.
	ErrNotFound = errors.New("not found")

	// ErrIllegalState marks an operation that requires an open target but
	// found it completed or canceled.
	ErrIllegalState = errors.New("illegal state")

	// ErrNotSupported marks an operation the configured strategy rejects,
	// e.g. creating a loan under the NoLoans strategy.
	ErrNotSupported = errors.New("not supported")
)
