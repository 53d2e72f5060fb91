// Package errs defines the sentinel errors shared by the investment
// engine and its collaborating stores. Every condition is fail-closed:
// callers abort the whole operation and leave state untouched.
package errs

import "errors"

var (
	// ErrLengthMismatch is returned when two index-aligned input
	// sequences do not have the same length.
	ErrLengthMismatch = errors.New("input sequences have mismatched lengths")

	// ErrUnauthorized is returned when the caller is not the party
	// allowed to perform the operation.
	ErrUnauthorized = errors.New("caller is not authorized")

	// ErrUnknownAsset is returned for an asset id with no registry entry.
	ErrUnknownAsset = errors.New("unknown asset id")

	// ErrUnknownOrder is returned for a correlation id that was never
	// registered with the settlement engine.
	ErrUnknownOrder = errors.New("unknown order")

	// ErrMissingPrice is returned when the oracle payload lacks a price
	// for a requested symbol.
	ErrMissingPrice = errors.New("price missing from oracle payload")

	// ErrInsufficientHoldings is returned when a holdings decrease would
	// underflow a user's balance.
	ErrInsufficientHoldings = errors.New("insufficient holdings")

	// ErrValueOverflow is returned when checked fixed-point arithmetic
	// exceeds the representable range.
	ErrValueOverflow = errors.New("value overflow")

	// ErrForbidden is returned for operations that are never allowed,
	// such as sweeping the settlement tokens out of custody.
	ErrForbidden = errors.New("operation forbidden")
)
