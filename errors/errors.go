// Package errors provides error handling for strata.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Hints for operators fixing definition files
//
// Usage:
//
//	// Wrap with context
//	if err := reg.Register(node); err != nil {
//	    return errors.Wrap(err, "load definitions")
//	}
//
//	// Check the kind of a graph failure
//	if errors.Is(err, errors.ErrCycle) {
//	    // report the cycle path
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint      = crdb.WithHint
	WithHintf     = crdb.WithHintf
	WithDetail    = crdb.WithDetail
	WithDetailf   = crdb.WithDetailf
	Mark          = crdb.Mark
	CombineErrors = crdb.CombineErrors
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// GetStack returns the reportable stack trace attached to err, if any.
var GetStack = crdb.GetReportableStackTrace

// Error kinds raised while building the asset graph or evaluating selections.
// These are fatal: no partial graph is usable after one of them.
// Use errors.Is() to classify; structured variants unwrap to these sentinels.
var (
	// ErrDuplicateKey indicates an asset or check key was registered twice
	ErrDuplicateKey = New("duplicate key")

	// ErrDanglingDependency indicates an upstream key that was never registered
	ErrDanglingDependency = New("dangling dependency")

	// ErrCycle indicates an asset (transitively) depends on itself
	ErrCycle = New("dependency cycle")

	// ErrUnknownKey indicates a selection referenced an unregistered asset or group
	ErrUnknownKey = New("unknown key")

	// ErrInvalidPolicy indicates a freshness policy whose warn window is not below its fail window
	ErrInvalidPolicy = New("invalid freshness policy")
)

// ErrCheckExecution is recorded when the warehouse collaborator fails while a
// check is running. It is recovered locally into a failed check result.
var ErrCheckExecution = New("check execution error")

// Other sentinel errors.
var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")
)

// IsGraphError reports whether err is one of the fatal graph/selection kinds.
func IsGraphError(err error) bool {
	return err != nil && IsAny(err, ErrDuplicateKey, ErrDanglingDependency, ErrCycle, ErrUnknownKey)
}

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidRequest, Newf(format, args...).Error())
}
