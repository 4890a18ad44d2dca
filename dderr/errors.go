// Package dderr defines the failure taxonomy for delta-debug.
//
// Every error returned by the search algorithms, the oracle adapters, or the
// CLI maps to exactly one FailureClass, which determines the exit code and lets
// callers tell a broken precondition apart from a broken oracle.
package dderr

import (
	"errors"
	"fmt"
)

// FailureClass is a stable failure category.
type FailureClass string

const (
	Precondition   FailureClass = "PRECONDITION"
	Nondeterminism FailureClass = "NONDETERMINISM"
	InvalidConfig  FailureClass = "INVALID_CONFIG"
	CLIUsage       FailureClass = "CLI_USAGE"
	OracleFailure  FailureClass = "ORACLE_FAILURE"
	Canceled       FailureClass = "CANCELED"
	InternalIO     FailureClass = "INTERNAL_IO"
	InternalError  FailureClass = "INTERNAL_ERROR"
)

// ExitCode returns the process exit code for this failure class.
func (fc FailureClass) ExitCode() int {
	switch fc {
	case OracleFailure, Canceled, InternalIO, InternalError:
		return 10
	default:
		return 2
	}
}

// Error is the structured error type for all delta-debug failures.
type Error struct {
	Class   FailureClass
	Op      string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Op != "" {
		return fmt.Sprintf("dderr: %s in %s: %s", e.Class, e.Op, msg)
	}
	return fmt.Sprintf("dderr: %s: %s", e.Class, msg)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given class and message.
func New(class FailureClass, op, message string) *Error {
	return &Error{Class: class, Op: op, Message: message}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(class FailureClass, op, message string, cause error) *Error {
	return &Error{Class: class, Op: op, Message: message, Cause: cause}
}

// ClassOf reports the class of the first *Error in err's chain, or
// InternalError when err carries no classification. ClassOf(nil) is "".
func ClassOf(err error) FailureClass {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return InternalError
}

// Is reports whether err carries the given failure class.
func Is(err error, class FailureClass) bool {
	return err != nil && ClassOf(err) == class
}
