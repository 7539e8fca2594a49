// Package fault classifies pipeline failures so callers can map them to
// transport responses and ledger records without string matching.
package fault

import (
	"errors"
	"fmt"
)

// Kind names a failure class.
type Kind string

const (
	Validation Kind = "validation"
	Fetch      Kind = "fetch"
	Render     Kind = "render"
	Transport  Kind = "transport"
	NotFound   Kind = "not_found"
	Internal   Kind = "internal"
)

// Error carries a Kind alongside the usual message and cause chain.
type Error struct {
	kind Kind
	msg  string
	err  error
}

// New builds a classified error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err, preserving it for errors.Is/As traversal.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...), err: err}
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// Kind returns the failure class.
func (e *Error) Kind() Kind { return e.kind }

// KindOf reports the Kind of the first classified error in err's chain,
// or Internal when none is found.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.kind
	}
	return Internal
}

// IsKind reports whether err's chain carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
