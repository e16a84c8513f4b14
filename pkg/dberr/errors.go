// Package dberr defines the error taxonomy shared across the storage and
// execution core: a small set of kinds (not concrete types) that every
// subsystem attaches to the errors it returns, so callers can branch on
// "what category of failure is this" without type-asserting on package
// internals.
package dberr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a failure into one of the categories from the error
// handling design: budget violations, I/O failures, on-disk corruption,
// schema mismatches, or statement parse errors.
type Kind int

const (
	KindUnknown Kind = iota
	KindBudget
	KindIO
	KindCorruption
	KindSchema
	KindParse
)

func (k Kind) String() string {
	switch k {
	case KindBudget:
		return "budget"
	case KindIO:
		return "io"
	case KindCorruption:
		return "corruption"
	case KindSchema:
		return "schema"
	case KindParse:
		return "parse"
	default:
		return "unknown"
	}
}

// kindError wraps a cause with a Kind, preserving errors.Cause/Unwrap
// chains so pkg/errors stack traces survive across subsystem boundaries.
type kindError struct {
	kind  Kind
	cause error
}

func (e *kindError) Error() string {
	return fmt.Sprintf("%s: %s", e.kind, e.cause)
}

func (e *kindError) Unwrap() error { return e.cause }
func (e *kindError) Cause() error  { return e.cause }

// Wrap tags err with kind, adding msg as context via pkg/errors so the
// original stack trace is retained.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, cause: errors.Wrap(err, msg)}
}

// New creates a fresh error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) error {
	return &kindError{kind: kind, cause: errors.Errorf(format, args...)}
}

// KindOf reports the Kind attached to err, or KindUnknown if none was
// attached by this package.
func KindOf(err error) Kind {
	var ke *kindError
	for err != nil {
		if k, ok := err.(*kindError); ok {
			ke = k
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if ke == nil {
		return KindUnknown
	}
	return ke.kind
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
