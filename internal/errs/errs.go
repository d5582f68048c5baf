// Package errs implements the error taxonomy of a ROP-chain compile: a
// small fixed set of kinds rather than ad-hoc error strings,
// so callers can distinguish "surface to the user" from "discard silently
// and keep going" without string matching.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies why an operation failed.
type Kind string

const (
	Parse            Kind = "PARSE"
	ILSemantic       Kind = "IL_SEMANTIC"
	ILUnsupportedABI Kind = "IL_UNSUPPORTED_ABI"
	LiftFail         Kind = "LIFT_FAIL"
	SymbolicFail     Kind = "SYMBOLIC_FAIL"
	ClassifyReject   Kind = "CLASSIFY_REJECT"
	DFSCycle         Kind = "DFS_CYCLE"
	BadByte          Kind = "BAD_BYTE"
	NoChain          Kind = "NO_CHAIN"
	Cancelled        Kind = "CANCELLED"
)

// Silent reports whether errors of this kind are meant to be counted and
// discarded rather than surfaced to the user.
func (k Kind) Silent() bool {
	switch k {
	case LiftFail, SymbolicFail, ClassifyReject:
		return true
	default:
		return false
	}
}

// Location pinpoints a line/column in a source the error originated from,
// used by PARSE and IL_* kinds to report the offending line.
type Location struct {
	File   string
	Line   int
	Column int
}

func (l Location) String() string {
	if l.File == "" && l.Line == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
}

// Error is the single error type used across ropgen. It is never
// constructed for Silent kinds on the hot classification/selection path;
// those failures are dropped where they occur (e.g. gadgetdb.AnalyseRaw
// skips the gadget) and are not counted.
type Error struct {
	Kind     Kind
	Message  string
	Loc      Location
	Source   string // offending source line, when applicable
	cause    error
}

func (e *Error) Error() string {
	if loc := e.Loc.String(); loc != "" {
		if e.Source != "" {
			return fmt.Sprintf("%s: %s (at %s: %q)", e.Kind, e.Message, loc, e.Source)
		}
		return fmt.Sprintf("%s: %s (at %s)", e.Kind, e.Message, loc)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a plain Error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// At attaches a source location to an Error (PARSE / IL_* kinds).
func At(kind Kind, loc Location, source string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Loc: loc, Source: source}
}

// Wrap attaches stack context to a surfaced (non-silent) failure via
// github.com/pkg/errors, preserving the original cause for %+v reporting.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: errors.WithStack(cause)}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}

