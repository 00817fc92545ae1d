package ast

import (
	"fmt"

	"github.com/pkg/errors"

	"hdlkit/internal/diag"
)

// ShapeError reports a malformed width/signedness or operand arity.
type ShapeError struct {
	Msg string
	Loc diag.SrcLoc
}

func (e *ShapeError) Error() string { return withLoc("shape error", e.Msg, e.Loc) }

// SyntaxError reports misuse of the statement builder.
type SyntaxError struct {
	Msg string
	Loc diag.SrcLoc
}

func (e *SyntaxError) Error() string { return withLoc("syntax error", e.Msg, e.Loc) }

// NameError reports a duplicate or undefined name.
type NameError struct {
	Msg string
	Loc diag.SrcLoc
}

func (e *NameError) Error() string { return withLoc("name error", e.Msg, e.Loc) }

// DriverConflictError reports a signal or memory driven from more than one
// place.
type DriverConflictError struct {
	Msg string
	Loc diag.SrcLoc
}

func (e *DriverConflictError) Error() string { return withLoc("driver conflict", e.Msg, e.Loc) }

// DomainError reports an unresolvable clock domain reference or definition.
type DomainError struct {
	Msg string
	Loc diag.SrcLoc
}

func (e *DomainError) Error() string { return withLoc("domain error", e.Msg, e.Loc) }

func withLoc(kind, msg string, loc diag.SrcLoc) string {
	if loc.IsValid() {
		return fmt.Sprintf("%s: %s: %s", loc, kind, msg)
	}
	return fmt.Sprintf("%s: %s", kind, msg)
}

// IsDesignError reports whether err (or its cause) is one of the typed
// construction errors raised by the design packages.
func IsDesignError(err error) bool {
	switch errors.Cause(err).(type) {
	case *ShapeError, *SyntaxError, *NameError, *DriverConflictError, *DomainError:
		return true
	}
	return false
}

// Recover converts a panic carrying a design error into *err. Any other panic
// is propagated. It must be called directly by a deferred function.
func Recover(err *error) {
	r := recover()
	if r == nil {
		return
	}
	if e, ok := r.(error); ok && IsDesignError(e) {
		*err = e
		return
	}
	panic(r)
}

func shapeErrorf(format string, args ...interface{}) *ShapeError {
	return &ShapeError{Msg: fmt.Sprintf(format, args...), Loc: diag.Caller(1)}
}
