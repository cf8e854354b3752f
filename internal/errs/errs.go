// Package errs defines the error taxonomy shared by the labelwire core.
//
// Every failure raised by the ontology, geometry, model, wire, codec,
// converter and validator packages is an *Error carrying a Kind. Callers
// test for a kind with Is:
//
//	if errs.Is(err, errs.UnknownFeature) { ... }
//
// or with the standard library through a kind sentinel:
//
//	errors.Is(err, errs.KindError(errs.DuplicateUUID))
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error.
type Kind string

const (
	InvalidOntology      Kind = "InvalidOntology"
	InvalidGeometry      Kind = "InvalidGeometry"
	UnrecognizedRecord   Kind = "UnrecognizedRecord"
	UnknownFeature       Kind = "UnknownFeature"
	WrongTool            Kind = "WrongTool"
	InvalidAnswer        Kind = "InvalidAnswer"
	DuplicateUUID        Kind = "DuplicateUUID"
	DanglingRelationship Kind = "DanglingRelationship"
	MalformedLine        Kind = "MalformedLine"
	MissingDataRow       Kind = "MissingDataRow"
	InvalidReference     Kind = "InvalidReference" // data row / feature ref / uuid shape
	InvalidMetric        Kind = "InvalidMetric"    // metric ranges, reserved names, confidence
	InvalidLabel         Kind = "InvalidLabel"     // label-level invariants
)

// Error is a structured error with enough context to locate the offending input.
type Error struct {
	// Kind is the taxonomy class.
	Kind Kind

	// Op names the operation that failed (e.g. "ontology.Parse", "convert.Emit").
	Op string

	// Index is the record, line or label index the error refers to, or -1.
	Index int

	// UUID is the annotation or record uuid involved, if any.
	UUID string

	// Field is the offending field path, if any (e.g. "bbox.width").
	Field string

	// Msg describes the violation.
	Msg string

	// Cause is the underlying error, if any.
	Cause error
}

// New creates an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{
		Kind:  kind,
		Index: -1,
		Msg:   fmt.Sprintf(format, args...),
	}
}

// Wrap creates an Error of the given kind around cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	e := New(kind, format, args...)
	e.Cause = cause
	return e
}

// Error returns a human-readable representation of the error.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(" [")
		b.WriteString(e.Op)
		b.WriteString("]")
	}
	if e.Index >= 0 {
		fmt.Fprintf(&b, " at %d", e.Index)
	}
	if e.UUID != "" {
		fmt.Fprintf(&b, " (uuid %s)", e.UUID)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " %s", e.Field)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind. A target with an
// empty Op, Index < 0, empty UUID and empty Field matches on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Index < 0 && t.UUID == "" && t.Field == ""
}

// WithOp sets the operation and returns e.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// WithIndex sets the index and returns e.
func (e *Error) WithIndex(i int) *Error {
	e.Index = i
	return e
}

// WithUUID sets the uuid and returns e.
func (e *Error) WithUUID(id string) *Error {
	e.UUID = id
	return e
}

// WithField sets the field path and returns e. A non-empty existing field is
// prefixed with the new one, so nested validators can build paths bottom-up.
func (e *Error) WithField(field string) *Error {
	switch {
	case e.Field == "":
		e.Field = field
	case field != "":
		e.Field = field + "." + e.Field
	}
	return e
}

// KindError returns a sentinel matching any *Error of the given kind.
func KindError(kind Kind) error {
	return &Error{Kind: kind, Index: -1}
}

// Is reports whether err or anything it wraps is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return errors.Is(err, KindError(kind))
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}
