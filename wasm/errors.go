package wasm

import (
	"errors"
	"fmt"
)

// Structural errors: the module disobeys a constraint that holds regardless
// of typing, detected before validation proper.
var (
	ErrMultipleStartSections = errors.New("multiple start sections")
	ErrDuplicateTable        = errors.New("duplicate table")
	ErrI32ConstOutOfRange    = errors.New("i32 constant out of range")
	ErrSizeMinGreaterThanMax = errors.New("size minimum must not be greater than maximum")
)

// Validation errors: the module is structurally well formed but ill typed.
var (
	ErrTypeMismatch         = errors.New("type mismatch")
	ErrUnknownFunction      = errors.New("unknown function")
	ErrUnknownTable         = errors.New("unknown table")
	ErrUnknownLocal         = errors.New("unknown local")
	ErrUnknownType          = errors.New("unknown type")
	ErrUnknownLabel         = errors.New("unknown label")
	ErrUnknownElem          = errors.New("unknown elem segment")
	ErrUninitializedLocal   = errors.New("uninitialized local")
	ErrInvalidStartFunction = errors.New("start function")
)

// Runtime errors reported as traps during instantiation or execution.
var (
	ErrRuntimeUnreachable              = errors.New("unreachable")
	ErrRuntimeOutOfBoundsTableAccess   = errors.New("out of bounds table access")
	ErrRuntimeOutOfBoundsMemoryAccess  = errors.New("out of bounds memory access")
	ErrRuntimeNullRefDeref             = errors.New("null reference")
	ErrRuntimeIndirectCallTypeMismatch = errors.New("indirect call type mismatch")
	ErrRuntimeCallStackOverflow        = errors.New("call stack exhausted")
)

// StructureError decorates a structural sentinel with where it was found.
// errors.Is matches the sentinel through Unwrap.
type StructureError struct {
	Kind    error
	Context string
}

func (e *StructureError) Error() string {
	if e.Context == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Context)
}

func (e *StructureError) Unwrap() error { return e.Kind }

// ValidationError decorates a validation sentinel with the instruction or
// declaration that failed to type check.
type ValidationError struct {
	Kind    error
	Context string
}

func (e *ValidationError) Error() string {
	if e.Context == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Context)
}

func (e *ValidationError) Unwrap() error { return e.Kind }

func invalidf(kind error, format string, args ...any) error {
	return &ValidationError{Kind: kind, Context: fmt.Sprintf(format, args...)}
}

func malformedf(kind error, format string, args ...any) error {
	return &StructureError{Kind: kind, Context: fmt.Sprintf(format, args...)}
}
