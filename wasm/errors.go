package wasm

import "fmt"

// ErrorKind is the machine-readable tag for a CompileError (spec.md §7).
type ErrorKind uint8

const (
	ErrParseError ErrorKind = iota
	ErrValidationError
	ErrLayoutTooLarge
	ErrRecursiveTypeNotSupported
	ErrUnsupportedType
	ErrUnsupportedBuiltin
	ErrUnsupportedFeature
	ErrVaryingHasNoLocation
	ErrUniformHasNoBinding
	ErrAttributeHasNoLocation
	ErrInternalInvariantViolated
)

func (k ErrorKind) String() string {
	switch k {
	case ErrParseError:
		return "ParseError"
	case ErrValidationError:
		return "ValidationError"
	case ErrLayoutTooLarge:
		return "LayoutTooLarge"
	case ErrRecursiveTypeNotSupported:
		return "RecursiveTypeNotSupported"
	case ErrUnsupportedType:
		return "UnsupportedType"
	case ErrUnsupportedBuiltin:
		return "UnsupportedBuiltin"
	case ErrUnsupportedFeature:
		return "UnsupportedFeature"
	case ErrVaryingHasNoLocation:
		return "VaryingHasNoLocation"
	case ErrUniformHasNoBinding:
		return "UniformHasNoBinding"
	case ErrAttributeHasNoLocation:
		return "AttributeHasNoLocation"
	case ErrInternalInvariantViolated:
		return "InternalInvariantViolated"
	default:
		return "UnknownError"
	}
}

// CompileError is the error type returned by Compile. It carries a
// machine-readable Kind alongside the human-readable message, per
// spec.md §7's propagation policy: the first error found is returned,
// no partial module is ever surfaced.
type CompileError struct {
	Kind ErrorKind
	Name string // offending identifier, when the kind names one
	Msg  string
}

func (e *CompileError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s(%q): %s", e.Kind, e.Name, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func newError(kind ErrorKind, msg string) *CompileError {
	return &CompileError{Kind: kind, Msg: msg}
}

func newNamedError(kind ErrorKind, name, msg string) *CompileError {
	return &CompileError{Kind: kind, Name: name, Msg: msg}
}

// fromLayoutError converts a LayoutError into a CompileError.
func fromLayoutError(err error) *CompileError {
	if le, ok := err.(*LayoutError); ok {
		return newError(le.Kind, le.Msg)
	}
	return newError(ErrInternalInvariantViolated, err.Error())
}
