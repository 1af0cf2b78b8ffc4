package wgslin

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes front-end errors.
type ErrorKind uint8

const (
	// ErrParse indicates the WGSL source failed to parse or lower.
	ErrParse ErrorKind = iota

	// ErrUnsupportedFeature indicates a construct the IR has no form for.
	ErrUnsupportedFeature

	// ErrUnsupportedType indicates a type that cannot be represented.
	ErrUnsupportedType

	// ErrEntryPointNotFound indicates the requested entry point doesn't exist.
	ErrEntryPointNotFound

	// ErrInvalidModule indicates the naga module is malformed.
	ErrInvalidModule

	// ErrBindingConflict indicates two resources claim one binding with
	// different descriptor types.
	ErrBindingConflict
)

// String returns a human-readable error kind name.
func (k ErrorKind) String() string {
	switch k {
	case ErrParse:
		return "Parse"
	case ErrUnsupportedFeature:
		return "UnsupportedFeature"
	case ErrUnsupportedType:
		return "UnsupportedType"
	case ErrEntryPointNotFound:
		return "EntryPointNotFound"
	case ErrInvalidModule:
		return "InvalidModule"
	case ErrBindingConflict:
		return "BindingConflict"
	default:
		return "Unknown"
	}
}

// Error is a front-end error.
type Error struct {
	Kind ErrorKind

	// Message provides details about the error.
	Message string

	// EntryPoint names the entry point being lowered, if any.
	EntryPoint string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := "wgsl " + e.Kind.String()
	if e.EntryPoint != "" {
		msg += " in " + e.EntryPoint
	}
	msg += ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

func errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func unsupported(format string, args ...any) *Error {
	return errorf(ErrUnsupportedFeature, format, args...)
}

// IsUnsupported reports whether err is an unsupported feature or type error.
func IsUnsupported(err error) bool {
	var e *Error
	return errors.As(err, &e) && (e.Kind == ErrUnsupportedFeature || e.Kind == ErrUnsupportedType)
}
