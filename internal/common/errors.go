package common

import (
	"errors"
	"fmt"
)

// Code classifies a KdbxError.
type Code string

const (
	// CodeInvalidArg is caller misuse detected before any crypto runs.
	CodeInvalidArg Code = "InvalidArg"
	// CodeFileCorrupt is a structural, checksum or decompression failure.
	CodeFileCorrupt Code = "FileCorrupt"
	// CodeInvalidKey means the credentials do not unlock the file.
	CodeInvalidKey Code = "InvalidKey"
	// CodeUnsupported is a recognized header option that is not implemented.
	CodeUnsupported Code = "Unsupported"
	// CodeNotImplemented is a feature deliberately left out.
	CodeNotImplemented Code = "NotImplemented"
)

// KdbxError is the single error type surfaced by the codec. Err keeps the
// underlying cause, if any, for errors.Unwrap.
type KdbxError struct {
	Code    Code
	Message string
	Err     error
}

func (e *KdbxError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *KdbxError) Unwrap() error { return e.Err }

// Is reports whether target is a KdbxError with the same code, so the
// sentinels below match any error of their kind.
func (e *KdbxError) Is(target error) bool {
	var t *KdbxError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrInvalidArg     = &KdbxError{Code: CodeInvalidArg, Message: "invalid argument"}
	ErrFileCorrupt    = &KdbxError{Code: CodeFileCorrupt, Message: "file corrupt"}
	ErrInvalidKey     = &KdbxError{Code: CodeInvalidKey, Message: "invalid key"}
	ErrUnsupported    = &KdbxError{Code: CodeUnsupported, Message: "unsupported"}
	ErrNotImplemented = &KdbxError{Code: CodeNotImplemented, Message: "not implemented"}
)

// NewError builds a KdbxError with a formatted message.
func NewError(code Code, format string, args ...any) *KdbxError {
	return &KdbxError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds a KdbxError that keeps err as its cause.
func WrapError(code Code, err error, format string, args ...any) *KdbxError {
	return &KdbxError{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// InvalidArg reports a bad argument by parameter name.
func InvalidArg(param string, reason string) *KdbxError {
	return NewError(CodeInvalidArg, "%s: %s", param, reason)
}

// Corrupt is shorthand for a FileCorrupt error.
func Corrupt(format string, args ...any) *KdbxError {
	return NewError(CodeFileCorrupt, format, args...)
}

// Unsupported is shorthand for an Unsupported error.
func Unsupported(format string, args ...any) *KdbxError {
	return NewError(CodeUnsupported, format, args...)
}

// CodeOf returns the code of the first KdbxError in err's chain, or "" when
// err is nil or foreign.
func CodeOf(err error) Code {
	var ke *KdbxError
	if errors.As(err, &ke) {
		return ke.Code
	}
	return ""
}
