// Package apperr defines the error taxonomy shared across the chat core.
// Every failure that crosses a package boundary is tagged with one of the
// codes below so callers can branch on kind without string matching.
package apperr

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeUnknown           Code = "UNKNOWN"
	CodeInvalidSelection  Code = "INVALID_SELECTION"
	CodeUploadFailure     Code = "UPLOAD_FAILURE"
	CodeWriteFailure      Code = "WRITE_FAILURE"
	CodeGenerationFailure Code = "GENERATION_FAILURE"
)

type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func Invalid(msg string) error {
	return New(CodeInvalidSelection, msg)
}

func Upload(msg string, cause error) error {
	return Wrap(CodeUploadFailure, msg, cause)
}

func Write(msg string, cause error) error {
	return Wrap(CodeWriteFailure, msg, cause)
}

func Generation(msg string, cause error) error {
	return Wrap(CodeGenerationFailure, msg, cause)
}

// CodeOf reports the code carried by err, unwrapping as needed.
// Errors outside the taxonomy report CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
