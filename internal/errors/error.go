package errors

import (
	stderrors "errors"
	"fmt"
)

// Category represents the area an error comes from.
type Category string

const (
	CategoryConfig  Category = "config"
	CategoryRuntime Category = "runtime"
	CategoryStress  Category = "stress"
	CategoryReport  Category = "report"
	CategoryInspect Category = "inspect"
	CategoryCLI     Category = "cli"
)

// Location points at a line in a configuration file.
type Location struct {
	File string
	Line int
}

// String returns the location as "file:line", or just the file when the
// line is unknown.
func (l *Location) String() string {
	if l == nil {
		return ""
	}
	if l.Line > 0 {
		return fmt.Sprintf("%s:%d", l.File, l.Line)
	}
	return l.File
}

// ReactorError is a coded error with an optional location and a hint for
// the operator.
type ReactorError struct {
	// Code is a unique error identifier (e.g., "R001").
	Code string

	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	Location *Location

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *ReactorError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *ReactorError) Unwrap() error {
	return e.Wrapped
}

// Is reports whether target is a ReactorError with the same code.
func (e *ReactorError) Is(target error) bool {
	t, ok := target.(*ReactorError)
	return ok && t.Code != "" && t.Code == e.Code
}

// WithLocation records the file and line the error refers to.
func (e *ReactorError) WithLocation(file string, line int) *ReactorError {
	e.Location = &Location{File: file, Line: line}
	return e
}

// WithSuggestion adds a fix suggestion to the error.
func (e *ReactorError) WithSuggestion(s string) *ReactorError {
	e.Suggestion = s
	return e
}

// WithDetail replaces the detailed explanation.
func (e *ReactorError) WithDetail(d string) *ReactorError {
	e.Detail = d
	return e
}

// Wrap wraps another error.
func (e *ReactorError) Wrap(err error) *ReactorError {
	e.Wrapped = err
	return e
}

// New creates a ReactorError from a registered error code.
func New(code string) *ReactorError {
	template, ok := registry[code]
	if !ok {
		return &ReactorError{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &ReactorError{
		Code:     code,
		Category: template.Category,
		Message:  template.Message,
		Detail:   template.Detail,
	}
}

// Newf creates an uncoded error with a formatted message.
func Newf(category Category, format string, args ...any) *ReactorError {
	return &ReactorError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError returns err as a ReactorError, wrapping it under code unless it
// already is one.
func FromError(err error, code string) *ReactorError {
	if err == nil {
		return nil
	}
	var re *ReactorError
	if stderrors.As(err, &re) {
		return re
	}
	return New(code).Wrap(err)
}

// Code returns the code of the first ReactorError in err's chain.
func Code(err error) string {
	var re *ReactorError
	if stderrors.As(err, &re) {
		return re.Code
	}
	return ""
}
