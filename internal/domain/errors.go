package domain

import (
	"errors"
	"fmt"
)

// FailureClass names the stage or condition that produced a failure.
type FailureClass string

const (
	// FailureAuthentication covers credential and key errors from the
	// generation service. Always fatal.
	FailureAuthentication FailureClass = "authentication"
	// FailureGeneration covers every other generation service or
	// transport error. Retryable.
	FailureGeneration FailureClass = "generation"
	// FailureExtraction covers responses without a well-formed
	// delimiter wrapping. Retryable.
	FailureExtraction FailureClass = "extraction"
	// FailureExecution covers code that raised or exited nonzero.
	// Retryable.
	FailureExecution FailureClass = "execution"
)

// ClassifiedError tags an underlying error with a failure class and
// whether the session must abort. Classification is structural: the
// layer that saw the failure assigns the class from discrete status
// information, never from matching substrings of error text.
type ClassifiedError struct {
	Class       FailureClass
	Fatal       bool
	Remediation string
	Err         error
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s failure", e.Class)
	}
	return fmt.Sprintf("%s failure: %v", e.Class, e.Err)
}

// Unwrap exposes the underlying error to errors.Is and errors.As.
func (e *ClassifiedError) Unwrap() error { return e.Err }

// Diagnostic returns the verbatim failure text that gets threaded
// into the next feedback request.
func (e *ClassifiedError) Diagnostic() string {
	if e.Err == nil {
		return string(e.Class) + " failure"
	}
	return e.Err.Error()
}

// FatalError builds a fatal classification with user-facing
// remediation guidance. Fatal failures bypass the retry budget.
func FatalError(class FailureClass, remediation string, err error) *ClassifiedError {
	return &ClassifiedError{Class: class, Fatal: true, Remediation: remediation, Err: err}
}

// RetryableError builds a retryable classification. Its diagnostic is
// recorded into history and fed back into the next request verbatim.
func RetryableError(class FailureClass, err error) *ClassifiedError {
	return &ClassifiedError{Class: class, Err: err}
}

// Classify extracts the ClassifiedError from an error chain.
func Classify(err error) (*ClassifiedError, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsFatal reports whether err carries a fatal classification.
func IsFatal(err error) bool {
	ce, ok := Classify(err)
	return ok && ce.Fatal
}
