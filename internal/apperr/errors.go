// Package apperr holds the error taxonomy shared by services and handlers.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a listing or user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the acting user does not own the resource.
	ErrForbidden = errors.New("forbidden")
	// ErrUnauthenticated is returned for bad credentials or a missing identity.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// FieldError describes a single rejected field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is a local, pre-flight rejection. No network call has been made
// when one is returned.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add appends a field error.
func (e *ValidationError) Add(field, format string, args ...interface{}) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// OrNil returns e when it carries at least one field error.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// Invalid builds a ValidationError with a single field.
func Invalid(field, format string, args ...interface{}) *ValidationError {
	v := &ValidationError{}
	v.Add(field, format, args...)
	return v
}

// TransportError wraps a failure from the document store, object storage or auth
// backend.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Transport wraps err as a TransportError unless it is nil or already classified.
func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	var ve *ValidationError
	if errors.As(err, &te) || errors.As(err, &ve) ||
		errors.Is(err, ErrNotFound) || errors.Is(err, ErrForbidden) || errors.Is(err, ErrUnauthenticated) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
