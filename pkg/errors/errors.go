package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrUnauthorized is returned when a request reaches a handler without an actor.
var ErrUnauthorized = NewUnauthorizedError("authentication credentials were not provided")

// HTTPStatuser is implemented by errors that map onto an HTTP status code.
type HTTPStatuser interface {
	HTTPStatus() int
}

// StatusOf returns the HTTP status carried by err, or 500 when err has none.
func StatusOf(err error) int {
	var s HTTPStatuser
	if errors.As(err, &s) {
		return s.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// ValidationError represents a validation failure with field-level details.
// Code, when set, is a sentinel identifying the failure kind so callers can
// use errors.Is without matching on Message.
type ValidationError struct {
	Field   string
	Message string
	Code    error
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewCodedValidationError creates a validation error tagged with a sentinel code.
func NewCodedValidationError(field, message string, code error) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Code:    code,
	}
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed: %s - %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// Unwrap returns the sentinel code
func (e *ValidationError) Unwrap() error {
	return e.Code
}

// HTTPStatus returns 400
func (e *ValidationError) HTTPStatus() int {
	return http.StatusBadRequest
}

// ValidationErrors collects every failing field of one request.
type ValidationErrors []*ValidationError

// Error implements the error interface
func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		if e.Field != "" {
			parts = append(parts, fmt.Sprintf("%s - %s", e.Field, e.Message))
		} else {
			parts = append(parts, e.Message)
		}
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// Unwrap exposes every element to errors.Is and errors.As.
func (v ValidationErrors) Unwrap() []error {
	errs := make([]error, len(v))
	for i, e := range v {
		errs[i] = e
	}
	return errs
}

// HTTPStatus returns 400
func (v ValidationErrors) HTTPStatus() int {
	return http.StatusBadRequest
}

// Fields groups messages by field name, preserving order within a field.
// Messages without a field are keyed under "non_field_errors".
func (v ValidationErrors) Fields() map[string][]string {
	out := make(map[string][]string, len(v))
	for _, e := range v {
		key := e.Field
		if key == "" {
			key = "non_field_errors"
		}
		out[key] = append(out[key], e.Message)
	}
	return out
}

// AsValidationErrors flattens err into a ValidationErrors list. It reports
// false when err carries no validation failure.
func AsValidationErrors(err error) (ValidationErrors, bool) {
	var list ValidationErrors
	if errors.As(err, &list) {
		return list, true
	}
	var single *ValidationError
	if errors.As(err, &single) {
		return ValidationErrors{single}, true
	}
	return nil, false
}

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	Message  string
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(resource, message string) *NotFoundError {
	return &NotFoundError{
		Resource: resource,
		Message:  message,
	}
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// HTTPStatus returns 404
func (e *NotFoundError) HTTPStatus() int {
	return http.StatusNotFound
}

// AlreadyExistsError represents a resource already exists error
type AlreadyExistsError struct {
	Resource string
	Message  string
}

// NewAlreadyExistsError creates a new already exists error
func NewAlreadyExistsError(resource, message string) *AlreadyExistsError {
	return &AlreadyExistsError{
		Resource: resource,
		Message:  message,
	}
}

// Error implements the error interface
func (e *AlreadyExistsError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s already exists", e.Resource)
}

// HTTPStatus returns 409
func (e *AlreadyExistsError) HTTPStatus() int {
	return http.StatusConflict
}

// ConflictError reports a lost optimistic-lock race.
type ConflictError struct {
	Message string
}

// NewConflictError creates a new conflict error
func NewConflictError(message string) *ConflictError {
	return &ConflictError{Message: message}
}

// Error implements the error interface
func (e *ConflictError) Error() string {
	return e.Message
}

// HTTPStatus returns 409
func (e *ConflictError) HTTPStatus() int {
	return http.StatusConflict
}

// UnauthorizedError represents missing or invalid credentials.
type UnauthorizedError struct {
	Message string
}

// NewUnauthorizedError creates a new unauthorized error
func NewUnauthorizedError(message string) *UnauthorizedError {
	return &UnauthorizedError{Message: message}
}

// Error implements the error interface
func (e *UnauthorizedError) Error() string {
	return e.Message
}

// HTTPStatus returns 401
func (e *UnauthorizedError) HTTPStatus() int {
	return http.StatusUnauthorized
}

// InternalError represents an internal server error with context
type InternalError struct {
	Message string
	Err     error
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *InternalError {
	return &InternalError{
		Message: message,
		Err:     err,
	}
}

// Error implements the error interface
func (e *InternalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *InternalError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns 500
func (e *InternalError) HTTPStatus() int {
	return http.StatusInternalServerError
}
