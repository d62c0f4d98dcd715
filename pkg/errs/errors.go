// Package errs defines the typed error taxonomy shared by every trove
// component. All core operations return one of these kinds; storage-driver
// errors are wrapped as OperationError before crossing a store boundary.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// DataFormatError indicates malformed input: wrong type, missing required
// field, illegal identifier. Always the caller's fault, never retried.
type DataFormatError struct {
	Message string
}

func (e *DataFormatError) Error() string {
	return e.Message
}

// NewDataFormat creates a DataFormatError with a formatted message.
func NewDataFormat(format string, args ...interface{}) *DataFormatError {
	return &DataFormatError{Message: fmt.Sprintf(format, args...)}
}

// NotFoundError indicates a referenced resource does not exist.
type NotFoundError struct {
	Resource string // composite ID or hash of the missing resource
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Resource)
}

// NewNotFound creates a NotFoundError for the given resource identifier.
func NewNotFound(resource string) *NotFoundError {
	return &NotFoundError{Resource: resource}
}

// PermissionError indicates the principal lacks the required level on a
// resource. The message deliberately reveals nothing beyond "insufficient
// permission" so unauthorized callers learn no more than NotFound would
// tell them.
type PermissionError struct {
	Resource string
	Required string // level name the operation required
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("insufficient permission on %s (requires %s)", e.Resource, e.Required)
}

// NewPermission creates a PermissionError for the resource and required level.
func NewPermission(resource, required string) *PermissionError {
	return &PermissionError{Resource: resource, Required: required}
}

// ArchivedError indicates an ancestor in the hierarchy is archived and the
// caller did not opt into archived visibility. Resource names the archived
// ancestor, not the leaf the caller asked about.
type ArchivedError struct {
	Resource string
}

func (e *ArchivedError) Error() string {
	return fmt.Sprintf("%s is archived", e.Resource)
}

// NewArchived creates an ArchivedError naming the archived ancestor.
func NewArchived(resource string) *ArchivedError {
	return &ArchivedError{Resource: resource}
}

// OperationError covers business-rule violations (duplicate ID, tag-branch
// mutation) and wrapped storage I/O failures. Cause, when set, preserves the
// underlying driver error for logging.
type OperationError struct {
	Message string
	Cause   error
}

func (e *OperationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *OperationError) Unwrap() error {
	return e.Cause
}

// NewOperation creates an OperationError with a formatted message.
func NewOperation(format string, args ...interface{}) *OperationError {
	return &OperationError{Message: fmt.Sprintf(format, args...)}
}

// WrapOperation wraps an underlying error (typically a storage driver
// failure) as an OperationError. Returns nil if err is nil.
func WrapOperation(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &OperationError{Message: fmt.Sprintf(format, args...), Cause: err}
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsPermission reports whether err is (or wraps) a PermissionError.
func IsPermission(err error) bool {
	var target *PermissionError
	return errors.As(err, &target)
}

// IsArchived reports whether err is (or wraps) an ArchivedError.
func IsArchived(err error) bool {
	var target *ArchivedError
	return errors.As(err, &target)
}

// IsDataFormat reports whether err is (or wraps) a DataFormatError.
func IsDataFormat(err error) bool {
	var target *DataFormatError
	return errors.As(err, &target)
}

// IsOperation reports whether err is (or wraps) an OperationError.
func IsOperation(err error) bool {
	var target *OperationError
	return errors.As(err, &target)
}

// HTTPStatus maps a typed error to its HTTP status code. Unclassified
// errors map to 500.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsDataFormat(err):
		return http.StatusBadRequest
	case IsPermission(err):
		return http.StatusForbidden
	case IsNotFound(err):
		return http.StatusNotFound
	case IsArchived(err):
		return http.StatusConflict
	case IsOperation(err):
		var opErr *OperationError
		errors.As(err, &opErr)
		if opErr.Cause != nil {
			// I/O failure wrapped at a store boundary.
			return http.StatusInternalServerError
		}
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
