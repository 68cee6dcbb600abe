package errors

import (
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeConnectivity represents transient graph store connectivity errors
	ErrorTypeConnectivity ErrorType = "connectivity"
	// ErrorTypeNotFound represents missing documents or graph elements
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeConsistency represents elements found with invalid provenance state
	ErrorTypeConsistency ErrorType = "consistency"
	// ErrorTypeIngestion represents ingestion batch failures
	ErrorTypeIngestion ErrorType = "ingestion"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Connectivity Errors

// ErrGraphUnavailable is returned when the graph store cannot be reached
type ErrGraphUnavailable struct {
	*BaseError
	Operation string
}

func NewGraphUnavailable(operation string, err error) *ErrGraphUnavailable {
	return &ErrGraphUnavailable{
		BaseError: NewBaseError(ErrorTypeConnectivity, fmt.Sprintf("graph store unreachable during %s", operation), err),
		Operation: operation,
	}
}

// Not Found Errors

// ErrDocumentNotFound is returned when a document id has no record in the graph
type ErrDocumentNotFound struct {
	*BaseError
	DocumentID string
}

func NewDocumentNotFound(documentID string) *ErrDocumentNotFound {
	return &ErrDocumentNotFound{
		BaseError:  NewBaseError(ErrorTypeNotFound, fmt.Sprintf("document not found: %s", documentID), nil),
		DocumentID: documentID,
	}
}

// ErrElementNotFound is returned when a graph element is absent
type ErrElementNotFound struct {
	*BaseError
	Key string
}

func NewElementNotFound(key string) *ErrElementNotFound {
	return &ErrElementNotFound{
		BaseError: NewBaseError(ErrorTypeNotFound, fmt.Sprintf("graph element not found: %s", key), nil),
		Key:       key,
	}
}

// Consistency Errors

// ErrConsistencyViolation is returned when an element is found with invalid
// provenance state. Logged and left for the orphan sweep, never fatal to the
// calling request.
type ErrConsistencyViolation struct {
	*BaseError
	Key    string
	Detail string
}

func NewConsistencyViolation(key, detail string) *ErrConsistencyViolation {
	return &ErrConsistencyViolation{
		BaseError: NewBaseError(ErrorTypeConsistency, fmt.Sprintf("inconsistent element %s: %s", key, detail), nil),
		Key:       key,
		Detail:    detail,
	}
}

// Ingestion Errors

// ErrPartialIngestion is returned when some ingestion batches exhausted their
// retries. The failing batch identifiers are carried so the caller can
// re-submit exactly what failed.
type ErrPartialIngestion struct {
	*BaseError
	DocumentID    string
	FailedBatches []int
}

func NewPartialIngestion(documentID string, failedBatches []int, err error) *ErrPartialIngestion {
	return &ErrPartialIngestion{
		BaseError:     NewBaseError(ErrorTypeIngestion, fmt.Sprintf("document %s: %d batches failed", documentID, len(failedBatches)), err),
		DocumentID:    documentID,
		FailedBatches: failedBatches,
	}
}

// Config Errors

// ErrConfigMissingRequired is returned when a required config value is missing
type ErrConfigMissingRequired struct {
	*BaseError
	Field string
}

func NewConfigMissingRequired(field string) *ErrConfigMissingRequired {
	return &ErrConfigMissingRequired{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("missing required config: %s", field), nil),
		Field:     field,
	}
}

// Helper functions

// IsErrorType checks if an error is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	for err != nil {
		if baseErr, ok := err.(*BaseError); ok {
			return baseErr.Type == errType
		}
		if typed, ok := err.(interface{ base() *BaseError }); ok {
			return typed.base().Type == errType
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

func (e *BaseError) base() *BaseError { return e }

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	// Connectivity errors are transient and safe to retry with backoff
	if IsErrorType(err, ErrorTypeConnectivity) {
		return true
	}
	// Not-found and consistency states do not change on retry
	return false
}

// IsNotFound checks if an error reports a missing document or element
func IsNotFound(err error) bool {
	return IsErrorType(err, ErrorTypeNotFound)
}
