package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies supervisor failures. The first group describes internal
// faults, the second group is the vocabulary exposed to control-plane callers.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeProcess    ErrorType = "process"
	ErrorTypeSpawn      ErrorType = "spawn"
	ErrorTypeProtocol   ErrorType = "protocol"
	ErrorTypeState      ErrorType = "state"
	ErrorTypePermission ErrorType = "permission"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeCancelled  ErrorType = "cancelled"

	ErrorTypeBadName             ErrorType = "BAD_NAME"
	ErrorTypeBadArguments        ErrorType = "BAD_ARGUMENTS"
	ErrorTypeBadSignal           ErrorType = "BAD_SIGNAL"
	ErrorTypeNotRunning          ErrorType = "NOT_RUNNING"
	ErrorTypeAlreadyStarted      ErrorType = "ALREADY_STARTED"
	ErrorTypeAbnormalTermination ErrorType = "ABNORMAL_TERMINATION"
	ErrorTypeNoFile              ErrorType = "NO_FILE"
	ErrorTypeFailed              ErrorType = "FAILED"
	ErrorTypeShutdownState       ErrorType = "SHUTDOWN_STATE"
)

// DomainError represents a structured error with type and context
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if the error is of a specific type
func (e *DomainError) Is(target error) bool {
	if other, ok := target.(*DomainError); ok {
		return e.Type == other.Type
	}
	return false
}

// WithContext adds context information to the error
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func NewDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// Configuration and lookup errors
func NewValidationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, cause)
}

func NewNotFoundError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNotFound, message, cause)
}

func NewConflictError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConflict, message, cause)
}

// Process lifecycle errors
func NewProcessError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeProcess, message, cause)
}

func NewSpawnError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeSpawn, message, cause)
}

func NewProtocolError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeProtocol, message, cause)
}

func NewStateError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeState, message, cause)
}

// System errors
func NewPermissionError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypePermission, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeIO, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, cause)
}

func NewCancelledError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCancelled, message, cause)
}

// Control-plane faults
func NewBadNameError(name string) *DomainError {
	return NewDomainError(ErrorTypeBadName, name, nil)
}

func NewBadArgumentsError(message string) *DomainError {
	return NewDomainError(ErrorTypeBadArguments, message, nil)
}

func NewBadSignalError(signal string) *DomainError {
	return NewDomainError(ErrorTypeBadSignal, signal, nil)
}

func NewNotRunningError(name string) *DomainError {
	return NewDomainError(ErrorTypeNotRunning, name, nil)
}

func NewAlreadyStartedError(name string) *DomainError {
	return NewDomainError(ErrorTypeAlreadyStarted, name, nil)
}

func NewAbnormalTerminationError(name string) *DomainError {
	return NewDomainError(ErrorTypeAbnormalTermination, name, nil)
}

func NewNoFileError(message string) *DomainError {
	return NewDomainError(ErrorTypeNoFile, message, nil)
}

func NewFailedError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeFailed, message, cause)
}

func NewShutdownStateError() *DomainError {
	return NewDomainError(ErrorTypeShutdownState, "supervisor is shutting down", nil)
}

// TypeOf returns the ErrorType of the first DomainError in the chain, or an
// empty string.
func TypeOf(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// FaultCode returns the control-plane fault code of err. Spawn errors are
// reported as SPAWN_ERROR; errors outside the fault vocabulary as FAILED.
func FaultCode(err error) string {
	switch t := TypeOf(err); t {
	case ErrorTypeSpawn:
		return "SPAWN_ERROR"
	case ErrorTypeBadName, ErrorTypeBadArguments, ErrorTypeBadSignal, ErrorTypeNotRunning,
		ErrorTypeAlreadyStarted, ErrorTypeAbnormalTermination, ErrorTypeNoFile,
		ErrorTypeFailed, ErrorTypeShutdownState:
		return string(t)
	}
	return string(ErrorTypeFailed)
}

// IsType reports whether err wraps a DomainError of the given type.
func IsType(err error, errorType ErrorType) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == errorType
}

func IsCancelledError(err error) bool  { return IsType(err, ErrorTypeCancelled) }
func IsNotRunningError(err error) bool { return IsType(err, ErrorTypeNotRunning) }

// Error aggregation for bulk operations
type ErrorCollection struct {
	Errors []error
}

func (e *ErrorCollection) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred: %v", len(e.Errors), e.Errors[0])
}

func (e *ErrorCollection) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

func (e *ErrorCollection) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ErrorCollection) ToError() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

// NewErrorCollection creates a new error collection
func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{
		Errors: make([]error, 0),
	}
}
