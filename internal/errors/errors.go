package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
)

// Error types for the failure categories of the import staging caches
type ErrorType string

const (
	// ErrorTypeCapacity means no backend could satisfy an allocation.
	ErrorTypeCapacity ErrorType = "capacity"
	// ErrorTypeBounds means an index fell outside [base, base+length) or a page cursor
	// raised its out-of-bounds flag.
	ErrorTypeBounds ErrorType = "bounds"
	// ErrorTypeOverflow means a value did not fit the bit width of a packed slot.
	ErrorTypeOverflow      ErrorType = "overflow"
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeInput         ErrorType = "input"
	ErrorTypeStorage       ErrorType = "storage"
)

// StructuredError provides rich error context
type StructuredError struct {
	Type      ErrorType
	Operation string
	Message   string
	Cause     error
	Context   map[string]interface{}
	Stack     []uintptr
}

// Error implements the error interface
func (e *StructuredError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Type, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Operation, e.Message)
}

// Unwrap returns the underlying cause
func (e *StructuredError) Unwrap() error {
	return e.Cause
}

// New creates a new structured error
func New(errType ErrorType, operation, message string) *StructuredError {
	return &StructuredError{
		Type:      errType,
		Operation: operation,
		Message:   message,
		Context:   make(map[string]interface{}),
		Stack:     captureStack(),
	}
}

// Newf is New with a formatted message.
func Newf(errType ErrorType, operation, format string, args ...interface{}) *StructuredError {
	se := New(errType, operation, fmt.Sprintf(format, args...))
	se.Stack = captureStack()
	return se
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, operation, message string) *StructuredError {
	if err == nil {
		return nil
	}

	se := &StructuredError{
		Type:      errType,
		Operation: operation,
		Message:   message,
		Cause:     err,
		Context:   make(map[string]interface{}),
		Stack:     captureStack(),
	}

	return se
}

// WithContext adds context information to an error
func (e *StructuredError) WithContext(key string, value interface{}) *StructuredError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// IsType reports whether any error in err's chain is a StructuredError of type t.
func IsType(err error, t ErrorType) bool {
	for err != nil {
		var se *StructuredError
		if !stderrors.As(err, &se) {
			return false
		}
		if se.Type == t {
			return true
		}
		err = se.Cause
	}
	return false
}

// captureStack captures the current stack trace
func captureStack() []uintptr {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:]) // Skip runtime.Callers, this function and the constructor
	return pcs[:n]
}

// NewCapacityError reports an allocation no backend could satisfy.
func NewCapacityError(operation, message string) *StructuredError {
	return New(ErrorTypeCapacity, operation, message)
}

// NewBoundsError reports an index outside the valid range of an array or page.
func NewBoundsError(operation, message string) *StructuredError {
	return New(ErrorTypeBounds, operation, message)
}

// NewOverflowError reports a value that does not fit its packed slot.
func NewOverflowError(operation, message string) *StructuredError {
	return New(ErrorTypeOverflow, operation, message)
}

// NewConfigurationError creates a configuration error
func NewConfigurationError(operation, message string) *StructuredError {
	return New(ErrorTypeConfiguration, operation, message)
}

// NewInputError creates an input error
func NewInputError(operation, message string) *StructuredError {
	return New(ErrorTypeInput, operation, message)
}

// NewStorageError creates a storage error
func NewStorageError(operation, message string) *StructuredError {
	return New(ErrorTypeStorage, operation, message)
}

// WrapCapacityError wraps an error as a capacity error
func WrapCapacityError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeCapacity, operation, message)
}

// WrapInputError wraps an error as an input error
func WrapInputError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeInput, operation, message)
}

// WrapStorageError wraps an error as a storage error
func WrapStorageError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeStorage, operation, message)
}
