// Package errors provides standardized error handling for SensorKit components.
// It implements the two-tier evaluation error model (soft vs hard), standard
// error variables, and helper functions for consistent error wrapping and
// classification across the system.
package errors

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorSoft represents evaluation failures caused by a referenced upstream
	// value not yet existing. Expected transiently during startup: logged at
	// warning level, never fatal.
	ErrorSoft ErrorClass = iota
	// ErrorHard represents any other evaluation failure: logged at error
	// level, prior committed state is preserved.
	ErrorHard
	// ErrorInvalid represents errors due to invalid input, configuration,
	// or lifecycle misuse.
	ErrorInvalid
	// ErrorFatal represents unrecoverable infrastructure errors.
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorSoft:
		return "soft"
	case ErrorHard:
		return "hard"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Expression evaluation errors
	ErrUndefinedReference = errors.New("referenced value is undefined")
	ErrEvaluationFailed   = errors.New("expression evaluation failed")
	ErrCompilationFailed  = errors.New("expression compilation failed")

	// Component lifecycle errors
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
	ErrShuttingDown   = errors.New("component is shutting down")

	// Connection and subscription errors
	ErrNoConnection       = errors.New("no connection available")
	ErrSubscriptionFailed = errors.New("subscription failed")

	// State store errors
	ErrBucketNotFound = errors.New("bucket not found")
	ErrKeyNotFound    = errors.New("key not found")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
	ErrNoSensors     = errors.New("no sensors configured")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsSoft checks if an error is a soft (startup-tolerant) evaluation failure
func IsSoft(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorSoft
	}

	return errors.Is(err, ErrUndefinedReference)
}

// IsHard checks if an error is a hard evaluation failure
func IsHard(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorHard
	}

	return errors.Is(err, ErrEvaluationFailed) || errors.Is(err, ErrCompilationFailed)
}

// IsInvalid checks if an error is due to invalid input or configuration
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig) ||
		errors.Is(err, ErrNoSensors) ||
		errors.Is(err, ErrAlreadyStarted) ||
		errors.Is(err, ErrNotStarted)
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrNoConnection) || errors.Is(err, ErrBucketNotFound)
}

// Classify returns the error class for an error. Unknown errors default to
// hard: an unexplained evaluation failure must never be silently tolerated
// the way a missing upstream value is.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorSoft
	}

	if IsSoft(err) {
		return ErrorSoft
	}
	if IsFatal(err) {
		return ErrorFatal
	}
	if IsInvalid(err) {
		return ErrorInvalid
	}

	return ErrorHard
}

// newClassified creates a new classified error.
// This is an internal helper - use the Wrap* functions instead.
func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapSoft wraps an error as soft with context
func WrapSoft(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorSoft, wrappedErr, component, method, wrappedErr.Error())
}

// WrapHard wraps an error as hard with context
func WrapHard(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorHard, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}
