package syncer

import (
	"errors"
	"fmt"
)

// Common errors returned by the Queue
var (
	ErrQueueClosed      = errors.New("sync queue is closed")
	ErrInvalidOperation = errors.New("invalid sync operation")
)

type permanentError struct {
	cause error
}

func (e permanentError) Error() string {
	if e.cause == nil {
		return "permanent error"
	}
	return e.cause.Error()
}

func (e permanentError) Unwrap() error {
	return e.cause
}

type transientError struct {
	cause error
}

func (e transientError) Error() string {
	if e.cause == nil {
		return "transient error"
	}
	return e.cause.Error()
}

func (e transientError) Unwrap() error {
	return e.cause
}

// Permanent marks an error as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{cause: err}
}

// Transient marks an error as retryable. Unmarked errors are retryable too;
// the marker exists so adapters can override a permanent classification.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{cause: err}
}

// IsPermanent reports whether err was marked as non-retryable and not
// re-marked as transient by an outer wrapper.
func IsPermanent(err error) bool {
	for err != nil {
		switch err.(type) {
		case transientError:
			return false
		case permanentError:
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// RetryExhaustedError is the terminal failure of an operation that kept
// failing transiently until the attempt cap.
type RetryExhaustedError struct {
	Key      Key
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("sync of %s gave up after %d attempts: %v", e.Key, e.Attempts, e.Err)
}

// Unwrap returns the last failure.
func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}
