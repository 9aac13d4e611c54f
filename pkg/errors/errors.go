// Package errors defines custom error types and sentinel errors for the hookline engine.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Sentinel errors for common engine scenarios.
// These can be used with errors.Is() for error comparison.
var (
	// ErrInvalidHook is returned when a hook definition fails validation.
	ErrInvalidHook = errors.New("invalid hook definition")

	// ErrAlreadyRunning is returned by the registry when an execution slot
	// for a hook is already occupied.
	ErrAlreadyRunning = errors.New("hook is already running")

	// ErrNotRunning is returned when an operation expects a live execution
	// and none exists.
	ErrNotRunning = errors.New("hook is not running")

	// ErrHookNotFound is returned when an operation names a hook the engine
	// does not know.
	ErrHookNotFound = errors.New("hook not found")

	// ErrCancelled is returned by a run that stopped because its cancel
	// signal fired. It marks a normal, distinguishable completion, not a
	// failure.
	ErrCancelled = errors.New("hook execution cancelled")

	// ErrProviderFailure is returned for AI backend errors.
	ErrProviderFailure = errors.New("provider request failed")

	// ErrEngineClosed is returned when an operation reaches an engine that
	// has been disposed.
	ErrEngineClosed = errors.New("engine is closed")
)

const unknownValue = "unknown"

// ErrorCode classifies the failures a hook execution can produce.
type ErrorCode int

const (
	// CodeUnknown represents an unknown or unclassified error.
	CodeUnknown ErrorCode = iota

	// CodeInvalidHook represents hook definition validation failures.
	CodeInvalidHook

	// CodeAlreadyRunning represents a rejected duplicate execution.
	CodeAlreadyRunning

	// CodeCancelled represents a run stopped through its cancel signal.
	CodeCancelled

	// CodeProviderError represents AI backend failures.
	CodeProviderError

	// CodeWriteError represents workspace file-write failures.
	CodeWriteError

	// CodeStoreError represents hook persistence failures.
	CodeStoreError

	// CodeWatchError represents filesystem watcher failures.
	CodeWatchError
)

// String returns a string representation of the error code.
func (c ErrorCode) String() string {
	switch c {
	case CodeUnknown:
		return "unknown"
	case CodeInvalidHook:
		return "invalid_hook"
	case CodeAlreadyRunning:
		return "already_running"
	case CodeCancelled:
		return "cancelled"
	case CodeProviderError:
		return "provider_error"
	case CodeWriteError:
		return "write_error"
	case CodeStoreError:
		return "store_error"
	case CodeWatchError:
		return "watch_error"
	default:
		return unknownValue
	}
}

// HookError represents a structured error from the hook engine. It carries
// the hook and file the failure belongs to so status consumers can attribute
// it without parsing messages.
type HookError struct {
	// Code represents the type of error that occurred.
	Code ErrorCode

	// Message is a user-friendly error message.
	Message string

	// HookID is the hook the error belongs to, if applicable.
	HookID string

	// FilePath is the triggering file, if applicable.
	FilePath string

	// Underlying is the original error that caused this one.
	Underlying error

	// Retryable indicates whether this condition might succeed if retried.
	Retryable bool
}

// Error implements the error interface for HookError.
func (e *HookError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Underlying != nil {
		return e.Underlying.Error()
	}
	return "hook error occurred"
}

// Unwrap returns the underlying error for error unwrapping support.
func (e *HookError) Unwrap() error {
	return e.Underlying
}

// Is implements error comparison so a coded HookError matches its sentinel.
func (e *HookError) Is(target error) bool {
	if e.Underlying != nil && errors.Is(e.Underlying, target) {
		return true
	}

	switch e.Code {
	case CodeInvalidHook:
		return errors.Is(target, ErrInvalidHook)
	case CodeAlreadyRunning:
		return errors.Is(target, ErrAlreadyRunning)
	case CodeCancelled:
		return errors.Is(target, ErrCancelled)
	case CodeProviderError:
		return errors.Is(target, ErrProviderFailure)
	}

	return false
}

// New creates a HookError with the specified code and message.
func New(code ErrorCode, message string) *HookError {
	return &HookError{
		Code:      code,
		Message:   message,
		Retryable: isRetryableByCode(code),
	}
}

// Wrap wraps an existing error as a HookError with additional context.
func Wrap(underlying error, code ErrorCode, message string) *HookError {
	return &HookError{
		Code:       code,
		Message:    message,
		Underlying: underlying,
		Retryable:  isRetryableByCode(code) || isRetryableError(underlying),
	}
}

// WrapHook wraps an error with hook and file attribution.
func WrapHook(underlying error, code ErrorCode, message, hookID, filePath string) *HookError {
	e := Wrap(underlying, code, message)
	e.HookID = hookID
	e.FilePath = filePath
	return e
}

// IsCancelled reports whether an error marks a cooperatively cancelled run.
// Context cancellation at a suspension point counts.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// isRetryableByCode determines if an error code represents a retryable condition.
func isRetryableByCode(code ErrorCode) bool {
	switch code {
	case CodeProviderError:
		return true
	case CodeInvalidHook, CodeAlreadyRunning, CodeCancelled,
		CodeWriteError, CodeStoreError, CodeWatchError:
		return false
	default:
		return false
	}
}

// isNetworkRetryable determines if a network error is retryable based on error patterns.
func isNetworkRetryable(err error) bool {
	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"connection timeout",
		"i/o timeout",
		"network is unreachable",
		"no route to host",
		"broken pipe",
		"connection aborted",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Context errors represent cancellation or deadline, never retried.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true
		}
		return isNetworkRetryable(err)
	}

	return false
}

// IsRetryable is a convenience function to check if any error is retryable.
func IsRetryable(err error) bool {
	var hookErr *HookError
	if errors.As(err, &hookErr) {
		return hookErr.Retryable
	}

	return isRetryableError(err)
}

// GetErrorCode extracts the error code from any error, returning CodeUnknown
// if the error is not a HookError.
func GetErrorCode(err error) ErrorCode {
	var hookErr *HookError
	if errors.As(err, &hookErr) {
		return hookErr.Code
	}

	return CodeUnknown
}

// FromHTTPStatus creates a HookError for a provider HTTP response status.
func FromHTTPStatus(statusCode int, provider string) *HookError {
	var (
		message   string
		retryable bool
	)

	switch {
	case statusCode == 429:
		message = fmt.Sprintf("provider %s rate limited the request (HTTP 429)", provider)
		retryable = true
	case statusCode >= 500:
		message = fmt.Sprintf("provider %s server error (HTTP %d)", provider, statusCode)
		retryable = true
	case statusCode == 401 || statusCode == 403:
		message = fmt.Sprintf("provider %s rejected credentials (HTTP %d)", provider, statusCode)
		retryable = false
	default:
		message = fmt.Sprintf("provider %s returned unexpected status %d", provider, statusCode)
		retryable = false
	}

	return &HookError{
		Code:      CodeProviderError,
		Message:   message,
		Retryable: retryable,
	}
}
