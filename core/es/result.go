package es

import (
	"errors"
	"fmt"
)

// Error codes carried by failed operation results.
const (
	ErrorCodeConcurrencyConflict = "CONCURRENCY_CONFLICT"
	ErrorCodeCommandRejected     = "COMMAND_REJECTED"
	ErrorCodeNoHandler           = "NO_HANDLER"
	ErrorCodeHandlerPanic        = "HANDLER_PANIC"
	ErrorCodeCanceled            = "CANCELED"
	ErrorCodeCursorUnavailable   = "CURSOR_UNAVAILABLE"
	ErrorCodeStateUnavailable    = "STATE_UNAVAILABLE"
	ErrorCodeConversionFailed    = "CONVERSION_FAILED"
	ErrorCodeStorageFailure      = "STORAGE_FAILURE"
	ErrorCodeInvalidKey          = "INVALID_KEY"
)

// OperationResult is the uniform outcome of command execution.
type OperationResult struct {
	Success      bool   `json:"success"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Result is an OperationResult carrying a value on success.
type Result[T any] struct {
	OperationResult
	Value T
}

func Ok() OperationResult { return OperationResult{Success: true} }

func Fail(code, msg string) OperationResult {
	return OperationResult{ErrorCode: code, ErrorMessage: msg}
}

// FailErr maps err to a failed result. CommandError keeps its code, known
// sentinels map to their codes and anything else is a rejection.
func FailErr(err error) OperationResult {
	var ce *CommandError
	switch {
	case err == nil:
		return Ok()
	case errors.As(err, &ce):
		return Fail(ce.Code, ce.Message)
	case errors.Is(err, ErrConcurrencyConflict):
		return Fail(ErrorCodeConcurrencyConflict, err.Error())
	case errors.Is(err, ErrNoHandler):
		return Fail(ErrorCodeNoHandler, err.Error())
	case errors.Is(err, ErrUnknownEventType):
		return Fail(ErrorCodeConversionFailed, err.Error())
	case errors.Is(err, ErrInvalidKey):
		return Fail(ErrorCodeInvalidKey, err.Error())
	case isCanceled(err):
		return Fail(ErrorCodeCanceled, err.Error())
	}
	return Fail(ErrorCodeCommandRejected, err.Error())
}

func OkValue[T any](v T) Result[T] { return Result[T]{OperationResult: Ok(), Value: v} }

func FailValue[T any](r OperationResult) Result[T] { return Result[T]{OperationResult: r} }

// Err returns nil for successful results and a *CommandError otherwise.
func (r OperationResult) Err() error {
	if r.Success {
		return nil
	}
	return &CommandError{Code: r.ErrorCode, Message: r.ErrorMessage}
}

func (r OperationResult) String() string {
	if r.Success {
		return "ok"
	}
	return fmt.Sprintf("failed: %s: %s", r.ErrorCode, r.ErrorMessage)
}

// CommandError is a structured failure with a stable code.
// Command handlers return it via Reject to report domain validation failures.
type CommandError struct {
	Code    string
	Message string
}

func (e *CommandError) Error() string { return e.Code + ": " + e.Message }

// Is matches other command errors by code.
func (e *CommandError) Is(target error) bool {
	var t *CommandError
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// Reject builds a domain validation failure.
func Reject(code, format string, args ...any) error {
	if code == "" {
		code = ErrorCodeCommandRejected
	}
	return &CommandError{Code: code, Message: fmt.Sprintf(format, args...)}
}
