// Package errors provides the unified error type and factory functions for
// TrialScope.  Every layer (domain, intelligence, application, infrastructure,
// interfaces) uses AppError as the single carrier for structured error
// information so callers always receive a symbolic code, never a raw failure.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// stackDepth is the maximum number of frames captured per error.
const stackDepth = 32

// captureStack returns a formatted call-stack string starting two frames above
// the caller (skipping captureStack itself and New/Wrap).
func captureStack(skip int) string {
	pcs := make([]uintptr, stackDepth)
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return ""
	}
	frames := runtime.CallersFrames(pcs[:n])
	var sb strings.Builder
	for {
		f, more := frames.Next()
		// Trim standard-library noise to keep traces readable.
		if !strings.Contains(f.File, "runtime/") {
			fmt.Fprintf(&sb, "\n\t%s:%d %s", f.File, f.Line, f.Function)
		}
		if !more {
			break
		}
	}
	return sb.String()
}

// ─────────────────────────────────────────────────────────────────────────────
// AppError
// ─────────────────────────────────────────────────────────────────────────────

// AppError is the single structured error type used throughout TrialScope.
// It satisfies the standard error interface and supports error wrapping so
// that errors.Is / errors.As / errors.Unwrap work across all layers.
//
// Usage:
//
//	return errors.New(errors.ErrCodeUnknownModule, "module not registered").WithDetail("name=age")
//	return errors.Wrap(err, errors.ErrCodeModuleExecution, "module drug failed")
type AppError struct {
	// Code is the typed error code that identifies the failure category.
	Code ErrorCode

	// Message is the primary human-readable description of the error.
	Message string

	// Detail carries supplementary context (module names, weight keys) that
	// aids debugging.
	Detail string

	// Cause is the underlying error, enabling errors.Is / errors.As traversal.
	Cause error

	// Stack is captured by New and Wrap.  It is not part of Error() output.
	Stack string
}

// Error implements the standard error interface.
// Format: "[<code>] <message>: <detail>"
// The detail segment is omitted when Detail is empty.
func (e *AppError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code.String(), e.Message, e.Detail)
	}
	return fmt.Sprintf("[%s] %s", e.Code.String(), e.Message)
}

// Unwrap returns the underlying cause error.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetail returns a shallow copy of the receiver with Detail set to the
// supplied string.  It is safe to call on a nil pointer (returns nil).
func (e *AppError) WithDetail(detail string) *AppError {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Detail = detail
	return &clone
}

// WithCause returns a shallow copy of the receiver with Cause set to err.
func (e *AppError) WithCause(err error) *AppError {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Cause = err
	return &clone
}

// ─────────────────────────────────────────────────────────────────────────────
// Factories
// ─────────────────────────────────────────────────────────────────────────────

// New constructs a fresh AppError with the given code and message.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Stack:   captureStack(1),
	}
}

// Newf is New with a format string.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(1),
	}
}

// Wrap constructs an AppError that wraps an existing error.
// If err is nil, Wrap returns nil so it can be used inline.
//
// When err is already an *AppError and code is CodeUnknown the original code is
// preserved.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	if code == CodeUnknown {
		var ae *AppError
		if errors.As(err, &ae) {
			code = ae.Code
		}
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
		Stack:   captureStack(1),
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Error-chain inspection helpers
// ─────────────────────────────────────────────────────────────────────────────

// IsCode reports whether any error in err's chain is an *AppError with the
// given code:
//
//	if errors.IsCode(err, errors.ErrCodeDuplicateModule) { ... }
func IsCode(err error, code ErrorCode) bool {
	var ae *AppError
	for err != nil {
		if errors.As(err, &ae) && ae.Code == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// IsNotFound reports whether any error in err's chain is an *AppError with
// CodeNotFound, ErrCodeUnknownModule or ErrCodeUnknownWeightProfile.
func IsNotFound(err error) bool {
	var ae *AppError
	for err != nil {
		if errors.As(err, &ae) {
			switch ae.Code {
			case CodeNotFound, ErrCodeUnknownModule, ErrCodeUnknownWeightProfile:
				return true
			}
		}
		err = errors.Unwrap(err)
	}
	return false
}

// GetCode extracts the ErrorCode from the first *AppError found in err's chain.
// If no *AppError is present, CodeInternal is returned; nil yields CodeOK.
func GetCode(err error) ErrorCode {
	if err == nil {
		return CodeOK
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// ─────────────────────────────────────────────────────────────────────────────
// Convenience factories
// ─────────────────────────────────────────────────────────────────────────────

// NotFound constructs a CodeNotFound AppError.
func NotFound(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message, Stack: captureStack(1)}
}

// InvalidParam constructs a CodeInvalidParam AppError.
func InvalidParam(message string) *AppError {
	return &AppError{Code: CodeInvalidParam, Message: message, Stack: captureStack(1)}
}

// Internal constructs a CodeInternal AppError.
func Internal(message string) *AppError {
	return &AppError{Code: CodeInternal, Message: message, Stack: captureStack(1)}
}

// Conflict constructs a CodeConflict AppError.
func Conflict(message string) *AppError {
	return &AppError{Code: CodeConflict, Message: message, Stack: captureStack(1)}
}

// DuplicateModule reports a second registration under an existing name.
func DuplicateModule(name string) *AppError {
	return &AppError{
		Code:    ErrCodeDuplicateModule,
		Message: DefaultMessageForCode(ErrCodeDuplicateModule),
		Detail:  "name=" + name,
		Stack:   captureStack(1),
	}
}

// UnknownModule reports a lookup of an unregistered module name.
func UnknownModule(name string) *AppError {
	return &AppError{
		Code:    ErrCodeUnknownModule,
		Message: DefaultMessageForCode(ErrCodeUnknownModule),
		Detail:  "name=" + name,
		Stack:   captureStack(1),
	}
}

// ModuleExecution wraps a failure raised inside a single module's Process.
func ModuleExecution(name string, cause error) *AppError {
	return &AppError{
		Code:    ErrCodeModuleExecution,
		Message: DefaultMessageForCode(ErrCodeModuleExecution),
		Detail:  "name=" + name,
		Cause:   cause,
		Stack:   captureStack(1),
	}
}

// InvalidWeightProfile reports a mandatory weight key missing from a profile.
func InvalidWeightProfile(profile, key string) *AppError {
	return &AppError{
		Code:    ErrCodeInvalidWeightProfile,
		Message: DefaultMessageForCode(ErrCodeInvalidWeightProfile),
		Detail:  fmt.Sprintf("profile=%s key=%s", profile, key),
		Stack:   captureStack(1),
	}
}
