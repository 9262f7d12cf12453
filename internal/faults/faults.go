// Package faults defines the closed set of error codes the service surfaces.
// Codes are stable wire-level identifiers; retryability is carried explicitly
// and never implied by the code alone.
package faults

import (
	"errors"
	"fmt"
)

// Validation codes.
const (
	InvalidAgentID   = "invalid_agent_id"
	InvalidSessionID = "invalid_session_id"
	InvalidPayload   = "invalid_payload"
	InvalidModel     = "invalid_model"
	InvalidTool      = "invalid_tool"
	InvalidArguments = "invalid_arguments"
)

// Missing-entity codes.
const (
	AgentNotFound   = "agent_not_found"
	SessionNotFound = "session_not_found"
	ProcessNotFound = "process_not_found"
)

// Conflict codes.
const (
	AlreadyExists       = "already_exists"
	ProcessLimitReached = "process_limit_reached"
)

// Authorization codes.
const (
	ToolForbidden  = "tool_forbidden"
	CommandBlocked = "command_blocked"
	PathNotAllowed = "path_not_allowed"
	CwdNotAllowed  = "cwd_not_allowed"
	RateLimited    = "rate_limited"
)

// Runtime codes.
const (
	ReadFailed        = "read_failed"
	WriteFailed       = "write_failed"
	EditFailed        = "edit_failed"
	ExecFailed        = "exec_failed"
	LaunchFailed      = "launch_failed"
	StorageFailure    = "storage_failure"
	SessionWriteFail  = "session_write_failed"
	SearchNotFound    = "search_not_found"
	FileTooLarge      = "file_too_large"
	ContentTooLarge   = "content_too_large"
	BinaryNotSupport  = "binary_not_supported"
	NotConfigured     = "not_configured"
)

// Error is a coded error. The zero Retryable means callers must not retry.
type Error struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	wrapped   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.wrapped }

// New builds a non-retryable coded error.
func New(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Retry builds a retryable coded error.
func Retry(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Retryable: true}
}

// Wrap attaches a cause to a coded error.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: err.Error(), wrapped: err}
}

// Ensure returns err unchanged when it already carries a code, otherwise
// wraps it under code.
func Ensure(code string, err error) error {
	if err == nil {
		return nil
	}
	if Code(err) != "" {
		return err
	}
	return Wrap(code, err)
}

// Code extracts the fault code from err, or "" when err carries none.
func Code(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// Is reports whether err carries the given fault code.
func Is(err error, code string) bool { return Code(err) == code }
