// Package errors defines the error taxonomy shared across mcpwire: sentinel
// errors for documented failure modes and typed errors carrying protocol
// detail. Callers branch with errors.Is / errors.As rather than string
// matching.
package errors

import (
	sterrors "errors"
	"fmt"
)

// JSON-RPC 2.0 reserved error codes used on the wire.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeInternalError  = -32603
)

var (
	ErrNotConnected         = sterrors.New("mcpwire: channel is not connected")
	ErrChannelClosed        = sterrors.New("mcpwire: channel is closed")
	ErrConnectTimeout       = sterrors.New("mcpwire: connect timed out")
	ErrRequestTimeout       = sterrors.New("mcpwire: request timed out")
	ErrRequestCancelled     = sterrors.New("mcpwire: request cancelled")
	ErrDuplicateRequestID   = sterrors.New("mcpwire: request id is already tracked")
	ErrRequestNotTracked    = sterrors.New("mcpwire: request id is not tracked")
	ErrMissingRequestID     = sterrors.New("mcpwire: request id is required")
	ErrMaxRetriesExceeded   = sterrors.New("mcpwire: max retries exceeded")
	ErrMaxReconnectAttempts = sterrors.New("mcpwire: max reconnection attempts reached")
	ErrNoRoute              = sterrors.New("mcpwire: no route matches the message method")
	ErrDestinationNotFound  = sterrors.New("mcpwire: destination is not registered")
	ErrRateLimitExceeded    = sterrors.New("mcpwire: rate limit exceeded")
	ErrAuthenticationFailed = sterrors.New("mcpwire: authentication failed")
	ErrSessionLimitReached  = sterrors.New("mcpwire: session limit reached")
	ErrSessionExists        = sterrors.New("mcpwire: session id is already in use")
	ErrSessionNotFound      = sterrors.New("mcpwire: session not found")
	ErrNoActiveInstances    = sterrors.New("mcpwire: pool has no active instances")
	ErrInstanceNotFound     = sterrors.New("mcpwire: transport instance not found")
)

// ValidationError reports an envelope that violates the protocol invariant.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "mcpwire: invalid envelope: " + e.Reason
}

// ParseError reports wire bytes that are not valid JSON.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return "mcpwire: parse error: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

// ProtocolError carries the error object of a JSON-RPC error response, or a
// local failure mapped onto a reserved code. Err, when set, is the sentinel
// the code was derived from.
type ProtocolError struct {
	Code    int
	Message string
	Data    any
	Err     error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("mcpwire: protocol error %d: %s", e.Code, e.Message)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ConnectError wraps a failed channel connect with the channel type for
// diagnostics.
type ConnectError struct {
	ChannelType string
	Err         error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("mcpwire: %s connect failed: %v", e.ChannelType, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// SendError wraps a failed channel send.
type SendError struct {
	ChannelType string
	Err         error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("mcpwire: %s send failed: %v", e.ChannelType, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// ConfigValidationError wraps configuration validation failures.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "mcpwire: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError wraps err, returning nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
