package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the gateway client.
var (
	ErrNotConnected     = fmt.Errorf("not connected to gateway")
	ErrTimeout          = fmt.Errorf("operation timed out")
	ErrConnectionClosed = fmt.Errorf("connection closed")
	ErrHandshakeFailed  = fmt.Errorf("connect handshake failed")
	ErrReconnectFailed  = fmt.Errorf("could not reconnect")
	ErrConfigLoad       = fmt.Errorf("failed to load configuration")

	// Upstream model / provider error categories.
	ErrAuthInvalid     = fmt.Errorf("authentication failed")
	ErrRateLimit       = fmt.Errorf("rate limit exceeded")
	ErrContextOverflow = fmt.Errorf("context window exceeded")
	ErrProviderError   = fmt.Errorf("provider error")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Client.Call")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category for monitoring.
type ErrorCode string

const (
	CodeUnknown          ErrorCode = "UNKNOWN"
	CodeNotConnected     ErrorCode = "NOT_CONNECTED"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeConnectionClosed ErrorCode = "CONNECTION_CLOSED"
	CodeHandshakeFailed  ErrorCode = "HANDSHAKE_FAILED"
	CodeReconnectFailed  ErrorCode = "RECONNECT_FAILED"
	CodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	CodeAuthInvalid      ErrorCode = "AUTH_INVALID"
	CodeRateLimit        ErrorCode = "RATE_LIMIT"
	CodeContextOverflow  ErrorCode = "CONTEXT_OVERFLOW"
	CodeProviderError    ErrorCode = "PROVIDER_ERROR"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotConnected:     CodeNotConnected,
	ErrTimeout:          CodeTimeout,
	ErrConnectionClosed: CodeConnectionClosed,
	ErrHandshakeFailed:  CodeHandshakeFailed,
	ErrReconnectFailed:  CodeReconnectFailed,
	ErrConfigLoad:       CodeConfigLoad,
	ErrAuthInvalid:      CodeAuthInvalid,
	ErrRateLimit:        CodeRateLimit,
	ErrContextOverflow:  CodeContextOverflow,
	ErrProviderError:    CodeProviderError,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	if code, ok := errorCodeMap[err]; ok {
		return code
	}
	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeUnknown
}
