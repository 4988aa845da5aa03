package deras

import (
	"errors"
	"strings"
)

// ErrorCode represents a specific type of connection-layer error for
// programmatic handling.
type ErrorCode int

const (
	// Connection and command errors (100-199)
	ErrCodeNotConnected ErrorCode = iota + 100
	ErrCodeTransport
	ErrCodeParseFailed
	ErrCodeIgnoredEvent
	ErrCodeTimeout
	ErrCodeServerError
)

// DerasError provides structured error information for the device
// connection layer. Entry carries the offending log entry on gateway
// error responses for diagnostics.
type DerasError struct {
	Code    ErrorCode
	Op      string // Operation that failed (e.g., "Connect", "SendAndAwait")
	Message string // Human-readable message
	Cause   error  // Underlying error
	Entry   *LogEntry
}

func (e *DerasError) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *DerasError) Unwrap() error {
	return e.Cause
}

func (e *DerasError) Is(target error) bool {
	if t, ok := target.(*DerasError); ok {
		return e.Code == t.Code
	}
	return false
}

// NewNotConnectedError creates an error for operations attempted without
// an open connection.
func NewNotConnectedError(op string) *DerasError {
	return &DerasError{
		Code:    ErrCodeNotConnected,
		Op:      op,
		Message: "not connected",
	}
}

// NewTransportError creates an error for socket-level failures.
func NewTransportError(op string, cause error) *DerasError {
	return &DerasError{
		Code:    ErrCodeTransport,
		Op:      op,
		Message: "websocket connection error",
		Cause:   cause,
	}
}

// NewParseError creates an error for malformed inbound frames.
func NewParseError(op string, cause error) *DerasError {
	return &DerasError{
		Code:    ErrCodeParseFailed,
		Op:      op,
		Message: "malformed frame",
		Cause:   cause,
	}
}

// NewIgnoredEventError creates a rejection for well-formed frames whose
// event is not a tag read. It is not an error condition for the caller,
// only a signal that no Read was produced.
func NewIgnoredEventError(op, event string) *DerasError {
	return &DerasError{
		Code:    ErrCodeIgnoredEvent,
		Op:      op,
		Message: "event is not a tag read: " + event,
	}
}

// NewTimeoutError creates an error for command correlation deadlines.
func NewTimeoutError(op string) *DerasError {
	return &DerasError{
		Code:    ErrCodeTimeout,
		Op:      op,
		Message: "no matching response before deadline",
	}
}

// NewServerError creates an error for gateway responses with a
// non-success status code.
func NewServerError(op string, entry LogEntry) *DerasError {
	return &DerasError{
		Code:    ErrCodeServerError,
		Op:      op,
		Message: "gateway reported failure",
		Entry:   &entry,
	}
}

// IsNotConnected checks whether err indicates a missing connection.
func IsNotConnected(err error) bool {
	return hasCode(err, ErrCodeNotConnected)
}

// IsTimeout checks whether err indicates a correlation timeout.
func IsTimeout(err error) bool {
	return hasCode(err, ErrCodeTimeout)
}

// IsServerError checks whether err indicates a gateway failure response.
func IsServerError(err error) bool {
	return hasCode(err, ErrCodeServerError)
}

// IsIgnoredEvent checks whether err is the non-tag-read rejection.
func IsIgnoredEvent(err error) bool {
	return hasCode(err, ErrCodeIgnoredEvent)
}

// GetErrorCode extracts the ErrorCode from an error if it is a
// DerasError. Returns 0 otherwise.
func GetErrorCode(err error) ErrorCode {
	var de *DerasError
	if errors.As(err, &de) {
		return de.Code
	}
	return 0
}

func hasCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	var de *DerasError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}
