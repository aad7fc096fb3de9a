package interaction

import "errors"

// Code is a stable error discriminant, mirrored onto the wire error envelope's
// "code" field.
type Code string

const (
	CodeQuotaExceeded  Code = "QUOTA_EXCEEDED"
	CodeNotFound       Code = "NOT_FOUND"
	CodeUnauthorized   Code = "UNAUTHORIZED"
	CodeSessionMismatch Code = "SESSION_MISMATCH"
	CodeTimeout        Code = "TIMEOUT"
	CodeCancelled      Code = "CANCELLED"
	CodeSessionEvicted Code = "SESSION_EVICTED"
	CodeShutdown       Code = "SHUTDOWN"
	CodeSchema         Code = "SCHEMA"
	CodeReplayDetected Code = "REPLAY_DETECTED"
	CodeExpired        Code = "EXPIRED"
	CodeRateLimit      Code = "RATE_LIMIT"
	CodeLimitExceeded  Code = "LIMIT_EXCEEDED"
	CodeFrameTooLarge  Code = "FRAME_TOO_LARGE"
	CodeInternal       Code = "INTERNAL"
)

// Error is a sentinel error carrying a taxonomy Code, compared with errors.Is.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Message
}

// Is makes errors.Is(err, ErrNotFound) etc. work by comparing codes.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return te.Code == e.Code
	}
	return false
}

func newErr(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Sentinel errors for use with errors.Is.
var (
	ErrQuotaExceeded   = newErr(CodeQuotaExceeded, "session has too many pending interactions")
	ErrNotFound        = newErr(CodeNotFound, "interaction not found or already terminal")
	ErrUnauthorized    = newErr(CodeUnauthorized, "actor does not own session")
	ErrSessionMismatch = newErr(CodeSessionMismatch, "session does not match interaction")
	ErrTimeout         = newErr(CodeTimeout, "interaction timed out")
	ErrCancelled       = newErr(CodeCancelled, "interaction cancelled")
	ErrSessionEvicted  = newErr(CodeSessionEvicted, "session evicted")
	ErrShutdown        = newErr(CodeShutdown, "broker shutting down")
	ErrSchema          = newErr(CodeSchema, "envelope failed schema validation")
	ErrReplayDetected  = newErr(CodeReplayDetected, "nonce already seen")
	ErrExpired         = newErr(CodeExpired, "timestamp outside acceptance window")
	ErrRateLimit       = newErr(CodeRateLimit, "rate limit exceeded")
	ErrLimitExceeded   = newErr(CodeLimitExceeded, "subscription limit exceeded")
	ErrFrameTooLarge   = newErr(CodeFrameTooLarge, "frame exceeds maximum size")
	ErrInternal        = newErr(CodeInternal, "internal error")
)

// WithMessage returns a copy of a sentinel with a more specific message,
// preserving Code for errors.Is comparisons.
func WithMessage(sentinel *Error, msg string) *Error {
	return &Error{Code: sentinel.Code, Message: msg}
}
