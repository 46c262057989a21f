package errors

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode represents internal error codes for cache operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Client errors (4xx equivalent)
	ErrCodeInvalidArgument   ErrorCode = 1000
	ErrCodeNotActive         ErrorCode = 1001
	ErrCodeIncompleteRequest ErrorCode = 1002
	ErrCodeUnknownClass      ErrorCode = 1003
	ErrCodeUnsupportedFormat ErrorCode = 1004
	ErrCodeInvalidKey        ErrorCode = 1005
	ErrCodeValueTooLarge     ErrorCode = 1006

	// Server errors (5xx equivalent)
	ErrCodeInternal          ErrorCode = 2000
	ErrCodeUnavailable       ErrorCode = 2001
	ErrCodeConflict          ErrorCode = 2002
	ErrCodeDeadlock          ErrorCode = 2003
	ErrCodeLockTimeout       ErrorCode = 2004
	ErrCodeTimeout           ErrorCode = 2005
	ErrCodeCacheStoreFailed  ErrorCode = 2006
	ErrCodeResourceExhausted ErrorCode = 2007
)

// CacheError represents a structured error with code and context
type CacheError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *CacheError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *CacheError) Unwrap() error {
	return e.Cause
}

// ToGRPCStatus converts CacheError to gRPC status
func (e *CacheError) ToGRPCStatus() *status.Status {
	return status.New(e.toGRPCCode(), e.Error())
}

// toGRPCCode maps internal error codes to gRPC codes
func (e *CacheError) toGRPCCode() codes.Code {
	switch e.Code {
	case ErrCodeOK:
		return codes.OK
	case ErrCodeInvalidArgument, ErrCodeInvalidKey, ErrCodeValueTooLarge,
		ErrCodeUnknownClass, ErrCodeUnsupportedFormat:
		return codes.InvalidArgument
	case ErrCodeNotActive:
		return codes.FailedPrecondition
	case ErrCodeIncompleteRequest:
		return codes.Aborted
	case ErrCodeConflict, ErrCodeDeadlock, ErrCodeLockTimeout:
		return codes.Aborted
	case ErrCodeTimeout:
		return codes.DeadlineExceeded
	case ErrCodeUnavailable:
		return codes.Unavailable
	case ErrCodeResourceExhausted:
		return codes.ResourceExhausted
	default:
		return codes.Internal
	}
}

// NewCacheError creates a new CacheError
func NewCacheError(code ErrorCode, message string, cause error) *CacheError {
	return &CacheError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *CacheError) WithDetail(key string, value interface{}) *CacheError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *CacheError {
	return NewCacheError(ErrCodeInvalidArgument, message, cause)
}

func InvalidKey(reason string) *CacheError {
	return NewCacheError(ErrCodeInvalidKey, fmt.Sprintf("invalid key: %s", reason), nil).
		WithDetail("reason", reason)
}

func ValueTooLarge(size, maxSize int) *CacheError {
	return NewCacheError(ErrCodeValueTooLarge, fmt.Sprintf("value size %d exceeds maximum %d", size, maxSize), nil).
		WithDetail("size", size).
		WithDetail("max_size", maxSize)
}

func NotActive(scope, cacheName string) *CacheError {
	return NewCacheError(ErrCodeNotActive, fmt.Sprintf("cache %q is not active", qualified(scope, cacheName)), nil).
		WithDetail("scope", scope).
		WithDetail("cache", cacheName)
}

func IncompleteRequest(message string, cause error) *CacheError {
	return NewCacheError(ErrCodeIncompleteRequest, message, cause)
}

func UnknownClass(family, class string) *CacheError {
	return NewCacheError(ErrCodeUnknownClass, fmt.Sprintf("unknown %s class %q", family, class), nil).
		WithDetail("family", family).
		WithDetail("class", class)
}

func UnsupportedFormat(format string) *CacheError {
	return NewCacheError(ErrCodeUnsupportedFormat, fmt.Sprintf("unsupported serialization format %q", format), nil).
		WithDetail("format", format)
}

func Conflict(message string, cause error) *CacheError {
	return NewCacheError(ErrCodeConflict, message, cause)
}

func Deadlock(txID uint64, holder uint64) *CacheError {
	return NewCacheError(ErrCodeDeadlock, fmt.Sprintf("deadlock detected: transaction %d waits on %d", txID, holder), nil).
		WithDetail("tx_id", txID).
		WithDetail("holder", holder)
}

func LockTimeout(keyID string) *CacheError {
	return NewCacheError(ErrCodeLockTimeout, fmt.Sprintf("timed out waiting for lock on %s", keyID), nil).
		WithDetail("key", keyID)
}

func Timeout(message string, cause error) *CacheError {
	return NewCacheError(ErrCodeTimeout, message, cause)
}

func InternalError(message string, cause error) *CacheError {
	return NewCacheError(ErrCodeInternal, message, cause)
}

func Unavailable(message string, cause error) *CacheError {
	return NewCacheError(ErrCodeUnavailable, message, cause)
}

func CacheStoreFailed(message string, cause error) *CacheError {
	return NewCacheError(ErrCodeCacheStoreFailed, message, cause)
}

func ResourceExhausted(resource string, current, limit int) *CacheError {
	return NewCacheError(ErrCodeResourceExhausted, fmt.Sprintf("%s exhausted: %d/%d", resource, current, limit), nil).
		WithDetail("resource", resource).
		WithDetail("current", current).
		WithDetail("limit", limit)
}

// IsCacheError checks if an error is a CacheError
func IsCacheError(err error) bool {
	var ce *CacheError
	return errors.As(err, &ce)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	var ce *CacheError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ErrCodeInternal
}

// IsRetryable reports whether err aborted a transaction that may be retried.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case ErrCodeConflict, ErrCodeDeadlock, ErrCodeLockTimeout:
		return IsCacheError(err)
	}
	return false
}

func qualified(scope, name string) string {
	if scope == "" {
		return name
	}
	return scope + "/" + name
}
