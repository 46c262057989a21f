package client

import (
	"errors"
	"fmt"

	pb "github.com/devrev/pairdb/gridcache/pkg/proto"
)

var (
	// ErrNotActive is returned for requests against a released or destroyed cache
	ErrNotActive = errors.New("cache is not active")

	// ErrIncompleteRequest is returned when a request could not be completed,
	// for example because an entry processor failed and its transaction was
	// rolled back
	ErrIncompleteRequest = errors.New("request was not completed")

	// ErrConflict is returned when a transaction could not acquire its locks
	ErrConflict = errors.New("conflicting concurrent update")

	// ErrTimeout is returned when a request exceeds its deadline
	ErrTimeout = errors.New("request timed out")

	// ErrInvalidArgument is returned for requests the server rejects as malformed
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnavailable is returned when the server refuses work, for example
	// because a rate limit was exceeded
	ErrUnavailable = errors.New("service unavailable")

	// ErrNoEndpoint is returned once no endpoint could be reached within the
	// reconnect timeout
	ErrNoEndpoint = errors.New("no proxy endpoint reachable")

	// ErrClosed is returned for operations on a closed session
	ErrClosed = errors.New("session is closed")

	// ErrInternal is returned for server errors without a more specific kind
	ErrInternal = errors.New("internal server error")
)

// RequestError is a failure reported by the server. It matches the
// sentinel for its code with errors.Is.
type RequestError struct {
	Code    int32
	Message string
	Details map[string]string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("gridcache error %d: %s", e.Code, e.Message)
}

// Is maps the wire code to its sentinel
func (e *RequestError) Is(target error) bool {
	return sentinelFor(e.Code) == target
}

// Unwrap returns the sentinel for the error code
func (e *RequestError) Unwrap() error {
	return sentinelFor(e.Code)
}

func sentinelFor(code int32) error {
	switch code {
	case pb.CodeNotActive:
		return ErrNotActive
	case pb.CodeIncompleteRequest:
		return ErrIncompleteRequest
	case pb.CodeConflict:
		return ErrConflict
	case pb.CodeTimeout:
		return ErrTimeout
	case pb.CodeInvalidArgument, pb.CodeUnsupportedFormat:
		return ErrInvalidArgument
	case pb.CodeUnavailable:
		return ErrUnavailable
	}
	return ErrInternal
}

func fromWire(e *pb.ErrorMessage) error {
	return &RequestError{Code: e.Code, Message: e.Message, Details: e.Details}
}
