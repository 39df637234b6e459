package dc

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoTasks is returned when the source reports no completed tasks.
var ErrNoTasks = errors.New("no completed tasks returned by source")

// AuthenticationError represents a failed login or session handshake.
type AuthenticationError struct {
	Client    string // "deluge" or "transmission"
	Operation string // The operation that required authentication
	Err       error  // Underlying error, if any
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s authentication failed during %s: %v", e.Client, e.Operation, e.Err)
	}

	return fmt.Sprintf("%s authentication failed during %s", e.Client, e.Operation)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// NetworkError represents a transport failure or a non-success HTTP status.
type NetworkError struct {
	Client     string
	Operation  string // The RPC method that failed
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	Message    string
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s request %s failed (HTTP %d): %s", e.Client, e.Operation, e.StatusCode, e.Message)
	}

	return fmt.Sprintf("%s request %s failed: %s", e.Client, e.Operation, e.Message)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// RPCError is an error reported by the service inside a successful HTTP response.
type RPCError struct {
	Client    string
	Operation string
	Message   string
	Code      int
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s %s returned error: %s", e.Client, e.Operation, e.Message)
}

// InvalidDescriptorError is returned when a .torrent blob is not usable metainfo.
type InvalidDescriptorError struct {
	TaskID string
	Reason string
	Err    error
}

func (e *InvalidDescriptorError) Error() string {
	return fmt.Sprintf("invalid descriptor for %s: %s", e.TaskID, e.Reason)
}

func (e *InvalidDescriptorError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err must abort the whole pass.
// Authentication, transport and cancellation errors are fatal; anything else
// only affects the task being processed.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var authErr *AuthenticationError
	if errors.As(err, &authErr) {
		return true
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
