package shared

import (
	"errors"
	"fmt"
	"time"
)

// ErrBusy is returned when a completion is already in flight.
var ErrBusy = errors.New("a response is still streaming")

// ValidationReason names why an input was rejected.
type ValidationReason string

const (
	// ReasonEmpty means the input was blank after trimming.
	ReasonEmpty ValidationReason = "empty"
	// ReasonTooLong means the input exceeded the configured maximum.
	ReasonTooLong ValidationReason = "tooLong"
)

// ValidationError rejects input locally, before anything reaches the network.
type ValidationError struct {
	Reason ValidationReason
	Max    int
}

func (e *ValidationError) Error() string {
	if e.Reason == ReasonTooLong {
		return fmt.Sprintf("message cannot exceed %d characters", e.Max)
	}
	return "message cannot be empty"
}

// NetworkError means the request could not be sent or no response arrived.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError is a non-2xx response from the completion endpoint.
type ServerError struct {
	Status     int
	Message    string
	RetryAfter time.Duration
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server error %d", e.Status)
	}
	return fmt.Sprintf("server error %d: %s", e.Status, e.Message)
}

// StreamError means the stream opened but ended abnormally. Partial holds
// whatever content had been assembled before the failure.
type StreamError struct {
	Partial string
	Err     error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream interrupted: %v", e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// PersistenceError is a failed read or write against the session store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsRequestFailure reports whether err belongs to the network, server or
// stream categories, which roll back the assistant placeholder.
func IsRequestFailure(err error) bool {
	var (
		netErr    *NetworkError
		serverErr *ServerError
		streamErr *StreamError
	)
	return errors.As(err, &netErr) || errors.As(err, &serverErr) || errors.As(err, &streamErr)
}
