package image

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindConnection
	KindTimeout
	KindRateLimit
	KindServer
	KindClient
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindTimeout:
		return "timeout"
	case KindRateLimit:
		return "rate_limit"
	case KindServer:
		return "server"
	case KindClient:
		return "client"
	default:
		return "unknown"
	}
}

const (
	MsgInvalidAPIKey  = "Invalid API key"
	MsgQuotaExceeded  = "Quota exceeded"
	MsgNoImageData    = "No image data received"
	MsgContentPolicy  = "Content policy violation"
	MsgRateLimited    = "Rate limit exceeded"
	MsgSpaceNotFound  = "Space not found"
	MsgSpaceBusy      = "Space queue is full"
	MsgSpaceNotLoaded = "Space unavailable"
)

// Error is the single failure type every backend returns. Retryable is fixed
// when the error is constructed and is the only input the retry engine uses
// to decide whether to try again.
type Error struct {
	Kind       Kind
	Message    string
	Retryable  bool
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewConnectionError(msg string, err error) *Error {
	return &Error{Kind: KindConnection, Message: msg, Retryable: true, Err: err}
}

func NewTimeoutError(timeout time.Duration, err error) *Error {
	msg := "Request timed out"
	if timeout > 0 {
		msg = fmt.Sprintf("Request timed out after %gs", timeout.Seconds())
	}
	return &Error{Kind: KindTimeout, Message: msg, Retryable: true, Err: err}
}

// NewRateLimitError carries the provider's suggested wait; zero means the
// provider gave no hint.
func NewRateLimitError(msg string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimit, Message: msg, Retryable: true, RetryAfter: retryAfter}
}

func NewServerError(msg string) *Error {
	return &Error{Kind: KindServer, Message: msg, Retryable: true}
}

func NewClientError(msg string) *Error {
	return &Error{Kind: KindClient, Message: msg}
}

func NewUnknownError(err error) *Error {
	return &Error{Kind: KindUnknown, Message: err.Error(), Retryable: true, Err: err}
}

// Classify returns the *Error in err's chain, or wraps err in one.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError(0, err)
	}
	return NewUnknownError(err)
}

func IsRetryable(err error) bool {
	e := Classify(err)
	return e != nil && e.Retryable
}
