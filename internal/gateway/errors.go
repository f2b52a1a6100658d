package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrGatewayUnavailable covers timeouts, transport failures, 429 and 5xx.
	// Callers may retry.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrInvalidRequest covers 4xx responses and explicit rejections. Not retried.
	ErrInvalidRequest = errors.New("payment gateway rejected request")
)

// Error describes a failed gateway call.
type Error struct {
	Op         string
	StatusCode int
	Message    string
	Retryable  bool
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway %s: status %d: %s", e.Op, e.StatusCode, msg)
	}
	return fmt.Sprintf("gateway %s: %s", e.Op, msg)
}

func (e *Error) Unwrap() []error {
	kind := ErrInvalidRequest
	if e.Retryable {
		kind = ErrGatewayUnavailable
	}
	if e.Err == nil {
		return []error{kind}
	}
	return []error{kind, e.Err}
}

// IsRetryable reports whether err is a transient gateway failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrGatewayUnavailable)
}
