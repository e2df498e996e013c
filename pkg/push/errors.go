package push

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedPayload is returned when a payload lacks required structural keys.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrNoHandler is reported when no handler is registered for a category.
	ErrNoHandler = errors.New("no handler registered")
	// ErrTimeout is reported when a handler misses its processing deadline.
	ErrTimeout = errors.New("handler deadline exceeded")
	// ErrRegistrationFailure wraps an OS refusal to issue a token.
	ErrRegistrationFailure = errors.New("token registration failed")

	ErrUnknownChannel    = errors.New("unknown channel")
	ErrEmptyToken        = errors.New("empty token")
	ErrAlreadyDispatched = errors.New("push event already dispatched")
	ErrNoCompletion      = errors.New("push event has no completion handle")
)

// MalformedPayloadError names the structural key that was missing or had the
// wrong shape.
type MalformedPayloadError struct {
	Channel Channel
	Key     string
	Reason  string
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("malformed %s payload: key %q %s", e.Channel, e.Key, e.Reason)
}

func (e *MalformedPayloadError) Unwrap() error { return ErrMalformedPayload }
