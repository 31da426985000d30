package chat

import (
	"errors"
	"fmt"
)

// Handshake failures. They are always returned wrapped in an *AuthError.
var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
	ErrUnauthorized = errors.New("unauthorized role")
	ErrMissingRoom  = errors.New("missing room id")
)

var (
	// ErrProtocol marks a frame that cannot be treated as chat content.
	// The frame is dropped and the connection stays open.
	ErrProtocol = errors.New("protocol error")

	// ErrSessionClosed is returned by Session.Send once the session is closed.
	ErrSessionClosed = errors.New("session closed")

	// ErrSlowConsumer is returned by Session.Send when the outbound buffer is full.
	ErrSlowConsumer = errors.New("outbound buffer full")

	// ErrPersistence wraps failures reported by a Sink.
	ErrPersistence = errors.New("persistence failure")

	// ErrConnectionLost wraps transport errors that end a Loop abnormally.
	ErrConnectionLost = errors.New("connection lost")
)

// AuthKind separates authentication from authorization failures.
type AuthKind int

const (
	Authentication AuthKind = iota
	Authorization
)

func (k AuthKind) String() string {
	switch k {
	case Authentication:
		return "authentication"
	case Authorization:
		return "authorization"
	default:
		return "unknown"
	}
}

// AuthError is returned by Handshaker.Authenticate. The connection it belongs
// to must be rejected with a policy-violation close.
type AuthError struct {
	Kind AuthKind
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Kind, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err is a handshake rejection.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsDeliveryFailure reports whether err came from sending to a single member.
func IsDeliveryFailure(err error) bool {
	return errors.Is(err, ErrSessionClosed) || errors.Is(err, ErrSlowConsumer)
}

func authError(kind AuthKind, err error) error {
	return &AuthError{Kind: kind, Err: err}
}
