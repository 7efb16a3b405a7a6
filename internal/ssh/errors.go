package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrSessionClosed is returned when running a command on a closed session
	ErrSessionClosed = errors.New("session closed")
	// ErrSessionBusy is returned when a command is already running on the session
	ErrSessionBusy = errors.New("session busy: a command is already running")
)

// AuthenticationError is returned when the server rejected every auth method
type AuthenticationError struct {
	Target string
	Err    error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %v", e.Target, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// UnreachableError is returned when the host could not be reached
type UnreachableError struct {
	Target string
	Err    error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("host %s unreachable: %v", e.Target, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// UnknownHostKeyError is returned when the host key is not pinned.
// The caller decides whether to trust Fingerprint and retry.
type UnknownHostKeyError struct {
	Host        string
	KeyType     string
	Fingerprint string
	Key         []byte
}

func (e *UnknownHostKeyError) Error() string {
	return fmt.Sprintf("unknown host key for %s (%s %s)", e.Host, e.KeyType, e.Fingerprint)
}

// HostKeyMismatchError is returned when the host presents a key that differs from the pinned one
type HostKeyMismatchError struct {
	Host        string
	KeyType     string
	Fingerprint string
}

func (e *HostKeyMismatchError) Error() string {
	return fmt.Sprintf("host key mismatch for %s: got %s %s (possible man-in-the-middle)", e.Host, e.KeyType, e.Fingerprint)
}

// TransportError is returned when the connection fails after it was established
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// isAuthFailure matches the messages x/crypto/ssh produces when auth is exhausted
func isAuthFailure(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain")
}

// classifyDialError maps a handshake or dial error to the connection taxonomy
func classifyDialError(target string, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &UnreachableError{Target: target, Err: err}
	case isAuthFailure(err):
		return &AuthenticationError{Target: target, Err: err}
	case errors.As(err, &netErr):
		return &UnreachableError{Target: target, Err: err}
	}

	msg := err.Error()
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no route to host") ||
		strings.Contains(msg, "network is unreachable") ||
		strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "connection reset") {
		return &UnreachableError{Target: target, Err: err}
	}
	return &TransportError{Err: err}
}
