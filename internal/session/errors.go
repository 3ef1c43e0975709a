// internal/session/errors.go
package session

import "errors"

var (
	// ErrSessionNotFound is returned for an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInsufficientBalance is returned when a trade would exceed the
	// session's operating balance.
	ErrInsufficientBalance = errors.New("insufficient operating balance")
	// ErrRecoveryInconsistent is returned when persisted state references a
	// wallet with no matching record.
	ErrRecoveryInconsistent = errors.New("persisted session references missing wallet record")
	// ErrInvalidTransition is returned for a state change the machine does
	// not permit.
	ErrInvalidTransition = errors.New("invalid state transition")
)
