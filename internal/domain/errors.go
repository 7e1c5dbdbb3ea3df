package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for client operations
var (
	// ErrValidation indicates malformed caller input
	ErrValidation = errors.New("invalid input")

	// ErrNetwork indicates a transport failure or timeout
	ErrNetwork = errors.New("backend is unreachable")

	// ErrAuthRequired indicates the operation needs a signed-in user
	ErrAuthRequired = errors.New("sign in required")

	// ErrNotFound indicates the requested entity does not exist
	ErrNotFound = errors.New("entity not found")

	// ErrConflict indicates the server state diverged from the optimistic guess
	ErrConflict = errors.New("server state diverged")
)

// RemoteError is a structured error payload returned by the backend
type RemoteError struct {
	Procedure string
	Status    int
	Code      string
	Message   string
	Hint      string
}

func (e *RemoteError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "remote call failed"
	}
	if e.Procedure != "" {
		msg = e.Procedure + ": " + msg
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Code)
	}
	return msg
}

// IsRetryable reports whether an idempotent read may be retried after err
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// Conflict wraps a remote error as a reconciliation conflict
func Conflict(procedure, message string) error {
	return errors.Join(ErrConflict, &RemoteError{Procedure: procedure, Code: "conflict", Message: message})
}
