package domain

import (
	"context"
	"encoding/json"
)

// Caller is the backend procedure-call boundary. Every fetch and mutation
// primitive is built on it. Implementations classify failures into the
// sentinel errors and *RemoteError.
type Caller interface {
	Call(ctx context.Context, procedure string, params map[string]any) (json.RawMessage, error)
}

// CallerFunc adapts a function to Caller
type CallerFunc func(ctx context.Context, procedure string, params map[string]any) (json.RawMessage, error)

func (f CallerFunc) Call(ctx context.Context, procedure string, params map[string]any) (json.RawMessage, error) {
	return f(ctx, procedure, params)
}

// Session exposes the current identity. Mutations consult it before any
// network work.
type Session interface {
	CurrentUser() (User, bool)
}

// AuthResult contains the result of a successful sign-in
type AuthResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64 // Unix seconds
	User         User
}

// AuthFlow runs an interactive sign-in against the backend
type AuthFlow interface {
	Run(ctx context.Context) (*AuthResult, error)
}
