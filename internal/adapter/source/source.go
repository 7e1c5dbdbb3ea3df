package source

import (
	"fmt"
	"log/slog"

	"github.com/mmcdole/verdad/internal/adapter"
	"github.com/mmcdole/verdad/internal/adapter/source/supabase"
	"github.com/mmcdole/verdad/internal/domain"
)

// Backend combines the procedure-call boundary with the session it
// authenticates as.
type Backend interface {
	domain.Caller
	Session() *supabase.Session
	Auth() *supabase.AuthFlow
}

// NewClient creates a backend client from the connection settings and the
// stored session. This factory function abstracts away the hosted backend.
func NewClient(cfg *adapter.BackendConfig, session *adapter.SessionConfig, logger *slog.Logger) (Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("backend config is nil")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("backend URL is required")
	}
	if cfg.AnonKey == "" {
		return nil, fmt.Errorf("backend anon key is required")
	}

	return supabase.NewClient(cfg.URL, cfg.AnonKey, supabase.NewSession(storedSession(session)), cfg.Timeout, logger), nil
}

// NewClientFromConfig creates a Backend from the application config
func NewClientFromConfig(cfg *adapter.Config, logger *slog.Logger) (Backend, error) {
	return NewClient(&cfg.Backend, &cfg.Session, logger)
}

func storedSession(s *adapter.SessionConfig) *domain.AuthResult {
	if s == nil || s.AccessToken == "" {
		return nil
	}
	return &domain.AuthResult{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    s.ExpiresAt,
		User:         domain.User{ID: s.UserID, Email: s.Email},
	}
}
