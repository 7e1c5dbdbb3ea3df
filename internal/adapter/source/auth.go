package source

import (
	"log/slog"

	"github.com/mmcdole/verdad/internal/adapter"
	"github.com/mmcdole/verdad/internal/domain"
)

// PersistSession saves the session tokens to the config file whenever they
// change, so a refreshed token survives a restart. A failed save is logged
// and the in-memory session stays in effect.
func PersistSession(b Backend, save func(adapter.SessionConfig) error, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	b.Session().OnChange(func(r domain.AuthResult) {
		if err := save(SessionConfig(r)); err != nil {
			logger.Warn("failed to persist session", "user", r.User.ID, "error", err)
		}
	})
}

// SessionConfig converts a sign-in result to its stored form
func SessionConfig(r domain.AuthResult) adapter.SessionConfig {
	return adapter.SessionConfig{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		UserID:       r.User.ID,
		Email:        r.User.Email,
		ExpiresAt:    r.ExpiresAt,
	}
}
