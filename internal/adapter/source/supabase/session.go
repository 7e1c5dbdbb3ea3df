package supabase

import (
	"sync"
	"time"

	"github.com/mmcdole/verdad/internal/domain"
)

// Session holds the signed-in user's tokens. It is safe for concurrent use.
type Session struct {
	mu        sync.RWMutex
	user      domain.User
	access    string
	refresh   string
	expiresAt int64

	onChange func(domain.AuthResult)
}

// NewSession creates a session from stored tokens. A nil result means signed out.
func NewSession(result *domain.AuthResult) *Session {
	s := &Session{}
	if result != nil {
		s.set(*result)
	}
	return s
}

// OnChange registers fn to run after every sign-in, refresh or sign-out, so
// the tokens can be persisted. Signed-out is reported as a zero result.
func (s *Session) OnChange(fn func(domain.AuthResult)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// CurrentUser returns the signed-in user
func (s *Session) CurrentUser() (domain.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.access == "" || s.user.ID == "" {
		return domain.User{}, false
	}
	return s.user, true
}

// AccessToken returns the bearer token, empty when signed out
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access
}

// RefreshToken returns the refresh token, empty when signed out
func (s *Session) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refresh
}

// Expired reports whether the access token has expired at now
func (s *Session) Expired(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt > 0 && now.Unix() >= s.expiresAt
}

// Result returns the current tokens
func (s *Session) Result() domain.AuthResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.AuthResult{
		AccessToken:  s.access,
		RefreshToken: s.refresh,
		ExpiresAt:    s.expiresAt,
		User:         s.user,
	}
}

// Set replaces the tokens after a sign-in or refresh
func (s *Session) Set(result domain.AuthResult) {
	s.mu.Lock()
	s.set(result)
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn(result)
	}
}

// Clear signs the session out
func (s *Session) Clear() {
	s.Set(domain.AuthResult{})
}

func (s *Session) set(result domain.AuthResult) {
	s.user = result.User
	s.access = result.AccessToken
	s.refresh = result.RefreshToken
	s.expiresAt = result.ExpiresAt
}
