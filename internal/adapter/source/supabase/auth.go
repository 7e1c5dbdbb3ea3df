package supabase

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/mmcdole/verdad/internal/domain"
)

const authTimeout = 30 * time.Second

// AuthFlow implements domain.AuthFlow with email and password sign-in
type AuthFlow struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
	logger     *slog.Logger

	in           io.Reader
	out          io.Writer
	readPassword func() ([]byte, error)
	now          func() time.Time
}

// NewAuthFlow creates a new password authentication flow reading from the terminal
func NewAuthFlow(baseURL, anonKey string, logger *slog.Logger) *AuthFlow {
	if logger == nil {
		logger = slog.Default()
	}
	return newAuthFlow(strings.TrimRight(baseURL, "/"), anonKey, &http.Client{Timeout: authTimeout}, logger)
}

func newAuthFlow(baseURL, anonKey string, httpClient *http.Client, logger *slog.Logger) *AuthFlow {
	return &AuthFlow{
		baseURL:    baseURL,
		anonKey:    anonKey,
		httpClient: httpClient,
		logger:     logger,
		in:         os.Stdin,
		out:        os.Stdout,
		readPassword: func() ([]byte, error) {
			return term.ReadPassword(int(os.Stdin.Fd()))
		},
		now: time.Now,
	}
}

// Run prompts for credentials and signs in
func (f *AuthFlow) Run(ctx context.Context) (*domain.AuthResult, error) {
	fmt.Fprintln(f.out)
	fmt.Fprintln(f.out, "VERDAD Sign In")
	fmt.Fprintln(f.out, "━━━━━━━━━━━━━━")

	reader := bufio.NewReader(f.in)
	fmt.Fprint(f.out, "Email: ")
	email, err := reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && email != "") {
		return nil, fmt.Errorf("failed to read email: %w", err)
	}
	email = strings.TrimSpace(email)

	// Hidden input
	fmt.Fprint(f.out, "Password: ")
	passwordBytes, err := f.readPassword()
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Fprintln(f.out)

	fmt.Fprintln(f.out, "Signing in...")
	result, err := f.SignIn(ctx, email, string(passwordBytes))
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(f.out, "Signed in as %s\n", result.User.Email)
	return result, nil
}

// SignIn exchanges an email and password for a session
func (f *AuthFlow) SignIn(ctx context.Context, email, password string) (*domain.AuthResult, error) {
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", domain.ErrValidation)
	}
	return f.token(ctx, "password", passwordGrant{Email: email, Password: password})
}

// Refresh exchanges a refresh token for a new session
func (f *AuthFlow) Refresh(ctx context.Context, refreshToken string) (*domain.AuthResult, error) {
	if refreshToken == "" {
		return nil, domain.ErrAuthRequired
	}
	return f.token(ctx, "refresh_token", refreshGrant{RefreshToken: refreshToken})
}

// RefreshSession refreshes s in place
func (f *AuthFlow) RefreshSession(ctx context.Context, s *Session) error {
	result, err := f.Refresh(ctx, s.RefreshToken())
	if err != nil {
		return err
	}
	s.Set(*result)
	return nil
}

// SignOut revokes the session server-side and clears it locally. The local
// session is cleared even when the backend cannot be reached.
func (f *AuthFlow) SignOut(ctx context.Context, s *Session) error {
	token := s.AccessToken()
	s.Clear()
	if token == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+"/auth/v1/logout", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", f.anonKey)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		f.logger.Warn("sign out request failed", "error", err)
		return fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	resp.Body.Close()
	return nil
}

func (f *AuthFlow) token(ctx context.Context, grant string, body any) (*domain.AuthResult, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	reqURL := f.baseURL + "/auth/v1/token?grant_type=" + grant
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", f.anonKey)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		f.logger.Error("auth request failed", "grant", grant, "error", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var payload AuthErrorResponse
		_ = json.Unmarshal(respBody, &payload)
		msg := payload.ErrorDescription
		if msg == "" {
			msg = payload.Message
		}
		f.logger.Error("auth error", "grant", grant, "status", resp.StatusCode, "error", payload.Error)
		remote := &domain.RemoteError{Procedure: "auth", Status: resp.StatusCode, Code: payload.Error, Message: msg}
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
			return nil, errors.Join(domain.ErrAuthRequired, remote)
		}
		return nil, remote
	}

	var tok TokenResponse
	if err := json.Unmarshal(respBody, &tok); err != nil {
		return nil, fmt.Errorf("failed to parse auth response: %w", err)
	}
	if tok.AccessToken == "" || tok.User.ID == "" {
		return nil, &domain.RemoteError{Procedure: "auth", Code: "malformed_response", Message: "token response is missing the session"}
	}

	expiresAt := tok.ExpiresAt
	if expiresAt == 0 && tok.ExpiresIn > 0 {
		expiresAt = f.now().Add(time.Duration(tok.ExpiresIn) * time.Second).Unix()
	}

	return &domain.AuthResult{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expiresAt,
		User:         domain.User{ID: tok.User.ID, Email: tok.User.Email},
	}, nil
}
