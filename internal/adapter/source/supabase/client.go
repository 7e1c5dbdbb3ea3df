package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/verdad/internal/domain"
)

const (
	defaultTimeout = 30 * time.Second
	rpcPath        = "/rest/v1/rpc/"

	// PostgREST code for an expired or invalid JWT
	codeJWTExpired = "PGRST301"
)

// Client implements domain.Caller over the backend's RPC endpoint
type Client struct {
	baseURL    string
	anonKey    string
	session    *Session
	auth       *AuthFlow
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new RPC client. session may be nil for anonymous use.
func NewClient(baseURL, anonKey string, session *Session, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if session == nil {
		session = NewSession(nil)
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		session: session,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
	c.auth = newAuthFlow(c.baseURL, anonKey, c.httpClient, logger)
	return c
}

// Session returns the session the client authenticates with
func (c *Client) Session() *Session {
	return c.session
}

// Auth returns the auth flow for this backend
func (c *Client) Auth() *AuthFlow {
	return c.auth
}

// Call invokes a remote procedure with JSON params and returns the raw result.
// An expired token is refreshed once and the call repeated.
func (c *Client) Call(ctx context.Context, procedure string, params map[string]any) (json.RawMessage, error) {
	body, err := c.call(ctx, procedure, params)
	if !c.shouldRefresh(err) {
		return body, err
	}

	c.logger.Info("access token expired, refreshing", "procedure", procedure)
	if rerr := c.auth.RefreshSession(ctx, c.session); rerr != nil {
		c.logger.Warn("token refresh failed", "error", rerr)
		return nil, err
	}
	return c.call(ctx, procedure, params)
}

func (c *Client) shouldRefresh(err error) bool {
	var remote *domain.RemoteError
	return errors.Is(err, domain.ErrAuthRequired) &&
		errors.As(err, &remote) && remote.Code == codeJWTExpired &&
		c.session.RefreshToken() != ""
}

func (c *Client) call(ctx context.Context, procedure string, params map[string]any) (json.RawMessage, error) {
	if params == nil {
		params = map[string]any{}
	}
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode params for %s: %v", domain.ErrValidation, procedure, err)
	}

	reqURL := c.baseURL + rpcPath + procedure
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	token := c.session.AccessToken()
	if token == "" {
		token = c.anonKey
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	c.logger.Debug("rpc request", "procedure", procedure)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		c.logger.Error("rpc request failed", "procedure", procedure, "error", err)
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrNetwork, procedure, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: failed to read response: %v", domain.ErrNetwork, procedure, err)
	}

	c.logger.Debug("rpc response", "procedure", procedure, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if len(bytes.TrimSpace(body)) == 0 {
			return json.RawMessage("null"), nil
		}
		return json.RawMessage(body), nil
	}
	return nil, c.classify(procedure, resp.StatusCode, body)
}

// classify maps a non-2xx response to the client error taxonomy
func (c *Client) classify(procedure string, status int, body []byte) error {
	remote := &domain.RemoteError{Procedure: procedure, Status: status}

	var payload ErrorResponse
	if err := json.Unmarshal(body, &payload); err == nil {
		remote.Code = payload.Code
		remote.Message = payload.Message
		remote.Hint = payload.Hint
		if remote.Message == "" {
			remote.Message = payload.Details
		}
	}
	if remote.Message == "" {
		remote.Message = http.StatusText(status)
	}

	switch {
	case status == http.StatusUnauthorized:
		return errors.Join(domain.ErrAuthRequired, remote)
	case status == http.StatusBadGateway, status == http.StatusServiceUnavailable, status == http.StatusGatewayTimeout:
		c.logger.Warn("backend unavailable", "procedure", procedure, "status", status)
		return errors.Join(domain.ErrNetwork, remote)
	default:
		c.logger.Error("rpc error", "procedure", procedure, "status", status, "code", remote.Code, "message", remote.Message)
		return remote
	}
}
