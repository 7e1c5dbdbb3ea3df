package supabase

// ErrorResponse is the error payload returned by the REST and RPC endpoints
type ErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

// AuthErrorResponse is the error payload returned by the auth endpoints
type AuthErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Message          string `json:"msg"`
	Code             any    `json:"code"` // Number or string depending on version
}

// TokenResponse is returned by /auth/v1/token for every grant type
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
}

// User is the auth user embedded in token responses
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type passwordGrant struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshGrant struct {
	RefreshToken string `json:"refresh_token"`
}
