package testserver

// TokenResponse is the RFC 6749 token endpoint response.
type TokenResponse struct {
	// AccessToken is the JWT used as "Authorization: Bearer <access_token>".
	AccessToken string `json:"access_token"`

	// TokenType is always "Bearer".
	TokenType string `json:"token_type"`

	// ExpiresIn is the access token lifetime in seconds. The client never
	// relies on it; expiry is signalled by a 401.
	ExpiresIn int `json:"expires_in,omitempty"`

	// RefreshToken is opaque. Omitted on refresh when rotation is off, so the
	// client keeps the one it has.
	RefreshToken string `json:"refresh_token,omitempty"`

	Scope string `json:"scope,omitempty"`
}

// ErrorResponse is the RFC 6749 section 5.2 error body.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}
