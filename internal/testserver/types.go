package testserver

// GrantType is the OAuth 2.0 grant type used at the token endpoint.
type GrantType string

const (
	// PasswordGrant exchanges a username and password for tokens.
	// Token request includes: username, password, client_id
	PasswordGrant GrantType = "password"

	// RefreshTokenGrant exchanges a refresh token for a new access token, and a
	// rotated refresh token when rotation is on.
	// Token request includes: refresh_token, client_id
	RefreshTokenGrant GrantType = "refresh_token"
)

// RFC 6749 section 5.2 and RFC 6750 section 3.1 error codes.
const (
	ErrCodeInvalidRequest       = "invalid_request"
	ErrCodeInvalidGrant         = "invalid_grant"
	ErrCodeUnsupportedGrantType = "unsupported_grant_type"
	ErrCodeInvalidToken         = "invalid_token"
	ErrCodeServerError          = "server_error"
)
