package config

import (
	"strings"
	"time"
)

type OAuthConfig interface {
	GetIssuerURL() string
	GetTokenURL() string
	GetClientID() string
	GetClientSecret() string
	GetScopes() []string
	GetRefreshTimeout() time.Duration
}

type OAuth struct{}

var _ OAuthConfig = OAuth{}

// GetIssuerURL returns the OIDC issuer. When set, the token endpoint is
// discovered from it and TOKEN_URL is ignored.
func (OAuth) GetIssuerURL() string {
	return GetEnv("ISSUER_URL", "")
}

func (OAuth) GetTokenURL() string {
	return GetEnv("TOKEN_URL", "http://localhost:8080/oauth/token")
}

func (OAuth) GetClientID() string {
	return GetEnv("CLIENT_ID", "")
}

func (OAuth) GetClientSecret() string {
	return GetEnv("CLIENT_SECRET", "")
}

// GetScopes returns the space separated SCOPES env var as a slice.
func (OAuth) GetScopes() []string {
	return strings.Fields(GetEnv("SCOPES", "openid offline_access"))
}

func (OAuth) GetRefreshTimeout() time.Duration {
	return GetDurationEnv("REFRESH_TIMEOUT", 30*time.Second)
}
