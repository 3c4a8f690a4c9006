package authclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-auth-client/credentials"
	"golang.org/x/oauth2"
)

// Refresher exchanges a refresh token for a new credential. A returned
// Credential with an empty RefreshToken means the server did not rotate it.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (credentials.Credential, error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context, refreshToken string) (credentials.Credential, error)

func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (credentials.Credential, error) {
	return f(ctx, refreshToken)
}

// OAuth2Refresher performs the RFC 6749 refresh_token grant.
type OAuth2Refresher struct {
	config     *oauth2.Config
	httpClient *http.Client
}

var _ Refresher = (*OAuth2Refresher)(nil)

// NewOAuth2Refresher uses httpClient for token endpoint calls. It must not be
// a client built on this package's Transport. A nil httpClient uses a plain
// client with a 30 second timeout.
func NewOAuth2Refresher(cfg *oauth2.Config, httpClient *http.Client) *OAuth2Refresher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &OAuth2Refresher{config: cfg, httpClient: httpClient}
}

// TokenURL lets the coordinator recognise token endpoint requests.
func (r *OAuth2Refresher) TokenURL() string {
	return r.config.Endpoint.TokenURL
}

func (r *OAuth2Refresher) Refresh(ctx context.Context, refreshToken string) (credentials.Credential, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	tok, err := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return credentials.Credential{}, fmt.Errorf("refresh_token grant: %w", err)
	}

	rotated := tok.RefreshToken
	if rotated == refreshToken {
		rotated = ""
	}
	return credentials.Credential{AccessToken: tok.AccessToken, RefreshToken: rotated}, nil
}

// Login runs the resource owner password grant and stores the result.
func (r *OAuth2Refresher) Login(ctx context.Context, store credentials.Store, username, password string) error {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	tok, err := r.config.PasswordCredentialsToken(ctx, username, password)
	if err != nil {
		return fmt.Errorf("password grant: %w", err)
	}
	return credentials.SaveCredential(ctx, store, credentials.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	})
}

// DiscoverEndpoint reads the token and authorization endpoints from the
// issuer's OpenID configuration.
func DiscoverEndpoint(ctx context.Context, issuerURL string, httpClient *http.Client) (oauth2.Endpoint, error) {
	if httpClient != nil {
		ctx = oidc.ClientContext(ctx, httpClient)
	}
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return oauth2.Endpoint{}, fmt.Errorf("failed to create OIDC provider: %w", err)
	}
	return provider.Endpoint(), nil
}
