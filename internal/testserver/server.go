// Package testserver runs an in-process OAuth2 token endpoint and a
// JWT-protected API. Tests and the demo command use it to exercise the client
// against real token validation.
package testserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	RouteToken     = "/oauth/token"
	RouteDiscovery = "/.well-known/openid-configuration"
	RouteAPI       = "/api/"
)

// Claims are the access token claims. Generation lets the server expire every
// outstanding token at once.
type Claims struct {
	jwt.RegisteredClaims
	Generation int64 `json:"gen"`
}

// Server is an httptest.Server with token issuing state.
type Server struct {
	*httptest.Server

	secret    []byte
	accessTTL time.Duration
	rotate    bool
	users     map[string]string
	gate      chan struct{}

	generation   atomic.Int64
	refreshCalls atomic.Int32
	failRefresh  atomic.Bool

	refreshTokens *refreshTokens
	logger        zerolog.Logger

	lock     sync.Mutex
	accepted []string // X-Request-ID or path of each authorised API call
}

type Option func(*Server)

// WithUser registers a password grant user.
func WithUser(username, password string) Option {
	return func(s *Server) {
		s.users[username] = password
	}
}

// WithRotation issues a new refresh token on every refresh and invalidates
// the old one.
func WithRotation(rotate bool) Option {
	return func(s *Server) {
		s.rotate = rotate
	}
}

func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Server) {
		s.accessTTL = ttl
	}
}

// WithRefreshTTL expires refresh tokens ttl after they were issued. Zero, the
// default, never expires them.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(s *Server) {
		s.refreshTokens.ttl = ttl
	}
}

// WithLogger logs every request at debug level.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRefreshGate holds every refresh_token grant until gate yields.
func WithRefreshGate(gate chan struct{}) Option {
	return func(s *Server) {
		s.gate = gate
	}
}

// New starts the server. Callers must Close it.
func New(opts ...Option) *Server {
	s := &Server{
		secret:        []byte(uuid.NewString()),
		accessTTL:     time.Hour,
		users:         map[string]string{},
		refreshTokens: newRefreshTokens(0),
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+RouteToken, ChainMiddleware(s.handleToken, s.LoggingMiddleware))
	mux.HandleFunc("GET "+RouteDiscovery, ChainMiddleware(s.handleDiscovery, s.LoggingMiddleware))
	mux.HandleFunc(RouteAPI, ChainMiddleware(s.handleAPI, s.LoggingMiddleware, s.RecoverMiddleware, s.RequireAuth))
	s.Server = httptest.NewServer(mux)
	return s
}

func (s *Server) TokenURL() string {
	return s.URL + RouteToken
}

// ExpireAccessTokens invalidates every access token issued so far.
func (s *Server) ExpireAccessTokens() {
	s.generation.Add(1)
}

// RevokeRefreshTokens invalidates every refresh token issued so far.
func (s *Server) RevokeRefreshTokens() {
	s.refreshTokens.Revoke()
}

// FailRefresh makes refresh_token grants fail with invalid_grant.
func (s *Server) FailRefresh(fail bool) {
	s.failRefresh.Store(fail)
}

// RefreshCalls counts refresh_token grants received.
func (s *Server) RefreshCalls() int {
	return int(s.refreshCalls.Load())
}

// Accepted returns the request ids of authorised API calls in the order they
// were served.
func (s *Server) Accepted() []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]string(nil), s.accepted...)
}

// IssueCredential mints a token pair for username without a password grant.
func (s *Server) IssueCredential(username string) (accessToken, refreshToken string, err error) {
	accessToken, err = s.issueAccessToken(username)
	if err != nil {
		return "", "", err
	}
	refreshToken, err = s.refreshTokens.Create(username)
	if err != nil {
		return "", "", err
	}
	return accessToken, refreshToken, nil
}

func (s *Server) issueAccessToken(username string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   username,
			Issuer:    s.URL,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
		Generation: s.generation.Load(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "malformed form")
		return
	}

	switch GrantType(r.PostFormValue("grant_type")) {
	case PasswordGrant:
		username := r.PostFormValue("username")
		if pw, ok := s.users[username]; !ok || pw != r.PostFormValue("password") {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidGrant, "bad username or password")
			return
		}
		access, refresh, err := s.IssueCredential(username)
		if err != nil {
			writeError(w, http.StatusInternalServerError, ErrCodeServerError, err.Error())
			return
		}
		writeToken(w, access, refresh, s.accessTTL)

	case RefreshTokenGrant:
		s.refreshCalls.Add(1)
		if s.gate != nil {
			select {
			case <-s.gate:
			case <-r.Context().Done():
				return
			}
		}
		s.handleRefresh(w, r.PostFormValue("refresh_token"))

	default:
		writeError(w, http.StatusBadRequest, ErrCodeUnsupportedGrantType, "")
	}
}

func (s *Server) handleRefresh(w http.ResponseWriter, refreshToken string) {
	if s.failRefresh.Load() {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidGrant, "refresh token revoked")
		return
	}

	username, ok := s.refreshTokens.Redeem(refreshToken, s.rotate)
	if !ok {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidGrant, "unknown refresh token")
		return
	}

	access, err := s.issueAccessToken(username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeServerError, err.Error())
		return
	}
	var rotated string
	if s.rotate {
		if rotated, err = s.refreshTokens.Create(username); err != nil {
			writeError(w, http.StatusInternalServerError, ErrCodeServerError, err.Error())
			return
		}
	}
	writeToken(w, access, rotated, s.accessTTL)
}

func (s *Server) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                   s.URL,
		"authorization_endpoint":   s.URL + "/oauth/authorize",
		"token_endpoint":           s.TokenURL(),
		"jwks_uri":                 s.URL + "/.well-known/jwks.json",
		"response_types_supported": []string{"code"},
		"grant_types_supported":    []GrantType{PasswordGrant, RefreshTokenGrant},
	})
}

func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get("X-Request-ID")
	if id == "" {
		id = r.URL.Path
	}
	s.lock.Lock()
	s.accepted = append(s.accepted, id)
	s.lock.Unlock()

	subject, _ := r.Context().Value(contextKeySubject).(string)
	writeJSON(w, http.StatusOK, map[string]string{"path": r.URL.Path, "subject": subject})
}

func writeToken(w http.ResponseWriter, access, refresh string, ttl time.Duration) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int(ttl.Seconds()),
		RefreshToken: refresh,
	})
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, ErrorResponse{Error: code, ErrorDescription: description})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("missing Authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
		return "", fmt.Errorf("invalid Authorization header format")
	}
	return parts[1], nil
}
