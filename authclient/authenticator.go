package authclient

import (
	"errors"
	"net/http"

	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/rs/zerolog"
)

// Authenticator is the before-send hook.
type Authenticator struct {
	store  credentials.Store
	logger zerolog.Logger
}

func NewAuthenticator(store credentials.Store, logger zerolog.Logger) *Authenticator {
	return &Authenticator{store: store, logger: logger}
}

// BeforeSend returns a copy of req carrying the stored access token as a
// bearer Authorization header. Without a token, or when the store cannot be
// read, req is returned unmodified. It never fails.
func (a *Authenticator) BeforeSend(req *http.Request) *http.Request {
	token, err := a.store.Get(req.Context(), credentials.AccessToken)
	if err != nil {
		if !errors.Is(err, credentials.ErrNotFound) {
			a.logger.Warn().Err(err).Str("request_id", req.Header.Get(RequestIDHeader)).Msg("Failed to read access token")
		}
		return req
	}
	if token == "" {
		return req
	}
	out := req.Clone(req.Context())
	out.Header.Set("Authorization", "Bearer "+token)
	return out
}
