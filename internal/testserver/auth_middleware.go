package testserver

import (
	"context"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const contextKeySubject ContextKey = "subject"

// RequireAuth validates the bearer JWT and rejects tokens from an expired
// generation with 401.
func (s *Server) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := bearerToken(r)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
			writeError(w, http.StatusUnauthorized, ErrCodeInvalidRequest, err.Error())
			return
		}

		claims := &Claims{}
		_, err = jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
			return s.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			writeError(w, http.StatusUnauthorized, ErrCodeInvalidToken, err.Error())
			return
		}
		if claims.Generation < s.generation.Load() {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			writeError(w, http.StatusUnauthorized, ErrCodeInvalidToken, "token expired")
			return
		}

		ctx := context.WithValue(r.Context(), contextKeySubject, claims.Subject)
		next(w, r.WithContext(ctx))
	}
}
