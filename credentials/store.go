// Package credentials defines the typed key schema and storage contract for
// the bearer credentials attached to outbound requests.
package credentials

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
)

// ErrNotFound is returned by Store.Get when no value is stored for a kind.
var ErrNotFound = apperrors.ErrCredentialNotFound

// Kind names one of the two persisted credential values.
type Kind string

const (
	// AccessToken is the short-lived bearer credential sent with ordinary requests.
	AccessToken Kind = "access_token"
	// RefreshToken is exchanged only to obtain a new access token.
	RefreshToken Kind = "refresh_token"
)

// Kinds lists every known kind.
var Kinds = []Kind{AccessToken, RefreshToken}

func (k Kind) Valid() bool {
	return k == AccessToken || k == RefreshToken
}

func (k Kind) String() string {
	return string(k)
}

// Credential is the access/refresh pair. Both values are opaque.
type Credential struct {
	AccessToken  string
	RefreshToken string
}

// Store persists credentials. Implementations must be safe for concurrent use;
// last write wins.
type Store interface {
	// Get returns the value for kind, or ErrNotFound.
	Get(ctx context.Context, kind Kind) (string, error)
	Save(ctx context.Context, kind Kind, value string) error
	// Remove deletes every listed kind. Missing values are not an error.
	Remove(ctx context.Context, kinds ...Kind) error
}

// Load reads both values. A missing refresh token is tolerated; a missing
// access token returns ErrNotFound.
func Load(ctx context.Context, s Store) (Credential, error) {
	access, err := s.Get(ctx, AccessToken)
	if err != nil {
		return Credential{}, err
	}
	refresh, err := s.Get(ctx, RefreshToken)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Credential{}, err
	}
	return Credential{AccessToken: access, RefreshToken: refresh}, nil
}

// SaveCredential stores a full pair, typically after login. An empty refresh
// token leaves the stored one untouched.
func SaveCredential(ctx context.Context, s Store, c Credential) error {
	if err := s.Save(ctx, AccessToken, c.AccessToken); err != nil {
		return fmt.Errorf("failed to save access token: %w", err)
	}
	if c.RefreshToken == "" {
		return nil
	}
	if err := s.Save(ctx, RefreshToken, c.RefreshToken); err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}
	return nil
}

// Clear removes both values.
func Clear(ctx context.Context, s Store) error {
	return s.Remove(ctx, Kinds...)
}

// ValidateKind returns ErrUnknownKind for anything outside the schema.
func ValidateKind(kind Kind) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", apperrors.ErrUnknownKind, string(kind))
	}
	return nil
}
