package testserver

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

const refreshTokenLength = 32

// storedRefreshToken is the server side record behind an opaque refresh token.
// Clients only ever see Token.
type storedRefreshToken struct {
	Token    string
	Username string
	Iat      time.Time
}

// refreshTokens handles refresh token creation, lookup, and rotation.
type refreshTokens struct {
	lock    sync.Mutex
	byToken map[string]*storedRefreshToken
	ttl     time.Duration
	now     func() time.Time
}

func newRefreshTokens(ttl time.Duration) *refreshTokens {
	return &refreshTokens{
		byToken: map[string]*storedRefreshToken{},
		ttl:     ttl,
		now:     time.Now,
	}
}

// Create generates a new refresh token for username and stores it.
func (m *refreshTokens) Create(username string) (string, error) {
	tokenBytes := make([]byte, refreshTokenLength)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	token := hex.EncodeToString(tokenBytes)
	m.lock.Lock()
	m.byToken[token] = &storedRefreshToken{Token: token, Username: username, Iat: m.now()}
	m.lock.Unlock()
	return token, nil
}

// Redeem returns the owner of a live token. With consume set the token can't
// be used again.
func (m *refreshTokens) Redeem(token string, consume bool) (string, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()

	rt, ok := m.byToken[token]
	if !ok {
		return "", false
	}
	if m.isExpired(rt) || consume {
		delete(m.byToken, token)
	}
	if m.isExpired(rt) {
		return "", false
	}
	return rt.Username, true
}

func (m *refreshTokens) setClock(now func() time.Time) {
	m.lock.Lock()
	m.now = now
	m.lock.Unlock()
}

// Revoke drops every outstanding refresh token.
func (m *refreshTokens) Revoke() {
	m.lock.Lock()
	clear(m.byToken)
	m.lock.Unlock()
}

func (m *refreshTokens) isExpired(rt *storedRefreshToken) bool {
	return m.ttl > 0 && m.now().Sub(rt.Iat) > m.ttl
}
