package testserver

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func postToken(t *testing.T, s *Server, form url.Values) (*http.Response, TokenResponse) {
	t.Helper()
	resp, err := s.Client().Post(s.TokenURL(), "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	defer resp.Body.Close()

	var tr TokenResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&tr))
	}
	return resp, tr
}

func getAPI(t *testing.T, s *Server, token string) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, s.URL+"/api/me", nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestPasswordGrantAndAPI(t *testing.T) {
	s := New(WithUser("bob", "pw"))
	defer s.Close()

	resp, _ := postToken(t, s, url.Values{"grant_type": {"password"}, "username": {"bob"}, "password": {"nope"}})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, tr := postToken(t, s, url.Values{"grant_type": {"password"}, "username": {"bob"}, "password": {"pw"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, tr.AccessToken)
	require.NotEmpty(t, tr.RefreshToken)

	require.Equal(t, http.StatusUnauthorized, getAPI(t, s, ""))
	require.Equal(t, http.StatusUnauthorized, getAPI(t, s, "garbage"))
	require.Equal(t, http.StatusOK, getAPI(t, s, tr.AccessToken))
	require.Equal(t, []string{"/api/me"}, s.Accepted())
}

func TestExpireAccessTokens(t *testing.T) {
	s := New()
	defer s.Close()

	access, refresh, err := s.IssueCredential("bob")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, getAPI(t, s, access))

	s.ExpireAccessTokens()
	require.Equal(t, http.StatusUnauthorized, getAPI(t, s, access))

	resp, tr := postToken(t, s, url.Values{"grant_type": {"refresh_token"}, "refresh_token": {refresh}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, tr.RefreshToken, "refresh token is not rotated by default")
	require.Equal(t, http.StatusOK, getAPI(t, s, tr.AccessToken))
	require.Equal(t, 1, s.RefreshCalls())
}

func TestRotationInvalidatesOldRefreshToken(t *testing.T) {
	s := New(WithRotation(true))
	defer s.Close()

	_, refresh, err := s.IssueCredential("bob")
	require.NoError(t, err)

	resp, tr := postToken(t, s, url.Values{"grant_type": {"refresh_token"}, "refresh_token": {refresh}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, tr.RefreshToken)
	require.NotEqual(t, refresh, tr.RefreshToken)

	resp, _ = postToken(t, s, url.Values{"grant_type": {"refresh_token"}, "refresh_token": {refresh}})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFailRefresh(t *testing.T) {
	s := New()
	defer s.Close()

	_, refresh, err := s.IssueCredential("bob")
	require.NoError(t, err)

	s.FailRefresh(true)
	resp, _ := postToken(t, s, url.Values{"grant_type": {"refresh_token"}, "refresh_token": {refresh}})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRefreshTokenExpiryAndRevocation(t *testing.T) {
	s := New(WithRefreshTTL(time.Minute))
	defer s.Close()

	_, refresh, err := s.IssueCredential("bob")
	require.NoError(t, err)

	s.refreshTokens.setClock(func() time.Time { return time.Now().Add(2 * time.Minute) })
	resp, _ := postToken(t, s, url.Values{"grant_type": {"refresh_token"}, "refresh_token": {refresh}})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	s.refreshTokens.setClock(time.Now)
	_, refresh, err = s.IssueCredential("bob")
	require.NoError(t, err)
	s.RevokeRefreshTokens()
	resp, _ = postToken(t, s, url.Values{"grant_type": {"refresh_token"}, "refresh_token": {refresh}})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
