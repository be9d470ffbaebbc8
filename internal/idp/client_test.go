package idp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL:      baseURL,
		ClientID:     "client-123",
		ClientSecret: "secret-456",
		RedirectURI:  "http://localhost:8080/oauth-redirect",
	})
	require.NoError(t, err)
	return c
}

func TestNewClient(t *testing.T) {
	t.Run("empty base URL rejected", func(t *testing.T) {
		_, err := NewClient(Config{})
		assert.Error(t, err)
	})

	t.Run("trailing slash trimmed", func(t *testing.T) {
		c := newClient(t, "http://localhost:9011/")
		assert.Equal(t, "http://localhost:9011/.well-known/jwks.json", c.JWKSURL())
	})
}

func TestAuthCodeURL(t *testing.T) {
	c := newClient(t, "http://localhost:9011")

	raw := c.AuthCodeURL("state-abc", "challenge-xyz")
	u, err := url.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "/oauth2/authorize", u.Path)
	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "client-123", q.Get("client_id"))
	assert.Equal(t, "state-abc", q.Get("state"))
	assert.Equal(t, "challenge-xyz", q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, "email profile openid", q.Get("scope"))
	assert.Equal(t, "http://localhost:8080/oauth-redirect", q.Get("redirect_uri"))
}

func TestExchangeCode(t *testing.T) {
	t.Run("forwards code and verifier", func(t *testing.T) {
		var gotCode, gotVerifier string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			gotCode = r.FormValue("code")
			gotVerifier = r.FormValue("code_verifier")
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "token-abc",
				"token_type":   "Bearer",
				"expires_in":   3600,
			})
		}))
		defer srv.Close()

		c := newClient(t, srv.URL)
		tok, err := c.ExchangeCode(context.Background(), "auth-code", "verifier-123")
		require.NoError(t, err)
		assert.Equal(t, "token-abc", tok.AccessToken)
		assert.Equal(t, "auth-code", gotCode)
		assert.Equal(t, "verifier-123", gotVerifier)
	})

	t.Run("provider rejection surfaces status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
		}))
		defer srv.Close()

		c := newClient(t, srv.URL)
		_, err := c.ExchangeCode(context.Background(), "bad-code", "verifier-123")
		require.Error(t, err)
		assert.Equal(t, http.StatusBadRequest, ProviderStatus(err))
	})

	t.Run("response without access_token fails", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{"token_type": "Bearer"})
		}))
		defer srv.Close()

		c := newClient(t, srv.URL)
		_, err := c.ExchangeCode(context.Background(), "auth-code", "verifier-123")
		require.Error(t, err)
		assert.Equal(t, 0, ProviderStatus(err))
	})

	t.Run("unreachable provider", func(t *testing.T) {
		c := newClient(t, "http://127.0.0.1:1")
		_, err := c.ExchangeCode(context.Background(), "auth-code", "verifier-123")
		assert.Error(t, err)
	})
}

func TestUserInfo(t *testing.T) {
	t.Run("sends bearer token", func(t *testing.T) {
		var gotAuth string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(UserInfo{
				Subject: "user-1",
				Email:   "teller@example.com",
			})
		}))
		defer srv.Close()

		c := newClient(t, srv.URL)
		info, err := c.UserInfo(context.Background(), &oauth2.Token{AccessToken: "token-abc", TokenType: "Bearer"})
		require.NoError(t, err)
		assert.Equal(t, "user-1", info.Subject)
		assert.Equal(t, "teller@example.com", info.Email)
		assert.Equal(t, "Bearer token-abc", gotAuth)
	})

	t.Run("error status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		}))
		defer srv.Close()

		c := newClient(t, srv.URL)
		_, err := c.UserInfo(context.Background(), &oauth2.Token{AccessToken: "bad", TokenType: "Bearer"})
		assert.Error(t, err)
	})
}

func TestLogoutURL(t *testing.T) {
	c := newClient(t, "http://localhost:9011")
	assert.Equal(t, "http://localhost:9011/oauth2/logout?client_id=client-123", c.LogoutURL())
}
