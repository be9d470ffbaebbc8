// Package idp talks to the OpenID-Connect identity provider: authorize
// redirect construction, PKCE code exchange, and userinfo lookup.
package idp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Scopes requested on every authorization redirect.
var scopes = []string{"email", "profile", "openid"}

// UserInfo is the provider's userinfo response. It feeds the client-readable
// details cookie and is display-only: never an authorization input.
type UserInfo struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Picture       string `json:"picture,omitempty"`
}

// Config configures the provider client.
type Config struct {
	// BaseURL of the identity provider, e.g. http://localhost:9011.
	BaseURL      string
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// Client wraps the provider's OAuth2 endpoints. Constructed once at startup
// and held for the process lifetime.
type Client struct {
	config      oauth2.Config
	baseURL     string
	userInfoURL string
	httpClient  *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if _, err := url.Parse(base); err != nil || base == "" {
		return nil, fmt.Errorf("invalid identity provider base URL %q", cfg.BaseURL)
	}

	return &Client{
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  base + "/oauth2/authorize",
				TokenURL: base + "/oauth2/token",
			},
		},
		baseURL:     base,
		userInfoURL: base + "/oauth2/userinfo",
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// AuthCodeURL builds the authorization redirect carrying the opaque state
// and the S256 code challenge. The verifier itself never leaves the session
// cookie.
func (c *Client) AuthCodeURL(state, challenge string) string {
	return c.config.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// ExchangeCode trades the authorization code and PKCE verifier for tokens.
// Not retried: a rejected code or network failure aborts the flow.
func (c *Client) ExchangeCode(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := c.config.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}
	return tok, nil
}

// UserInfo fetches the user's profile with the access token.
func (c *Client) UserInfo(ctx context.Context, tok *oauth2.Token) (*UserInfo, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	client := c.config.Client(ctx, tok)

	resp, err := client.Get(c.userInfoURL)
	if err != nil {
		return nil, fmt.Errorf("fetching user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("userinfo endpoint returned status %d: %s", resp.StatusCode, body)
	}

	var info UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decoding user info: %w", err)
	}
	return &info, nil
}

// LogoutURL is the provider's front-channel logout endpoint.
func (c *Client) LogoutURL() string {
	return c.baseURL + "/oauth2/logout?client_id=" + url.QueryEscape(c.config.ClientID)
}

// JWKSURL is where the provider publishes its signing keys.
func (c *Client) JWKSURL() string {
	return c.baseURL + "/.well-known/jwks.json"
}

// ProviderStatus extracts the provider's HTTP status from a failed token
// exchange, or 0 when the failure never reached the provider.
func ProviderStatus(err error) int {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		return retrieveErr.Response.StatusCode
	}
	return 0
}
