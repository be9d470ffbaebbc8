// Package cookie is the wire contract with the browser: three named cookies
// carry the whole session state, so the service itself stays stateless and
// restart-safe.
package cookie

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dgellow/changebank/internal/idp"
	"github.com/dgellow/changebank/internal/pkce"
)

// Cookie names. Session and token are httpOnly. Details is readable by page
// scripts and therefore untrusted: display only, never an authorization
// input.
const (
	SessionCookie = "userSession"
	TokenCookie   = "userToken"
	DetailsCookie = "userDetails"
)

// TokenPayload is the token endpoint response persisted in the token
// cookie. Its effective validity window is the provider's token lifetime;
// nothing here tracks it separately.
type TokenPayload struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
}

// SetSession stores the PKCE challenge triple for the in-flight flow.
func SetSession(w http.ResponseWriter, c pkce.Challenge) error {
	return setJSON(w, SessionCookie, c, true)
}

// GetSession returns the stored challenge, or an error when the cookie is
// absent or unreadable.
func GetSession(r *http.Request) (*pkce.Challenge, error) {
	var c pkce.Challenge
	if err := getJSON(r, SessionCookie, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// SetToken stores the provider's token response. Only set after a
// successful code exchange.
func SetToken(w http.ResponseWriter, t TokenPayload) error {
	return setJSON(w, TokenCookie, t, true)
}

// GetToken returns the stored token payload.
func GetToken(r *http.Request) (*TokenPayload, error) {
	var t TokenPayload
	if err := getJSON(r, TokenCookie, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// SetDetails stores the denormalized profile for UI display.
func SetDetails(w http.ResponseWriter, info idp.UserInfo) error {
	return setJSON(w, DetailsCookie, info, false)
}

// ClearAll removes every changebank cookie. Used on logout.
func ClearAll(w http.ResponseWriter) {
	for _, name := range []string{SessionCookie, TokenCookie, DetailsCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:   name,
			Value:  "",
			Path:   "/",
			MaxAge: -1,
		})
	}
}

func setJSON(w http.ResponseWriter, name string, value any, httpOnly bool) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s cookie: %w", name, err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    base64.RawURLEncoding.EncodeToString(data),
		Path:     "/",
		HttpOnly: httpOnly,
		Secure:   !isDev(),
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func getJSON(r *http.Request, name string, out any) error {
	c, err := r.Cookie(name)
	if err != nil {
		return err
	}

	data, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil {
		return fmt.Errorf("decoding %s cookie: %w", name, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s cookie: %w", name, err)
	}
	return nil
}

// isDev relaxes the Secure flag for local HTTP development.
func isDev() bool {
	env := strings.ToLower(os.Getenv("CHANGEBANK_ENV"))
	return env == "development" || env == "dev"
}
