// Package server binds the HTTP surface to the authentication and
// authorization collaborators. Session state lives entirely in browser
// cookies; there is no server-side session table.
package server

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/dgellow/changebank/internal/authz"
	"github.com/dgellow/changebank/internal/cookie"
	"github.com/dgellow/changebank/internal/idp"
	jsonwriter "github.com/dgellow/changebank/internal/json"
	"github.com/dgellow/changebank/internal/log"
	"github.com/dgellow/changebank/internal/pkce"
	"github.com/dgellow/changebank/internal/token"
)

// IdentityProvider is the slice of idp.Client the handlers use.
type IdentityProvider interface {
	AuthCodeURL(state, challenge string) string
	ExchangeCode(ctx context.Context, code, verifier string) (*oauth2.Token, error)
	UserInfo(ctx context.Context, tok *oauth2.Token) (*idp.UserInfo, error)
	LogoutURL() string
}

// TokenValidator is the slice of token.Validator the handlers use.
type TokenValidator interface {
	Validate(ctx context.Context, raw string) (token.Identity, error)
}

// Handlers provides the route handlers with dependency injection
type Handlers struct {
	provider  IdentityProvider
	validator TokenValidator
	gate      authz.Gate
}

// NewHandlers creates route handlers wired to the given collaborators.
func NewHandlers(provider IdentityProvider, validator TokenValidator, gate authz.Gate) *Handlers {
	return &Handlers{
		provider:  provider,
		validator: validator,
		gate:      gate,
	}
}

// Routes builds the full HTTP handler.
func (h *Handlers) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", h.Home)
	mux.HandleFunc("GET /login", h.Login)
	mux.HandleFunc("GET /oauth-redirect", h.OAuthRedirect)
	mux.HandleFunc("GET /account", h.Account)
	mux.HandleFunc("GET /error", h.ErrorPage)
	mux.HandleFunc("GET /make-change", h.MakeChangePage)
	mux.HandleFunc("POST /make-change", h.MakeChange)
	mux.HandleFunc("GET /logout", h.Logout)
	mux.HandleFunc("GET /oauth2/logout", h.OAuthLogout)
	mux.Handle("GET /static/", staticHandler())
	mux.HandleFunc("GET /health", healthHandler)

	return ChainMiddleware(mux,
		NewLoggerMiddleware("http"),
		NewRecoverMiddleware("http"),
	)
}

// authorize decides whether the request may perform action. The token is
// validated on every request; any failure means unauthenticated, never
// allowed. No permission check happens without a verified token.
func (h *Handlers) authorize(r *http.Request, action string) bool {
	tok, err := cookie.GetToken(r)
	if err != nil || tok.AccessToken == "" {
		return false
	}

	if action == authz.ActionHome {
		// Reserved action: the landing page always gets the anonymous view.
		return false
	}

	id, err := h.validator.Validate(r.Context(), tok.AccessToken)
	if err != nil {
		log.LogDebugWithFields("server", "Token rejected", map[string]any{
			"action": action,
			"error":  err.Error(),
		})
		return false
	}

	return h.gate.Check(r.Context(), id.Subject, action)
}

// Home begins a fresh PKCE challenge and renders the anonymous landing page.
func (h *Handlers) Home(w http.ResponseWriter, r *http.Request) {
	if h.authorize(r, authz.ActionHome) {
		http.Redirect(w, r, "/account", http.StatusFound)
		return
	}

	challenge, err := pkce.Begin()
	if err != nil {
		log.LogError("Failed to begin PKCE challenge: %v", err)
		jsonwriter.WriteInternalServerError(w, "Internal server error")
		return
	}
	if err := cookie.SetSession(w, challenge); err != nil {
		log.LogError("Failed to set session cookie: %v", err)
		jsonwriter.WriteInternalServerError(w, "Internal server error")
		return
	}

	renderPage(w, homePage, nil)
}

// Login redirects to the identity provider's authorize endpoint with the
// state and code challenge from the session cookie.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	sess, err := cookie.GetSession(r)
	if err != nil || sess.State == "" || sess.Challenge == "" {
		// Cookie was cleared or never issued, start over
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	http.Redirect(w, r, h.provider.AuthCodeURL(sess.State, sess.Challenge), http.StatusFound)
}

// OAuthRedirect is the authorization-code callback: state check, code
// exchange, userinfo fetch, cookie issuance.
func (h *Handlers) OAuthRedirect(w http.ResponseWriter, r *http.Request) {
	returnedState := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")

	stored, err := cookie.GetSession(r)
	if err != nil {
		stored = nil
	}

	verifier, err := pkce.Complete(stored, returnedState)
	if err != nil {
		// CSRF suspicion: no detail leaks to the client beyond going home.
		log.LogWarnWithFields("server", "State mismatch on OAuth callback", map[string]any{
			"remote_addr": r.RemoteAddr,
		})
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	tok, err := h.provider.ExchangeCode(r.Context(), code, verifier)
	if err != nil {
		status := idp.ProviderStatus(err)
		if status == 0 {
			status = http.StatusBadGateway
		}
		log.LogErrorWithFields("server", "Code exchange failed", map[string]any{
			"status": status,
			"error":  err.Error(),
		})
		jsonwriter.WriteError(w, status, "code_exchange_failed", "Could not complete login")
		return
	}
	if tok.AccessToken == "" {
		log.LogError("Token response missing access_token")
		jsonwriter.WriteBadGateway(w, "Could not complete login")
		return
	}

	payload := cookie.TokenPayload{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		payload.IDToken = idToken
	}
	if err := cookie.SetToken(w, payload); err != nil {
		log.LogError("Failed to set token cookie: %v", err)
		jsonwriter.WriteInternalServerError(w, "Internal server error")
		return
	}

	info, err := h.provider.UserInfo(r.Context(), tok)
	if err != nil {
		log.LogError("Failed to get user info from access token: %v", err)
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	if err := cookie.SetDetails(w, *info); err != nil {
		log.LogError("Failed to set details cookie: %v", err)
	}

	http.Redirect(w, r, "/account", http.StatusFound)
}

// Account renders the authenticated account page.
func (h *Handlers) Account(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(r, authz.ActionAccount) {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	renderPage(w, accountPage, nil)
}

// ErrorPage renders the generic error page.
func (h *Handlers) ErrorPage(w http.ResponseWriter, _ *http.Request) {
	renderPage(w, errorPage, nil)
}

// MakeChangePage renders the change calculator for authorized tellers.
func (h *Handlers) MakeChangePage(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(r, authz.ActionMakeChange) {
		http.Redirect(w, r, "/error", http.StatusFound)
		return
	}
	renderPage(w, makeChangePage, nil)
}

// MakeChange computes a coin breakdown for the submitted amount.
func (h *Handlers) MakeChange(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(r, authz.ActionMakeChange) {
		jsonwriter.WriteForbidden(w, "Unauthorized")
		return
	}

	if err := r.ParseForm(); err != nil {
		jsonwriter.WriteBadRequest(w, "Invalid form data")
		return
	}

	_ = jsonwriter.Write(w, makeChange(r.FormValue("amount")))
}

// Logout sends the browser to the provider's logout endpoint; the provider
// redirects back to /oauth2/logout which clears the cookies.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.provider.LogoutURL(), http.StatusFound)
}

// OAuthLogout clears all session cookies and returns to the anonymous home.
func (h *Handlers) OAuthLogout(w http.ResponseWriter, r *http.Request) {
	log.Logf("Logging out...")
	cookie.ClearAll(w)
	http.Redirect(w, r, "/", http.StatusFound)
}
