// Package config loads service configuration from the environment.
//
// The variable names match the original deployment's .env contract, so an
// existing environment keeps working unchanged.
package config

import (
	"fmt"
	"os"
)

// Config holds everything the service needs at startup. All collaborators
// are constructed once from a validated Config and live for the process
// lifetime.
type Config struct {
	// OAuth client registered with the identity provider.
	ClientID     string
	ClientSecret string

	// Base URL of the identity provider, e.g. http://localhost:9011.
	IdPBaseURL string

	// Policy engine gRPC endpoint and its preshared bearer key.
	PermifyEndpoint string
	PresharedKey    string

	// Tenant the permission checks run against.
	TenantID string

	// HTTP listen address and the externally visible base URL used to
	// build the OAuth redirect URI.
	Addr    string
	BaseURL string
}

// FromEnv reads and validates configuration. A missing required variable is
// fatal to the caller: there is no degraded mode without the identity
// provider or the policy engine.
func FromEnv() (Config, error) {
	cfg := Config{
		ClientID:        os.Getenv("clientId"),
		ClientSecret:    os.Getenv("clientSecret"),
		IdPBaseURL:      os.Getenv("fusionAuthURL"),
		PermifyEndpoint: os.Getenv("PERMIFY_ENDPOINT"),
		PresharedKey:    os.Getenv("PRESHARED_KEY"),
		TenantID:        os.Getenv("TENANT_ID"),
		Addr:            os.Getenv("CHANGEBANK_ADDR"),
		BaseURL:         os.Getenv("CHANGEBANK_BASE_URL"),
	}

	required := []struct {
		name  string
		value string
	}{
		{"clientId", cfg.ClientID},
		{"clientSecret", cfg.ClientSecret},
		{"fusionAuthURL", cfg.IdPBaseURL},
		{"PRESHARED_KEY", cfg.PresharedKey},
	}
	for _, r := range required {
		if r.value == "" {
			return Config{}, fmt.Errorf("missing %s from environment", r.name)
		}
	}

	if cfg.PermifyEndpoint == "" {
		cfg.PermifyEndpoint = "localhost:3478"
	}
	if cfg.TenantID == "" {
		cfg.TenantID = "t1"
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080"
	}

	return cfg, nil
}

// RedirectURI is the callback the identity provider sends the browser back to.
func (c Config) RedirectURI() string {
	return c.BaseURL + "/oauth-redirect"
}
