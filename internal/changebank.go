// Package internal wires the changebank application together: validated
// configuration in, running HTTP server out. Collaborators are constructed
// once at process start and live until exit.
package internal

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgellow/changebank/internal/authz"
	"github.com/dgellow/changebank/internal/config"
	"github.com/dgellow/changebank/internal/idp"
	"github.com/dgellow/changebank/internal/jwks"
	"github.com/dgellow/changebank/internal/log"
	"github.com/dgellow/changebank/internal/server"
	"github.com/dgellow/changebank/internal/token"
)

// Changebank is the assembled application.
type Changebank struct {
	config     config.Config
	httpServer *server.HTTPServer
}

// NewChangebank builds the application from validated configuration.
func NewChangebank(cfg config.Config) (*Changebank, error) {
	log.LogInfoWithFields("changebank", "Building application", map[string]any{
		"idp":     cfg.IdPBaseURL,
		"permify": cfg.PermifyEndpoint,
		"tenant":  cfg.TenantID,
	})

	provider, err := idp.NewClient(idp.Config{
		BaseURL:      cfg.IdPBaseURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURI:  cfg.RedirectURI(),
	})
	if err != nil {
		return nil, fmt.Errorf("building identity provider client: %w", err)
	}

	validator := token.NewValidator(jwks.NewResolver(provider.JWKSURL()))

	gate, err := authz.NewPermifyGate(authz.Config{
		Endpoint:     cfg.PermifyEndpoint,
		PresharedKey: cfg.PresharedKey,
		TenantID:     cfg.TenantID,
	})
	if err != nil {
		return nil, fmt.Errorf("building permission gate: %w", err)
	}

	handlers := server.NewHandlers(provider, validator, gate)

	return &Changebank{
		config:     cfg,
		httpServer: server.NewHTTPServer(handlers.Routes(), cfg.Addr),
	}, nil
}

// Run starts the HTTP server and blocks until a shutdown signal or a server
// error.
func (c *Changebank) Run() error {
	errChan := make(chan error, 1)
	go func() {
		if err := c.httpServer.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		log.LogInfoWithFields("changebank", "Received shutdown signal", map[string]any{
			"signal": sig.String(),
		})
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return c.httpServer.Stop(shutdownCtx)
}
