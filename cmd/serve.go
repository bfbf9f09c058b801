package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/desertthunder/spotproxy/internal/auth"
	"github.com/desertthunder/spotproxy/internal/repositories"
	"github.com/desertthunder/spotproxy/internal/server"
	"github.com/desertthunder/spotproxy/internal/shared"
	"github.com/urfave/cli/v3"
)

// Serve runs the HTTP proxy until interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	if err := r.config.Validate(); err != nil {
		return err
	}

	store, closeStore, err := repositories.NewTokenStore(ctx, r.config, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			r.logger.Warn("failed to close session store", "error", err)
		}
	}()

	sp := r.config.Credentials.Spotify
	sessions, err := auth.NewSessionManager(auth.SessionManagerOpts{
		ClientID:     sp.ClientID,
		ClientSecret: sp.ClientSecret,
		RedirectURL:  sp.RedirectURI,
		AuthURL:      sp.AuthURL,
		TokenURL:     sp.TokenURL,
		Scopes:       sp.Scopes,
		Store:        store,
		HTTPClient:   r.httpClient,
		Logger:       shared.WithLogger(r.logger, "component", "sessions"),
		Metrics:      r.metrics,
	})
	if err != nil {
		return err
	}

	client, err := r.upstream(sessions)
	if err != nil {
		return err
	}
	collections, err := r.aggregator(client)
	if err != nil {
		return err
	}

	addr := cmd.String("addr")
	if addr == "" {
		addr = r.config.Server.Addr()
	}

	lifetime := time.Duration(r.config.Server.SessionLifetimeHours) * time.Hour
	if lifetime <= 0 {
		lifetime = 24 * time.Hour
	}

	srv, err := server.New(server.Opts{
		Addr:              addr,
		Sessions:          server.NewSessions(lifetime, r.config.Server.CookieSecure),
		Auth:              sessions,
		Upstream:          client,
		Collections:       collections,
		DefaultIDs:        r.config.Collections.IDs,
		PostLoginRedirect: r.config.Server.PostLoginRedirect,
		Gatherer:          r.registry,
		Logger:            r.logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	r.writeOK("spotproxy listening on http://%s", addr)
	r.writePlain("%s\n", r.styles.Help(fmt.Sprintf("sessions: %s, login at http://%s/auth/login", backendName(r.config.Sessions.Backend), addr)))

	return srv.Run(ctx)
}

func backendName(b string) string {
	if b == "" {
		return repositories.BackendMemory
	}
	return b
}
