package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dvcrn/studio-bridge/internal/app"
	"github.com/dvcrn/studio-bridge/internal/auth"
	"github.com/dvcrn/studio-bridge/internal/credentials"
)

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge HTTP server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "listen port (overrides PORT and server.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, err := openSource()
	if err != nil {
		return err
	}
	validateCredentialsAtStartup(newRefresher(source))

	a, err := app.New(ctx, cfg, source, log)
	if err != nil {
		return err
	}
	defer a.Close()

	go a.Watch(ctx)

	port := cfg.Server.Port
	if servePort != "" {
		port = servePort
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           a.Server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", port).Msg("Starting server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openSource() (credentials.Source, error) {
	source, err := credentials.Open(cfg.Credentials.Source, cfg.Credentials.Path, log)
	if err != nil {
		return nil, err
	}
	switch source.Name() {
	case "fs":
		log.Info().Str("path", cfg.Credentials.Path).Msg("📄 Using filesystem credentials with OAuth token refresh")
	case "keychain":
		log.Info().Msg("🔑 Using keychain credentials with OAuth token refresh")
	default:
		log.Info().Msg("📝 Using environment credentials")
	}
	return source, nil
}

func newRefresher(source credentials.Source) *auth.Refresher {
	return auth.NewRefresher(source, auth.Config{
		TokenURL:     cfg.OAuth.TokenURL,
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		Scopes:       cfg.OAuth.Scopes,
	}, log)
}

func validateCredentialsAtStartup(r *auth.Refresher) {
	status, err := r.Status()
	if err != nil {
		log.Error().Err(err).Msg("⚠️  Failed to validate credentials at startup")
		return
	}

	log.Info().
		Str("source", status.Source).
		Bool("has_refresh_token", status.HasRefreshToken).
		Msg("✅ Credentials loaded successfully")

	if status.ExpiresAt.IsZero() {
		log.Info().Msg("Token expiry unknown, relying on 401 refresh")
		return
	}

	switch {
	case status.MinutesUntilExpiry <= 0:
		log.Warn().
			Int64("minutes_expired", -status.MinutesUntilExpiry).
			Msg("⚠️  Token is already expired, will attempt refresh on startup")
	case status.MinutesUntilExpiry <= int64(auth.TokenExpiryBuffer/time.Minute):
		log.Warn().
			Int64("minutes_until_expiry", status.MinutesUntilExpiry).
			Msg("⚠️  Token expires soon, will refresh shortly")
	default:
		log.Info().
			Int64("minutes_until_expiry", status.MinutesUntilExpiry).
			Msg("✅ Token is valid and not expiring soon")
	}
}
