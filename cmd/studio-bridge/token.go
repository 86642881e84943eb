package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dvcrn/studio-bridge/internal/auth"
	"github.com/dvcrn/studio-bridge/internal/credentials"
	"github.com/dvcrn/studio-bridge/internal/logger"
)

var (
	importAccessToken  string
	importRefreshToken string
	importExpiresIn    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Inspect and manage the stored access token",
}

var tokenStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored token's source and expiry",
	RunE: func(cmd *cobra.Command, args []string) error {
		source, err := credentials.Open(cfg.Credentials.Source, cfg.Credentials.Path, log)
		if err != nil {
			return err
		}
		status, err := newRefresher(source).Status()
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	},
}

var tokenRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Exchange the stored refresh token for a new access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		source, err := credentials.Open(cfg.Credentials.Source, cfg.Credentials.Path, log)
		if err != nil {
			return err
		}
		token, err := newRefresher(source).Refresh(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Refreshed access token %s\n", logger.TokenPreview(token))
		return nil
	},
}

var tokenImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Store an access token and refresh token in the configured source",
	RunE: func(cmd *cobra.Command, args []string) error {
		if importAccessToken == "" {
			return errors.New("--access-token is required")
		}
		source, err := credentials.Open(cfg.Credentials.Source, cfg.Credentials.Path, log)
		if err != nil {
			return err
		}
		tokens := &credentials.Tokens{AccessToken: importAccessToken, RefreshToken: importRefreshToken}
		if importExpiresIn > 0 {
			tokens.ExpiresAt = auth.ExpiresAtMillis(time.Now().Add(importExpiresIn))
		}
		if err := source.Save(tokens); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Stored credentials in %s\n", source.Name())
		return nil
	},
}

func init() {
	tokenImportCmd.Flags().StringVar(&importAccessToken, "access-token", "", "access token")
	tokenImportCmd.Flags().StringVar(&importRefreshToken, "refresh-token", "", "refresh token")
	tokenImportCmd.Flags().DurationVar(&importExpiresIn, "expires-in", 0, "access token lifetime, e.g. 1h")

	tokenCmd.AddCommand(tokenStatusCmd)
	tokenCmd.AddCommand(tokenRefreshCmd)
	tokenCmd.AddCommand(tokenImportCmd)
}
