package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dvcrn/studio-bridge/internal/config"
	"github.com/dvcrn/studio-bridge/internal/logger"
)

var (
	cfgFile  string
	logLevel string

	cfg *config.Config
	log zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "studio-bridge",
	Short: "Keep studio credentials fresh and run output jobs for the editing engine",
	Long: `studio-bridge sits between the editing engine and the studio API.

It owns the first-party access token, refreshes it when the API or the
engine reports it expired, routes connector re-authorization to the UI,
and submits output jobs, polling them until the file can be downloaded.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.Log.Level = logLevel
		}
		cfg = loaded
		log = logger.New(cfg.Log.Level)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/studio-bridge/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
