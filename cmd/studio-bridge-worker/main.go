//go:build js && wasm

package main

import (
	"context"

	"github.com/syumai/workers"

	"github.com/dvcrn/studio-bridge/internal/app"
	"github.com/dvcrn/studio-bridge/internal/config"
	"github.com/dvcrn/studio-bridge/internal/credentials"
	"github.com/dvcrn/studio-bridge/internal/logger"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.Log.Level)

	log.Info().Msg("📦 Using Cloudflare KV credentials with OAuth refresh")
	source, err := credentials.NewCloudflareKVSource()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Cloudflare KV credentials source")
	}

	a, err := app.New(context.Background(), cfg, source, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize studio bridge")
	}

	// Serve using workers - it handles all the HTTP server setup
	workers.Serve(a.Server)
}
