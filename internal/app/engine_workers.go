//go:build js && wasm

package app

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/dvcrn/studio-bridge/internal/config"
	"github.com/dvcrn/studio-bridge/internal/engine"
)

func connectEngine(_ context.Context, cfg config.EngineConfig, _ engine.TokenProvider, log zerolog.Logger) (engine.Engine, func() error, error) {
	if cfg.URL != "" {
		log.Warn().Msg("⚠️  Engine WebSocket is not supported in js/wasm builds, using static engine")
	}
	return staticEngine(cfg)
}
