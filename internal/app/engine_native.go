//go:build !js || !wasm

package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dvcrn/studio-bridge/internal/config"
	"github.com/dvcrn/studio-bridge/internal/engine"
)

func connectEngine(ctx context.Context, cfg config.EngineConfig, tokens engine.TokenProvider, log zerolog.Logger) (engine.Engine, func() error, error) {
	if cfg.URL == "" {
		return staticEngine(cfg)
	}

	var opts []engine.DialOption
	if cfg.CallTimeout > 0 {
		opts = append(opts, engine.WithCallTimeout(cfg.CallTimeout))
	}
	ws, err := engine.Dial(ctx, cfg.URL, tokens, log, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to engine: %w", err)
	}
	go watchEngine(ws, log)
	return ws, ws.Close, nil
}

// watchEngine reports a connection that ended for any reason other than a
// clean close. There is no reconnect; engine calls fail with ErrClosed until
// the bridge restarts.
func watchEngine(ws *engine.WSClient, log zerolog.Logger) {
	<-ws.Done()
	if err := ws.Err(); err != nil && err != engine.ErrClosed {
		log.Error().Err(err).Msg("❌ Engine connection lost, restart the bridge to reconnect")
	}
}
