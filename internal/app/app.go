package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dvcrn/studio-bridge/internal/apiclient"
	"github.com/dvcrn/studio-bridge/internal/auth"
	"github.com/dvcrn/studio-bridge/internal/bridge"
	"github.com/dvcrn/studio-bridge/internal/config"
	"github.com/dvcrn/studio-bridge/internal/connectorauth"
	"github.com/dvcrn/studio-bridge/internal/credentials"
	"github.com/dvcrn/studio-bridge/internal/engine"
	"github.com/dvcrn/studio-bridge/internal/output"
	"github.com/dvcrn/studio-bridge/internal/server"
	"github.com/dvcrn/studio-bridge/internal/tokenstore"
)

// App holds the wired components of a running bridge
type App struct {
	Config       *config.Config
	Source       credentials.Source
	Refresher    *auth.Refresher
	Tokens       *tokenstore.Store
	API          *apiclient.Client
	Engine       engine.Engine
	Orchestrator *connectorauth.Orchestrator
	Bridge       *bridge.Bridge
	Outputs      *output.Pipeline
	Server       *server.Server

	logger  zerolog.Logger
	closers []func() error
}

// Option customizes how New wires components
type Option func(*options)

type options struct {
	output []output.Option
}

// WithOutputOptions appends options to the output pipeline
func WithOutputOptions(opts ...output.Option) Option {
	return func(o *options) {
		o.output = append(o.output, opts...)
	}
}

type authExpiredSource interface {
	OnAuthExpired(h engine.EventHandler)
}

// New builds every component from cfg, loading the first-party token from
// source. The returned App must be closed.
func New(ctx context.Context, cfg *config.Config, source credentials.Source, log zerolog.Logger, opts ...Option) (*App, error) {
	if strings.TrimSpace(cfg.API.BaseURL) == "" {
		return nil, errors.New("api.baseUrl is required")
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Source: source, logger: log}

	a.Refresher = auth.NewRefresher(source, auth.Config{
		TokenURL:     cfg.OAuth.TokenURL,
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		Scopes:       cfg.OAuth.Scopes,
	}, log)

	var refresh tokenstore.RefreshFunc
	if !cfg.OAuth.Disabled {
		refresh = a.Refresher.Refresh
	}
	a.Tokens = tokenstore.New(log)
	if err := a.Tokens.Initialize(ctx, a.Refresher.Initial, refresh); err != nil {
		return nil, err
	}

	a.API = apiclient.New(a.Tokens, log, apiclient.WithHTTPClient(apiclient.NewHTTPClient(cfg.API.Timeout)))

	eng, closeEngine, err := connectEngine(ctx, cfg.Engine, a.Tokens, log)
	if err != nil {
		return nil, err
	}
	a.Engine = eng
	if closeEngine != nil {
		a.closers = append(a.closers, closeEngine)
	}
	a.Tokens.SetConfigSetter(eng)

	a.Orchestrator = connectorauth.New(log)

	var bridgeOpts []bridge.Option
	if cfg.ConnectorAuth.CallbackURL != "" {
		bridgeOpts = append(bridgeOpts, bridge.WithInteractiveAuth(bridge.CallbackAuth(cfg.ConnectorAuth.CallbackURL, a.API)))
	}
	a.Bridge = bridge.New(a.Tokens, a.Orchestrator, eng, log, bridgeOpts...)
	if src, ok := eng.(authExpiredSource); ok {
		src.OnAuthExpired(a.Bridge.HandleEvent)
	}

	outputOpts := append([]output.Option{
		output.WithBaseURL(cfg.API.BaseURL),
		output.WithPollInterval(cfg.Output.PollInterval),
		output.WithPageContext(output.PageContext{
			Host:           cfg.Output.Host,
			ProductionHost: cfg.Output.ProductionHost,
			EngineVersion:  cfg.Output.EngineVersion,
			EngineBuild:    cfg.Output.EngineBuild,
		}),
	}, o.output...)
	a.Outputs = output.New(a.API, eng, log, outputOpts...)

	a.Server = server.New(log, server.Deps{
		Tokens:       a.Tokens,
		TokenStatus:  a.Refresher.Status,
		Orchestrator: a.Orchestrator,
		Outputs:      a.Outputs,
		API:          a.API,
		BaseURL:      cfg.API.BaseURL,
	})

	log.Info().
		Str("api", cfg.API.BaseURL).
		Str("credentials", source.Name()).
		Bool("engine_connected", cfg.Engine.URL != "").
		Bool("interactive_connector_auth", cfg.ConnectorAuth.CallbackURL != "").
		Msg("✅ Studio bridge ready")
	return a, nil
}

// Watch runs the proactive token refresh until ctx is done
func (a *App) Watch(ctx context.Context) {
	if a.Config.OAuth.Disabled {
		return
	}
	a.Refresher.Watch(ctx, a.Tokens, auth.DefaultWatchInterval)
}

// Close releases the engine connection
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func staticEngine(cfg config.EngineConfig) (engine.Engine, func() error, error) {
	if cfg.DocumentPath == "" {
		return &engine.Static{}, nil, nil
	}
	s, err := engine.NewStaticFromFile(cfg.DocumentPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load document snapshot: %w", err)
	}
	return s, nil, nil
}
