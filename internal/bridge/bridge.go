package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dvcrn/studio-bridge/internal/connectorauth"
	"github.com/dvcrn/studio-bridge/internal/engine"
	"github.com/dvcrn/studio-bridge/internal/logger"
)

// Kind discriminates authorization failure notifications
type Kind string

const (
	FirstPartyExpired Kind = "firstPartyExpired"
	ConnectorExpired  Kind = "connectorExpired"
)

// AuthKindOAuth2AuthorizationCode is the only connector scheme that can be
// recovered interactively.
const AuthKindOAuth2AuthorizationCode = "oAuth2AuthorizationCode"

// ConnectorRef identifies the connector whose credentials expired
type ConnectorRef struct {
	ConnectorID       string `json:"connectorId"`
	RemoteConnectorID string `json:"remoteConnectorId"`
	RequiredAuthKind  string `json:"requiredAuthKind"`
}

// Notification is sent by the engine when it considers a credential invalid.
// Connector is set only for ConnectorExpired.
type Notification struct {
	Kind      Kind          `json:"kind"`
	Connector *ConnectorRef `json:"connector,omitempty"`
}

// Response is what the engine receives back. A zero Response means no
// credentials are available.
type Response struct {
	Credential *connectorauth.Credential
	Err        error
}

// wireResponse is the JSON form of Response sent across the engine boundary
type wireResponse struct {
	Credential *connectorauth.Credential `json:"credential,omitempty"`
	Error      string                    `json:"error,omitempty"`
}

// AuthorizationFailedError settles connector flows that cannot succeed
type AuthorizationFailedError struct {
	ConnectorName string
}

func (e *AuthorizationFailedError) Error() string {
	return fmt.Sprintf("Authorization failed for connector \"%s\"", e.ConnectorName)
}

// InteractiveAuthFunc runs the host's interactive authentication for a
// connector.
type InteractiveAuthFunc func(ctx context.Context, remoteConnectorID string) (*connectorauth.Credential, error)

// Refresher refreshes the first-party token
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

// ConnectorLookup resolves connector display names
type ConnectorLookup interface {
	Connector(ctx context.Context, id string) (*engine.Connector, error)
}

// Bridge routes engine authorization failures to the token store or to the
// connector authentication orchestrator.
type Bridge struct {
	tokens       Refresher
	orchestrator *connectorauth.Orchestrator
	connectors   ConnectorLookup
	interactive  InteractiveAuthFunc
	logger       zerolog.Logger
}

type Option func(*Bridge)

// WithInteractiveAuth configures the host callback for interactive flows
func WithInteractiveAuth(fn InteractiveAuthFunc) Option {
	return func(b *Bridge) {
		b.interactive = fn
	}
}

func New(tokens Refresher, orchestrator *connectorauth.Orchestrator, connectors ConnectorLookup, log zerolog.Logger, opts ...Option) *Bridge {
	b := &Bridge{
		tokens:       tokens,
		orchestrator: orchestrator,
		connectors:   connectors,
		logger:       logger.Component(log, "bridge"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Handle routes n and waits for the outcome. It never panics; unexpected
// failures are logged and answered with an empty Response.
func (b *Bridge) Handle(ctx context.Context, n Notification) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Interface("panic", r).
				Str("kind", string(n.Kind)).
				Msg("❌ Unexpected failure while handling authorization expiry")
			resp = Response{}
		}
	}()

	switch n.Kind {
	case FirstPartyExpired:
		return b.handleFirstParty(ctx)
	case ConnectorExpired:
		if n.Connector == nil || n.Connector.RemoteConnectorID == "" {
			b.logger.Error().Msg("❌ Connector expiry notification without connector details")
			return Response{}
		}
		return b.handleConnector(ctx, *n.Connector)
	default:
		b.logger.Error().Str("kind", string(n.Kind)).Msg("❌ Unknown authorization expiry notification")
		return Response{}
	}
}

func (b *Bridge) handleFirstParty(ctx context.Context) Response {
	b.logger.Info().Msg("🔄 Engine reported expired first-party token")

	token, err := b.tokens.Refresh(ctx)
	if err != nil {
		b.logger.Error().Err(err).Msg("❌ First-party token refresh failed")
		return Response{Err: err}
	}
	return Response{Credential: &connectorauth.Credential{Type: "bearer", Token: token}}
}

func (b *Bridge) handleConnector(ctx context.Context, ref ConnectorRef) Response {
	name := b.connectorName(ctx, ref.ConnectorID)

	var action connectorauth.Action
	if ref.RequiredAuthKind == AuthKindOAuth2AuthorizationCode && b.interactive != nil {
		interactive := b.interactive
		remoteID := ref.RemoteConnectorID
		action = func(ctx context.Context) (*connectorauth.Credential, error) {
			return interactive(ctx, remoteID)
		}
	} else {
		b.logger.Warn().
			Str("connector", name).
			Str("auth_kind", ref.RequiredAuthKind).
			Bool("interactive_configured", b.interactive != nil).
			Msg("⚠️  Connector authorization cannot be recovered")
		action = connectorauth.Failure(&AuthorizationFailedError{ConnectorName: name})
	}

	p := b.orchestrator.CreateProcess(action, name, ref.RemoteConnectorID)
	cred, err := p.Wait(ctx)
	if err != nil {
		return Response{Err: err}
	}
	return Response{Credential: cred}
}

func (b *Bridge) connectorName(ctx context.Context, connectorID string) string {
	if b.connectors == nil || connectorID == "" {
		return connectorID
	}
	c, err := b.connectors.Connector(ctx, connectorID)
	if err != nil || c == nil || strings.TrimSpace(c.Name) == "" {
		if err != nil {
			b.logger.Debug().Err(err).Str("connector_id", connectorID).Msg("Connector lookup failed, using id as name")
		}
		return connectorID
	}
	return c.Name
}

// HandleEvent decodes an engine authExpired event and returns the wire reply.
// It has the shape of engine.EventHandler.
func (b *Bridge) HandleEvent(ctx context.Context, params json.RawMessage) interface{} {
	var n Notification
	if err := json.Unmarshal(params, &n); err != nil {
		b.logger.Error().Err(err).Msg("❌ Malformed authorization expiry notification")
		return wireResponse{}
	}
	return toWire(b.Handle(ctx, n))
}

func toWire(r Response) wireResponse {
	w := wireResponse{Credential: r.Credential}
	if r.Err != nil {
		w.Error = r.Err.Error()
		if errors.Is(r.Err, connectorauth.ErrCancelled) {
			w.Error = "cancelled"
		}
	}
	return w
}
