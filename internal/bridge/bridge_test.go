package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvcrn/studio-bridge/internal/connectorauth"
	"github.com/dvcrn/studio-bridge/internal/engine"
)

type fakeRefresher struct {
	token string
	err   error
	calls atomic.Int32
}

func (f *fakeRefresher) Refresh(context.Context) (string, error) {
	f.calls.Add(1)
	return f.token, f.err
}

type panickingRefresher struct{}

func (panickingRefresher) Refresh(context.Context) (string, error) {
	panic("boom")
}

func connectors() *engine.Static {
	return &engine.Static{Connectors: map[string]engine.Connector{
		"conn-1": {ID: "conn-1", Name: "Google Drive"},
	}}
}

// startWhenPending starts the first pending process once it appears, the
// way a user confirming the prompt would.
func startWhenPending(t *testing.T, o *connectorauth.Orchestrator) *connectorauth.Process {
	t.Helper()
	var p *connectorauth.Process
	require.Eventually(t, func() bool {
		pending := o.Pending()
		if len(pending) == 0 {
			return false
		}
		p = pending[0]
		return true
	}, time.Second, time.Millisecond)
	go p.Start(context.Background())
	return p
}

func TestFirstPartyExpiredRefreshes(t *testing.T) {
	r := &fakeRefresher{token: "t1"}
	b := New(r, connectorauth.New(zerolog.Nop()), connectors(), zerolog.Nop())

	resp := b.Handle(context.Background(), Notification{Kind: FirstPartyExpired})
	require.NoError(t, resp.Err)
	require.NotNil(t, resp.Credential)
	assert.Equal(t, "t1", resp.Credential.Token)
	assert.Equal(t, "bearer", resp.Credential.Type)
	assert.Equal(t, int32(1), r.calls.Load())
}

func TestFirstPartyRefreshErrorPropagates(t *testing.T) {
	boom := errors.New("refresh not supported")
	b := New(&fakeRefresher{err: boom}, connectorauth.New(zerolog.Nop()), connectors(), zerolog.Nop())

	resp := b.Handle(context.Background(), Notification{Kind: FirstPartyExpired})
	assert.ErrorIs(t, resp.Err, boom)
	assert.Nil(t, resp.Credential)
}

func TestConnectorExpiredWithoutInteractiveHandlerFails(t *testing.T) {
	o := connectorauth.New(zerolog.Nop())
	b := New(&fakeRefresher{}, o, connectors(), zerolog.Nop())

	done := make(chan Response, 1)
	go func() {
		done <- b.Handle(context.Background(), Notification{
			Kind: ConnectorExpired,
			Connector: &ConnectorRef{
				ConnectorID:       "conn-1",
				RemoteConnectorID: "c1",
				RequiredAuthKind:  AuthKindOAuth2AuthorizationCode,
			},
		})
	}()

	p := startWhenPending(t, o)
	assert.Equal(t, "Google Drive", p.ConnectorName)

	resp := <-done
	require.Error(t, resp.Err)
	assert.Equal(t, `Authorization failed for connector "Google Drive"`, resp.Err.Error())
	var afe *AuthorizationFailedError
	assert.ErrorAs(t, resp.Err, &afe)
	assert.Empty(t, o.Pending())
}

func TestConnectorExpiredUnsupportedSchemeFails(t *testing.T) {
	o := connectorauth.New(zerolog.Nop())
	var interactiveCalls atomic.Int32
	b := New(&fakeRefresher{}, o, connectors(), zerolog.Nop(),
		WithInteractiveAuth(func(context.Context, string) (*connectorauth.Credential, error) {
			interactiveCalls.Add(1)
			return &connectorauth.Credential{Type: "bearer"}, nil
		}))

	done := make(chan Response, 1)
	go func() {
		done <- b.Handle(context.Background(), Notification{
			Kind:      ConnectorExpired,
			Connector: &ConnectorRef{ConnectorID: "unknown", RemoteConnectorID: "c9", RequiredAuthKind: "oAuth2ClientCredentials"},
		})
	}()
	startWhenPending(t, o)

	resp := <-done
	require.Error(t, resp.Err)
	// Unknown connector ids fall back to the id as display name.
	assert.Equal(t, `Authorization failed for connector "unknown"`, resp.Err.Error())
	assert.Equal(t, int32(0), interactiveCalls.Load())
}

func TestConnectorExpiredInteractiveSucceeds(t *testing.T) {
	o := connectorauth.New(zerolog.Nop())
	var gotRemote string
	b := New(&fakeRefresher{}, o, connectors(), zerolog.Nop(),
		WithInteractiveAuth(func(_ context.Context, remoteID string) (*connectorauth.Credential, error) {
			gotRemote = remoteID
			return &connectorauth.Credential{Type: "bearer", Token: "connector-token"}, nil
		}))

	done := make(chan Response, 1)
	go func() {
		done <- b.Handle(context.Background(), Notification{
			Kind:      ConnectorExpired,
			Connector: &ConnectorRef{ConnectorID: "conn-1", RemoteConnectorID: "c1", RequiredAuthKind: AuthKindOAuth2AuthorizationCode},
		})
	}()
	startWhenPending(t, o)

	resp := <-done
	require.NoError(t, resp.Err)
	assert.Equal(t, "connector-token", resp.Credential.Token)
	assert.Equal(t, "c1", gotRemote)
}

func TestConcurrentConnectorNotificationsShareOneProcess(t *testing.T) {
	o := connectorauth.New(zerolog.Nop())
	var calls atomic.Int32
	b := New(&fakeRefresher{}, o, connectors(), zerolog.Nop(),
		WithInteractiveAuth(func(context.Context, string) (*connectorauth.Credential, error) {
			calls.Add(1)
			return &connectorauth.Credential{Type: "bearer", Token: "shared"}, nil
		}))

	n := Notification{
		Kind:      ConnectorExpired,
		Connector: &ConnectorRef{ConnectorID: "conn-1", RemoteConnectorID: "c1", RequiredAuthKind: AuthKindOAuth2AuthorizationCode},
	}
	done := make(chan Response, 2)
	go func() { done <- b.Handle(context.Background(), n) }()
	require.Eventually(t, func() bool { return len(o.Pending()) == 1 }, time.Second, time.Millisecond)
	go func() { done <- b.Handle(context.Background(), n) }()

	// Give the second notification time to attach before confirming.
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, o.Pending(), 1)
	startWhenPending(t, o)

	for i := 0; i < 2; i++ {
		resp := <-done
		require.NoError(t, resp.Err)
		assert.Equal(t, "shared", resp.Credential.Token)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestCancelledPromptSettlesAsError(t *testing.T) {
	o := connectorauth.New(zerolog.Nop())
	b := New(&fakeRefresher{}, o, connectors(), zerolog.Nop(),
		WithInteractiveAuth(func(context.Context, string) (*connectorauth.Credential, error) {
			return &connectorauth.Credential{Type: "bearer"}, nil
		}))

	done := make(chan interface{}, 1)
	params := json.RawMessage(`{"kind":"connectorExpired","connector":{"connectorId":"conn-1","remoteConnectorId":"c1","requiredAuthKind":"oAuth2AuthorizationCode"}}`)
	go func() { done <- b.HandleEvent(context.Background(), params) }()

	require.Eventually(t, func() bool { return len(o.Pending()) == 1 }, time.Second, time.Millisecond)
	o.Pending()[0].Cancel()

	raw, err := json.Marshal(<-done)
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"cancelled"}`, string(raw))
}

func TestUnexpectedInputsReturnNeutralResponse(t *testing.T) {
	b := New(&fakeRefresher{}, connectorauth.New(zerolog.Nop()), connectors(), zerolog.Nop())

	assert.Equal(t, Response{}, b.Handle(context.Background(), Notification{Kind: "somethingNew"}))
	assert.Equal(t, Response{}, b.Handle(context.Background(), Notification{Kind: ConnectorExpired}))

	raw, err := json.Marshal(b.HandleEvent(context.Background(), json.RawMessage(`not json`)))
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(raw))
}

func TestPanicsDoNotEscape(t *testing.T) {
	b := New(panickingRefresher{}, connectorauth.New(zerolog.Nop()), connectors(), zerolog.Nop())

	assert.NotPanics(t, func() {
		resp := b.Handle(context.Background(), Notification{Kind: FirstPartyExpired})
		assert.Equal(t, Response{}, resp)
	})
}

func TestHandleEventFirstPartyWire(t *testing.T) {
	b := New(&fakeRefresher{token: "t1"}, connectorauth.New(zerolog.Nop()), connectors(), zerolog.Nop())

	raw, err := json.Marshal(b.HandleEvent(context.Background(), json.RawMessage(`{"kind":"firstPartyExpired"}`)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"credential":{"type":"bearer","token":"t1"}}`, string(raw))
}
