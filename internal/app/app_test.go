package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvcrn/studio-bridge/internal/config"
	"github.com/dvcrn/studio-bridge/internal/credentials"
	"github.com/dvcrn/studio-bridge/internal/engine"
	"github.com/dvcrn/studio-bridge/internal/output"
	"github.com/dvcrn/studio-bridge/internal/tokenstore"
)

// remote serves the output API and the OAuth token endpoint
func remote(t *testing.T) *httptest.Server {
	t.Helper()
	var base string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /output/{format}", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer stored-access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"links": map[string]string{"taskInfo": base + "/tasks/1"}})
	})
	mux.HandleFunc("GET /tasks/1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"links": map[string]string{"download": base + "/files/1"}})
	})
	mux.HandleFunc("GET /files/1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = io.WriteString(w, "PNGDATA")
	})
	mux.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "refreshed-access",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	base = srv.URL
	return srv
}

func testConfig(t *testing.T, srv *httptest.Server) *config.Config {
	t.Helper()
	docPath := filepath.Join(t.TempDir(), "document.json")
	require.NoError(t, os.WriteFile(docPath, []byte(`{"engineVersion":"1.0","pages":[]}`), 0600))

	cfg := config.Default()
	cfg.API.BaseURL = srv.URL
	cfg.Engine.DocumentPath = docPath
	cfg.Output.PollInterval = time.Millisecond
	cfg.OAuth.TokenURL = srv.URL + "/oauth/token"
	cfg.OAuth.ClientID = "bridge"
	return cfg
}

func testSource(t *testing.T) credentials.Source {
	t.Helper()
	src := credentials.NewFSSource(filepath.Join(t.TempDir(), "auth.json"))
	require.NoError(t, src.Save(&credentials.Tokens{AccessToken: "stored-access", RefreshToken: "r1"}))
	return src
}

func TestNewRequiresBaseURL(t *testing.T) {
	cfg := config.Default()
	_, err := New(context.Background(), cfg, testSource(t), zerolog.Nop())
	assert.ErrorContains(t, err, "api.baseUrl")
}

func TestNewFailsWithoutCredentials(t *testing.T) {
	srv := remote(t)
	src := credentials.NewFSSource(filepath.Join(t.TempDir(), "missing.json"))
	_, err := New(context.Background(), testConfig(t, srv), src, zerolog.Nop())
	assert.ErrorIs(t, err, credentials.ErrNoCredentials)
}

func TestOutputThroughServer(t *testing.T) {
	srv := remote(t)
	a, err := New(context.Background(), testConfig(t, srv), testSource(t), zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/outputs", strings.NewReader(`{"format":"png","layoutId":"l1","projectId":"p1"}`))
	rec := httptest.NewRecorder()
	a.Server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, `attachment; filename="output.png"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "PNGDATA", rec.Body.String())
}

func TestOutputOptionsReachPipeline(t *testing.T) {
	srv := remote(t)
	var (
		mu          sync.Mutex
		transitions []output.State
	)
	hook := output.WithTransitionHook(func(_ output.Job, _, to output.State) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, to)
	})
	a, err := New(context.Background(), testConfig(t, srv), testSource(t), zerolog.Nop(), WithOutputOptions(hook))
	require.NoError(t, err)
	defer a.Close()

	out, err := a.Outputs.Generate(context.Background(), output.Request{Format: "png", LayoutID: "l1", ProjectID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, "png", out.ExtensionType)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []output.State{output.StatePolling, output.StateDone}, transitions)
}

func TestRefreshPushesTokenToEngine(t *testing.T) {
	srv := remote(t)
	a, err := New(context.Background(), testConfig(t, srv), testSource(t), zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	token, err := a.Tokens.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access", token)

	static, ok := a.Engine.(*engine.Static)
	require.True(t, ok)
	v, ok := static.ConfigValue(tokenstore.AuthTokenConfigKey)
	require.True(t, ok)
	assert.Equal(t, "refreshed-access", v)

	stored, err := a.Source.Load()
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access", stored.AccessToken)
	assert.Equal(t, "r1", stored.RefreshToken)
}

func TestFirstPartyExpiryThroughBridge(t *testing.T) {
	srv := remote(t)
	a, err := New(context.Background(), testConfig(t, srv), testSource(t), zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	reply := a.Bridge.HandleEvent(context.Background(), json.RawMessage(`{"kind":"firstPartyExpired"}`))
	raw, err := json.Marshal(reply)
	require.NoError(t, err)
	assert.JSONEq(t, `{"credential":{"type":"bearer","token":"refreshed-access"}}`, string(raw))
}

func TestOAuthDisabled(t *testing.T) {
	srv := remote(t)
	cfg := testConfig(t, srv)
	cfg.OAuth.Disabled = true

	a, err := New(context.Background(), cfg, testSource(t), zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Tokens.Refresh(context.Background())
	assert.ErrorIs(t, err, tokenstore.ErrRefreshNotSupported)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a.Watch(ctx)
}
