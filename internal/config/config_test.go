package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenDefaultFileMissing(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPollInterval, cfg.Output.PollInterval)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, "fs", cfg.Credentials.Source)
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadYAMLAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
api:
  baseUrl: https://api.example.com/v1
output:
  pollInterval: 5s
  host: staging.example.com
credentials:
  source: env
connectorAuth:
  callbackUrl: http://localhost:3000/connector-auth
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	t.Setenv("PORT", "8081")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/v1", cfg.API.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Output.PollInterval)
	assert.Equal(t, "staging.example.com", cfg.Output.Host)
	assert.Equal(t, "env", cfg.Credentials.Source)
	assert.Equal(t, "http://localhost:3000/connector-auth", cfg.ConnectorAuth.CallbackURL)
	assert.Equal(t, "8081", cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Credentials.Source = "vault"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Output.PollInterval = 0
	assert.Error(t, cfg.Validate())
}

func TestDefaultPathUsesXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/test-config")
	assert.Equal(t, filepath.Join("/tmp/test-config", "studio-bridge", "config.yaml"), DefaultPath())
	assert.Equal(t, filepath.Join("/tmp/test-config", "studio-bridge", "auth.json"), DefaultCredsPath())
}

func TestFromEnv(t *testing.T) {
	t.Setenv("STUDIO_API_URL", "https://api.example.com")
	t.Setenv("STUDIO_DOCUMENT_PATH", "/tmp/doc.json")

	cfg := FromEnv()
	assert.Equal(t, "https://api.example.com", cfg.API.BaseURL)
	assert.Equal(t, "/tmp/doc.json", cfg.Engine.DocumentPath)
	assert.Equal(t, DefaultPollInterval, cfg.Output.PollInterval)
}

func TestEngineAndOAuthEnvOverrides(t *testing.T) {
	t.Setenv("STUDIO_ENGINE_CALL_TIMEOUT", "5s")
	t.Setenv("STUDIO_OAUTH_DISABLED", "true")
	t.Setenv("STUDIO_HOST", "")

	cfg := FromEnv()
	assert.Equal(t, 5*time.Second, cfg.Engine.CallTimeout)
	assert.True(t, cfg.OAuth.Disabled)
	// Empty values keep the default.
	assert.Equal(t, "", cfg.Output.Host)
	assert.Equal(t, DefaultProductionHost, cfg.Output.ProductionHost)

	t.Setenv("STUDIO_OAUTH_DISABLED", "maybe")
	assert.False(t, FromEnv().OAuth.Disabled)

	cfg.Engine.CallTimeout = -time.Second
	assert.Error(t, cfg.Validate())
}
