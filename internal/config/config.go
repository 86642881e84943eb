package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dvcrn/studio-bridge/internal/env"
)

const (
	DefaultPort           = "9879"
	DefaultPollInterval   = 2 * time.Second
	DefaultProductionHost = "studio.example.com"
	DefaultTokenURL       = "https://auth.example.com/oauth/token"
)

type Config struct {
	API           APIConfig           `yaml:"api"`
	Engine        EngineConfig        `yaml:"engine"`
	Output        OutputConfig        `yaml:"output"`
	Credentials   CredentialsConfig   `yaml:"credentials"`
	OAuth         OAuthConfig         `yaml:"oauth"`
	ConnectorAuth ConnectorAuthConfig `yaml:"connectorAuth"`
	Server        ServerConfig        `yaml:"server"`
	Log           LogConfig           `yaml:"log"`
}

type APIConfig struct {
	BaseURL string        `yaml:"baseUrl"`
	Timeout time.Duration `yaml:"timeout"`
}

type EngineConfig struct {
	// URL is the WebSocket endpoint of the editing engine. Empty disables the
	// engine connection.
	URL string `yaml:"url"`
	// DocumentPath is a JSON document snapshot served when no URL is set.
	DocumentPath string `yaml:"documentPath"`
	// CallTimeout bounds each engine command without its own deadline.
	CallTimeout time.Duration `yaml:"callTimeout"`
}

type OutputConfig struct {
	PollInterval time.Duration `yaml:"pollInterval"`
	// Host is the host this bridge is serving for; engine version overrides
	// only apply when it differs from ProductionHost.
	Host           string `yaml:"host"`
	ProductionHost string `yaml:"productionHost"`
	EngineVersion  string `yaml:"engineVersion"`
	EngineBuild    string `yaml:"engineBuild"`
}

type CredentialsConfig struct {
	// Source is one of "fs", "env" or "keychain"
	Source string `yaml:"source"`
	Path   string `yaml:"path"`
}

type OAuthConfig struct {
	TokenURL     string   `yaml:"tokenUrl"`
	ClientID     string   `yaml:"clientId"`
	ClientSecret string   `yaml:"clientSecret"`
	Scopes       []string `yaml:"scopes"`
	// Disabled turns off token refresh entirely.
	Disabled bool `yaml:"disabled"`
}

type ConnectorAuthConfig struct {
	// CallbackURL receives interactive connector authentication requests.
	// Empty means no interactive handler is configured.
	CallbackURL string `yaml:"callbackUrl"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	return &Config{
		API: APIConfig{
			Timeout: 60 * time.Second,
		},
		Output: OutputConfig{
			PollInterval:   DefaultPollInterval,
			ProductionHost: DefaultProductionHost,
		},
		Credentials: CredentialsConfig{
			Source: "fs",
			Path:   DefaultCredsPath(),
		},
		OAuth: OAuthConfig{
			TokenURL: DefaultTokenURL,
		},
		Server: ServerConfig{
			Port: DefaultPort,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/studio-bridge/config.yaml
func DefaultPath() string {
	return xdgPath("config.yaml")
}

// DefaultCredsPath returns $XDG_CONFIG_HOME/studio-bridge/auth.json
func DefaultCredsPath() string {
	return xdgPath("auth.json")
}

func xdgPath(name string) string {
	xdgConfigHome := os.Getenv("XDG_CONFIG_HOME")
	if xdgConfigHome == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		xdgConfigHome = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(xdgConfigHome, "studio-bridge", name)
}

// Load reads the YAML file at path on top of the defaults and applies
// environment overrides. A missing file at the default location is not an
// error; a missing explicitly requested file is.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv returns the defaults with environment overrides applied and no
// config file. Used where there is no filesystem.
func FromEnv() *Config {
	cfg := Default()
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyEnv() {
	c.API.BaseURL = env.GetOr("STUDIO_API_URL", c.API.BaseURL)
	c.Engine.URL = env.GetOr("STUDIO_ENGINE_URL", c.Engine.URL)
	c.Engine.DocumentPath = env.GetOr("STUDIO_DOCUMENT_PATH", c.Engine.DocumentPath)
	if d, ok := env.Duration("STUDIO_ENGINE_CALL_TIMEOUT"); ok {
		c.Engine.CallTimeout = d
	}
	c.Output.Host = env.GetOr("STUDIO_HOST", c.Output.Host)
	c.Output.ProductionHost = env.GetOr("STUDIO_PRODUCTION_HOST", c.Output.ProductionHost)
	if v, ok := env.Get("STUDIO_ENGINE_VERSION"); ok {
		c.Output.EngineVersion = v
	}
	if v, ok := env.Get("STUDIO_ENGINE_BUILD"); ok {
		c.Output.EngineBuild = v
	}
	if d, ok := env.Duration("STUDIO_POLL_INTERVAL"); ok {
		c.Output.PollInterval = d
	}
	c.Credentials.Source = env.GetOr("STUDIO_CREDENTIALS_SOURCE", c.Credentials.Source)
	c.Credentials.Path = env.GetOr("STUDIO_CREDENTIALS_PATH", c.Credentials.Path)
	c.OAuth.ClientID = env.GetOr("STUDIO_OAUTH_CLIENT_ID", c.OAuth.ClientID)
	c.OAuth.ClientSecret = env.GetOr("STUDIO_OAUTH_CLIENT_SECRET", c.OAuth.ClientSecret)
	if b, ok := env.Bool("STUDIO_OAUTH_DISABLED"); ok {
		c.OAuth.Disabled = b
	}
	if v, ok := env.Get("STUDIO_CONNECTOR_AUTH_URL"); ok {
		c.ConnectorAuth.CallbackURL = v
	}
	c.Server.Port = env.GetOr("PORT", c.Server.Port)
	c.Log.Level = env.GetOr("LOG_LEVEL", c.Log.Level)
}

// Validate checks the fields every command relies on
func (c *Config) Validate() error {
	if c.Engine.CallTimeout < 0 {
		return fmt.Errorf("engine.callTimeout must not be negative, got %s", c.Engine.CallTimeout)
	}
	if c.Output.PollInterval <= 0 {
		return fmt.Errorf("output.pollInterval must be positive, got %s", c.Output.PollInterval)
	}
	switch strings.ToLower(c.Credentials.Source) {
	case "fs", "env", "keychain":
	default:
		return fmt.Errorf("unknown credentials source %q (expected fs, env or keychain)", c.Credentials.Source)
	}
	if c.Credentials.Source == "fs" && c.Credentials.Path == "" {
		return errors.New("credentials.path is required for the fs credentials source")
	}
	return nil
}
