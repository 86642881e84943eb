package credentials

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	KeychainService = "studio-bridge"
	keychainAccount = "studio-bridge"
)

type keychainCredentials struct {
	StudioOAuth Tokens `json:"studioOauth"`
}

// commandRunner runs a command and returns its stdout
type commandRunner func(name string, args ...string) ([]byte, error)

func execRunner(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).Output()
}

// KeychainSource stores tokens in the macOS keychain via the security CLI,
// caching reads for a short time.
type KeychainSource struct {
	mu       sync.RWMutex
	cached   *Tokens
	cachedAt time.Time
	cacheTTL time.Duration
	run      commandRunner
	now      func() time.Time
	logger   zerolog.Logger
}

func NewKeychainSource(logger zerolog.Logger) *KeychainSource {
	return &KeychainSource{
		cacheTTL: 5 * time.Minute,
		run:      execRunner,
		now:      time.Now,
		logger:   logger,
	}
}

func (k *KeychainSource) Name() string {
	return "keychain"
}

func (k *KeychainSource) Load() (*Tokens, error) {
	k.mu.RLock()
	if k.cached != nil && k.now().Sub(k.cachedAt) < k.cacheTTL {
		t := *k.cached
		k.mu.RUnlock()
		return &t, nil
	}
	k.mu.RUnlock()

	creds, err := k.read()
	if err != nil {
		return nil, err
	}
	if creds.StudioOAuth.AccessToken == "" {
		return nil, fmt.Errorf("accessToken is empty in keychain credentials")
	}

	k.mu.Lock()
	t := creds.StudioOAuth
	k.cached = &t
	k.cachedAt = k.now()
	k.mu.Unlock()

	out := creds.StudioOAuth
	return &out, nil
}

func (k *KeychainSource) Save(tokens *Tokens) error {
	creds := keychainCredentials{StudioOAuth: *tokens}
	payload, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to marshal keychain credentials: %w", err)
	}

	if _, err := k.run("security", "delete-generic-password", "-s", KeychainService); err != nil {
		k.logger.Debug().Err(err).Msg("No previous keychain entry to delete")
	}
	if _, err := k.run("security", "add-generic-password", "-s", KeychainService, "-a", keychainAccount, "-w", string(payload), "-U"); err != nil {
		return fmt.Errorf("failed to update keychain: %w", err)
	}

	k.mu.Lock()
	t := *tokens
	k.cached = &t
	k.cachedAt = k.now()
	k.mu.Unlock()
	return nil
}

func (k *KeychainSource) read() (*keychainCredentials, error) {
	output, err := k.run("security", "find-generic-password", "-s", KeychainService, "-w")
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve password from Keychain: %w", err)
	}
	var creds keychainCredentials
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(output))), &creds); err != nil {
		return nil, fmt.Errorf("failed to parse JSON from keychain: %w", err)
	}
	return &creds, nil
}
