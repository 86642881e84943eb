package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

type fsAuth struct {
	Tokens Tokens `json:"tokens"`
}

// FSSource stores tokens in a JSON file
type FSSource struct {
	Path string

	mu sync.Mutex
}

func NewFSSource(path string) *FSSource {
	return &FSSource{Path: path}
}

func (f *FSSource) Name() string {
	return "fs"
}

func (f *FSSource) Load() (*Tokens, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w at %s", ErrNoCredentials, f.Path)
		}
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	var a fsAuth
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	if a.Tokens.AccessToken == "" {
		return nil, fmt.Errorf("missing access_token in credentials file")
	}
	t := a.Tokens
	return &t, nil
}

// Save writes tokens with 0600 permissions, creating parent directories
func (f *FSSource) Save(tokens *Tokens) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := EnsureParentDir(f.Path); err != nil {
		return err
	}
	data, err := json.MarshalIndent(fsAuth{Tokens: *tokens}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	if err := os.WriteFile(f.Path, data, 0600); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}
	return nil
}
