//go:build js && wasm

package credentials

import (
	"encoding/json"
	"fmt"

	"github.com/syumai/workers/cloudflare/kv"
)

const (
	// KVNamespace is the binding name configured in wrangler.toml
	KVNamespace = "studio_bridge_kv"
	kvKey       = "studio_oauth_credentials"
)

// CloudflareKVSource stores tokens in a Cloudflare KV namespace
type CloudflareKVSource struct {
	kvStore *kv.Namespace
}

func NewCloudflareKVSource() (*CloudflareKVSource, error) {
	kvStore, err := kv.NewNamespace(KVNamespace)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize KV namespace: %w", err)
	}
	return &CloudflareKVSource{kvStore: kvStore}, nil
}

func (c *CloudflareKVSource) Name() string {
	return "cloudflare_kv"
}

func (c *CloudflareKVSource) Load() (*Tokens, error) {
	credsJSON, err := c.kvStore.GetString(kvKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get credentials from KV: %w", err)
	}
	if credsJSON == "" {
		return nil, ErrNoCredentials
	}

	var t Tokens
	if err := json.Unmarshal([]byte(credsJSON), &t); err != nil {
		return nil, fmt.Errorf("failed to parse credentials JSON: %w", err)
	}
	if t.AccessToken == "" {
		return nil, fmt.Errorf("missing access_token in KV credentials")
	}
	return &t, nil
}

func (c *CloudflareKVSource) Save(tokens *Tokens) error {
	credsJSON, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	if err := c.kvStore.PutString(kvKey, string(credsJSON), nil); err != nil {
		return fmt.Errorf("failed to store credentials in KV: %w", err)
	}
	return nil
}
