package vault

import (
	"context"
	"fmt"
	"sync"

	"adaptive-trading-bot/config"

	"github.com/hashicorp/vault/api"
)

// Client wraps the HashiCorp Vault client for LLM credential retrieval.
// With Vault disabled the client serves keys from an in-memory map, which
// lets development setups inject keys straight from config.
type Client struct {
	client *api.Client
	config config.VaultConfig

	mu    sync.RWMutex
	cache map[string]string // provider -> api key
}

// NewClient creates a new Vault client
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{
			config: cfg,
			cache:  make(map[string]string),
		}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{
			CACert: cfg.CACert,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{
		client: client,
		config: cfg,
		cache:  make(map[string]string),
	}, nil
}

// SetLocalKey seeds a provider key into the local cache. Used when Vault is
// disabled and the key comes from config or environment.
func (c *Client) SetLocalKey(provider, apiKey string) {
	c.mu.Lock()
	c.cache[provider] = apiKey
	c.mu.Unlock()
}

// GetLLMKey retrieves the API key for an LLM provider. Keys are cached after
// the first successful read.
func (c *Client) GetLLMKey(ctx context.Context, provider string) (string, error) {
	c.mu.RLock()
	if key, ok := c.cache[provider]; ok && key != "" {
		c.mu.RUnlock()
		return key, nil
	}
	c.mu.RUnlock()

	if !c.config.Enabled {
		return "", fmt.Errorf("no API key configured for provider %s", provider)
	}

	path := fmt.Sprintf("%s/data/%s/%s", c.config.MountPath, c.config.SecretPath, provider)
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to read LLM key from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("no secret at %s", path)
	}

	// KV v2 nests the payload under "data"
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("unexpected secret format at %s", path)
	}
	key, ok := data["api_key"].(string)
	if !ok || key == "" {
		return "", fmt.Errorf("secret at %s has no api_key", path)
	}

	c.mu.Lock()
	c.cache[provider] = key
	c.mu.Unlock()
	return key, nil
}

// ClearCache drops all cached keys, forcing re-reads from Vault
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.cache = make(map[string]string)
	c.mu.Unlock()
}

// IsEnabled reports whether Vault-backed retrieval is active
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}
