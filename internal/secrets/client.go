package secrets

import (
	"context"
	"fmt"
	"sync"

	"alpha-trade-engine/config"

	"github.com/hashicorp/vault/api"
)

// Well-known credential names under the configured secret path
const (
	KeyPrivyAppSecret   = "privy_app_secret"
	KeyAggregatorAPIKey = "aggregator_api_key"
	KeyDeepSeekAPIKey   = "deepseek_api_key"
	KeyTelegramBotToken = "telegram_bot_token"
	KeyAlphaAPISecret   = "alpha_api_secret"
)

// Client wraps the HashiCorp Vault client for service credentials.
// With Vault disabled it serves values seeded from the environment,
// which keeps local development working without a Vault instance.
type Client struct {
	client       *api.Client
	config       config.VaultConfig
	mu           sync.RWMutex
	cache        map[string]string
	cacheEnabled bool
}

// NewClient creates a new secrets client
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{
			config:       cfg,
			cache:        make(map[string]string),
			cacheEnabled: true,
		}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	client.SetToken(cfg.Token)

	return &Client{
		client:       client,
		config:       cfg,
		cache:        make(map[string]string),
		cacheEnabled: true,
	}, nil
}

// Seed preloads a credential, used in disabled mode to carry env values
func (c *Client) Seed(name, value string) {
	if value == "" {
		return
	}
	c.mu.Lock()
	c.cache[name] = value
	c.mu.Unlock()
}

// Get retrieves a named credential, preferring the cache
func (c *Client) Get(ctx context.Context, name string) (string, error) {
	if c.cacheEnabled {
		c.mu.RLock()
		if cached, ok := c.cache[name]; ok {
			c.mu.RUnlock()
			return cached, nil
		}
		c.mu.RUnlock()
	}

	if !c.config.Enabled {
		return "", fmt.Errorf("credential %s not found and vault is disabled", name)
	}

	path := c.secretPath(name)

	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s from vault: %w", name, err)
	}

	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("credential %s not found", name)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("invalid secret format for %s", name)
	}

	value := getString(data, "value")
	if value == "" {
		return "", fmt.Errorf("credential %s is empty", name)
	}

	if c.cacheEnabled {
		c.mu.Lock()
		c.cache[name] = value
		c.mu.Unlock()
	}

	return value, nil
}

// GetOrDefault retrieves a credential, falling back to a provided value
func (c *Client) GetOrDefault(ctx context.Context, name, fallback string) string {
	value, err := c.Get(ctx, name)
	if err != nil || value == "" {
		return fallback
	}
	return value
}

// Store writes a credential to Vault and refreshes the cache
func (c *Client) Store(ctx context.Context, name, value string) error {
	if !c.config.Enabled {
		c.Seed(name, value)
		return nil
	}

	path := c.secretPath(name)

	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"value": value,
		},
	}

	_, err := c.client.Logical().WriteWithContext(ctx, path, secretData)
	if err != nil {
		return fmt.Errorf("failed to store %s in vault: %w", name, err)
	}

	if c.cacheEnabled {
		c.mu.Lock()
		c.cache[name] = value
		c.mu.Unlock()
	}

	return nil
}

// ClearCache clears the in-memory cache
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.cache = make(map[string]string)
	c.mu.Unlock()
}

// IsEnabled returns whether Vault is enabled
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Health checks the Vault connection
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	health, err := c.client.Sys().Health()
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}

	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}

	return nil
}

// secretPath returns the KV v2 data path for a credential
func (c *Client) secretPath(name string) string {
	return fmt.Sprintf("%s/data/%s/%s", c.config.MountPath, c.config.SecretPath, name)
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// NewDisabledClient creates a client that serves only seeded values, for tests
func NewDisabledClient() *Client {
	return &Client{
		config: config.VaultConfig{
			Enabled: false,
		},
		cache:        make(map[string]string),
		cacheEnabled: true,
	}
}
