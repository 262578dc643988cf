package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"

	"futures-trading-agent/config"
)

// ErrNotFound is returned when no credentials are stored at the path.
var ErrNotFound = errors.New("credentials not found")

// Credentials are the secrets the agent needs at startup.
type Credentials struct {
	ExchangeAPIKey    string `json:"exchange_api_key"`
	ExchangeSecretKey string `json:"exchange_secret_key"`
	AdvisoryAPIKey    string `json:"advisory_api_key"`
	IsTestnet         bool   `json:"is_testnet"`
}

// Client wraps the HashiCorp Vault client. With Vault disabled it keeps
// credentials in memory only.
type Client struct {
	client *api.Client
	config config.VaultConfig

	mu    sync.RWMutex
	cache *Credentials
}

// NewClient creates a new Vault client
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if cfg.MountPath == "" {
		cfg.MountPath = "secret"
	}
	if cfg.SecretPath == "" {
		cfg.SecretPath = "futures-trading-agent"
	}
	if !cfg.Enabled {
		return &Client{config: cfg}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{client: client, config: cfg}, nil
}

// StoreCredentials writes credentials to the KV v2 secret.
func (c *Client) StoreCredentials(ctx context.Context, creds Credentials) error {
	if c.config.Enabled {
		secretData := map[string]interface{}{
			"data": map[string]interface{}{
				"exchange_api_key":    creds.ExchangeAPIKey,
				"exchange_secret_key": creds.ExchangeSecretKey,
				"advisory_api_key":    creds.AdvisoryAPIKey,
				"is_testnet":          creds.IsTestnet,
			},
		}
		if _, err := c.client.Logical().WriteWithContext(ctx, c.dataPath(), secretData); err != nil {
			return fmt.Errorf("failed to store credentials in vault: %w", err)
		}
	}

	c.mu.Lock()
	c.cache = &creds
	c.mu.Unlock()
	return nil
}

// LoadCredentials reads credentials, serving the cached copy after the
// first successful read.
func (c *Client) LoadCredentials(ctx context.Context) (*Credentials, error) {
	c.mu.RLock()
	if c.cache != nil {
		cp := *c.cache
		c.mu.RUnlock()
		return &cp, nil
	}
	c.mu.RUnlock()

	if !c.config.Enabled {
		return nil, ErrNotFound
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.dataPath())
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, ErrNotFound
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format")
	}

	creds := parseCredentials(data)
	c.mu.Lock()
	c.cache = &creds
	c.mu.Unlock()
	return &creds, nil
}

// ClearCache forces the next LoadCredentials to hit Vault.
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.cache = nil
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
	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

func (c *Client) dataPath() string {
	return fmt.Sprintf("%s/data/%s", c.config.MountPath, c.config.SecretPath)
}

func parseCredentials(data map[string]interface{}) Credentials {
	return Credentials{
		ExchangeAPIKey:    getString(data, "exchange_api_key"),
		ExchangeSecretKey: getString(data, "exchange_secret_key"),
		AdvisoryAPIKey:    getString(data, "advisory_api_key"),
		IsTestnet:         getBool(data, "is_testnet"),
	}
}

// Helper functions
func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

func getBool(data map[string]interface{}, key string) bool {
	if val, ok := data[key]; ok {
		switch v := val.(type) {
		case bool:
			return v
		case string:
			return v == "true"
		case json.Number:
			n, _ := v.Int64()
			return n != 0
		}
	}
	return false
}

// ApplyTo fills empty credential fields of cfg from creds. Values already
// set through config or environment win.
func (creds Credentials) ApplyTo(cfg *config.Config) {
	if cfg.Exchange.APIKey == "" {
		cfg.Exchange.APIKey = creds.ExchangeAPIKey
	}
	if cfg.Exchange.SecretKey == "" {
		cfg.Exchange.SecretKey = creds.ExchangeSecretKey
	}
	if cfg.Advisory.APIKey == "" {
		cfg.Advisory.APIKey = creds.AdvisoryAPIKey
	}
}
