package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// RateLimitRule configures one method class of the per-agent limiter.
type RateLimitRule struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// RegistryConfig points the engine at the on-chain identity registry. An
// empty RPCEndpoint selects the static in-memory registry (dev/test mode).
type RegistryConfig struct {
	RPCEndpoint     string `yaml:"rpc_endpoint"`
	ContractAddress string `yaml:"contract_address"`
}

// StoreConfig selects the analysis store backend.
type StoreConfig struct {
	Driver       string `yaml:"driver"` // "memory" or "sqlite"
	Path         string `yaml:"path"`
	MaxPerMarket int    `yaml:"max_per_market"`
	TTLMinutes   int    `yaml:"ttl_minutes"`
}

// ServerConfig is the engine daemon configuration.
type ServerConfig struct {
	ListenAddr        string                   `yaml:"listen_addr"`
	ChainID           uint64                   `yaml:"chain_id"`
	LogLevel          string                   `yaml:"log_level"`
	HeartbeatSeconds  int                      `yaml:"heartbeat_seconds"`
	RequestTimeoutSec int                      `yaml:"request_timeout_seconds"`
	AuthMaxAgeSeconds int                      `yaml:"auth_max_age_seconds"`
	AuthMaxSkewSec    int                      `yaml:"auth_max_skew_seconds"`
	SessionTTLHours   int                      `yaml:"session_ttl_hours"`
	PaymentTTLSeconds int                      `yaml:"payment_ttl_seconds"`
	RateLimits        map[string]RateLimitRule `yaml:"rate_limits"`
	Registry          RegistryConfig           `yaml:"registry"`
	Store             StoreConfig              `yaml:"store"`
}

// ClientConfig configures an agent-side connection.
type ClientConfig struct {
	URL                string   `yaml:"url"`
	TokenID            uint64   `yaml:"token_id"`
	LogLevel           string   `yaml:"log_level"`
	AutoReconnect      bool     `yaml:"auto_reconnect"`
	ReconnectDelaySec  int      `yaml:"reconnect_delay_seconds"`
	RequestTimeoutSec  int      `yaml:"request_timeout_seconds"`
	HeartbeatSeconds   int      `yaml:"heartbeat_seconds"`
	PrivateKey         string   `yaml:"-"` // env only, never from file
	CapabilityStrategy []string `yaml:"strategies"`
	CapabilityMarkets  []string `yaml:"markets"`
	CapabilityActions  []string `yaml:"actions"`
	CapabilityVersion  string   `yaml:"version"`
}

// DefaultServerConfig returns the defaults applied underneath any file and
// env overrides.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ListenAddr:        ":8787",
		ChainID:           1,
		LogLevel:          "INFO",
		HeartbeatSeconds:  30,
		RequestTimeoutSec: 30,
		AuthMaxAgeSeconds: 300,
		AuthMaxSkewSec:    30,
		SessionTTLHours:   24,
		PaymentTTLSeconds: 300,
		RateLimits: map[string]RateLimitRule{
			"auth":      {RPS: 0.2, Burst: 3},
			"market":    {RPS: 10, Burst: 20},
			"coalition": {RPS: 2, Burst: 5},
			"analysis":  {RPS: 2, Burst: 5},
			"payment":   {RPS: 1, Burst: 3},
			"discovery": {RPS: 2, Burst: 5},
		},
		Store: StoreConfig{
			Driver:       "memory",
			MaxPerMarket: 100,
			TTLMinutes:   240,
		},
	}
}

// LoadServer loads server configuration: defaults, then the yaml file (if
// any), then environment variables. A .env file is honored when present.
func LoadServer(path string) (*ServerConfig, error) {
	// Ignore missing .env; only explicit files are mandatory.
	_ = godotenv.Load()

	cfg := DefaultServerConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if v := os.Getenv("A2A_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("A2A_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("A2A_CHAIN_ID"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid A2A_CHAIN_ID %q: %w", v, err)
		}
		cfg.ChainID = id
	}
	if v := os.Getenv("A2A_RPC_ENDPOINT"); v != "" {
		cfg.Registry.RPCEndpoint = v
	}
	if v := os.Getenv("A2A_REGISTRY_CONTRACT"); v != "" {
		cfg.Registry.ContractAddress = v
	}
	if v := os.Getenv("A2A_DB_PATH"); v != "" {
		cfg.Store.Driver = "sqlite"
		cfg.Store.Path = v
	}
	return cfg, nil
}

// LoadClient loads agent configuration the same way. The signing key comes
// exclusively from A2A_PRIVATE_KEY.
func LoadClient(path string) (*ClientConfig, error) {
	_ = godotenv.Load()

	cfg := &ClientConfig{
		URL:               "ws://localhost:8787/ws",
		LogLevel:          "INFO",
		AutoReconnect:     true,
		ReconnectDelaySec: 5,
		RequestTimeoutSec: 30,
		HeartbeatSeconds:  30,
		CapabilityVersion: "1.0.0",
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if v := os.Getenv("A2A_URL"); v != "" {
		cfg.URL = v
	}
	if v := os.Getenv("A2A_TOKEN_ID"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid A2A_TOKEN_ID %q: %w", v, err)
		}
		cfg.TokenID = id
	}
	cfg.PrivateKey = os.Getenv("A2A_PRIVATE_KEY")
	return cfg, nil
}

// Heartbeat returns the heartbeat interval as a duration.
func (c *ServerConfig) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// RequestTimeout returns the per-request deadline as a duration.
func (c *ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// SessionTTL returns the session token lifetime as a duration.
func (c *ServerConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

// PaymentTTL returns the default payment request expiry as a duration.
func (c *ServerConfig) PaymentTTL() time.Duration {
	return time.Duration(c.PaymentTTLSeconds) * time.Second
}
