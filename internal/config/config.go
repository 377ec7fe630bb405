// Package config loads coordinator configuration from the environment, with
// an optional YAML file overlay for deployments that prefer files.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config holds all coordinator settings.
type Config struct {
	ListenAddr string `env:"LISTEN_ADDR,default=:8080" yaml:"listen_addr"`
	LogLevel   string `env:"LOG_LEVEL,default=info" yaml:"log_level"`

	Ledger   LedgerConfig   `yaml:"ledger"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Store    StoreConfig    `yaml:"store"`
	Signer   SignerConfig   `yaml:"signer"`

	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL,default=30s" yaml:"reconcile_interval"`
}

// LedgerConfig points at the ledger RPC endpoint and contract.
type LedgerConfig struct {
	RPCURL            string        `env:"LEDGER_RPC_URL" yaml:"rpc_url"`
	ContractID        string        `env:"LEDGER_CONTRACT_ID" yaml:"contract_id"`
	RequestTimeout    time.Duration `env:"LEDGER_REQUEST_TIMEOUT,default=10s" yaml:"request_timeout"`
	RequestsPerSecond float64       `env:"LEDGER_REQUESTS_PER_SECOND,default=10" yaml:"requests_per_second"`
}

// PipelineConfig bounds the transaction pipeline.
type PipelineConfig struct {
	SigningTimeout     time.Duration `env:"PIPELINE_SIGNING_TIMEOUT,default=2m" yaml:"signing_timeout"`
	SubmitRetryBackoff time.Duration `env:"PIPELINE_SUBMIT_RETRY_BACKOFF,default=2s" yaml:"submit_retry_backoff"`
	PollInterval       time.Duration `env:"PIPELINE_POLL_INTERVAL,default=2s" yaml:"poll_interval"`
	MaxPollAttempts    int           `env:"PIPELINE_MAX_POLL_ATTEMPTS,default=10" yaml:"max_poll_attempts"`
}

// StoreConfig selects the metadata store backend.
type StoreConfig struct {
	// Backend is one of memory, postgres, redis.
	Backend     string `env:"STORE_BACKEND,default=memory" yaml:"backend"`
	PostgresDSN string `env:"STORE_POSTGRES_DSN" yaml:"postgres_dsn"`
	RedisAddr   string `env:"STORE_REDIS_ADDR" yaml:"redis_addr"`
	RedisDB     int    `env:"STORE_REDIS_DB,default=0" yaml:"redis_db"`
}

// SignerConfig configures the local signing key.
type SignerConfig struct {
	// KeySeed is the hex-encoded 32-byte signing seed.
	KeySeed string `env:"SIGNER_KEY_SEED" yaml:"key_seed"`
}

// Load reads configuration from the environment and, when path is non-empty,
// overlays the YAML file on top. File values win over environment values.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case "memory":
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("store backend postgres requires STORE_POSTGRES_DSN")
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("store backend redis requires STORE_REDIS_ADDR")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Ledger.RPCURL == "" {
		return fmt.Errorf("LEDGER_RPC_URL is required")
	}
	if c.Ledger.ContractID == "" {
		return fmt.Errorf("LEDGER_CONTRACT_ID is required")
	}
	return nil
}
