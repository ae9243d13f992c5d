// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"strings"

	"github.com/joeshaw/envdecode"
)

// Config is the full service configuration. Fields without defaults are
// optional; integrations left unset are disabled or mocked with a warning at
// wiring time.
type Config struct {
	Server struct {
		Host            string  `env:"HTTP_HOST,default=0.0.0.0"`
		Port            int     `env:"HTTP_PORT,default=8080"`
		AuthTokens      string  `env:"API_AUTH_TOKENS"`
		RateLimitPerSec float64 `env:"RATE_LIMIT_PER_SEC,default=20"`
		RateLimitBurst  int     `env:"RATE_LIMIT_BURST,default=40"`
		AuditLogPath    string  `env:"AUDIT_LOG_PATH"`
	}

	Logging struct {
		Level  string `env:"LOG_LEVEL,default=info"`
		Format string `env:"LOG_FORMAT,default=text"`
	}

	Database struct {
		// URL selects PostgreSQL persistence; empty keeps everything
		// in memory.
		URL string `env:"DATABASE_URL"`
	}

	Redis struct {
		// Addr selects Redis-backed verification sessions; empty keeps
		// them in memory.
		Addr     string `env:"REDIS_ADDR"`
		Password string `env:"REDIS_PASSWORD"`
		DB       int    `env:"REDIS_DB,default=0"`
	}

	Settlement struct {
		Mode       string `env:"SETTLEMENT_MODE"`
		RelayURL   string `env:"SETTLEMENT_RELAY_URL"`
		RelayKey   string `env:"SETTLEMENT_RELAY_KEY"`
		ChainRPC   string `env:"CHAIN_RPC_URL"`
		RelayerKey string `env:"CHAIN_RELAYER_KEY"`
	}

	PublicBaseURL string `env:"PUBLIC_BASE_URL"`
}

// Load decodes the configuration and validates cross-field constraints.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Settlement.Mode)) {
	case "relay":
		if strings.TrimSpace(cfg.Settlement.RelayURL) == "" {
			return nil, fmt.Errorf("SETTLEMENT_MODE=relay requires SETTLEMENT_RELAY_URL")
		}
	case "chain":
		if strings.TrimSpace(cfg.Settlement.ChainRPC) == "" {
			return nil, fmt.Errorf("SETTLEMENT_MODE=chain requires CHAIN_RPC_URL")
		}
		if strings.TrimSpace(cfg.Settlement.RelayerKey) == "" {
			return nil, fmt.Errorf("SETTLEMENT_MODE=chain requires CHAIN_RELAYER_KEY")
		}
	}
	return &cfg, nil
}

// AuthTokens splits the comma-separated token list.
func (c *Config) AuthTokens() []string {
	var tokens []string
	for _, tok := range strings.Split(c.Server.AuthTokens, ",") {
		if tok = strings.TrimSpace(tok); tok != "" {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}
