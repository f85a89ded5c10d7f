package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration, loaded from environment variables.
type Config struct {
	// Persisted state roots (§6.2, §6.5).
	CacheRoot          string `env:"CACHE_ROOT" envDefault:"./state/cache"`
	AuditRoot          string `env:"AUDIT_ROOT" envDefault:"./state/audit"`
	CustomerDirectory  string `env:"CUSTOMER_DIRECTORY" envDefault:"./config/customers.json"`
	AgentCatalog       string `env:"AGENT_CATALOG" envDefault:"./config/agents.json"`

	// Identity provider (§4.1, §6.5).
	IDPJWKSURL           string `env:"IDP_JWKS_URL"`
	IDPExpectedIssuer    string `env:"IDP_EXPECTED_ISSUER"`
	IDPExpectedAudience  string `env:"IDP_EXPECTED_AUDIENCE"`

	// LLM fallback classifier (§4.5 step 4).
	LLMClassifierURL string `env:"LLM_CLASSIFIER_URL"`
	LLMClassifierKey string `env:"LLM_CLASSIFIER_KEY"`

	// Downstream data services the Cache Populator calls (§4.2, §6.4). Fixed
	// configuration, not discovered.
	AccountsServiceURL     string `env:"ACCOUNTS_SERVICE_URL"`
	TransactionsServiceURL string `env:"TRANSACTIONS_SERVICE_URL"`
	ContactsServiceURL     string `env:"CONTACTS_SERVICE_URL"`
	LimitsServiceURL       string `env:"LIMITS_SERVICE_URL"`

	// Server
	ListenAddr string `env:"LISTEN_ADDR" envDefault:"0.0.0.0:8080"`

	// CORS (ambient — not named in §6.5, but every client-facing surface
	// in the reference stack carries one).
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Redis backs the auth-failure rate limiter only (§3 supplemented
	// features); the cache store itself is file-based per §4.2. Optional —
	// if unset, the rate limiter falls back to an in-memory counter.
	RedisURL string `env:"REDIS_URL"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}
	return cfg, nil
}
