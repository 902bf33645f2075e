// Package config loads frog's runtime configuration from the environment,
// an optional .env file and the contract address book.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// DefaultChainID is the Lisk mainnet chain id.
const DefaultChainID = 1135

// Config is the complete runtime configuration.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Chain      ChainConfig
	Stripe     StripeConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Pricing    PricingConfig
	Settlement SettlementConfig
	RateLimit  RateLimitConfig
	Logging    LoggingConfig

	ContractsFile string `env:"CONTRACTS_FILE,default=config/contracts.yaml"`
	Contracts     Contracts
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr           string        `env:"HTTP_ADDR,default=:8080"`
	ReadTimeout    time.Duration `env:"HTTP_READ_TIMEOUT,default=15s"`
	WriteTimeout   time.Duration `env:"HTTP_WRITE_TIMEOUT,default=3m"`
	AllowedOrigins string        `env:"CORS_ALLOWED_ORIGINS,default=*"`
}

// DatabaseConfig configures the Postgres pool.
type DatabaseConfig struct {
	DSN             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS,default=20"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME,default=30m"`
}

// ChainConfig configures the EVM client and the executor signer.
type ChainConfig struct {
	RPCURL             string        `env:"RPC_URL"`
	ChainID            int64         `env:"CHAIN_ID,default=1135"`
	ExecutorPrivateKey string        `env:"EXECUTOR_PRIVATE_KEY"`
	TxWaitTimeout      time.Duration `env:"CHAIN_TX_WAIT_TIMEOUT,default=2m"`
	PollInterval       time.Duration `env:"CHAIN_POLL_INTERVAL,default=2s"`
}

// StripeConfig holds card processor credentials.
type StripeConfig struct {
	SecretKey        string `env:"STRIPE_SECRET_KEY"`
	WebhookSecretKey string `env:"STRIPE_WEBHOOK_SECRET_KEY"`
}

// RedisConfig enables the cross-process signer lock when URL is set.
type RedisConfig struct {
	URL     string        `env:"REDIS_URL"`
	LockTTL time.Duration `env:"SIGNER_LOCK_TTL,default=3m"`
}

// AuthConfig guards internal endpoints.
type AuthConfig struct {
	ServiceTokenSecret string `env:"SERVICE_TOKEN_SECRET"`
	AllowedServices    string `env:"SERVICE_TOKEN_ALLOWED,default=settlement;ops"`
}

// PricingConfig holds the fixed oracle rates.
type PricingConfig struct {
	GBPUSDRate      string `env:"GBP_USD_RATE,default=1.27"`
	WstETHPriceUSDC string `env:"WSTETH_PRICE_USDC,default=5391.94"`
	PointsPerUSDC   string `env:"POINTS_PER_USDC,default=1"`
}

// SettlementConfig tunes the settlement worker.
type SettlementConfig struct {
	Schedule    string        `env:"SETTLEMENT_SCHEDULE,default=@every 5s"`
	MaxAttempts int           `env:"SETTLEMENT_MAX_ATTEMPTS,default=8"`
	BatchSize   int           `env:"SETTLEMENT_BATCH_SIZE,default=10"`
	BaseBackoff time.Duration `env:"SETTLEMENT_BASE_BACKOFF,default=10s"`
	MaxBackoff  time.Duration `env:"SETTLEMENT_MAX_BACKOFF,default=10m"`
}

// RateLimitConfig configures the per-client limiter.
type RateLimitConfig struct {
	RequestsPerSecond int    `env:"RATE_LIMIT_RPS,default=20"`
	Burst             int    `env:"RATE_LIMIT_BURST,default=40"`
	TrustedProxies    string `env:"RATE_LIMIT_TRUSTED_PROXIES"`
}

// LoggingConfig configures pkg/logger.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=json"`
}

// Load reads .env (if present), decodes the environment and merges the
// address book. It does not validate; call Validate for the mode in use.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	book, err := LoadContractsOrDefault(cfg.ContractsFile)
	if err != nil {
		return nil, err
	}
	book.applyEnv()
	cfg.Contracts = *book

	return &cfg, nil
}

// Validate checks the settings the API server cannot run without.
func (c *Config) Validate() error {
	var missing []string
	if c.Database.DSN == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.Chain.RPCURL == "" {
		missing = append(missing, "RPC_URL")
	}
	if c.Chain.ExecutorPrivateKey == "" {
		missing = append(missing, "EXECUTOR_PRIVATE_KEY")
	}
	if c.Stripe.SecretKey == "" {
		missing = append(missing, "STRIPE_SECRET_KEY")
	}
	if c.Stripe.WebhookSecretKey == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.Chain.ChainID <= 0 {
		return fmt.Errorf("CHAIN_ID must be positive")
	}
	return c.Contracts.Validate()
}

// AllowedServiceIDs returns the service ids accepted on service tokens.
func (c AuthConfig) AllowedServiceIDs() []string {
	return splitList(c.AllowedServices)
}

// Proxies returns the reverse proxies whose X-Forwarded-For is trusted.
func (c RateLimitConfig) Proxies() []string {
	return splitList(c.TrustedProxies)
}

// Origins returns the configured CORS origins.
func (c ServerConfig) Origins() []string {
	return splitList(c.AllowedOrigins)
}

func splitList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ';' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func isAddress(s string) bool {
	return common.IsHexAddress(s) && strings.HasPrefix(strings.ToLower(s), "0x")
}
