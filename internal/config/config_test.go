package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBook(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contracts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONTRACTS_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, int64(DefaultChainID), cfg.Chain.ChainID)
	assert.Equal(t, 2*time.Minute, cfg.Chain.TxWaitTimeout)
	assert.Equal(t, "1.27", cfg.Pricing.GBPUSDRate)
	assert.Equal(t, "@every 5s", cfg.Settlement.Schedule)
	assert.Equal(t, DefaultContracts().USDC, cfg.Contracts.USDC)
	assert.Empty(t, cfg.RateLimit.Proxies())
}

func TestTrustedProxies(t *testing.T) {
	t.Setenv("CONTRACTS_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("RATE_LIMIT_TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.7")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.7"}, cfg.RateLimit.Proxies())
}

func TestLoadMergesBookAndEnvironment(t *testing.T) {
	t.Setenv("CONTRACTS_FILE", writeBook(t, `
usdc: "0x0000000000000000000000000000000000000001"
treasury: "0x0000000000000000000000000000000000000002"
hiddenVaults: ["0x0000000000000000000000000000000000000009"]
`))
	t.Setenv("TREASURY_ADDRESS", "0x0000000000000000000000000000000000000003")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0x0000000000000000000000000000000000000001", cfg.Contracts.USDC)
	assert.Equal(t, "0x0000000000000000000000000000000000000003", cfg.Contracts.Treasury)
	assert.Equal(t, DefaultContracts().VaultFactory, cfg.Contracts.VaultFactory)
	assert.True(t, cfg.Contracts.Hidden(Address("0x0000000000000000000000000000000000000009")))
}

func TestValidateNamesMissingVariables(t *testing.T) {
	cfg := &Config{Contracts: *DefaultContracts()}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "EXECUTOR_PRIVATE_KEY")
}

func TestValidateRejectsMalformedAddress(t *testing.T) {
	cfg := &Config{
		Database:  DatabaseConfig{DSN: "postgres://localhost/frog"},
		Chain:     ChainConfig{RPCURL: "http://localhost:8545", ChainID: 1135, ExecutorPrivateKey: "00"},
		Stripe:    StripeConfig{SecretKey: "sk", WebhookSecretKey: "whsec"},
		Contracts: *DefaultContracts(),
	}
	cfg.Contracts.Treasury = "0x0000000000000000000000000000000000000002"
	require.NoError(t, cfg.Validate())

	cfg.Contracts.Router = "0x1234"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ROUTER_ADDRESS")
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitList(" a, b;c ,"))
	assert.Empty(t, splitList(""))
}
