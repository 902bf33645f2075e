package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Contracts is the on-chain address book.
type Contracts struct {
	USDC         string   `yaml:"usdc"`
	Treasury     string   `yaml:"treasury"`
	VaultFactory string   `yaml:"vaultFactory"`
	Router       string   `yaml:"router"`
	PointsToken  string   `yaml:"pointsToken"`
	Leaderboard  string   `yaml:"leaderboard"`
	HiddenVaults []string `yaml:"hiddenVaults"`
}

// DefaultContracts returns the Lisk mainnet deployment.
func DefaultContracts() *Contracts {
	return &Contracts{
		USDC:         "0xF242275d3a6527d877f2c927a82D9b057609cc71",
		VaultFactory: "0xE805bB943E0171670C2D61C93a8Bed8C459F2f7c",
		Router:       "0x1231DEB6f5749EF6cE6943a275A1D3E7486F4EaE",
		PointsToken:  "0xa886e30c7e759f3E39cE2cdcDFC0341E6b65f0bc",
		Leaderboard:  "0xD9FdCaE3E93f9b2DAcc543262Cf4f98A2F615cdD",
	}
}

// LoadContractsFromPath reads an address book file.
func LoadContractsFromPath(path string) (*Contracts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read contracts config: %w", err)
	}

	book := DefaultContracts()
	if err := yaml.Unmarshal(data, book); err != nil {
		return nil, fmt.Errorf("failed to parse contracts config: %w", err)
	}
	return book, nil
}

// LoadContractsOrDefault reads path, falling back to the defaults when the
// file does not exist.
func LoadContractsOrDefault(path string) (*Contracts, error) {
	if path == "" {
		return DefaultContracts(), nil
	}
	book, err := LoadContractsFromPath(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultContracts(), nil
	}
	return book, err
}

func (c *Contracts) applyEnv() {
	override := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	override(&c.USDC, "USDC_ADDRESS")
	override(&c.Treasury, "TREASURY_ADDRESS")
	override(&c.VaultFactory, "VAULT_FACTORY_ADDRESS")
	override(&c.Router, "ROUTER_ADDRESS")
	override(&c.PointsToken, "POINTS_TOKEN_ADDRESS")
	override(&c.Leaderboard, "LEADERBOARD_ADDRESS")
	if v := os.Getenv("HIDDEN_VAULTS"); v != "" {
		c.HiddenVaults = splitList(v)
	}
}

// Validate checks that every configured address is well formed. USDC,
// treasury and factory are mandatory; the rest are optional features.
func (c *Contracts) Validate() error {
	required := map[string]string{
		"USDC_ADDRESS":          c.USDC,
		"TREASURY_ADDRESS":      c.Treasury,
		"VAULT_FACTORY_ADDRESS": c.VaultFactory,
	}
	for key, v := range required {
		if v == "" {
			return fmt.Errorf("missing required configuration: %s", key)
		}
	}
	optional := map[string]string{
		"ROUTER_ADDRESS":       c.Router,
		"POINTS_TOKEN_ADDRESS": c.PointsToken,
		"LEADERBOARD_ADDRESS":  c.Leaderboard,
	}
	for key, v := range required {
		optional[key] = v
	}
	for key, v := range optional {
		if v != "" && !isAddress(v) {
			return fmt.Errorf("%s is not an EVM address: %q", key, v)
		}
	}
	for _, v := range c.HiddenVaults {
		if !isAddress(v) {
			return fmt.Errorf("HIDDEN_VAULTS contains a malformed address: %q", v)
		}
	}
	return nil
}

// Address parses one of the book's entries. Empty strings yield the zero
// address.
func Address(s string) common.Address {
	if s == "" {
		return common.Address{}
	}
	return common.HexToAddress(s)
}

// Hidden reports whether addr is in the hidden vault list.
func (c *Contracts) Hidden(addr common.Address) bool {
	for _, v := range c.HiddenVaults {
		if common.HexToAddress(v) == addr {
			return true
		}
	}
	return false
}
