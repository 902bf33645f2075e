package chain

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/PaesslerAG/jsonpath"
	"github.com/ethereum/go-ethereum/accounts/abi"
)

//go:embed artifacts/*.json
var artifacts embed.FS

// Contract ABIs loaded from the bundled build artifacts.
var (
	ERC20ABI       = mustLoadArtifact("ERC20.json")
	VaultABI       = mustLoadArtifact("SymbioticLiskETHVaultProxy.json")
	FactoryABI     = mustLoadArtifact("LiskETHRestakeVaultFactory.json")
	PointsABI      = mustLoadArtifact("PointsToken.json")
	LeaderboardABI = mustLoadArtifact("AdminMinterLeaderboard.json")
)

// ParseArtifact extracts and parses the "abi" member of a compiler artifact.
func ParseArtifact(raw []byte) (*abi.ABI, error) {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}

	section, err := jsonpath.Get("$.abi", doc)
	if err != nil {
		return nil, fmt.Errorf("artifact has no abi: %w", err)
	}

	encoded, err := json.Marshal(section)
	if err != nil {
		return nil, fmt.Errorf("encode abi: %w", err)
	}

	parsed, err := abi.JSON(bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	return &parsed, nil
}

func mustLoadArtifact(name string) *abi.ABI {
	raw, err := artifacts.ReadFile("artifacts/" + name)
	if err != nil {
		panic(fmt.Sprintf("chain: read artifact %s: %v", name, err))
	}
	parsed, err := ParseArtifact(raw)
	if err != nil {
		panic(fmt.Sprintf("chain: %s: %v", name, err))
	}
	return parsed
}
