package vault

import (
	"math/big"
	"time"
)

// Vault records a savings vault contract owned by a user.
type Vault struct {
	ID            string
	UserID        string
	Address       string
	Name          string
	Goal          *big.Int
	Collaborators []string
	TokenSymbol   string
	TokenDecimals uint8
	ChainID       int64
	CreatedAt     time.Time
}
