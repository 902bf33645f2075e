package user

import "time"

// Defaults for users provisioned from a wallet interaction.
const (
	DefaultName    = "Wallet user"
	ProviderWallet = "wallet"
)

// User is identified by a lowercase EVM address.
type User struct {
	ID        string
	Name      string
	Address   string
	Provider  string
	CreatedAt time.Time
}
