package chain

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrVaultNotCreated is returned when a createVault receipt carries no
// VaultCreated event from the factory.
var ErrVaultNotCreated = errors.New("VaultCreated event not found in receipt")

// VaultFactory binds the restake vault factory.
type VaultFactory struct {
	b    Backend
	addr common.Address
}

// NewVaultFactory binds the factory at addr.
func NewVaultFactory(b Backend, addr common.Address) *VaultFactory {
	return &VaultFactory{b: b, addr: addr}
}

func (f *VaultFactory) Address() common.Address { return f.addr }

// CreateVault deploys a vault owned by owner with executor as operator.
func (f *VaultFactory) CreateVault(ctx context.Context, owner, executor common.Address, unlockTime uint64, goalWstETH *big.Int, name string) (*TxResult, error) {
	return Transact(ctx, f.b, f.addr, FactoryABI, "createVault", owner, executor, unlockTime, goalWstETH, name)
}

// CreatedVault extracts the vault address from the factory's VaultCreated
// log in receipt. Logs from other emitters are ignored.
func (f *VaultFactory) CreatedVault(receipt *types.Receipt) (common.Address, error) {
	if receipt == nil {
		return common.Address{}, ErrVaultNotCreated
	}
	event := FactoryABI.Events["VaultCreated"]

	// position of the vault among indexed inputs
	topic := 1
	for _, in := range event.Inputs {
		if !in.Indexed {
			continue
		}
		if in.Name == "vault" {
			break
		}
		topic++
	}

	for _, l := range receipt.Logs {
		if l == nil || l.Address != f.addr || len(l.Topics) <= topic {
			continue
		}
		if l.Topics[0] != event.ID {
			continue
		}
		return common.BytesToAddress(l.Topics[topic].Bytes()), nil
	}
	return common.Address{}, ErrVaultNotCreated
}
