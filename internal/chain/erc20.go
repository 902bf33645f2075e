package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ERC20 is a typed binding for a fungible token.
type ERC20 struct {
	b    Backend
	addr common.Address
}

// NewERC20 binds the token at addr.
func NewERC20(b Backend, addr common.Address) *ERC20 {
	return &ERC20{b: b, addr: addr}
}

// Address returns the token address.
func (t *ERC20) Address() common.Address { return t.addr }

func (t *ERC20) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	out, err := Call(ctx, t.b, t.addr, ERC20ABI, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return bigAt(out, 0)
}

func (t *ERC20) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	out, err := Call(ctx, t.b, t.addr, ERC20ABI, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return bigAt(out, 0)
}

func (t *ERC20) Decimals(ctx context.Context) (uint8, error) {
	out, err := Call(ctx, t.b, t.addr, ERC20ABI, "decimals")
	if err != nil {
		return 0, err
	}
	return uint8At(out, 0)
}

func (t *ERC20) Symbol(ctx context.Context) (string, error) {
	out, err := Call(ctx, t.b, t.addr, ERC20ABI, "symbol")
	if err != nil {
		return "", err
	}
	return stringAt(out, 0)
}

// TransferFrom moves amount from an owner that approved the executor.
func (t *ERC20) TransferFrom(ctx context.Context, from, to common.Address, amount *big.Int) (*TxResult, error) {
	return Transact(ctx, t.b, t.addr, ERC20ABI, "transferFrom", from, to, amount)
}

// Approve lets spender move amount of the executor's balance.
func (t *ERC20) Approve(ctx context.Context, spender common.Address, amount *big.Int) (*TxResult, error) {
	return Transact(ctx, t.b, t.addr, ERC20ABI, "approve", spender, amount)
}
