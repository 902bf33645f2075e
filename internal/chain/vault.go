package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Vault binds a restake savings vault.
type Vault struct {
	b    Backend
	addr common.Address
}

// NewVault binds the vault at addr.
func NewVault(b Backend, addr common.Address) *Vault {
	return &Vault{b: b, addr: addr}
}

func (v *Vault) Address() common.Address { return v.addr }

func (v *Vault) readBig(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	out, err := Call(ctx, v.b, v.addr, VaultABI, method, args...)
	if err != nil {
		return nil, err
	}
	return bigAt(out, 0)
}

func (v *Vault) readAddress(ctx context.Context, method string) (common.Address, error) {
	out, err := Call(ctx, v.b, v.addr, VaultABI, method)
	if err != nil {
		return common.Address{}, err
	}
	return addressAt(out, 0)
}

func (v *Vault) readBool(ctx context.Context, method string) (bool, error) {
	out, err := Call(ctx, v.b, v.addr, VaultABI, method)
	if err != nil {
		return false, err
	}
	return boolAt(out, 0)
}

// WSTETH returns the vault's underlying asset.
func (v *Vault) WSTETH(ctx context.Context) (common.Address, error) {
	return v.readAddress(ctx, "WSTETH")
}

func (v *Vault) Owner(ctx context.Context) (common.Address, error) {
	return v.readAddress(ctx, "owner")
}

func (v *Vault) FeeRecipient(ctx context.Context) (common.Address, error) {
	return v.readAddress(ctx, "feeRecipient")
}

func (v *Vault) Name(ctx context.Context) (string, error) {
	out, err := Call(ctx, v.b, v.addr, VaultABI, "name")
	if err != nil {
		return "", err
	}
	return stringAt(out, 0)
}

func (v *Vault) FeeBps(ctx context.Context) (uint16, error) {
	out, err := Call(ctx, v.b, v.addr, VaultABI, "feeBps")
	if err != nil {
		return 0, err
	}
	return uint16At(out, 0)
}

func (v *Vault) UnlockTime(ctx context.Context) (uint64, error) {
	out, err := Call(ctx, v.b, v.addr, VaultABI, "unlockTime")
	if err != nil {
		return 0, err
	}
	return uint64At(out, 0)
}

func (v *Vault) WithdrawalsEnabled(ctx context.Context) (bool, error) {
	return v.readBool(ctx, "withdrawalsEnabled")
}

func (v *Vault) CanWithdraw(ctx context.Context) (bool, error) {
	return v.readBool(ctx, "canWithdraw")
}

func (v *Vault) GoalWstETH(ctx context.Context) (*big.Int, error) {
	return v.readBig(ctx, "goalWstETH")
}

func (v *Vault) TotalWstETHAssets(ctx context.Context) (*big.Int, error) {
	return v.readBig(ctx, "totalWstETHAssets")
}

func (v *Vault) UserShares(ctx context.Context, user common.Address) (*big.Int, error) {
	return v.readBig(ctx, "userShares", user)
}

func (v *Vault) UserPrincipal(ctx context.Context, user common.Address) (*big.Int, error) {
	return v.readBig(ctx, "userPrincipal", user)
}

func (v *Vault) CurrentAssetsOf(ctx context.Context, user common.Address) (*big.Int, error) {
	return v.readBig(ctx, "currentAssetsOf", user)
}

func (v *Vault) ProfitOf(ctx context.Context, user common.Address) (*big.Int, error) {
	return v.readBig(ctx, "profitOf", user)
}

// DepositWstETHFor deposits executor-held wstETH and credits onBehalfOf.
func (v *Vault) DepositWstETHFor(ctx context.Context, amount *big.Int, onBehalfOf common.Address) (*TxResult, error) {
	return Transact(ctx, v.b, v.addr, VaultABI, "depositWstETHFor", amount, onBehalfOf)
}

// SetRouterAllowed toggles a swap router on the vault. Only the owner or
// executor may call it.
func (v *Vault) SetRouterAllowed(ctx context.Context, router common.Address, allowed bool) (*TxResult, error) {
	return Transact(ctx, v.b, v.addr, VaultABI, "setRouterAllowed", router, allowed)
}

// PackWithdrawSplitToETH encodes a withdrawal the share holder signs
// themselves.
func PackWithdrawSplitToETH(shares *big.Int, router common.Address, swapCalldata []byte, minEthOut *big.Int) ([]byte, error) {
	return VaultABI.Pack("withdrawSplitToETH", shares, router, swapCalldata, minEthOut)
}
