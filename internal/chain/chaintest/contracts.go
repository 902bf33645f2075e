package chaintest

import (
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/the-pines/frog/internal/chain"
)

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// Token is an in-memory ERC20 whose transferFrom is spent by the executor.
type Token struct {
	mu         sync.Mutex
	b          *Backend
	Address    common.Address
	Symbol     string
	Decimals   uint8
	balances   map[common.Address]*big.Int
	allowances map[[2]common.Address]*big.Int
}

// InstallToken registers ERC20 stubs at addr.
func (b *Backend) InstallToken(addr common.Address, symbol string, decimals uint8) *Token {
	t := &Token{
		b:          b,
		Address:    addr,
		Symbol:     symbol,
		Decimals:   decimals,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[[2]common.Address]*big.Int),
	}

	b.OnRead(addr, "symbol", func([]interface{}) ([]interface{}, error) { return []interface{}{t.Symbol}, nil })
	b.OnRead(addr, "name", func([]interface{}) ([]interface{}, error) { return []interface{}{t.Symbol}, nil })
	b.OnRead(addr, "decimals", func([]interface{}) ([]interface{}, error) { return []interface{}{t.Decimals}, nil })
	b.OnRead(addr, "balanceOf", func(args []interface{}) ([]interface{}, error) {
		return []interface{}{t.Balance(args[0].(common.Address))}, nil
	})
	b.OnRead(addr, "allowance", func(args []interface{}) ([]interface{}, error) {
		return []interface{}{t.Allowance(args[0].(common.Address), args[1].(common.Address))}, nil
	})
	b.OnWrite(addr, "transferFrom", func(args []interface{}) ([]*types.Log, error) {
		from, to, amount := args[0].(common.Address), args[1].(common.Address), args[2].(*big.Int)
		if err := t.spend(from, b.executor, amount); err != nil {
			return nil, err
		}
		t.move(from, to, amount)
		return nil, nil
	})
	b.OnWrite(addr, "approve", func(args []interface{}) ([]*types.Log, error) {
		t.SetAllowance(b.executor, args[0].(common.Address), args[1].(*big.Int))
		return nil, nil
	})
	return t
}

func (t *Token) SetBalance(owner common.Address, amount *big.Int) {
	t.mu.Lock()
	t.balances[owner] = copyBig(amount)
	t.mu.Unlock()
}

func (t *Token) Balance(owner common.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return copyBig(t.balances[owner])
}

func (t *Token) SetAllowance(owner, spender common.Address, amount *big.Int) {
	t.mu.Lock()
	t.allowances[[2]common.Address{owner, spender}] = copyBig(amount)
	t.mu.Unlock()
}

func (t *Token) Allowance(owner, spender common.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return copyBig(t.allowances[[2]common.Address{owner, spender}])
}

// spend consumes allowance owner->spender, reverting when allowance or
// balance is short.
func (t *Token) spend(owner, spender common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := [2]common.Address{owner, spender}
	allowance := copyBig(t.allowances[k])
	if allowance.Cmp(amount) < 0 || copyBig(t.balances[owner]).Cmp(amount) < 0 {
		return ErrRevert
	}
	t.allowances[k] = allowance.Sub(allowance, amount)
	return nil
}

func (t *Token) move(from, to common.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[from] = new(big.Int).Sub(copyBig(t.balances[from]), amount)
	t.balances[to] = new(big.Int).Add(copyBig(t.balances[to]), amount)
}

// Vault is an in-memory restake vault over a wstETH Token.
type Vault struct {
	mu                 sync.Mutex
	Address            common.Address
	Asset              *Token
	Name               string
	Owner              common.Address
	FeeRecipient       common.Address
	FeeBps             uint16
	UnlockTime         uint64
	WithdrawalsEnabled bool
	Goal               *big.Int
	shares             map[common.Address]*big.Int
	total              *big.Int
}

// InstallVault registers vault stubs at addr backed by asset.
func (b *Backend) InstallVault(addr common.Address, asset *Token, name string, goal *big.Int) *Vault {
	v := &Vault{
		Address:            addr,
		Asset:              asset,
		Name:               name,
		Goal:               copyBig(goal),
		WithdrawalsEnabled: true,
		shares:             make(map[common.Address]*big.Int),
		total:              new(big.Int),
	}

	one := func(fn func() interface{}) ReadFunc {
		return func([]interface{}) ([]interface{}, error) {
			v.mu.Lock()
			defer v.mu.Unlock()
			return []interface{}{fn()}, nil
		}
	}
	byUser := func(args []interface{}) ([]interface{}, error) {
		v.mu.Lock()
		defer v.mu.Unlock()
		return []interface{}{copyBig(v.shares[args[0].(common.Address)])}, nil
	}

	b.OnRead(addr, "WSTETH", one(func() interface{} { return asset.Address }))
	b.OnRead(addr, "name", one(func() interface{} { return v.Name }))
	b.OnRead(addr, "owner", one(func() interface{} { return v.Owner }))
	b.OnRead(addr, "feeRecipient", one(func() interface{} { return v.FeeRecipient }))
	b.OnRead(addr, "feeBps", one(func() interface{} { return v.FeeBps }))
	b.OnRead(addr, "unlockTime", one(func() interface{} { return v.UnlockTime }))
	b.OnRead(addr, "withdrawalsEnabled", one(func() interface{} { return v.WithdrawalsEnabled }))
	b.OnRead(addr, "canWithdraw", one(func() interface{} { return v.WithdrawalsEnabled }))
	b.OnRead(addr, "goalWstETH", one(func() interface{} { return copyBig(v.Goal) }))
	b.OnRead(addr, "totalWstETHAssets", one(func() interface{} { return copyBig(v.total) }))
	b.OnRead(addr, "userShares", byUser)
	b.OnRead(addr, "userPrincipal", byUser)
	b.OnRead(addr, "currentAssetsOf", byUser)
	b.OnRead(addr, "profitOf", func([]interface{}) ([]interface{}, error) { return []interface{}{new(big.Int)}, nil })

	b.OnWrite(addr, "depositWstETHFor", func(args []interface{}) ([]*types.Log, error) {
		amount, onBehalf := args[0].(*big.Int), args[1].(common.Address)
		if err := asset.spend(b.executor, addr, amount); err != nil {
			return nil, err
		}
		asset.move(b.executor, addr, amount)
		v.mu.Lock()
		v.shares[onBehalf] = new(big.Int).Add(copyBig(v.shares[onBehalf]), amount)
		v.total.Add(v.total, amount)
		v.mu.Unlock()
		return nil, nil
	})
	return v
}

// Shares returns the shares credited to user.
func (v *Vault) Shares(user common.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return copyBig(v.shares[user])
}

// Factory is an in-memory vault factory that emits VaultCreated.
type Factory struct {
	mu      sync.Mutex
	Address common.Address
	Created []common.Address
}

// InstallFactory registers createVault at addr. Each call derives a fresh
// vault address and, when asset is non-nil, installs a vault stub there.
func (b *Backend) InstallFactory(addr common.Address, asset *Token) *Factory {
	f := &Factory{Address: addr}
	event := chain.FactoryABI.Events["VaultCreated"]

	b.OnWrite(addr, "createVault", func(args []interface{}) ([]*types.Log, error) {
		owner, executor := args[0].(common.Address), args[1].(common.Address)
		unlock, goal, name := args[2].(uint64), args[3].(*big.Int), args[4].(string)

		f.mu.Lock()
		vaultAddr := common.BigToAddress(big.NewInt(int64(0xa000 + len(f.Created) + 1)))
		f.Created = append(f.Created, vaultAddr)
		f.mu.Unlock()

		if asset != nil {
			v := b.InstallVault(vaultAddr, asset, name, goal)
			v.Owner = owner
			v.FeeRecipient = executor
			v.UnlockTime = unlock
		}

		data, err := event.Inputs.NonIndexed().Pack(name)
		if err != nil {
			return nil, err
		}
		return []*types.Log{{
			Address: addr,
			Topics: []common.Hash{
				event.ID,
				common.BytesToHash(owner.Bytes()),
				common.BytesToHash(vaultAddr.Bytes()),
			},
			Data: data,
		}}, nil
	})
	return f
}

// Leaderboard is an in-memory points leaderboard.
type Leaderboard struct {
	mu     sync.Mutex
	Points *Token
	TopK   int
	minted map[common.Address]*big.Int
	order  []common.Address
}

// InstallLeaderboard registers leaderboard stubs at addr. Mints credit
// points on the Points token.
func (b *Backend) InstallLeaderboard(addr common.Address, points *Token, topK int) *Leaderboard {
	l := &Leaderboard{Points: points, TopK: topK, minted: make(map[common.Address]*big.Int)}

	b.OnRead(addr, "TOPK", func([]interface{}) ([]interface{}, error) {
		return []interface{}{big.NewInt(int64(l.TopK))}, nil
	})
	b.OnRead(addr, "topAt", func(args []interface{}) ([]interface{}, error) {
		i := int(args[0].(*big.Int).Int64())
		l.mu.Lock()
		defer l.mu.Unlock()
		if i >= len(l.order) || i >= l.TopK {
			return []interface{}{common.Address{}, new(big.Int)}, nil
		}
		ranked := append([]common.Address(nil), l.order...)
		sort.SliceStable(ranked, func(a, b int) bool {
			return l.minted[ranked[a]].Cmp(l.minted[ranked[b]]) > 0
		})
		u := ranked[i]
		return []interface{}{u, copyBig(l.minted[u])}, nil
	})
	b.OnWrite(addr, "mint", func(args []interface{}) ([]*types.Log, error) {
		to, amount := args[0].(common.Address), args[1].(*big.Int)
		l.mu.Lock()
		if _, ok := l.minted[to]; !ok {
			l.order = append(l.order, to)
		}
		l.minted[to] = new(big.Int).Add(copyBig(l.minted[to]), amount)
		l.mu.Unlock()
		if points != nil {
			points.SetBalance(to, new(big.Int).Add(points.Balance(to), amount))
		}
		return nil, nil
	})
	return l
}

// Minted returns the total minted to user.
func (l *Leaderboard) Minted(user common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return copyBig(l.minted[user])
}
