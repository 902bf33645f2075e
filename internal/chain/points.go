package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PointsToken binds the non-transferable points token.
type PointsToken struct {
	b    Backend
	addr common.Address
}

func NewPointsToken(b Backend, addr common.Address) *PointsToken {
	return &PointsToken{b: b, addr: addr}
}

func (p *PointsToken) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	out, err := Call(ctx, p.b, p.addr, PointsABI, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return bigAt(out, 0)
}

func (p *PointsToken) Decimals(ctx context.Context) (uint8, error) {
	out, err := Call(ctx, p.b, p.addr, PointsABI, "decimals")
	if err != nil {
		return 0, err
	}
	return uint8At(out, 0)
}

// Leaderboard binds the admin-minter leaderboard, which mints points and
// keeps a sorted top-K.
type Leaderboard struct {
	b    Backend
	addr common.Address
}

func NewLeaderboard(b Backend, addr common.Address) *Leaderboard {
	return &Leaderboard{b: b, addr: addr}
}

// TopK returns the capacity of the ranking.
func (l *Leaderboard) TopK(ctx context.Context) (*big.Int, error) {
	out, err := Call(ctx, l.b, l.addr, LeaderboardABI, "TOPK")
	if err != nil {
		return nil, err
	}
	return bigAt(out, 0)
}

// TopAt returns the entry at rank i. Unused ranks hold the zero address.
func (l *Leaderboard) TopAt(ctx context.Context, i int) (common.Address, *big.Int, error) {
	out, err := Call(ctx, l.b, l.addr, LeaderboardABI, "topAt", big.NewInt(int64(i)))
	if err != nil {
		return common.Address{}, nil, err
	}
	user, err := addressAt(out, 0)
	if err != nil {
		return common.Address{}, nil, err
	}
	pts, err := bigAt(out, 1)
	if err != nil {
		return common.Address{}, nil, err
	}
	return user, pts, nil
}

// Mint credits amount points to to.
func (l *Leaderboard) Mint(ctx context.Context, to common.Address, amount *big.Int) (*TxResult, error) {
	return Transact(ctx, l.b, l.addr, LeaderboardABI, "mint", to, amount)
}
