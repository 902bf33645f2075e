// Package points awards loyalty points for settled spend and reads the
// on-chain leaderboard.
package points

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/the-pines/frog/internal/chain"
	"github.com/the-pines/frog/internal/errors"
	"github.com/the-pines/frog/internal/pricing"
	"github.com/the-pines/frog/pkg/logger"
)

// Symbol is the display symbol of the points token.
const Symbol = "points"

// Leaderboard limits.
const (
	DefaultLimit = 10
	MaxLimit     = 10
)

// Entry is one ranked account.
type Entry struct {
	Address common.Address
	Points  *big.Int
}

// Summary is an account's balance plus the top of the leaderboard.
type Summary struct {
	Symbol      string
	Decimals    uint8
	Balance     *big.Int
	Leaderboard []Entry
}

// Service reads and mints points.
type Service struct {
	token  *chain.PointsToken
	board  *chain.Leaderboard
	oracle *pricing.Oracle
	log    *logger.Logger
}

// New constructs the points service for the token and leaderboard at the
// given addresses.
func New(backend chain.Backend, token, leaderboard common.Address, oracle *pricing.Oracle, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("points")
	}
	return &Service{
		token:  chain.NewPointsToken(backend, token),
		board:  chain.NewLeaderboard(backend, leaderboard),
		oracle: oracle,
		log:    log,
	}
}

// Award mints points for usdcMinor of settled spend. Amounts that round to
// zero points mint nothing.
func (s *Service) Award(ctx context.Context, to common.Address, usdcMinor *big.Int) error {
	dec, err := s.token.Decimals(ctx)
	if err != nil {
		return fmt.Errorf("points decimals: %w", err)
	}
	amount := s.oracle.PointsForUSDCMinor(usdcMinor, dec)
	if amount.Sign() <= 0 {
		return nil
	}
	res, err := s.board.Mint(ctx, to, amount)
	if err != nil {
		return fmt.Errorf("mint points: %w", err)
	}
	s.log.WithFields(map[string]interface{}{
		"to":     to.Hex(),
		"points": amount.String(),
		"tx":     res.Hash.Hex(),
	}).Info("points awarded")
	return nil
}

// ClampLimit bounds a requested leaderboard size.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

// Summary reads owner's balance and up to limit leaderboard entries. The
// balance is required; a failing leaderboard yields an empty list.
func (s *Service) Summary(ctx context.Context, owner common.Address, limit int) (*Summary, error) {
	limit = ClampLimit(limit)

	var (
		dec     uint8
		balance *big.Int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		dec, err = s.token.Decimals(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		balance, err = s.token.BalanceOf(gctx, owner)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, errors.BadGateway("read points balance", err)
	}

	board, err := s.top(ctx, limit)
	if err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("leaderboard unavailable")
		board = []Entry{}
	}

	return &Summary{Symbol: Symbol, Decimals: dec, Balance: balance, Leaderboard: board}, nil
}

func (s *Service) top(ctx context.Context, limit int) ([]Entry, error) {
	k, err := s.board.TopK(ctx)
	if err != nil {
		return nil, err
	}
	n := limit
	if k.IsInt64() && k.Int64() < int64(n) {
		n = int(k.Int64())
	}
	if n <= 0 {
		return []Entry{}, nil
	}

	ranked := make([]Entry, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			addr, pts, err := s.board.TopAt(gctx, i)
			if err != nil {
				return err
			}
			ranked[i] = Entry{Address: addr, Points: pts}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Entry, 0, n)
	for _, e := range ranked {
		if e.Address == (common.Address{}) || e.Points == nil || e.Points.Sign() == 0 {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
