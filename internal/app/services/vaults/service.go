// Package vaults creates, registers and reads savings vaults and deposits
// into them on a user's behalf.
package vaults

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/the-pines/frog/internal/app/domain/user"
	"github.com/the-pines/frog/internal/app/domain/vault"
	"github.com/the-pines/frog/internal/app/storage"
	"github.com/the-pines/frog/internal/chain"
	"github.com/the-pines/frog/internal/errors"
	"github.com/the-pines/frog/internal/pricing"
	"github.com/the-pines/frog/pkg/logger"
)

// Placeholder token metadata for vaults whose reads fail.
const (
	DefaultTokenSymbol   = "WSTETH"
	DefaultTokenDecimals = 18
	DefaultVaultName     = "Vault"
)

// listConcurrency bounds per-vault fan-out in List.
const listConcurrency = 8

// Config names the contracts the vault flows touch.
type Config struct {
	USDC         common.Address
	VaultFactory common.Address
	Router       common.Address
	// Hidden reports vaults omitted from listings.
	Hidden func(common.Address) bool
}

// Token describes a vault's underlying asset.
type Token struct {
	Symbol   string
	Decimals uint8
}

// Summary is one entry of a user's vault list.
type Summary struct {
	Address         common.Address
	Name            string
	Goal            *big.Int
	Total           *big.Int
	Token           Token
	ProgressPercent float64
	TotalUSD        string
}

// Position is a user's stake in a vault.
type Position struct {
	Address   common.Address
	Shares    *big.Int
	Principal *big.Int
	Assets    *big.Int
	Profit    *big.Int
}

// Detail is the full on-chain state of a vault.
type Detail struct {
	Owner              common.Address
	FeeRecipient       common.Address
	FeeBps             uint16
	UnlockTime         uint64
	WithdrawalsEnabled bool
	CanWithdraw        bool
	WSTETH             common.Address
	Name               string
	Token              Token
	Goal               *big.Int
	Total              *big.Int
	User               *Position
}

// CreateRequest deploys a vault through the factory.
type CreateRequest struct {
	Owner   common.Address
	GoalWei *big.Int
	Name    string
}

// CreateResult is a deployed vault.
type CreateResult struct {
	Vault  common.Address
	TxHash string
}

// AttachRequest registers an existing vault for a user.
type AttachRequest struct {
	Owner   common.Address
	Address common.Address
	Name    string
}

// Service implements the vault flows.
type Service struct {
	users   storage.UserStore
	vaults  storage.VaultStore
	backend chain.Backend
	usdc    *chain.ERC20
	factory *chain.VaultFactory
	router  common.Address
	hidden  func(common.Address) bool
	oracle  *pricing.Oracle
	log     *logger.Logger
	now     func() time.Time
}

// New constructs the vault service.
func New(users storage.UserStore, vaults storage.VaultStore, backend chain.Backend, oracle *pricing.Oracle, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("vaults")
	}
	hidden := cfg.Hidden
	if hidden == nil {
		hidden = func(common.Address) bool { return false }
	}
	return &Service{
		users:   users,
		vaults:  vaults,
		backend: backend,
		usdc:    chain.NewERC20(backend, cfg.USDC),
		factory: chain.NewVaultFactory(backend, cfg.VaultFactory),
		router:  cfg.Router,
		hidden:  hidden,
		oracle:  oracle,
		log:     log,
		now:     time.Now,
	}
}

// List returns the vaults registered to owner, newest first. A vault whose
// reads fail is listed with placeholder values.
func (s *Service) List(ctx context.Context, owner common.Address) ([]Summary, error) {
	usr, err := s.users.GetUserByAddress(ctx, owner.Hex())
	if stderrors.Is(err, storage.ErrNotFound) {
		return []Summary{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	stored, err := s.vaults.ListVaultsByUser(ctx, usr.ID)
	if err != nil {
		return nil, fmt.Errorf("list vaults: %w", err)
	}

	visible := make([]common.Address, 0, len(stored))
	for _, v := range stored {
		addr := common.HexToAddress(v.Address)
		if s.hidden(addr) {
			continue
		}
		visible = append(visible, addr)
	}

	out := make([]Summary, len(visible))
	var g errgroup.Group
	g.SetLimit(listConcurrency)
	for i, addr := range visible {
		i, addr := i, addr
		g.Go(func() error {
			sum, err := s.summary(ctx, addr)
			if err != nil {
				s.log.WithContext(ctx).WithError(err).WithField("vault", addr.Hex()).Warn("vault read failed")
				sum = placeholder(addr)
			}
			out[i] = sum
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

func (s *Service) summary(ctx context.Context, addr common.Address) (Summary, error) {
	v := chain.NewVault(s.backend, addr)

	var (
		asset       common.Address
		goal, total *big.Int
		name        string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { asset, err = v.WSTETH(gctx); return })
	g.Go(func() (err error) { goal, err = v.GoalWstETH(gctx); return })
	g.Go(func() (err error) { total, err = v.TotalWstETHAssets(gctx); return })
	g.Go(func() (err error) { name, err = v.Name(gctx); return })
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	token, err := s.token(ctx, asset)
	if err != nil {
		return Summary{}, err
	}

	return Summary{
		Address:         addr,
		Name:            name,
		Goal:            goal,
		Total:           total,
		Token:           token,
		ProgressPercent: ProgressPercent(total, goal),
		TotalUSD:        pricing.FormatUSD(s.oracle.WstToUSDCMinor(total, token.Decimals)),
	}, nil
}

func placeholder(addr common.Address) Summary {
	return Summary{
		Address:  addr,
		Name:     DefaultVaultName,
		Goal:     new(big.Int),
		Total:    new(big.Int),
		Token:    Token{Symbol: DefaultTokenSymbol, Decimals: DefaultTokenDecimals},
		TotalUSD: pricing.FormatUSD(new(big.Int)),
	}
}

// ProgressPercent is total/goal as a percentage rounded to two places,
// clamped to [0, 100]. A zero goal has no progress.
func ProgressPercent(total, goal *big.Int) float64 {
	if goal == nil || goal.Sign() <= 0 || total == nil || total.Sign() <= 0 {
		return 0
	}
	pct := decimal.NewFromBigInt(total, 0).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromBigInt(goal, 0), 2)
	if pct.GreaterThan(decimal.NewFromInt(100)) {
		return 100
	}
	f, _ := pct.Float64()
	return f
}

func (s *Service) token(ctx context.Context, asset common.Address) (Token, error) {
	erc20 := chain.NewERC20(s.backend, asset)
	var t Token
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { t.Symbol, err = erc20.Symbol(gctx); return })
	g.Go(func() (err error) { t.Decimals, err = erc20.Decimals(gctx); return })
	if err := g.Wait(); err != nil {
		return Token{}, err
	}
	return t, nil
}

// Get reads the full state of the vault at addr. When owner is non-nil the
// owner's position is included.
func (s *Service) Get(ctx context.Context, addr common.Address, owner *common.Address) (*Detail, error) {
	v := chain.NewVault(s.backend, addr)
	d := &Detail{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { d.Owner, err = v.Owner(gctx); return })
	g.Go(func() (err error) { d.FeeRecipient, err = v.FeeRecipient(gctx); return })
	g.Go(func() (err error) { d.FeeBps, err = v.FeeBps(gctx); return })
	g.Go(func() (err error) { d.UnlockTime, err = v.UnlockTime(gctx); return })
	g.Go(func() (err error) { d.WithdrawalsEnabled, err = v.WithdrawalsEnabled(gctx); return })
	g.Go(func() (err error) { d.CanWithdraw, err = v.CanWithdraw(gctx); return })
	g.Go(func() (err error) { d.WSTETH, err = v.WSTETH(gctx); return })
	g.Go(func() (err error) { d.Name, err = v.Name(gctx); return })
	g.Go(func() (err error) { d.Goal, err = v.GoalWstETH(gctx); return })
	g.Go(func() (err error) { d.Total, err = v.TotalWstETHAssets(gctx); return })
	if owner != nil {
		p := &Position{Address: *owner}
		d.User = p
		g.Go(func() (err error) { p.Shares, err = v.UserShares(gctx, *owner); return })
		g.Go(func() (err error) { p.Principal, err = v.UserPrincipal(gctx, *owner); return })
		g.Go(func() (err error) { p.Assets, err = v.CurrentAssetsOf(gctx, *owner); return })
		g.Go(func() (err error) { p.Profit, err = v.ProfitOf(gctx, *owner); return })
	}
	if err := g.Wait(); err != nil {
		return nil, errors.BadGateway("read vault", err)
	}

	token, err := s.token(ctx, d.WSTETH)
	if err != nil {
		return nil, errors.BadGateway("read vault token", err)
	}
	d.Token = token
	return d, nil
}

// Create deploys a vault owned by req.Owner with the executor as fee
// recipient and registers it. The owner is provisioned on first use.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if s.factory.Address() == (common.Address{}) {
		return nil, errors.Internal("Factory address not configured", nil)
	}

	usr, err := s.users.EnsureUser(ctx, user.User{
		Name:     user.DefaultName,
		Address:  req.Owner.Hex(),
		Provider: user.ProviderWallet,
	})
	if err != nil {
		return nil, fmt.Errorf("provision user: %w", err)
	}

	log := s.log.WithContext(ctx).WithField("owner", req.Owner.Hex())

	unlock := uint64(s.now().Unix())
	res, err := s.factory.CreateVault(ctx, req.Owner, s.backend.Executor(), unlock, req.GoalWei, req.Name)
	if err != nil {
		return nil, errors.BadGateway("createVault failed", err)
	}
	addr, err := s.factory.CreatedVault(res.Receipt)
	if err != nil {
		return nil, errors.Internal("vault address missing from receipt", err)
	}
	log = log.WithField("vault", addr.Hex())

	if s.router != (common.Address{}) {
		if _, err := chain.NewVault(s.backend, addr).SetRouterAllowed(ctx, s.router, true); err != nil {
			log.WithError(err).Warn("setRouterAllowed failed, continuing")
		}
	}

	token := Token{Symbol: DefaultTokenSymbol, Decimals: DefaultTokenDecimals}
	if asset, err := chain.NewVault(s.backend, addr).WSTETH(ctx); err == nil {
		if t, err := s.token(ctx, asset); err == nil {
			token = t
		}
	}

	if _, err := s.vaults.CreateVault(ctx, vault.Vault{
		UserID:        usr.ID,
		Address:       strings.ToLower(addr.Hex()),
		Name:          req.Name,
		Goal:          req.GoalWei,
		Collaborators: []string{},
		TokenSymbol:   token.Symbol,
		TokenDecimals: token.Decimals,
		ChainID:       s.backend.ChainID().Int64(),
	}); err != nil {
		log.WithError(err).Error("vault deployed but not registered")
		return nil, fmt.Errorf("register vault: %w", err)
	}

	log.WithField("tx", res.Hash.Hex()).Info("vault created")
	return &CreateResult{Vault: addr, TxHash: res.Hash.Hex()}, nil
}

// Attach registers an already deployed vault for an existing user. The
// stored goal is zero; the on-chain goal is read on demand.
func (s *Service) Attach(ctx context.Context, req AttachRequest) error {
	usr, err := s.users.GetUserByAddress(ctx, req.Owner.Hex())
	if stderrors.Is(err, storage.ErrNotFound) {
		return errors.NotFound("User not found")
	}
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}

	v := chain.NewVault(s.backend, req.Address)
	var (
		asset common.Address
		name  string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { asset, err = v.WSTETH(gctx); return })
	g.Go(func() (err error) { name, err = v.Name(gctx); return })
	if err := g.Wait(); err != nil {
		return errors.BadGateway("read vault", err)
	}
	token, err := s.token(ctx, asset)
	if err != nil {
		return errors.BadGateway("read vault token", err)
	}
	if name == "" {
		name = req.Name
	}

	_, err = s.vaults.CreateVault(ctx, vault.Vault{
		UserID:        usr.ID,
		Address:       strings.ToLower(req.Address.Hex()),
		Name:          name,
		Goal:          new(big.Int),
		Collaborators: []string{},
		TokenSymbol:   token.Symbol,
		TokenDecimals: token.Decimals,
		ChainID:       s.backend.ChainID().Int64(),
	})
	if stderrors.Is(err, storage.ErrConflict) {
		return errors.Conflict("Vault already registered")
	}
	if err != nil {
		return fmt.Errorf("register vault: %w", err)
	}
	return nil
}
