package vaults

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"golang.org/x/sync/errgroup"

	"github.com/the-pines/frog/internal/chain"
	"github.com/the-pines/frog/internal/errors"
)

// Slippage bounds accepted on deposits.
const (
	DefaultSlippage = 0.005
	MaxSlippage     = 0.2
)

// DepositRequest converts USDC into a vault position for Owner.
type DepositRequest struct {
	Owner     common.Address
	USDCMinor *big.Int
	// Slippage is accepted for client compatibility; the fixed-rate
	// conversion does not use it.
	Slippage float64
}

// DepositResult reports the amounts moved and the two transactions that
// carry value.
type DepositResult struct {
	Pulled      *big.Int
	WstUsed     *big.Int
	PullHash    string
	DepositHash string
}

// Step is an unsigned transaction the client submits itself.
type Step struct {
	To          common.Address
	Data        string
	Value       string
	Description string
}

// WithdrawRequest redeems shares to ETH through a swap router.
type WithdrawRequest struct {
	SharesToRedeem *big.Int
	Router         common.Address
	SwapCalldata   []byte
	MinEthOutWei   *big.Int
}

// Deposit pulls USDC from the owner to the executor and deposits the
// equivalent wstETH, held by the executor, into the vault for the owner.
// Every precondition is checked before USDC moves. A failure after the pull
// leaves the USDC with the executor.
func (s *Service) Deposit(ctx context.Context, vaultAddr common.Address, req DepositRequest) (*DepositResult, error) {
	executor := s.backend.Executor()
	v := chain.NewVault(s.backend, vaultAddr)
	log := s.log.WithContext(ctx).WithFields(map[string]interface{}{
		"vault": vaultAddr.Hex(),
		"owner": req.Owner.Hex(),
		"usdc":  req.USDCMinor.String(),
	})

	asset, err := v.WSTETH(ctx)
	if err != nil {
		return nil, errors.BadGateway("read vault asset", err)
	}
	wst := chain.NewERC20(s.backend, asset)

	var (
		allowance, balance, executorWst, vaultAllowance *big.Int
		wstDecimals                                     uint8
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { allowance, err = s.usdc.Allowance(gctx, req.Owner, executor); return })
	g.Go(func() (err error) { balance, err = s.usdc.BalanceOf(gctx, req.Owner); return })
	g.Go(func() (err error) { wstDecimals, err = wst.Decimals(gctx); return })
	g.Go(func() (err error) { executorWst, err = wst.BalanceOf(gctx, executor); return })
	g.Go(func() (err error) { vaultAllowance, err = wst.Allowance(gctx, executor, vaultAddr); return })
	if err := g.Wait(); err != nil {
		return nil, errors.BadGateway("read deposit preconditions", err)
	}

	if allowance.Cmp(req.USDCMinor) < 0 {
		return nil, errors.PaymentRequired(errors.ReasonInsufficientUSDCAllowance).
			WithDetails("spender", executor.Hex())
	}
	if balance.Cmp(req.USDCMinor) < 0 {
		return nil, errors.PaymentRequired(errors.ReasonInsufficientUSDCBalance).
			WithDetails("needed", req.USDCMinor.String()).
			WithDetails("balance", balance.String()).
			WithDetails("token", s.usdc.Address().Hex())
	}

	wstQuoted := s.oracle.USDCMinorToWst(req.USDCMinor, wstDecimals)
	if wstQuoted.Sign() == 0 {
		return nil, errors.BadGateway(string(errors.ReasonZeroWstQuote), nil).
			WithReason(errors.ReasonZeroWstQuote)
	}
	if executorWst.Cmp(wstQuoted) < 0 {
		return nil, errors.PaymentRequired(errors.ReasonInsufficientExecutorWst).
			WithDetails("needed", wstQuoted.String()).
			WithDetails("balance", executorWst.String())
	}

	pull, err := s.usdc.TransferFrom(ctx, req.Owner, executor, req.USDCMinor)
	if err != nil {
		return nil, errors.BadGateway("USDC pull failed", err)
	}
	log = log.WithField("pullTx", pull.Hash.Hex())

	if vaultAllowance.Cmp(wstQuoted) < 0 {
		if err := s.approveVault(ctx, wst, vaultAddr, vaultAllowance); err != nil {
			log.WithError(err).Error("vault approval failed after USDC pull")
			return nil, errors.BadGateway(string(errors.ReasonApproveVaultFailed), err).
				WithReason(errors.ReasonApproveVaultFailed)
		}
	}

	dep, err := v.DepositWstETHFor(ctx, wstQuoted, req.Owner)
	if err != nil {
		log.WithError(err).Error("vault deposit failed after USDC pull")
		return nil, errors.BadGateway("vault deposit failed", err)
	}

	log.WithField("depositTx", dep.Hash.Hex()).WithField("wst", wstQuoted.String()).Info("vault deposit complete")
	return &DepositResult{
		Pulled:      new(big.Int).Set(req.USDCMinor),
		WstUsed:     wstQuoted,
		PullHash:    pull.Hash.Hex(),
		DepositHash: dep.Hash.Hex(),
	}, nil
}

// approveVault raises the executor's allowance toward the vault to the
// maximum. A non-zero allowance is reset to zero first, as some tokens
// reject changing one non-zero allowance to another.
func (s *Service) approveVault(ctx context.Context, token *chain.ERC20, vaultAddr common.Address, current *big.Int) error {
	if current.Sign() > 0 {
		if _, err := token.Approve(ctx, vaultAddr, new(big.Int)); err != nil {
			return err
		}
	}
	_, err := token.Approve(ctx, vaultAddr, new(big.Int).Set(math.MaxBig256))
	return err
}

// Withdraw builds the unsigned withdrawSplitToETH call for the share owner
// to submit.
func (s *Service) Withdraw(vaultAddr common.Address, req WithdrawRequest) ([]Step, error) {
	data, err := chain.PackWithdrawSplitToETH(req.SharesToRedeem, req.Router, req.SwapCalldata, req.MinEthOutWei)
	if err != nil {
		return nil, errors.BadRequest("Invalid withdraw parameters")
	}
	return []Step{{
		To:          vaultAddr,
		Data:        hexutil.Encode(data),
		Value:       "0x0",
		Description: "Withdraw to ETH via router",
	}}, nil
}
