// Package payments authorizes card spend against on-chain USDC and settles
// approved payments to the treasury.
package payments

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/the-pines/frog/internal/app/domain/payment"
	"github.com/the-pines/frog/internal/app/metrics"
	"github.com/the-pines/frog/internal/app/storage"
	"github.com/the-pines/frog/internal/chain"
	"github.com/the-pines/frog/internal/errors"
	"github.com/the-pines/frog/internal/issuing"
	"github.com/the-pines/frog/internal/pricing"
	"github.com/the-pines/frog/pkg/logger"
)

// USDCSymbol labels settled executions and transfers.
const USDCSymbol = "USDC"

// Enqueuer schedules a payment for settlement. Enqueueing the same payment
// twice is a no-op.
type Enqueuer interface {
	Enqueue(ctx context.Context, paymentID string) error
}

// Awarder credits loyalty points for settled spend.
type Awarder interface {
	Award(ctx context.Context, to common.Address, usdcMinor *big.Int) error
}

// Config names the contracts payments settle through.
type Config struct {
	USDC     common.Address
	Treasury common.Address
}

// Decision is the approve/decline answer returned to the card network.
type Decision struct {
	Approved bool
	Reason   errors.Reason
}

// ExecuteResult is a confirmed settlement.
type ExecuteResult struct {
	TxHash    string
	USDCMinor *big.Int
}

// Service implements authorization and settlement.
type Service struct {
	users    storage.UserStore
	cards    storage.CardStore
	payments storage.PaymentStore
	backend  chain.Backend
	usdc     *chain.ERC20
	treasury common.Address
	oracle   *pricing.Oracle
	queue    Enqueuer
	points   Awarder
	log      *logger.Logger
}

// New constructs the payments service.
func New(users storage.UserStore, cards storage.CardStore, payments storage.PaymentStore, backend chain.Backend, oracle *pricing.Oracle, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("payments")
	}
	return &Service{
		users:    users,
		cards:    cards,
		payments: payments,
		backend:  backend,
		usdc:     chain.NewERC20(backend, cfg.USDC),
		treasury: cfg.Treasury,
		oracle:   oracle,
		log:      log,
	}
}

// SetQueue attaches the settlement queue used for approved payments.
func (s *Service) SetQueue(q Enqueuer) { s.queue = q }

// SetAwarder attaches the points awarder. Without one no points are minted.
func (s *Service) SetAwarder(a Awarder) { s.points = a }

// Authorize decides an issuing_authorization.request. Missing cards, users
// and insufficient funds are declines, not errors; errors are reserved for
// failed reads, which the card network treats as a decline too.
func (s *Service) Authorize(ctx context.Context, auth *issuing.Authorization) (Decision, error) {
	decision, err := s.authorize(ctx, auth)
	if err != nil {
		metrics.RecordAuthorization(false, "error")
		return Decision{}, err
	}
	metrics.RecordAuthorization(decision.Approved, string(decision.Reason))
	return decision, nil
}

func (s *Service) authorize(ctx context.Context, auth *issuing.Authorization) (Decision, error) {
	log := s.log.WithContext(ctx).WithField("authorization", auth.ID)

	crd, err := s.cards.GetCardByStripeID(ctx, auth.CardID)
	if stderrors.Is(err, storage.ErrNotFound) {
		log.Info("declined: card not found")
		return Decision{Reason: errors.ReasonCardNotFound}, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("lookup card: %w", err)
	}

	usr, err := s.users.GetUser(ctx, crd.UserID)
	if stderrors.Is(err, storage.ErrNotFound) {
		log.Info("declined: user not found")
		return Decision{Reason: errors.ReasonUserNotFound}, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("lookup user: %w", err)
	}

	pending := auth.PendingRequest
	if pending == nil {
		return Decision{Reason: errors.ReasonPendingRequestNotFound}, nil
	}

	if _, _, err := s.payments.CreatePayment(ctx, payment.Payment{
		ExternalID:       auth.ID,
		CardID:           crd.ID,
		Amount:           pending.Amount,
		Currency:         pending.Currency,
		MerchantName:     auth.MerchantName,
		MerchantAmount:   pending.MerchantAmount,
		MerchantCurrency: pending.MerchantCurrency,
		Status:           payment.StatusStarted,
	}); err != nil {
		return Decision{}, fmt.Errorf("record payment: %w", err)
	}

	quote := s.oracle.GBPMinorToUSDCMinor(big.NewInt(pending.Amount))
	allowance, balance, err := s.funding(ctx, common.HexToAddress(usr.Address))
	if err != nil {
		return Decision{}, err
	}

	if reason, short := shortfall(allowance, balance, quote.USDCMinor); short {
		log.WithField("reason", reason).WithField("needed", quote.USDCMinor.String()).Info("declined")
		return Decision{Reason: reason}, nil
	}
	return Decision{Approved: true}, nil
}

// RecordAuthorization applies an issuing_authorization.created event. The
// payment row is created from the event when the request webhook never
// stored it. Approved payments are queued for settlement. Events for cards
// that are not linked to a user are acknowledged and return a zero Payment.
func (s *Service) RecordAuthorization(ctx context.Context, auth *issuing.Authorization) (payment.Payment, error) {
	status := payment.StatusCancelled
	if auth.Approved {
		status = payment.StatusCompleted
	}

	p, err := s.payments.GetPaymentByExternalID(ctx, auth.ID)
	switch {
	case stderrors.Is(err, storage.ErrNotFound):
		crd, cerr := s.cards.GetCardByStripeID(ctx, auth.CardID)
		if stderrors.Is(cerr, storage.ErrNotFound) {
			// follows every card_not_found decline; there is nothing to record
			entry := s.log.WithContext(ctx).WithFields(map[string]interface{}{
				"authorization": auth.ID,
				"card":          auth.CardID,
				"approved":      auth.Approved,
			})
			if auth.Approved {
				entry.Error("approved authorization for unlinked card ignored")
			} else {
				entry.Info("authorization for unlinked card ignored")
			}
			return payment.Payment{}, nil
		}
		if cerr != nil {
			return payment.Payment{}, fmt.Errorf("create payment from event: lookup card %s: %w", auth.CardID, cerr)
		}
		p, _, err = s.payments.CreatePayment(ctx, payment.Payment{
			ExternalID:       auth.ID,
			CardID:           crd.ID,
			Amount:           auth.Amount,
			Currency:         auth.Currency,
			MerchantName:     auth.MerchantName,
			MerchantAmount:   auth.MerchantAmount,
			MerchantCurrency: auth.MerchantCurrency,
			Status:           status,
		})
		if err != nil {
			return payment.Payment{}, fmt.Errorf("create payment from event: %w", err)
		}
	case err != nil:
		return payment.Payment{}, fmt.Errorf("lookup payment: %w", err)
	}

	p.Status = status
	p.Amount = auth.Amount
	p.Currency = auth.Currency
	p.MerchantAmount = auth.MerchantAmount
	p.MerchantCurrency = auth.MerchantCurrency
	if p, err = s.payments.UpdatePayment(ctx, p); err != nil {
		return payment.Payment{}, fmt.Errorf("update payment: %w", err)
	}

	if auth.Approved && s.queue != nil {
		if err := s.queue.Enqueue(ctx, p.ID); err != nil {
			return p, fmt.Errorf("enqueue settlement: %w", err)
		}
	}
	return p, nil
}

// Execute settles a payment by moving USDC from the card owner to the
// treasury. The execution claim guarantees at most one transfer per payment
// even under concurrent calls.
func (s *Service) Execute(ctx context.Context, paymentID string) (*ExecuteResult, error) {
	if _, err := uuid.Parse(paymentID); err != nil {
		return nil, errors.InvalidFormat("paymentId", "must be a UUID")
	}

	p, err := s.payments.GetPayment(ctx, paymentID)
	if stderrors.Is(err, storage.ErrNotFound) {
		return nil, errors.NotFound("No completed payment for card")
	}
	if err != nil {
		return nil, fmt.Errorf("lookup payment: %w", err)
	}
	if p.Status == payment.StatusCancelled {
		return nil, errors.Conflict("Payment not approved")
	}

	existing, err := s.payments.GetExecutionByPayment(ctx, p.ID)
	switch {
	case err == nil:
		return nil, executionConflict(existing)
	case !stderrors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("lookup execution: %w", err)
	}

	crd, err := s.cards.GetCard(ctx, p.CardID)
	if stderrors.Is(err, storage.ErrNotFound) {
		return nil, errors.NotFound("Card not found")
	}
	if err != nil {
		return nil, fmt.Errorf("lookup card: %w", err)
	}
	usr, err := s.users.GetUser(ctx, crd.UserID)
	if stderrors.Is(err, storage.ErrNotFound) {
		return nil, errors.NotFound("User not found")
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	owner := common.HexToAddress(usr.Address)
	quote := s.oracle.GBPMinorToUSDCMinor(big.NewInt(p.Amount))
	needed := quote.USDCMinor

	allowance, balance, err := s.funding(ctx, owner)
	if err != nil {
		return nil, err
	}
	if reason, short := shortfall(allowance, balance, needed); short {
		return nil, errors.PaymentRequired(reason).
			WithDetails("needed", needed.String()).
			WithDetails("balance", balance.String())
	}

	claim, err := s.payments.ClaimExecution(ctx, payment.Execution{
		PaymentID: p.ID,
		Symbol:    USDCSymbol,
		Amount:    needed,
		Decimals:  pricing.USDCDecimals,
	})
	if stderrors.Is(err, storage.ErrExecutionExists) {
		return nil, executionConflict(claim)
	}
	if err != nil {
		return nil, fmt.Errorf("claim execution: %w", err)
	}

	log := s.log.WithContext(ctx).WithFields(map[string]interface{}{
		"payment": p.ID,
		"owner":   owner.Hex(),
		"amount":  needed.String(),
	})

	res, err := s.usdc.TransferFrom(ctx, owner, s.treasury, needed)
	if err != nil {
		if res == nil || stderrors.Is(err, chain.ErrTxReverted) {
			// never broadcast, rejected by the node or reverted: nothing moved
			if rerr := s.payments.ReleaseExecution(ctx, claim.ID); rerr != nil {
				log.WithError(rerr).Error("release execution claim failed")
			}
			return nil, errors.BadGateway("transferFrom failed", err)
		}
		// possibly broadcast or unconfirmed: keep the claim so it is never re-sent
		log.WithError(err).WithField("tx", res.Hash.Hex()).Error("settlement outcome unknown")
		return nil, errors.Internal("settlement outcome unknown", err)
	}
	txHash := res.Hash.Hex()

	claim.TxHash = txHash
	if _, err := s.payments.CompleteExecution(ctx, claim, payment.Transfer{
		UserID:   usr.ID,
		Sender:   strings.ToLower(owner.Hex()),
		Receiver: strings.ToLower(s.treasury.Hex()),
		Amount:   needed,
		Symbol:   USDCSymbol,
		Decimals: pricing.USDCDecimals,
		TxHash:   txHash,
	}); err != nil {
		log.WithError(err).WithField("tx", txHash).Error("transfer mined but execution not recorded")
		return nil, errors.Internal("record execution", err)
	}
	log.WithField("tx", txHash).Info("payment settled")

	if s.points != nil {
		if err := s.points.Award(ctx, owner, needed); err != nil {
			log.WithError(err).Warn("points award failed")
		}
	}

	return &ExecuteResult{TxHash: txHash, USDCMinor: needed}, nil
}

// ListTransactions returns the transfers recorded for address, newest
// first. Unknown addresses have no transfers.
func (s *Service) ListTransactions(ctx context.Context, address string, limit, offset int) ([]payment.Transfer, error) {
	usr, err := s.users.GetUserByAddress(ctx, address)
	if stderrors.Is(err, storage.ErrNotFound) {
		return []payment.Transfer{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return s.payments.ListTransfersByUser(ctx, usr.ID, limit, offset)
}

func (s *Service) funding(ctx context.Context, owner common.Address) (allowance, balance *big.Int, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		allowance, err = s.usdc.Allowance(gctx, owner, s.backend.Executor())
		return err
	})
	g.Go(func() error {
		var err error
		balance, err = s.usdc.BalanceOf(gctx, owner)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, errors.BadGateway("read USDC funding", err)
	}
	return allowance, balance, nil
}

// shortfall reports which funding precondition fails first.
func shortfall(allowance, balance, needed *big.Int) (errors.Reason, bool) {
	switch {
	case allowance.Cmp(needed) < 0:
		return errors.ReasonInsufficientUSDCAllowance, true
	case balance.Cmp(needed) < 0:
		return errors.ReasonInsufficientUSDCBalance, true
	}
	return "", false
}

func executionConflict(exec payment.Execution) *errors.ServiceError {
	if exec.Status == payment.ExecutionConfirmed {
		return errors.Conflict("Payment already executed").
			WithReason(errors.ReasonAlreadyExecuted).
			WithDetails("txHash", exec.TxHash)
	}
	return errors.Conflict("Payment execution in progress").
		WithReason(errors.ReasonExecutionInProgress)
}
