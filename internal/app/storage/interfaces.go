package storage

import (
	"context"
	"errors"
	"time"

	"github.com/the-pines/frog/internal/app/domain/card"
	"github.com/the-pines/frog/internal/app/domain/payment"
	"github.com/the-pines/frog/internal/app/domain/settlement"
	"github.com/the-pines/frog/internal/app/domain/user"
	"github.com/the-pines/frog/internal/app/domain/vault"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an insert violates a unique key.
	ErrConflict = errors.New("conflict")
	// ErrExecutionExists is returned by ClaimExecution when the payment
	// already has an execution; the existing row is returned with it.
	ErrExecutionExists = errors.New("execution already exists")
)

// UserStore persists users. Addresses are stored lowercase.
type UserStore interface {
	// EnsureUser inserts u unless a user with the same address exists and
	// returns the stored row either way.
	EnsureUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id string) (user.User, error)
	GetUserByAddress(ctx context.Context, address string) (user.User, error)
}

// CardStore persists issued card mappings.
type CardStore interface {
	CreateCard(ctx context.Context, c card.Card) (card.Card, error)
	GetCard(ctx context.Context, id string) (card.Card, error)
	GetCardByStripeID(ctx context.Context, stripeCardID string) (card.Card, error)
	GetCardByUser(ctx context.Context, userID string) (card.Card, error)
}

// PaymentStore persists payments, their executions and transfers.
type PaymentStore interface {
	// CreatePayment inserts p unless its ExternalID is already stored. The
	// stored row is returned with created reporting whether it was new.
	CreatePayment(ctx context.Context, p payment.Payment) (stored payment.Payment, created bool, err error)
	GetPayment(ctx context.Context, id string) (payment.Payment, error)
	GetPaymentByExternalID(ctx context.Context, externalID string) (payment.Payment, error)
	UpdatePayment(ctx context.Context, p payment.Payment) (payment.Payment, error)

	// ClaimExecution atomically inserts a pending execution for
	// exec.PaymentID. If one exists it returns that row and
	// ErrExecutionExists.
	ClaimExecution(ctx context.Context, exec payment.Execution) (payment.Execution, error)
	GetExecutionByPayment(ctx context.Context, paymentID string) (payment.Execution, error)
	// CompleteExecution confirms exec and records tr in one transaction.
	CompleteExecution(ctx context.Context, exec payment.Execution, tr payment.Transfer) (payment.Execution, error)
	// ReleaseExecution drops a pending claim so the payment can be retried.
	ReleaseExecution(ctx context.Context, executionID string) error

	ListTransfersByUser(ctx context.Context, userID string, limit, offset int) ([]payment.Transfer, error)
}

// VaultStore persists vault registrations.
type VaultStore interface {
	CreateVault(ctx context.Context, v vault.Vault) (vault.Vault, error)
	GetVaultByAddress(ctx context.Context, address string) (vault.Vault, error)
	// ListVaultsByUser returns newest first.
	ListVaultsByUser(ctx context.Context, userID string) ([]vault.Vault, error)
}

// SettlementStore persists settlement tasks.
type SettlementStore interface {
	// EnqueueSettlement inserts a pending task due at due. A payment already
	// queued is left untouched and created is false.
	EnqueueSettlement(ctx context.Context, paymentID string, due time.Time) (task settlement.Task, created bool, err error)
	// ClaimDueSettlements marks up to limit due tasks running and returns
	// them. Running tasks untouched for longer than lease are reclaimed.
	ClaimDueSettlements(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]settlement.Task, error)
	UpdateSettlement(ctx context.Context, task settlement.Task) (settlement.Task, error)
	CountSettlements(ctx context.Context) (map[settlement.Status]int, error)
}

// Pinger reports store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
