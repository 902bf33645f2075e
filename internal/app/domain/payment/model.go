// Package payment models card authorizations and their on-chain settlement.
package payment

import (
	"math/big"
	"time"
)

// Status is the lifecycle of a card authorization.
type Status string

const (
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusStarted, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Payment is one authorization attempt. Amounts are in the currency's minor
// units; ExternalID is the card processor's authorization id.
type Payment struct {
	ID               string
	ExternalID       string
	CardID           string
	Amount           int64
	Currency         string
	MerchantName     string
	MerchantAmount   int64
	MerchantCurrency string
	Status           Status
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ExecutionStatus tracks a settlement claim.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionConfirmed ExecutionStatus = "confirmed"
)

// Execution is the single on-chain settlement of a payment.
type Execution struct {
	ID        string
	PaymentID string
	Status    ExecutionStatus
	Symbol    string
	Amount    *big.Int
	Decimals  uint8
	TxHash    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transfer is an audit record of a token movement.
type Transfer struct {
	ID        string
	UserID    string
	Sender    string
	Receiver  string
	Amount    *big.Int
	Symbol    string
	Decimals  uint8
	TxHash    string
	CreatedAt time.Time
}
