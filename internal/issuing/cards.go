package issuing

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// CardDetails are the sensitive card fields shown to the card owner.
type CardDetails struct {
	DisplayName string
	ExpMonth    int64
	ExpYear     int64
	Number      string
	CVC         string
}

// Expiry renders MM/YYYY without zero padding of the month.
func (c CardDetails) Expiry() string {
	return fmt.Sprintf("%d/%d", c.ExpMonth, c.ExpYear)
}

// CardProvider retrieves issued card details.
type CardProvider interface {
	GetCard(ctx context.Context, cardID string) (*CardDetails, error)
}

// StripeCards fetches cards from the issuing API.
type StripeCards struct {
	api *client.API
}

var _ CardProvider = (*StripeCards)(nil)

// NewStripeCards builds a client authenticated with secretKey.
func NewStripeCards(secretKey string) *StripeCards {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeCards{api: api}
}

// GetCard retrieves a card with its number, CVC and cardholder expanded.
func (s *StripeCards) GetCard(ctx context.Context, cardID string) (*CardDetails, error) {
	params := &stripe.IssuingCardParams{}
	params.Context = ctx
	params.AddExpand("number")
	params.AddExpand("cvc")
	params.AddExpand("cardholder")

	card, err := s.api.IssuingCards.Get(cardID, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve issuing card: %w", err)
	}

	details := &CardDetails{
		ExpMonth: card.ExpMonth,
		ExpYear:  card.ExpYear,
		Number:   card.Number,
		CVC:      card.CVC,
	}
	if card.Cardholder != nil {
		details.DisplayName = card.Cardholder.Name
	}
	return details, nil
}
