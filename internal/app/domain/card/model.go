package card

import "time"

// Card maps a user to the card processor's issued card id. A user holds at
// most one card.
type Card struct {
	ID           string
	UserID       string
	StripeCardID string
	CreatedAt    time.Time
}
