// Package cards looks up the issued card of a wallet user.
package cards

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/the-pines/frog/internal/app/domain/user"
	"github.com/the-pines/frog/internal/app/storage"
	"github.com/the-pines/frog/internal/errors"
	"github.com/the-pines/frog/internal/issuing"
	"github.com/the-pines/frog/pkg/logger"
)

// UserCard is a user with their card details. Card is nil when the user has
// no card issued.
type UserCard struct {
	User user.User
	Card *issuing.CardDetails
}

// Service resolves users to issued cards.
type Service struct {
	users    storage.UserStore
	cards    storage.CardStore
	provider issuing.CardProvider
	log      *logger.Logger
}

// New constructs the card lookup service.
func New(users storage.UserStore, cards storage.CardStore, provider issuing.CardProvider, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("cards")
	}
	return &Service{users: users, cards: cards, provider: provider, log: log}
}

// GetUserCard returns the user registered for address and, when one is
// issued, the card processor's view of their card.
func (s *Service) GetUserCard(ctx context.Context, address string) (*UserCard, error) {
	usr, err := s.users.GetUserByAddress(ctx, address)
	if stderrors.Is(err, storage.ErrNotFound) {
		return nil, errors.NotFound("User not found")
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	crd, err := s.cards.GetCardByUser(ctx, usr.ID)
	if stderrors.Is(err, storage.ErrNotFound) {
		return &UserCard{User: usr}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup card: %w", err)
	}

	if s.provider == nil {
		return nil, errors.Unavailable("Card provider not configured")
	}
	details, err := s.provider.GetCard(ctx, crd.StripeCardID)
	if err != nil {
		return nil, errors.BadGateway("retrieve card", err)
	}
	s.log.WithContext(ctx).WithField("user", usr.ID).Debug("card details retrieved")
	return &UserCard{User: usr, Card: details}, nil
}
