package cards

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/the-pines/frog/internal/app/domain/card"
	"github.com/the-pines/frog/internal/app/domain/user"
	"github.com/the-pines/frog/internal/app/storage/memory"
	"github.com/the-pines/frog/internal/errors"
	"github.com/the-pines/frog/internal/issuing"
)

type fakeProvider struct {
	cards map[string]*issuing.CardDetails
	err   error
}

func (f *fakeProvider) GetCard(_ context.Context, id string) (*issuing.CardDetails, error) {
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.cards[id]
	if !ok {
		return nil, stderrors.New("no such card")
	}
	return c, nil
}

func TestGetUserCard(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	provider := &fakeProvider{cards: map[string]*issuing.CardDetails{
		"ic_1": {DisplayName: "Alice", ExpMonth: 4, ExpYear: 2029, Number: "4242424242424242", CVC: "123"},
	}}
	svc := New(store, store, provider, nil)

	if _, err := svc.GetUserCard(ctx, "0x1111111111111111111111111111111111111111"); errors.GetServiceError(err) == nil || errors.GetServiceError(err).HTTPStatus != 404 {
		t.Fatalf("expected 404 for unknown user, got %v", err)
	}

	u, err := store.EnsureUser(ctx, user.User{Name: "alice", Address: "0x1111111111111111111111111111111111111111"})
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	got, err := svc.GetUserCard(ctx, "0x1111111111111111111111111111111111111111")
	if err != nil {
		t.Fatalf("get user card: %v", err)
	}
	if got.User.ID != u.ID || got.Card != nil {
		t.Fatalf("expected user without card, got %+v", got)
	}

	if _, err := store.CreateCard(ctx, card.Card{UserID: u.ID, StripeCardID: "ic_1"}); err != nil {
		t.Fatalf("create card: %v", err)
	}
	got, err = svc.GetUserCard(ctx, "0X1111111111111111111111111111111111111111")
	if err != nil {
		t.Fatalf("get user card: %v", err)
	}
	if got.Card == nil || got.Card.Expiry() != "4/2029" || got.Card.DisplayName != "Alice" {
		t.Fatalf("unexpected card: %+v", got.Card)
	}

	provider.err = stderrors.New("stripe down")
	if _, err := svc.GetUserCard(ctx, u.Address); errors.GetServiceError(err) == nil || errors.GetServiceError(err).HTTPStatus != 502 {
		t.Fatalf("expected 502 on provider failure, got %v", err)
	}
}
