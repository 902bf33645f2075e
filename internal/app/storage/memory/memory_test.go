package memory

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/the-pines/frog/internal/app/domain/card"
	"github.com/the-pines/frog/internal/app/domain/payment"
	"github.com/the-pines/frog/internal/app/domain/settlement"
	"github.com/the-pines/frog/internal/app/domain/user"
	"github.com/the-pines/frog/internal/app/domain/vault"
	"github.com/the-pines/frog/internal/app/storage"
)

func seedPayment(t *testing.T, store *Store) (user.User, payment.Payment) {
	t.Helper()
	ctx := context.Background()
	u, err := store.EnsureUser(ctx, user.User{Name: "alice", Address: " 0xABCDEF0000000000000000000000000000000001 "})
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	c, err := store.CreateCard(ctx, card.Card{UserID: u.ID, StripeCardID: "ic_1"})
	if err != nil {
		t.Fatalf("create card: %v", err)
	}
	p, created, err := store.CreatePayment(ctx, payment.Payment{
		ExternalID: "iauth_1",
		CardID:     c.ID,
		Amount:     2500,
		Currency:   "GBP",
		Status:     payment.StatusStarted,
	})
	if err != nil || !created {
		t.Fatalf("create payment: created=%v err=%v", created, err)
	}
	return u, p
}

func TestEnsureUserNormalisesAddress(t *testing.T) {
	store := New()
	u, _ := seedPayment(t, store)
	if u.Address != "0xabcdef0000000000000000000000000000000001" {
		t.Fatalf("address not normalised: %q", u.Address)
	}

	again, err := store.EnsureUser(context.Background(), user.User{Address: "0xAbCdEf0000000000000000000000000000000001"})
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if again.ID != u.ID {
		t.Fatalf("expected existing user, got new id %s", again.ID)
	}
}

func TestCreatePaymentIsConflictSafe(t *testing.T) {
	store := New()
	_, p := seedPayment(t, store)

	dup, created, err := store.CreatePayment(context.Background(), payment.Payment{ExternalID: "iauth_1", CardID: p.CardID, Amount: 9999})
	if err != nil {
		t.Fatalf("duplicate insert: %v", err)
	}
	if created {
		t.Fatalf("duplicate insert reported created")
	}
	if dup.ID != p.ID || dup.Amount != 2500 {
		t.Fatalf("duplicate insert changed row: %+v", dup)
	}
}

func TestClaimExecutionOnce(t *testing.T) {
	store := New()
	_, p := seedPayment(t, store)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.ClaimExecution(ctx, payment.Execution{PaymentID: p.ID, Symbol: "USDC", Amount: big.NewInt(1), Decimals: 6})
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			} else if !errors.Is(err, storage.ErrExecutionExists) {
				t.Errorf("unexpected claim error: %v", err)
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("expected exactly one claim, got %d", winners)
	}
}

func TestCompleteAndReleaseExecution(t *testing.T) {
	store := New()
	u, p := seedPayment(t, store)
	ctx := context.Background()

	claim, err := store.ClaimExecution(ctx, payment.Execution{PaymentID: p.ID, Symbol: "USDC", Amount: big.NewInt(31750000), Decimals: 6})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.ReleaseExecution(ctx, claim.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := store.GetExecutionByPayment(ctx, p.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("released claim still visible: %v", err)
	}

	claim, err = store.ClaimExecution(ctx, payment.Execution{PaymentID: p.ID, Symbol: "USDC", Amount: big.NewInt(31750000), Decimals: 6})
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	claim.TxHash = "0xabc"
	done, err := store.CompleteExecution(ctx, claim, payment.Transfer{UserID: u.ID, Amount: big.NewInt(31750000), Symbol: "USDC", Decimals: 6, TxHash: "0xabc"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != payment.ExecutionConfirmed {
		t.Fatalf("status not confirmed: %s", done.Status)
	}
	if err := store.ReleaseExecution(ctx, claim.ID); err == nil {
		t.Fatalf("confirmed execution must not be released")
	}

	existing, err := store.ClaimExecution(ctx, payment.Execution{PaymentID: p.ID})
	if !errors.Is(err, storage.ErrExecutionExists) || existing.TxHash != "0xabc" {
		t.Fatalf("expected existing execution with hash, got %+v %v", existing, err)
	}

	transfers, err := store.ListTransfersByUser(ctx, u.ID, 10, 0)
	if err != nil || len(transfers) != 1 {
		t.Fatalf("transfers: %v %v", transfers, err)
	}
	if page, _ := store.ListTransfersByUser(ctx, u.ID, 10, 5); len(page) != 0 {
		t.Fatalf("offset past end should be empty: %v", page)
	}
}

func TestVaultAddressUnique(t *testing.T) {
	store := New()
	u, _ := seedPayment(t, store)
	ctx := context.Background()

	v := vault.Vault{UserID: u.ID, Address: "0xAA00000000000000000000000000000000000001", Goal: big.NewInt(0), ChainID: 1135}
	if _, err := store.CreateVault(ctx, v); err != nil {
		t.Fatalf("create vault: %v", err)
	}
	if _, err := store.CreateVault(ctx, v); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	got, err := store.GetVaultByAddress(ctx, "0xaa00000000000000000000000000000000000001")
	if err != nil || got.UserID != u.ID {
		t.Fatalf("lookup by lowercase address: %+v %v", got, err)
	}
}

func TestSettlementQueue(t *testing.T) {
	store := New()
	_, p := seedPayment(t, store)
	ctx := context.Background()
	now := time.Now().UTC()

	task, created, err := store.EnqueueSettlement(ctx, p.ID, now)
	if err != nil || !created {
		t.Fatalf("enqueue: created=%v err=%v", created, err)
	}
	if _, created, _ := store.EnqueueSettlement(ctx, p.ID, now); created {
		t.Fatalf("duplicate enqueue created a task")
	}

	claimed, err := store.ClaimDueSettlements(ctx, now, time.Minute, 10)
	if err != nil || len(claimed) != 1 || claimed[0].ID != task.ID {
		t.Fatalf("claim: %v %v", claimed, err)
	}
	if again, _ := store.ClaimDueSettlements(ctx, now, time.Minute, 10); len(again) != 0 {
		t.Fatalf("running task claimed twice")
	}
	// lease expired
	if stale, _ := store.ClaimDueSettlements(ctx, now.Add(2*time.Minute), time.Minute, 10); len(stale) != 1 {
		t.Fatalf("stale running task not reclaimed")
	}

	claimed[0].Status = settlement.StatusDone
	if _, err := store.UpdateSettlement(ctx, claimed[0]); err != nil {
		t.Fatalf("update: %v", err)
	}
	counts, _ := store.CountSettlements(ctx)
	if counts[settlement.StatusDone] != 1 || counts[settlement.StatusPending] != 0 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}
