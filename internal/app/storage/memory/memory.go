package memory

import (
	"context"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/the-pines/frog/internal/app/domain/card"
	"github.com/the-pines/frog/internal/app/domain/payment"
	"github.com/the-pines/frog/internal/app/domain/settlement"
	"github.com/the-pines/frog/internal/app/domain/user"
	"github.com/the-pines/frog/internal/app/domain/vault"
	"github.com/the-pines/frog/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and enforces the same unique keys as the Postgres
// schema. It is intended for tests and local development.
type Store struct {
	mu sync.RWMutex

	users          map[string]user.User
	usersByAddress map[string]string

	cards         map[string]card.Card
	cardsByStripe map[string]string
	cardsByUser   map[string]string

	payments           map[string]payment.Payment
	paymentsByExternal map[string]string
	executions         map[string]payment.Execution
	executionByPayment map[string]string
	transfers          []payment.Transfer

	vaults          map[string]vault.Vault
	vaultsByAddress map[string]string

	tasks          map[string]settlement.Task
	tasksByPayment map[string]string

	// now is swapped in tests that need deterministic timestamps.
	now func() time.Time
}

var (
	_ storage.UserStore       = (*Store)(nil)
	_ storage.CardStore       = (*Store)(nil)
	_ storage.PaymentStore    = (*Store)(nil)
	_ storage.VaultStore      = (*Store)(nil)
	_ storage.SettlementStore = (*Store)(nil)
	_ storage.Pinger          = (*Store)(nil)
)

// New creates an empty store.
func New() *Store {
	return &Store{
		users:              make(map[string]user.User),
		usersByAddress:     make(map[string]string),
		cards:              make(map[string]card.Card),
		cardsByStripe:      make(map[string]string),
		cardsByUser:        make(map[string]string),
		payments:           make(map[string]payment.Payment),
		paymentsByExternal: make(map[string]string),
		executions:         make(map[string]payment.Execution),
		executionByPayment: make(map[string]string),
		vaults:             make(map[string]vault.Vault),
		vaultsByAddress:    make(map[string]string),
		tasks:              make(map[string]settlement.Task),
		tasksByPayment:     make(map[string]string),
		now:                func() time.Time { return time.Now().UTC() },
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

func newID() string { return uuid.NewString() }

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// --- UserStore ---------------------------------------------------------------

func (s *Store) EnsureUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u.Address = strings.ToLower(strings.TrimSpace(u.Address))
	if id, ok := s.usersByAddress[u.Address]; ok {
		return s.users[id], nil
	}
	if u.ID == "" {
		u.ID = newID()
	}
	u.CreatedAt = s.now()
	s.users[u.ID] = u
	s.usersByAddress[u.Address] = u.ID
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (s *Store) GetUserByAddress(_ context.Context, address string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usersByAddress[strings.ToLower(strings.TrimSpace(address))]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	return s.users[id], nil
}

// --- CardStore ---------------------------------------------------------------

func (s *Store) CreateCard(_ context.Context, c card.Card) (card.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[c.UserID]; !ok {
		return card.Card{}, storage.ErrNotFound
	}
	if _, ok := s.cardsByStripe[c.StripeCardID]; ok {
		return card.Card{}, storage.ErrConflict
	}
	if _, ok := s.cardsByUser[c.UserID]; ok {
		return card.Card{}, storage.ErrConflict
	}
	if c.ID == "" {
		c.ID = newID()
	}
	c.CreatedAt = s.now()
	s.cards[c.ID] = c
	s.cardsByStripe[c.StripeCardID] = c.ID
	s.cardsByUser[c.UserID] = c.ID
	return c, nil
}

func (s *Store) GetCard(_ context.Context, id string) (card.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cards[id]
	if !ok {
		return card.Card{}, storage.ErrNotFound
	}
	return c, nil
}

func (s *Store) GetCardByStripeID(_ context.Context, stripeCardID string) (card.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.cardsByStripe[stripeCardID]
	if !ok {
		return card.Card{}, storage.ErrNotFound
	}
	return s.cards[id], nil
}

func (s *Store) GetCardByUser(_ context.Context, userID string) (card.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.cardsByUser[userID]
	if !ok {
		return card.Card{}, storage.ErrNotFound
	}
	return s.cards[id], nil
}

// --- PaymentStore ------------------------------------------------------------

func (s *Store) CreatePayment(_ context.Context, p payment.Payment) (payment.Payment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.paymentsByExternal[p.ExternalID]; ok {
		return s.payments[id], false, nil
	}
	if _, ok := s.cards[p.CardID]; !ok {
		return payment.Payment{}, false, storage.ErrNotFound
	}
	if p.ID == "" {
		p.ID = newID()
	}
	now := s.now()
	p.CreatedAt = now
	p.UpdatedAt = now
	s.payments[p.ID] = p
	s.paymentsByExternal[p.ExternalID] = p.ID
	return p, true, nil
}

func (s *Store) GetPayment(_ context.Context, id string) (payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[id]
	if !ok {
		return payment.Payment{}, storage.ErrNotFound
	}
	return p, nil
}

func (s *Store) GetPaymentByExternalID(_ context.Context, externalID string) (payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.paymentsByExternal[externalID]
	if !ok {
		return payment.Payment{}, storage.ErrNotFound
	}
	return s.payments[id], nil
}

func (s *Store) UpdatePayment(_ context.Context, p payment.Payment) (payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.payments[p.ID]
	if !ok {
		return payment.Payment{}, storage.ErrNotFound
	}
	p.ExternalID = original.ExternalID
	p.CardID = original.CardID
	p.CreatedAt = original.CreatedAt
	p.UpdatedAt = s.now()
	s.payments[p.ID] = p
	return p, nil
}

func (s *Store) ClaimExecution(_ context.Context, exec payment.Execution) (payment.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.executionByPayment[exec.PaymentID]; ok {
		return cloneExecution(s.executions[id]), storage.ErrExecutionExists
	}
	if _, ok := s.payments[exec.PaymentID]; !ok {
		return payment.Execution{}, storage.ErrNotFound
	}
	if exec.ID == "" {
		exec.ID = newID()
	}
	now := s.now()
	exec.Status = payment.ExecutionPending
	exec.CreatedAt = now
	exec.UpdatedAt = now
	exec.Amount = cloneBig(exec.Amount)
	s.executions[exec.ID] = exec
	s.executionByPayment[exec.PaymentID] = exec.ID
	return cloneExecution(exec), nil
}

func (s *Store) GetExecutionByPayment(_ context.Context, paymentID string) (payment.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.executionByPayment[paymentID]
	if !ok {
		return payment.Execution{}, storage.ErrNotFound
	}
	return cloneExecution(s.executions[id]), nil
}

func (s *Store) CompleteExecution(_ context.Context, exec payment.Execution, tr payment.Transfer) (payment.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.executions[exec.ID]
	if !ok {
		return payment.Execution{}, storage.ErrNotFound
	}
	now := s.now()
	exec.PaymentID = original.PaymentID
	exec.CreatedAt = original.CreatedAt
	exec.UpdatedAt = now
	exec.Status = payment.ExecutionConfirmed
	exec.Amount = cloneBig(exec.Amount)
	s.executions[exec.ID] = exec

	if tr.ID == "" {
		tr.ID = newID()
	}
	tr.CreatedAt = now
	tr.Amount = cloneBig(tr.Amount)
	s.transfers = append(s.transfers, tr)
	return cloneExecution(exec), nil
}

func (s *Store) ReleaseExecution(_ context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exec, ok := s.executions[executionID]
	if !ok || exec.Status != payment.ExecutionPending {
		return storage.ErrNotFound
	}
	delete(s.executions, executionID)
	delete(s.executionByPayment, exec.PaymentID)
	return nil
}

func (s *Store) ListTransfersByUser(_ context.Context, userID string, limit, offset int) ([]payment.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []payment.Transfer
	for i := len(s.transfers) - 1; i >= 0; i-- {
		if s.transfers[i].UserID == userID {
			tr := s.transfers[i]
			tr.Amount = cloneBig(tr.Amount)
			out = append(out, tr)
		}
	}
	if offset >= len(out) {
		return []payment.Transfer{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneExecution(e payment.Execution) payment.Execution {
	e.Amount = cloneBig(e.Amount)
	return e
}

// --- VaultStore --------------------------------------------------------------

func (s *Store) CreateVault(_ context.Context, v vault.Vault) (vault.Vault, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v.Address = strings.ToLower(v.Address)
	if _, ok := s.vaultsByAddress[v.Address]; ok {
		return vault.Vault{}, storage.ErrConflict
	}
	if _, ok := s.users[v.UserID]; !ok {
		return vault.Vault{}, storage.ErrNotFound
	}
	if v.ID == "" {
		v.ID = newID()
	}
	v.CreatedAt = s.now()
	v.Goal = cloneBig(v.Goal)
	v.Collaborators = append([]string{}, v.Collaborators...)
	s.vaults[v.ID] = v
	s.vaultsByAddress[v.Address] = v.ID
	return cloneVault(v), nil
}

func (s *Store) GetVaultByAddress(_ context.Context, address string) (vault.Vault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.vaultsByAddress[strings.ToLower(address)]
	if !ok {
		return vault.Vault{}, storage.ErrNotFound
	}
	return cloneVault(s.vaults[id]), nil
}

func (s *Store) ListVaultsByUser(_ context.Context, userID string) ([]vault.Vault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []vault.Vault{}
	for _, v := range s.vaults {
		if v.UserID == userID {
			out = append(out, cloneVault(v))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func cloneVault(v vault.Vault) vault.Vault {
	v.Goal = cloneBig(v.Goal)
	v.Collaborators = append([]string{}, v.Collaborators...)
	return v
}

// --- SettlementStore ---------------------------------------------------------

func (s *Store) EnqueueSettlement(_ context.Context, paymentID string, due time.Time) (settlement.Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.tasksByPayment[paymentID]; ok {
		return s.tasks[id], false, nil
	}
	if _, ok := s.payments[paymentID]; !ok {
		return settlement.Task{}, false, storage.ErrNotFound
	}
	now := s.now()
	task := settlement.Task{
		ID:            newID(),
		PaymentID:     paymentID,
		Status:        settlement.StatusPending,
		NextAttemptAt: due.UTC(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.tasks[task.ID] = task
	s.tasksByPayment[paymentID] = task.ID
	return task, true, nil
}

func (s *Store) ClaimDueSettlements(_ context.Context, now time.Time, lease time.Duration, limit int) ([]settlement.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []settlement.Task
	for _, task := range s.tasks {
		switch {
		case task.Status == settlement.StatusPending && !task.NextAttemptAt.After(now):
			due = append(due, task)
		case task.Status == settlement.StatusRunning && lease > 0 && task.UpdatedAt.Before(now.Add(-lease)):
			due = append(due, task)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		due[i].Status = settlement.StatusRunning
		due[i].UpdatedAt = now
		s.tasks[due[i].ID] = due[i]
	}
	return due, nil
}

func (s *Store) UpdateSettlement(_ context.Context, task settlement.Task) (settlement.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.tasks[task.ID]
	if !ok {
		return settlement.Task{}, storage.ErrNotFound
	}
	task.PaymentID = original.PaymentID
	task.CreatedAt = original.CreatedAt
	task.UpdatedAt = s.now()
	s.tasks[task.ID] = task
	return task, nil
}

func (s *Store) CountSettlements(_ context.Context) (map[settlement.Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[settlement.Status]int, len(settlement.Statuses))
	for _, st := range settlement.Statuses {
		counts[st] = 0
	}
	for _, task := range s.tasks {
		counts[task.Status]++
	}
	return counts, nil
}

// Transfers returns every recorded transfer, oldest first.
func (s *Store) Transfers() []payment.Transfer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]payment.Transfer(nil), s.transfers...)
}
