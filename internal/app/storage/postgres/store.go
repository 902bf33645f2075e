package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/the-pines/frog/internal/app/domain/card"
	"github.com/the-pines/frog/internal/app/domain/payment"
	"github.com/the-pines/frog/internal/app/domain/settlement"
	"github.com/the-pines/frog/internal/app/domain/user"
	"github.com/the-pines/frog/internal/app/domain/vault"
	"github.com/the-pines/frog/internal/app/storage"
)

// Postgres error codes.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var (
	_ storage.UserStore       = (*Store)(nil)
	_ storage.CardStore       = (*Store)(nil)
	_ storage.PaymentStore    = (*Store)(nil)
	_ storage.VaultStore      = (*Store)(nil)
	_ storage.SettlementStore = (*Store)(nil)
	_ storage.Pinger          = (*Store)(nil)
)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func mapError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%w: %s", storage.ErrConflict, pqErr.Constraint)
		case codeForeignKeyViolation:
			return fmt.Errorf("%w: %s", storage.ErrNotFound, pqErr.Constraint)
		}
	}
	return err
}

func parseNumeric(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric %q", s)
	}
	return v, nil
}

func numeric(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// --- UserStore ---------------------------------------------------------------

type userRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Address   string    `db:"address"`
	Provider  string    `db:"provider"`
	CreatedAt time.Time `db:"created_at"`
}

func (r userRow) model() user.User {
	return user.User{ID: r.ID, Name: r.Name, Address: r.Address, Provider: r.Provider, CreatedAt: r.CreatedAt}
}

const userColumns = `id, name, address, provider, created_at`

func (s *Store) EnsureUser(ctx context.Context, u user.User) (user.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Address = strings.ToLower(strings.TrimSpace(u.Address))

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, address, provider)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address) DO NOTHING
	`, u.ID, u.Name, u.Address, u.Provider); err != nil {
		return user.User{}, mapError(err)
	}
	return s.GetUserByAddress(ctx, u.Address)
}

func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	var row userRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+userColumns+` FROM users WHERE id = $1`, id); err != nil {
		return user.User{}, mapError(err)
	}
	return row.model(), nil
}

func (s *Store) GetUserByAddress(ctx context.Context, address string) (user.User, error) {
	var row userRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+userColumns+` FROM users WHERE address = $1`,
		strings.ToLower(strings.TrimSpace(address))); err != nil {
		return user.User{}, mapError(err)
	}
	return row.model(), nil
}

// --- CardStore ---------------------------------------------------------------

type cardRow struct {
	ID           string    `db:"id"`
	UserID       string    `db:"user_id"`
	StripeCardID string    `db:"stripe_card_id"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r cardRow) model() card.Card {
	return card.Card{ID: r.ID, UserID: r.UserID, StripeCardID: r.StripeCardID, CreatedAt: r.CreatedAt}
}

const cardColumns = `id, user_id, stripe_card_id, created_at`

func (s *Store) CreateCard(ctx context.Context, c card.Card) (card.Card, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	var row cardRow
	if err := s.db.GetContext(ctx, &row, `
		INSERT INTO cards (id, user_id, stripe_card_id)
		VALUES ($1, $2, $3)
		RETURNING `+cardColumns, c.ID, c.UserID, c.StripeCardID); err != nil {
		return card.Card{}, mapError(err)
	}
	return row.model(), nil
}

func (s *Store) getCard(ctx context.Context, where string, arg interface{}) (card.Card, error) {
	var row cardRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+cardColumns+` FROM cards WHERE `+where+` = $1`, arg); err != nil {
		return card.Card{}, mapError(err)
	}
	return row.model(), nil
}

func (s *Store) GetCard(ctx context.Context, id string) (card.Card, error) {
	return s.getCard(ctx, "id", id)
}

func (s *Store) GetCardByStripeID(ctx context.Context, stripeCardID string) (card.Card, error) {
	return s.getCard(ctx, "stripe_card_id", stripeCardID)
}

func (s *Store) GetCardByUser(ctx context.Context, userID string) (card.Card, error) {
	return s.getCard(ctx, "user_id", userID)
}

// --- PaymentStore ------------------------------------------------------------

type paymentRow struct {
	ID               string    `db:"id"`
	ExternalID       string    `db:"external_id"`
	CardID           string    `db:"card_id"`
	Amount           int64     `db:"amount"`
	Currency         string    `db:"currency"`
	MerchantName     string    `db:"merchant_name"`
	MerchantAmount   int64     `db:"merchant_amount"`
	MerchantCurrency string    `db:"merchant_currency"`
	Status           string    `db:"status"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func (r paymentRow) model() payment.Payment {
	return payment.Payment{
		ID:               r.ID,
		ExternalID:       r.ExternalID,
		CardID:           r.CardID,
		Amount:           r.Amount,
		Currency:         r.Currency,
		MerchantName:     r.MerchantName,
		MerchantAmount:   r.MerchantAmount,
		MerchantCurrency: r.MerchantCurrency,
		Status:           payment.Status(r.Status),
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

const paymentColumns = `id, external_id, card_id, amount, currency, merchant_name, merchant_amount, merchant_currency, status, created_at, updated_at`

func (s *Store) CreatePayment(ctx context.Context, p payment.Payment) (payment.Payment, bool, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	var row paymentRow
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO payments (id, external_id, card_id, amount, currency, merchant_name, merchant_amount, merchant_currency, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (external_id) DO NOTHING
		RETURNING `+paymentColumns,
		p.ID, p.ExternalID, p.CardID, p.Amount, p.Currency, p.MerchantName, p.MerchantAmount, p.MerchantCurrency, string(p.Status))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		existing, err := s.GetPaymentByExternalID(ctx, p.ExternalID)
		return existing, false, err
	case err != nil:
		return payment.Payment{}, false, mapError(err)
	}
	return row.model(), true, nil
}

func (s *Store) GetPayment(ctx context.Context, id string) (payment.Payment, error) {
	var row paymentRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id); err != nil {
		return payment.Payment{}, mapError(err)
	}
	return row.model(), nil
}

func (s *Store) GetPaymentByExternalID(ctx context.Context, externalID string) (payment.Payment, error) {
	var row paymentRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+paymentColumns+` FROM payments WHERE external_id = $1`, externalID); err != nil {
		return payment.Payment{}, mapError(err)
	}
	return row.model(), nil
}

func (s *Store) UpdatePayment(ctx context.Context, p payment.Payment) (payment.Payment, error) {
	var row paymentRow
	if err := s.db.GetContext(ctx, &row, `
		UPDATE payments
		SET amount = $2, currency = $3, merchant_amount = $4, merchant_currency = $5, status = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING `+paymentColumns,
		p.ID, p.Amount, p.Currency, p.MerchantAmount, p.MerchantCurrency, string(p.Status)); err != nil {
		return payment.Payment{}, mapError(err)
	}
	return row.model(), nil
}

type executionRow struct {
	ID        string    `db:"id"`
	PaymentID string    `db:"payment_id"`
	Status    string    `db:"status"`
	Symbol    string    `db:"symbol"`
	Amount    string    `db:"amount"`
	Decimals  int       `db:"decimals"`
	TxHash    string    `db:"tx_hash"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r executionRow) model() (payment.Execution, error) {
	amount, err := parseNumeric(r.Amount)
	if err != nil {
		return payment.Execution{}, err
	}
	return payment.Execution{
		ID:        r.ID,
		PaymentID: r.PaymentID,
		Status:    payment.ExecutionStatus(r.Status),
		Symbol:    r.Symbol,
		Amount:    amount,
		Decimals:  uint8(r.Decimals),
		TxHash:    r.TxHash,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

const executionColumns = `id, payment_id, status, symbol, amount, decimals, tx_hash, created_at, updated_at`

func (s *Store) ClaimExecution(ctx context.Context, exec payment.Execution) (payment.Execution, error) {
	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}
	var row executionRow
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO executions (id, payment_id, status, symbol, amount, decimals)
		VALUES ($1, $2, 'pending', $3, $4, $5)
		ON CONFLICT (payment_id) DO NOTHING
		RETURNING `+executionColumns,
		exec.ID, exec.PaymentID, exec.Symbol, numeric(exec.Amount), int(exec.Decimals))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		existing, err := s.GetExecutionByPayment(ctx, exec.PaymentID)
		if err != nil {
			return payment.Execution{}, err
		}
		return existing, storage.ErrExecutionExists
	case err != nil:
		return payment.Execution{}, mapError(err)
	}
	return row.model()
}

func (s *Store) GetExecutionByPayment(ctx context.Context, paymentID string) (payment.Execution, error) {
	var row executionRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+executionColumns+` FROM executions WHERE payment_id = $1`, paymentID); err != nil {
		return payment.Execution{}, mapError(err)
	}
	return row.model()
}

func (s *Store) CompleteExecution(ctx context.Context, exec payment.Execution, tr payment.Transfer) (result payment.Execution, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return payment.Execution{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var row executionRow
	if err = tx.GetContext(ctx, &row, `
		UPDATE executions
		SET status = 'confirmed', symbol = $2, amount = $3, decimals = $4, tx_hash = $5, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+executionColumns,
		exec.ID, exec.Symbol, numeric(exec.Amount), int(exec.Decimals), exec.TxHash); err != nil {
		return payment.Execution{}, mapError(err)
	}

	if tr.ID == "" {
		tr.ID = uuid.NewString()
	}
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO transfers (id, user_id, sender, receiver, amount, symbol, decimals, tx_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, tr.ID, tr.UserID, tr.Sender, tr.Receiver, numeric(tr.Amount), tr.Symbol, int(tr.Decimals), tr.TxHash); err != nil {
		return payment.Execution{}, mapError(err)
	}

	if err = tx.Commit(); err != nil {
		return payment.Execution{}, err
	}
	return row.model()
}

func (s *Store) ReleaseExecution(ctx context.Context, executionID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM executions WHERE id = $1 AND status = 'pending'`, executionID)
	if err != nil {
		return mapError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

type transferRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Sender    string    `db:"sender"`
	Receiver  string    `db:"receiver"`
	Amount    string    `db:"amount"`
	Symbol    string    `db:"symbol"`
	Decimals  int       `db:"decimals"`
	TxHash    string    `db:"tx_hash"`
	CreatedAt time.Time `db:"created_at"`
}

func (s *Store) ListTransfersByUser(ctx context.Context, userID string, limit, offset int) ([]payment.Transfer, error) {
	var rows []transferRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, sender, receiver, amount, symbol, decimals, tx_hash, created_at
		FROM transfers
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset); err != nil {
		return nil, mapError(err)
	}

	out := make([]payment.Transfer, 0, len(rows))
	for _, r := range rows {
		amount, err := parseNumeric(r.Amount)
		if err != nil {
			return nil, err
		}
		out = append(out, payment.Transfer{
			ID:        r.ID,
			UserID:    r.UserID,
			Sender:    r.Sender,
			Receiver:  r.Receiver,
			Amount:    amount,
			Symbol:    r.Symbol,
			Decimals:  uint8(r.Decimals),
			TxHash:    r.TxHash,
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}

// --- VaultStore --------------------------------------------------------------

type vaultRow struct {
	ID            string    `db:"id"`
	UserID        string    `db:"user_id"`
	Address       string    `db:"address"`
	Name          string    `db:"name"`
	Goal          string    `db:"goal"`
	Collaborators []byte    `db:"collaborators"`
	TokenSymbol   string    `db:"token_symbol"`
	TokenDecimals int       `db:"token_decimals"`
	ChainID       int64     `db:"chain_id"`
	CreatedAt     time.Time `db:"created_at"`
}

func (r vaultRow) model() (vault.Vault, error) {
	goal, err := parseNumeric(r.Goal)
	if err != nil {
		return vault.Vault{}, err
	}
	collaborators := []string{}
	if len(r.Collaborators) > 0 {
		if err := json.Unmarshal(r.Collaborators, &collaborators); err != nil {
			return vault.Vault{}, fmt.Errorf("decode collaborators: %w", err)
		}
	}
	return vault.Vault{
		ID:            r.ID,
		UserID:        r.UserID,
		Address:       r.Address,
		Name:          r.Name,
		Goal:          goal,
		Collaborators: collaborators,
		TokenSymbol:   r.TokenSymbol,
		TokenDecimals: uint8(r.TokenDecimals),
		ChainID:       r.ChainID,
		CreatedAt:     r.CreatedAt,
	}, nil
}

const vaultColumns = `id, user_id, address, name, goal, collaborators, token_symbol, token_decimals, chain_id, created_at`

func (s *Store) CreateVault(ctx context.Context, v vault.Vault) (vault.Vault, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.Collaborators == nil {
		v.Collaborators = []string{}
	}
	collaborators, err := json.Marshal(v.Collaborators)
	if err != nil {
		return vault.Vault{}, err
	}

	var row vaultRow
	if err := s.db.GetContext(ctx, &row, `
		INSERT INTO vaults (id, user_id, address, name, goal, collaborators, token_symbol, token_decimals, chain_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+vaultColumns,
		v.ID, v.UserID, strings.ToLower(v.Address), v.Name, numeric(v.Goal), collaborators,
		v.TokenSymbol, int(v.TokenDecimals), v.ChainID); err != nil {
		return vault.Vault{}, mapError(err)
	}
	return row.model()
}

func (s *Store) GetVaultByAddress(ctx context.Context, address string) (vault.Vault, error) {
	var row vaultRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+vaultColumns+` FROM vaults WHERE address = $1`, strings.ToLower(address)); err != nil {
		return vault.Vault{}, mapError(err)
	}
	return row.model()
}

func (s *Store) ListVaultsByUser(ctx context.Context, userID string) ([]vault.Vault, error) {
	var rows []vaultRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+vaultColumns+`
		FROM vaults
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID); err != nil {
		return nil, mapError(err)
	}

	out := make([]vault.Vault, 0, len(rows))
	for _, r := range rows {
		v, err := r.model()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// --- SettlementStore ---------------------------------------------------------

type taskRow struct {
	ID            string    `db:"id"`
	PaymentID     string    `db:"payment_id"`
	Status        string    `db:"status"`
	Attempts      int       `db:"attempts"`
	LastError     string    `db:"last_error"`
	NextAttemptAt time.Time `db:"next_attempt_at"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (r taskRow) model() settlement.Task {
	return settlement.Task{
		ID:            r.ID,
		PaymentID:     r.PaymentID,
		Status:        settlement.Status(r.Status),
		Attempts:      r.Attempts,
		LastError:     r.LastError,
		NextAttemptAt: r.NextAttemptAt,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

const taskColumns = `id, payment_id, status, attempts, last_error, next_attempt_at, created_at, updated_at`

func (s *Store) EnqueueSettlement(ctx context.Context, paymentID string, due time.Time) (settlement.Task, bool, error) {
	var row taskRow
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO settlement_tasks (id, payment_id, status, next_attempt_at)
		VALUES ($1, $2, 'pending', $3)
		ON CONFLICT (payment_id) DO NOTHING
		RETURNING `+taskColumns, uuid.NewString(), paymentID, due.UTC())
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if err := s.db.GetContext(ctx, &row, `SELECT `+taskColumns+` FROM settlement_tasks WHERE payment_id = $1`, paymentID); err != nil {
			return settlement.Task{}, false, mapError(err)
		}
		return row.model(), false, nil
	case err != nil:
		return settlement.Task{}, false, mapError(err)
	}
	return row.model(), true, nil
}

func (s *Store) ClaimDueSettlements(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]settlement.Task, error) {
	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, `
		UPDATE settlement_tasks
		SET status = 'running', updated_at = $1
		WHERE id IN (
			SELECT id FROM settlement_tasks
			WHERE (status = 'pending' AND next_attempt_at <= $1)
			   OR (status = 'running' AND updated_at < $2)
			ORDER BY next_attempt_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns, now.UTC(), now.Add(-lease).UTC(), limit); err != nil {
		return nil, mapError(err)
	}

	out := make([]settlement.Task, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

func (s *Store) UpdateSettlement(ctx context.Context, task settlement.Task) (settlement.Task, error) {
	var row taskRow
	if err := s.db.GetContext(ctx, &row, `
		UPDATE settlement_tasks
		SET status = $2, attempts = $3, last_error = $4, next_attempt_at = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING `+taskColumns,
		task.ID, string(task.Status), task.Attempts, task.LastError, task.NextAttemptAt.UTC()); err != nil {
		return settlement.Task{}, mapError(err)
	}
	return row.model(), nil
}

func (s *Store) CountSettlements(ctx context.Context) (map[settlement.Status]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS count FROM settlement_tasks GROUP BY status`); err != nil {
		return nil, mapError(err)
	}

	counts := make(map[settlement.Status]int, len(settlement.Statuses))
	for _, st := range settlement.Statuses {
		counts[st] = 0
	}
	for _, r := range rows {
		counts[settlement.Status(r.Status)] = r.Count
	}
	return counts, nil
}
