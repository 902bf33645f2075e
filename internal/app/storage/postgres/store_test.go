package postgres

import (
	"context"
	"errors"
	"math/big"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/the-pines/frog/internal/app/domain/card"
	"github.com/the-pines/frog/internal/app/domain/payment"
	"github.com/the-pines/frog/internal/app/domain/settlement"
	"github.com/the-pines/frog/internal/app/domain/user"
	"github.com/the-pines/frog/internal/app/domain/vault"
	"github.com/the-pines/frog/internal/app/storage"
	"github.com/the-pines/frog/internal/platform/migrations"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

var (
	paymentCols   = []string{"id", "external_id", "card_id", "amount", "currency", "merchant_name", "merchant_amount", "merchant_currency", "status", "created_at", "updated_at"}
	executionCols = []string{"id", "payment_id", "status", "symbol", "amount", "decimals", "tx_hash", "created_at", "updated_at"}
	taskCols      = []string{"id", "payment_id", "status", "attempts", "last_error", "next_attempt_at", "created_at", "updated_at"}
)

func TestCreatePaymentDuplicateReturnsExisting(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (external_id) DO NOTHING")).
		WillReturnRows(sqlmock.NewRows(paymentCols))
	mock.ExpectQuery(regexp.QuoteMeta("FROM payments WHERE external_id = $1")).
		WithArgs("iauth_1").
		WillReturnRows(sqlmock.NewRows(paymentCols).
			AddRow("p1", "iauth_1", "c1", 2500, "GBP", "Shop", 2500, "GBP", "started", now, now))

	p, created, err := store.CreatePayment(context.Background(), payment.Payment{ExternalID: "iauth_1", CardID: "c1", Amount: 1})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "p1", p.ID)
	assert.Equal(t, int64(2500), p.Amount)
	assert.Equal(t, payment.StatusStarted, p.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimExecutionConflict(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (payment_id) DO NOTHING")).
		WillReturnRows(sqlmock.NewRows(executionCols))
	mock.ExpectQuery(regexp.QuoteMeta("FROM executions WHERE payment_id = $1")).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows(executionCols).
			AddRow("e1", "p1", "confirmed", "USDC", "31750000", 6, "0xabc", now, now))

	existing, err := store.ClaimExecution(context.Background(), payment.Execution{PaymentID: "p1", Symbol: "USDC", Amount: big.NewInt(31750000), Decimals: 6})
	require.ErrorIs(t, err, storage.ErrExecutionExists)
	assert.Equal(t, "0xabc", existing.TxHash)
	assert.Equal(t, "31750000", existing.Amount.String())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimExecutionUnknownPayment(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO executions")).
		WillReturnError(&pq.Error{Code: codeForeignKeyViolation, Constraint: "executions_payment_id_fkey"})

	_, err := store.ClaimExecution(context.Background(), payment.Execution{PaymentID: "missing", Amount: big.NewInt(1)})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCompleteExecutionCommitsBothRows(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE executions")).
		WithArgs("e1", "USDC", "31750000", 6, "0xabc").
		WillReturnRows(sqlmock.NewRows(executionCols).
			AddRow("e1", "p1", "confirmed", "USDC", "31750000", 6, "0xabc", now, now))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transfers")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	exec, err := store.CompleteExecution(context.Background(),
		payment.Execution{ID: "e1", Symbol: "USDC", Amount: big.NewInt(31750000), Decimals: 6, TxHash: "0xabc"},
		payment.Transfer{UserID: "u1", Sender: "0xa", Receiver: "0xb", Amount: big.NewInt(31750000), Symbol: "USDC", Decimals: 6, TxHash: "0xabc"})
	require.NoError(t, err)
	assert.Equal(t, payment.ExecutionConfirmed, exec.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteExecutionRollsBack(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE executions")).
		WillReturnRows(sqlmock.NewRows(executionCols).
			AddRow("e1", "p1", "confirmed", "USDC", "1", 6, "0xabc", now, now))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transfers")).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := store.CompleteExecution(context.Background(),
		payment.Execution{ID: "e1", Amount: big.NewInt(1)},
		payment.Transfer{UserID: "u1", Amount: big.NewInt(1)})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseExecutionOnlyPending(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM executions WHERE id = $1 AND status = 'pending'")).
		WithArgs("e1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, store.ReleaseExecution(context.Background(), "e1"), storage.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureUserLowercasesAddress(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now()
	addr := "0xabcdef0000000000000000000000000000000001"

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (address) DO NOTHING")).
		WithArgs(sqlmock.AnyArg(), user.DefaultName, addr, user.ProviderWallet).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE address = $1")).
		WithArgs(addr).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "address", "provider", "created_at"}).
			AddRow("u1", user.DefaultName, addr, user.ProviderWallet, now))

	u, err := store.EnsureUser(context.Background(), user.User{
		Name:     user.DefaultName,
		Address:  "0xABCDEF0000000000000000000000000000000001",
		Provider: user.ProviderWallet,
	})
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCardNotFound(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM cards WHERE stripe_card_id = $1")).
		WithArgs("ic_x").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "stripe_card_id", "created_at"}))

	_, err := store.GetCardByStripeID(context.Background(), "ic_x")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCreateVaultConflict(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO vaults")).
		WillReturnError(&pq.Error{Code: codeUniqueViolation, Constraint: "vaults_address_key"})

	_, err := store.CreateVault(context.Background(), vault.Vault{UserID: "u1", Address: "0xAA", Goal: big.NewInt(0)})
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestListVaultsDecodesCollaborators(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM vaults")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "address", "name", "goal", "collaborators", "token_symbol", "token_decimals", "chain_id", "created_at"}).
			AddRow("v1", "u1", "0xaa", "Trip", "1000000000000000000", []byte(`["0xbb"]`), "wstETH", 18, 1135, now))

	vaults, err := store.ListVaultsByUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, vaults, 1)
	assert.Equal(t, []string{"0xbb"}, vaults[0].Collaborators)
	assert.Equal(t, "1000000000000000000", vaults[0].Goal.String())
}

func TestClaimDueSettlements(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WithArgs(now, now.Add(-5*time.Minute), 10).
		WillReturnRows(sqlmock.NewRows(taskCols).
			AddRow("t1", "p1", "running", 0, "", now, now, now))

	tasks, err := store.ClaimDueSettlements(context.Background(), now, 5*time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, settlement.StatusRunning, tasks[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountSettlementsFillsZeroes(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY status")).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).AddRow("pending", 3))

	counts, err := store.CountSettlements(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, counts[settlement.StatusPending])
	assert.Equal(t, 0, counts[settlement.StatusDead])
}

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sqlx.Open("postgres", dsn)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, migrations.Apply(db.DB))

	store := New(db)
	ctx := context.Background()

	u, err := store.EnsureUser(ctx, user.User{Name: "it", Address: "0x" + time.Now().Format("20060102150405") + "00000000000000000000000000"})
	require.NoError(t, err)
	c, err := store.CreateCard(ctx, card.Card{UserID: u.ID, StripeCardID: "ic_" + u.ID})
	require.NoError(t, err)
	p, created, err := store.CreatePayment(ctx, payment.Payment{ExternalID: "iauth_" + u.ID, CardID: c.ID, Amount: 100, Currency: "GBP", MerchantName: "no_name", Status: payment.StatusStarted})
	require.NoError(t, err)
	require.True(t, created)

	claim, err := store.ClaimExecution(ctx, payment.Execution{PaymentID: p.ID, Symbol: "USDC", Amount: big.NewInt(1270000), Decimals: 6})
	require.NoError(t, err)
	_, err = store.ClaimExecution(ctx, payment.Execution{PaymentID: p.ID, Symbol: "USDC", Amount: big.NewInt(1270000), Decimals: 6})
	require.ErrorIs(t, err, storage.ErrExecutionExists)
	require.NoError(t, store.ReleaseExecution(ctx, claim.ID))
}
