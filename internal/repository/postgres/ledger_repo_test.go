package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/trollstown/coinstore/internal/errs"
	"github.com/trollstown/coinstore/internal/model"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

func TestLedgerRepo_Debit_OK(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewLedgerRepo(db)

	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())
	meta := model.Metadata{"item_key": "perk_ghost_mode"}

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE balances SET amount = amount - \$3, updated_at = now\(\)`).
		WithArgs(userID, model.DenomPaid, int64(500)).
		WillReturnRows(pgxmock.NewRows([]string{"amount"}).AddRow(int64(1500)))
	mock.ExpectExec(`INSERT INTO ledger_entries`).
		WithArgs(userID, model.DenomPaid, int64(-500), model.TxPerkPurchase, int64(1500), meta).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	newBal, err := r.Debit(ctx, userID, model.DenomPaid, 500, model.TxPerkPurchase, meta)
	require.NoError(t, err)
	require.Equal(t, int64(1500), newBal)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_Debit_InsufficientFunds(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewLedgerRepo(db)

	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE balances SET amount = amount - \$3, updated_at = now\(\)`).
		WithArgs(userID, model.DenomPaid, int64(500)).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := r.Debit(ctx, userID, model.DenomPaid, 500, model.TxPurchase, nil)
	require.ErrorIs(t, err, errs.ErrInsufficientFunds)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_Debit_RejectsNonPositive(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewLedgerRepo(db)

	_, err := r.Debit(context.Background(), uuid.Must(uuid.NewV4()), model.DenomPaid, 0, model.TxPurchase, nil)
	require.Error(t, err)
	_, err = r.Debit(context.Background(), uuid.Must(uuid.NewV4()), model.DenomPaid, -10, model.TxPurchase, nil)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_Debit_EntryInsertFails(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewLedgerRepo(db)

	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())
	boom := errors.New("connection reset")

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE balances SET amount = amount - \$3, updated_at = now\(\)`).
		WithArgs(userID, model.DenomFree, int64(100)).
		WillReturnRows(pgxmock.NewRows([]string{"amount"}).AddRow(int64(0)))
	mock.ExpectExec(`INSERT INTO ledger_entries`).
		WithArgs(userID, model.DenomFree, int64(-100), model.TxPurchase, int64(0), model.Metadata(nil)).
		WillReturnError(boom)
	mock.ExpectRollback()

	_, err := r.Debit(ctx, userID, model.DenomFree, 100, model.TxPurchase, nil)
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_Credit_OK(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewLedgerRepo(db)

	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())
	meta := model.Metadata{"reason": "ownership_write_failed"}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO balances \(user_id, denomination, amount\)`).
		WithArgs(userID, model.DenomPaid, int64(500)).
		WillReturnRows(pgxmock.NewRows([]string{"amount"}).AddRow(int64(2000)))
	mock.ExpectExec(`INSERT INTO ledger_entries`).
		WithArgs(userID, model.DenomPaid, int64(500), model.TxRefund, int64(2000), meta).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	newBal, err := r.Credit(ctx, userID, model.DenomPaid, 500, model.TxRefund, meta)
	require.NoError(t, err)
	require.Equal(t, int64(2000), newBal)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_GetBalances(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewLedgerRepo(db)

	userID := uuid.Must(uuid.NewV4())
	now := time.Now()

	mock.ExpectQuery(`SELECT denomination, amount, updated_at`).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows([]string{"denomination", "amount", "updated_at"}).
			AddRow(model.DenomFree, int64(120), now).
			AddRow(model.DenomPaid, int64(990), now))

	out, err := r.GetBalances(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, model.DenomFree, out[0].Denomination)
	require.Equal(t, int64(990), out[1].Amount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_ListEntries(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewLedgerRepo(db)

	userID := uuid.Must(uuid.NewV4())
	now := time.Now()

	mock.ExpectQuery(`SELECT id, denomination, amount, type, balance_after, metadata, created_at`).
		WithArgs(userID, 100).
		WillReturnRows(pgxmock.NewRows([]string{"id", "denomination", "amount", "type", "balance_after", "metadata", "created_at"}).
			AddRow(int64(2), model.DenomPaid, int64(-500), model.TxPurchase, int64(500), model.Metadata{"item_key": "theme_neon_city"}, now).
			AddRow(int64(1), model.DenomPaid, int64(1000), model.TxAdminGrant, int64(1000), model.Metadata(nil), now))

	out, err := r.ListEntries(context.Background(), userID, 0)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, int64(-500), out[0].Amount)
	require.Equal(t, model.TxAdminGrant, out[1].Type)
	require.NoError(t, mock.ExpectationsWereMet())
}
