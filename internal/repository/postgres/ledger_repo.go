package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/trollstown/coinstore/internal/errs"
	"github.com/trollstown/coinstore/internal/model"
)

// LedgerRepo implements LedgerRepository using PostgreSQL.
//
// Per-user serialization relies on the balance row lock taken by the
// conditional UPDATE: two concurrent debits for the same (user, denomination)
// are ordered by the database, so they can never both approve themselves
// against the same pre-debit balance.
type LedgerRepo struct{ db *DB }

// NewLedgerRepo constructs a ledger repository.
func NewLedgerRepo(db *DB) *LedgerRepo { return &LedgerRepo{db: db} }

const insertEntry = `
INSERT INTO ledger_entries (user_id, denomination, amount, type, balance_after, metadata)
VALUES ($1,$2,$3,$4,$5,$6)`

// Debit subtracts amount from the cached balance and appends a negative-delta
// entry in one transaction.
func (r *LedgerRepo) Debit(
	ctx context.Context, userID uuid.UUID, denom model.Denomination,
	amount int64, txType model.TxType, meta model.Metadata,
) (newBal int64, err error) {
	if amount <= 0 {
		return 0, fmt.Errorf("debit: non-positive amount %d", amount)
	}

	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	// The amount >= $3 guard keeps the balance non-negative; a missing row
	// reads as a zero balance.
	const upd = `
UPDATE balances SET amount = amount - $3, updated_at = now()
WHERE user_id=$1 AND denomination=$2 AND amount >= $3
RETURNING amount`
	if err = tx.QueryRow(ctx, upd, userID, denom, amount).Scan(&newBal); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, errs.ErrInsufficientFunds
		}
		return 0, err
	}

	if _, err = tx.Exec(ctx, insertEntry, userID, denom, -amount, txType, newBal, meta); err != nil {
		return 0, err
	}
	return newBal, nil
}

// Credit adds amount to the cached balance (creating the row on first credit)
// and appends a positive-delta entry in one transaction.
func (r *LedgerRepo) Credit(
	ctx context.Context, userID uuid.UUID, denom model.Denomination,
	amount int64, txType model.TxType, meta model.Metadata,
) (newBal int64, err error) {
	if amount <= 0 {
		return 0, fmt.Errorf("credit: non-positive amount %d", amount)
	}

	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	const upd = `
INSERT INTO balances (user_id, denomination, amount)
VALUES ($1,$2,$3)
ON CONFLICT (user_id, denomination)
DO UPDATE SET amount = balances.amount + EXCLUDED.amount, updated_at = now()
RETURNING amount`
	if err = tx.QueryRow(ctx, upd, userID, denom, amount).Scan(&newBal); err != nil {
		return 0, err
	}

	if _, err = tx.Exec(ctx, insertEntry, userID, denom, amount, txType, newBal, meta); err != nil {
		return 0, err
	}
	return newBal, nil
}

// GetBalances returns the user's cached balances.
func (r *LedgerRepo) GetBalances(ctx context.Context, userID uuid.UUID) ([]model.Balance, error) {
	const q = `
SELECT denomination, amount, updated_at
FROM balances WHERE user_id=$1
ORDER BY denomination`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Balance
	for rows.Next() {
		b := model.Balance{UserID: userID}
		if err := rows.Scan(&b.Denomination, &b.Amount, &b.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListEntries returns the user's ledger log, newest first.
func (r *LedgerRepo) ListEntries(ctx context.Context, userID uuid.UUID, limit int) ([]model.LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT id, denomination, amount, type, balance_after, metadata, created_at
FROM ledger_entries WHERE user_id=$1
ORDER BY id DESC
LIMIT $2`
	rows, err := r.db.Pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LedgerEntry
	for rows.Next() {
		e := model.LedgerEntry{UserID: userID}
		if err := rows.Scan(&e.ID, &e.Denomination, &e.Amount, &e.Type, &e.BalanceAfter, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
