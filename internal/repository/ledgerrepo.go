// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/trollstown/coinstore/internal/model"
)

// LedgerRepository owns per-user coin balances and the append-only entry log.
// Every mutation appends an immutable ledger entry in addition to updating
// the cached balance, so the balance is always re-derivable.
type LedgerRepository interface {
	// Debit atomically subtracts amount from the user's balance and appends
	// a negative-delta entry. Returns the new balance.
	// Fails with errs.ErrInsufficientFunds when the balance cannot cover
	// the amount; a missing balance row reads as zero.
	Debit(ctx context.Context, userID uuid.UUID, denom model.Denomination, amount int64, txType model.TxType, meta model.Metadata) (int64, error)

	// Credit atomically adds amount to the user's balance and appends a
	// positive-delta entry. Used for earnings, grants, and saga compensation;
	// compensation credits must carry model.TxRefund.
	Credit(ctx context.Context, userID uuid.UUID, denom model.Denomination, amount int64, txType model.TxType, meta model.Metadata) (int64, error)

	// GetBalances returns the cached balances for all denominations the
	// user holds.
	GetBalances(ctx context.Context, userID uuid.UUID) ([]model.Balance, error)

	// ListEntries returns the user's ledger log, newest first, for audit
	// reconciliation.
	ListEntries(ctx context.Context, userID uuid.UUID, limit int) ([]model.LedgerEntry, error)
}
