// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrUnknownItem indicates the item key is not present in the catalog.
	ErrUnknownItem = errors.New("unknown item")

	// ErrUnknownCategory indicates the category is not defined in the catalog.
	ErrUnknownCategory = errors.New("unknown category")

	// ErrAlreadyOwned indicates the user already holds a current copy of a
	// non-stacking item.
	ErrAlreadyOwned = errors.New("already owned")

	// ErrInsufficientFunds indicates the balance cannot cover the debit.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrNotOwned indicates the user does not own the referenced item.
	ErrNotOwned = errors.New("not owned")

	// ErrExpiredEntitlement indicates the ownership record has expired.
	ErrExpiredEntitlement = errors.New("expired entitlement")

	// ErrOwnershipWrite indicates the ownership write failed after a
	// successful debit; the coordinator compensates before surfacing it.
	ErrOwnershipWrite = errors.New("ownership write failed")

	// ErrLedgerFault indicates a transient ledger infrastructure failure.
	ErrLedgerFault = errors.New("ledger fault")

	// ErrReceiptConflict indicates the idempotency token was already used;
	// the coordinator replays the recorded outcome.
	ErrReceiptConflict = errors.New("receipt token already used")

	// ErrReceiptNotFound indicates no receipt exists for the token.
	ErrReceiptNotFound = errors.New("receipt not found")
)
