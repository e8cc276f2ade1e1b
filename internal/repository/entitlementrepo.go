package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/trollstown/coinstore/internal/model"
)

// OwnershipWrite carries everything the store needs to persist one purchase.
type OwnershipWrite struct {
	Ownership model.Ownership

	// Stacking selects top-up semantics: a conflicting re-purchase
	// atomically increments quantity and granted minutes instead of
	// failing the unique index.
	Stacking     bool
	GrantMinutes int64

	// ReceiptToken, when non-empty, is recorded in the same transaction so
	// replays of the same token can be detected and short-circuited.
	ReceiptToken string
	BalanceAfter int64
}

// ActivationWrite describes one activation/deactivation against the store.
type ActivationWrite struct {
	UserID      uuid.UUID
	Category    string
	ItemID      string
	OwnershipID uuid.UUID

	// Exclusive selects replace-not-add semantics: other pointers in the
	// category are cleared in the same transaction.
	Exclusive bool

	// ProfileStamp, when non-empty, names the user_profiles column that
	// mirrors the active item's expiry. Must be one of the catalog's
	// whitelisted stamp columns.
	ProfileStamp string
	StampExpiry  *time.Time
}

// EntitlementRepository holds ownership records, active-item pointers,
// purchase receipts, and the denormalized profile stamps.
type EntitlementRepository interface {
	// CreateOwnership persists a purchase record (and its receipt, if any)
	// in one transaction. Returns the stored record, which for stacking
	// items reflects the merged quantity, minutes, and extended expiry.
	// A non-stacking purchase replaces an expired copy in the same
	// transaction; only an unexpired duplicate fails with
	// errs.ErrAlreadyOwned. errs.ErrReceiptConflict reports a token that
	// was already used.
	CreateOwnership(ctx context.Context, w OwnershipWrite) (*model.Ownership, error)

	// GetOwnership loads a record by its (user, itemType, itemID) identity.
	// Fails with errs.ErrNotOwned when absent.
	GetOwnership(ctx context.Context, userID uuid.UUID, itemType, itemID string) (*model.Ownership, error)

	// HasCurrentOwnership reports whether the user holds an unexpired
	// record for the item.
	HasCurrentOwnership(ctx context.Context, userID uuid.UUID, itemType, itemID string, now time.Time) (bool, error)

	// ListOwned returns the user's purchase records, optionally filtered by
	// item type. Expired records are included only when includeExpired.
	ListOwned(ctx context.Context, userID uuid.UUID, itemType string, includeExpired bool, now time.Time) ([]model.Ownership, error)

	// Activate applies one activation atomically: for exclusive categories
	// it clears competing pointers and their records' active flags, then
	// upserts the pointer, marks the record active, and writes the profile
	// stamp when the category carries one. No intermediate state where two
	// exclusive items both read active is observable.
	Activate(ctx context.Context, w ActivationWrite) error

	// Deactivate clears the pointer, the record's active flag, and the
	// profile stamp. Clearing an absent pointer is a no-op success.
	Deactivate(ctx context.Context, w ActivationWrite) error

	// ListActive returns pointers whose ownership records are unexpired at
	// now. Expiry is evaluated here, never from a cached flag alone.
	ListActive(ctx context.Context, userID uuid.UUID, now time.Time) ([]model.ActivePointer, error)

	// GetReceipt loads a purchase receipt by token.
	// Fails with errs.ErrNotFound-style pgx.ErrNoRows mapping via
	// errs.ErrReceiptNotFound when absent.
	GetReceipt(ctx context.Context, token string, userID uuid.UUID) (*model.Receipt, error)

	// GetOwnershipByID loads a record by primary key.
	GetOwnershipByID(ctx context.Context, id uuid.UUID) (*model.Ownership, error)

	// SweepExpired deletes records that are both expired and inactive,
	// clears pointers referencing expired records (flipping their flags),
	// and drops receipts left without a record.
	// Advisory housekeeping only; lazy checks keep reads correct without it.
	SweepExpired(ctx context.Context, now time.Time) (model.SweepResult, error)
}
