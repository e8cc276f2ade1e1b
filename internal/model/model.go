// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Denomination distinguishes the two coin pools a user holds.
type Denomination string

// Coin denominations.
const (
	DenomFree Denomination = "free"
	DenomPaid Denomination = "paid"
)

// Valid reports whether the denomination is one of the known pools.
func (d Denomination) Valid() bool {
	return d == DenomFree || d == DenomPaid
}

// TxType tags every ledger mutation for audit.
type TxType string

// Ledger transaction types. Compensation credits are always tagged
// TxRefund so they are distinguishable from organic earnings.
const (
	TxPurchase          TxType = "purchase"
	TxPerkPurchase      TxType = "perk_purchase"
	TxEntranceEffect    TxType = "entrance_effect"
	TxInsurancePurchase TxType = "insurance_purchase"
	TxRefund            TxType = "refund"
	TxAdminGrant        TxType = "admin_grant"
	TxReward            TxType = "reward"
)

// Metadata is free-form audit payload attached to ledger entries and
// ownership records. Stored as JSONB.
type Metadata map[string]any

// Balance is the cached amount for one (user, denomination) pair.
// It is always re-derivable from the ledger entry log.
type Balance struct {
	UserID       uuid.UUID
	Denomination Denomination
	Amount       int64 // never negative
	UpdatedAt    time.Time
}

// LedgerEntry is one immutable row of the append-only coin log.
type LedgerEntry struct {
	ID           int64
	UserID       uuid.UUID
	Denomination Denomination
	Amount       int64 // signed delta: negative for debits
	Type         TxType
	BalanceAfter int64
	Metadata     Metadata
	CreatedAt    time.Time
}

// Ownership is the durable record that a user paid for an item. It is
// distinct from activation state, which is a mutable layer on top.
type Ownership struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	ItemType       string // catalog category name
	ItemID         string // catalog item key
	ItemName       string
	PurchasePrice  int64
	Denomination   Denomination
	Quantity       int64 // >1 only for stacking items (minute packs)
	GrantedMinutes int64 // accumulated call minutes for minute packs
	IsActive       bool
	PurchasedAt    time.Time
	ExpiresAt      *time.Time // nil = permanent
	Metadata       Metadata
}

// Expired reports whether the record has an expiry in the past. Callers
// must use this (or the equivalent SQL predicate) at read time and never
// trust IsActive alone once ExpiresAt has passed.
func (o *Ownership) Expired(now time.Time) bool {
	return o.ExpiresAt != nil && !o.ExpiresAt.After(now)
}

// ActivePointer marks an ownership record as currently in effect.
type ActivePointer struct {
	UserID      uuid.UUID
	Category    string
	ItemID      string
	OwnershipID uuid.UUID
	ActivatedAt time.Time
}

// Receipt records the outcome of a token-bearing purchase so replays
// return the original result without re-debiting.
type Receipt struct {
	Token        string
	UserID       uuid.UUID
	OwnershipID  uuid.UUID
	BalanceAfter int64
	CreatedAt    time.Time
}

// SweepResult reports eager-expiry housekeeping counts.
type SweepResult struct {
	DeletedRecords  int64
	ClearedPointers int64
}
