package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/trollstown/coinstore/internal/catalog"
	"github.com/trollstown/coinstore/internal/errs"
	"github.com/trollstown/coinstore/internal/model"
	"github.com/trollstown/coinstore/internal/repository"
)

// Constraint names referenced for error mapping.
const (
	ownershipUniqueConstraint = "ownership_records_user_item_key"
	receiptPKConstraint       = "purchase_receipts_pkey"
)

// EntitlementRepo implements EntitlementRepository using PostgreSQL.
type EntitlementRepo struct{ db *DB }

// NewEntitlementRepo constructs an entitlement repository.
func NewEntitlementRepo(db *DB) *EntitlementRepo { return &EntitlementRepo{db: db} }

const ownershipColumns = `id, user_id, item_type, item_id, item_name, purchase_price, denomination,
       quantity, granted_minutes, is_active, purchased_at, expires_at, metadata`

func scanOwnership(row pgx.Row) (*model.Ownership, error) {
	var o model.Ownership
	err := row.Scan(
		&o.ID, &o.UserID, &o.ItemType, &o.ItemID, &o.ItemName, &o.PurchasePrice, &o.Denomination,
		&o.Quantity, &o.GrantedMinutes, &o.IsActive, &o.PurchasedAt, &o.ExpiresAt, &o.Metadata,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// CreateOwnership persists one purchase record, merging stacking re-purchases
// atomically and recording the idempotency receipt in the same transaction.
func (r *EntitlementRepo) CreateOwnership(ctx context.Context, w repository.OwnershipWrite) (res *model.Ownership, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
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

	o := w.Ownership
	if w.Stacking {
		// Atomic top-up: a concurrent re-purchase lands on the conflict arm
		// and increments rather than read-then-write.
		const ins = `
INSERT INTO ownership_records
  (id, user_id, item_type, item_id, item_name, purchase_price, denomination,
   quantity, granted_minutes, is_active, purchased_at, expires_at, metadata)
VALUES ($1,$2,$3,$4,$5,$6,$7,1,$8,$9,$10,$11,$12)
ON CONFLICT (user_id, item_type, item_id) DO UPDATE SET
  quantity = ownership_records.quantity + 1,
  granted_minutes = ownership_records.granted_minutes + EXCLUDED.granted_minutes,
  expires_at = GREATEST(ownership_records.expires_at, EXCLUDED.expires_at)
RETURNING ` + ownershipColumns
		res, err = scanOwnership(tx.QueryRow(ctx, ins,
			o.ID, o.UserID, o.ItemType, o.ItemID, o.ItemName, o.PurchasePrice, o.Denomination,
			w.GrantMinutes, o.IsActive, o.PurchasedAt, o.ExpiresAt, o.Metadata))
		if err != nil {
			return nil, err
		}
	} else {
		// An expired copy must not block a re-purchase. Replace it here in
		// the same transaction; the cascade drops any stale pointer with it.
		const delExpired = `
DELETE FROM ownership_records
WHERE user_id=$1 AND item_type=$2 AND item_id=$3
  AND expires_at IS NOT NULL AND expires_at <= $4`
		if _, err = tx.Exec(ctx, delExpired, o.UserID, o.ItemType, o.ItemID, o.PurchasedAt); err != nil {
			return nil, err
		}

		const ins = `
INSERT INTO ownership_records
  (id, user_id, item_type, item_id, item_name, purchase_price, denomination,
   quantity, granted_minutes, is_active, purchased_at, expires_at, metadata)
VALUES ($1,$2,$3,$4,$5,$6,$7,1,0,$8,$9,$10,$11)
RETURNING ` + ownershipColumns
		res, err = scanOwnership(tx.QueryRow(ctx, ins,
			o.ID, o.UserID, o.ItemType, o.ItemID, o.ItemName, o.PurchasePrice, o.Denomination,
			o.IsActive, o.PurchasedAt, o.ExpiresAt, o.Metadata))
		if err != nil {
			if uniqueViolation(err) == ownershipUniqueConstraint {
				return nil, errs.ErrAlreadyOwned
			}
			return nil, err
		}
	}

	if w.ReceiptToken != "" {
		const ins = `
INSERT INTO purchase_receipts (token, user_id, ownership_id, balance_after)
VALUES ($1,$2,$3,$4)`
		if _, err = tx.Exec(ctx, ins, w.ReceiptToken, o.UserID, res.ID, w.BalanceAfter); err != nil {
			if uniqueViolation(err) == receiptPKConstraint {
				return nil, errs.ErrReceiptConflict
			}
			return nil, err
		}
	}
	return res, nil
}

// GetOwnership loads a record by its (user, itemType, itemID) identity.
func (r *EntitlementRepo) GetOwnership(ctx context.Context, userID uuid.UUID, itemType, itemID string) (*model.Ownership, error) {
	const q = `
SELECT ` + ownershipColumns + `
FROM ownership_records
WHERE user_id=$1 AND item_type=$2 AND item_id=$3`
	o, err := scanOwnership(r.db.Pool.QueryRow(ctx, q, userID, itemType, itemID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotOwned
		}
		return nil, err
	}
	return o, nil
}

// GetOwnershipByID loads a record by primary key.
func (r *EntitlementRepo) GetOwnershipByID(ctx context.Context, id uuid.UUID) (*model.Ownership, error) {
	const q = `
SELECT ` + ownershipColumns + `
FROM ownership_records WHERE id=$1`
	o, err := scanOwnership(r.db.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotOwned
		}
		return nil, err
	}
	return o, nil
}

// HasCurrentOwnership reports whether an unexpired record exists for the item.
func (r *EntitlementRepo) HasCurrentOwnership(ctx context.Context, userID uuid.UUID, itemType, itemID string, now time.Time) (bool, error) {
	const q = `
SELECT EXISTS (
  SELECT 1 FROM ownership_records
  WHERE user_id=$1 AND item_type=$2 AND item_id=$3
    AND (expires_at IS NULL OR expires_at > $4)
)`
	var ok bool
	if err := r.db.Pool.QueryRow(ctx, q, userID, itemType, itemID, now).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// ListOwned returns the user's purchase records, newest first.
func (r *EntitlementRepo) ListOwned(ctx context.Context, userID uuid.UUID, itemType string, includeExpired bool, now time.Time) ([]model.Ownership, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + ownershipColumns + ` FROM ownership_records WHERE user_id=$1`)
	args := []any{userID}
	if itemType != "" {
		args = append(args, itemType)
		fmt.Fprintf(&sb, " AND item_type=$%d", len(args))
	}
	if !includeExpired {
		args = append(args, now)
		fmt.Fprintf(&sb, " AND (expires_at IS NULL OR expires_at > $%d)", len(args))
	}
	sb.WriteString(" ORDER BY purchased_at DESC")

	rows, err := r.db.Pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Ownership
	for rows.Next() {
		o, err := scanOwnership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// stampSQL builds the user_profiles upsert for a whitelisted stamp column.
func stampSQL(column string) (string, error) {
	if !catalog.ValidStamp(column) {
		return "", fmt.Errorf("profile stamp %q not whitelisted", column)
	}
	return fmt.Sprintf(`
INSERT INTO user_profiles (user_id, %[1]s, updated_at)
VALUES ($1,$2,now())
ON CONFLICT (user_id) DO UPDATE SET %[1]s=EXCLUDED.%[1]s, updated_at=now()`, column), nil
}

// Activate applies one activation in a single transaction. For exclusive
// categories the competing pointers and active flags are cleared first, so a
// reader in any other transaction sees either the old pointer or the new one.
func (r *EntitlementRepo) Activate(ctx context.Context, w repository.ActivationWrite) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
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

	if w.Exclusive {
		const clearFlags = `
UPDATE ownership_records SET is_active=false
WHERE user_id=$1 AND item_type=$2 AND item_id<>$3 AND is_active`
		if _, err = tx.Exec(ctx, clearFlags, w.UserID, w.Category, w.ItemID); err != nil {
			return err
		}
		const clearPtrs = `
DELETE FROM active_item_pointers
WHERE user_id=$1 AND category=$2 AND item_id<>$3`
		if _, err = tx.Exec(ctx, clearPtrs, w.UserID, w.Category, w.ItemID); err != nil {
			return err
		}
	}

	const upsertPtr = `
INSERT INTO active_item_pointers (user_id, category, item_id, ownership_id, activated_at)
VALUES ($1,$2,$3,$4,now())
ON CONFLICT (user_id, category, item_id)
DO UPDATE SET ownership_id=EXCLUDED.ownership_id, activated_at=now()`
	if _, err = tx.Exec(ctx, upsertPtr, w.UserID, w.Category, w.ItemID, w.OwnershipID); err != nil {
		return err
	}

	const setFlag = `UPDATE ownership_records SET is_active=true WHERE id=$1`
	if _, err = tx.Exec(ctx, setFlag, w.OwnershipID); err != nil {
		return err
	}

	if w.ProfileStamp != "" {
		var q string
		if q, err = stampSQL(w.ProfileStamp); err != nil {
			return err
		}
		if _, err = tx.Exec(ctx, q, w.UserID, w.StampExpiry); err != nil {
			return fmt.Errorf("profile stamp: %w", err)
		}
	}
	return nil
}

// Deactivate clears the pointer, the record's active flag, and the stamp.
func (r *EntitlementRepo) Deactivate(ctx context.Context, w repository.ActivationWrite) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
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

	const delPtr = `
DELETE FROM active_item_pointers
WHERE user_id=$1 AND category=$2 AND item_id=$3`
	if _, err = tx.Exec(ctx, delPtr, w.UserID, w.Category, w.ItemID); err != nil {
		return err
	}

	const clearFlag = `
UPDATE ownership_records SET is_active=false
WHERE user_id=$1 AND item_type=$2 AND item_id=$3`
	if _, err = tx.Exec(ctx, clearFlag, w.UserID, w.Category, w.ItemID); err != nil {
		return err
	}

	if w.ProfileStamp != "" {
		var q string
		if q, err = stampSQL(w.ProfileStamp); err != nil {
			return err
		}
		if _, err = tx.Exec(ctx, q, w.UserID, nil); err != nil {
			return fmt.Errorf("profile stamp: %w", err)
		}
	}
	return nil
}

// ListActive returns pointers whose records are unexpired at now. Expiry is
// evaluated against the ownership row here, never from the pointer alone.
func (r *EntitlementRepo) ListActive(ctx context.Context, userID uuid.UUID, now time.Time) ([]model.ActivePointer, error) {
	const q = `
SELECT p.category, p.item_id, p.ownership_id, p.activated_at
FROM active_item_pointers p
JOIN ownership_records o ON o.id = p.ownership_id
WHERE p.user_id=$1 AND (o.expires_at IS NULL OR o.expires_at > $2)
ORDER BY p.category, p.item_id`
	rows, err := r.db.Pool.Query(ctx, q, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ActivePointer
	for rows.Next() {
		p := model.ActivePointer{UserID: userID}
		if err := rows.Scan(&p.Category, &p.ItemID, &p.OwnershipID, &p.ActivatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetReceipt loads a purchase receipt by token.
func (r *EntitlementRepo) GetReceipt(ctx context.Context, token string, userID uuid.UUID) (*model.Receipt, error) {
	const q = `
SELECT token, user_id, ownership_id, balance_after, created_at
FROM purchase_receipts WHERE token=$1 AND user_id=$2`
	var rec model.Receipt
	err := r.db.Pool.QueryRow(ctx, q, token, userID).
		Scan(&rec.Token, &rec.UserID, &rec.OwnershipID, &rec.BalanceAfter, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrReceiptNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// SweepExpired performs eager-expiry housekeeping in one transaction.
func (r *EntitlementRepo) SweepExpired(ctx context.Context, now time.Time) (res model.SweepResult, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.SweepResult{}, err
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

	const clearPtrs = `
DELETE FROM active_item_pointers p
USING ownership_records o
WHERE p.ownership_id = o.id AND o.expires_at IS NOT NULL AND o.expires_at <= $1`
	tag, err := tx.Exec(ctx, clearPtrs, now)
	if err != nil {
		return model.SweepResult{}, err
	}
	res.ClearedPointers = tag.RowsAffected()

	const clearFlags = `
UPDATE ownership_records SET is_active=false
WHERE is_active AND expires_at IS NOT NULL AND expires_at <= $1`
	if _, err = tx.Exec(ctx, clearFlags, now); err != nil {
		return model.SweepResult{}, err
	}

	const del = `
DELETE FROM ownership_records o
WHERE o.expires_at IS NOT NULL AND o.expires_at <= $1 AND NOT o.is_active
  AND NOT EXISTS (SELECT 1 FROM active_item_pointers p WHERE p.ownership_id = o.id)`
	tag, err = tx.Exec(ctx, del, now)
	if err != nil {
		return model.SweepResult{}, err
	}
	res.DeletedRecords = tag.RowsAffected()

	// Receipts for swept records would replay into nothing; drop them so the
	// token reads as unused again.
	const delReceipts = `
DELETE FROM purchase_receipts r
WHERE NOT EXISTS (SELECT 1 FROM ownership_records o WHERE o.id = r.ownership_id)`
	if _, err = tx.Exec(ctx, delReceipts); err != nil {
		return model.SweepResult{}, err
	}
	return res, nil
}
