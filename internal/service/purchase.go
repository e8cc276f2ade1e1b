// Package service contains application services for purchases, activation,
// and expiry housekeeping.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/trollstown/coinstore/internal/catalog"
	"github.com/trollstown/coinstore/internal/errs"
	"github.com/trollstown/coinstore/internal/model"
	"github.com/trollstown/coinstore/internal/repository"
)

// PurchaseOptions carries caller-controlled knobs for one purchase.
type PurchaseOptions struct {
	// AutoActivate requests activation even when the catalog entry does
	// not auto-activate by itself.
	AutoActivate bool

	// IdempotencyToken, when set, makes replays of the same purchase
	// return the original outcome without re-debiting.
	IdempotencyToken string

	Metadata model.Metadata
}

// PurchaseOutcome is the result of a successful purchase.
type PurchaseOutcome struct {
	Ownership    *model.Ownership
	NewBalance   int64
	Denomination model.Denomination

	// Warning reports a non-fatal auto-activation failure. The purchase
	// itself succeeded; the user owns the item and may retry activation.
	Warning string

	// Replayed is set when an idempotency token matched a prior success.
	Replayed bool
}

// PurchaseService orchestrates the purchase saga and owns the read surface
// over balances and purchases.
type PurchaseService interface {
	// Purchase runs the debit -> ownership -> activation saga.
	Purchase(ctx context.Context, userID uuid.UUID, itemKey string, opts PurchaseOptions) (*PurchaseOutcome, error)
	// ListOwned returns the user's purchase records.
	ListOwned(ctx context.Context, userID uuid.UUID, itemType string, includeExpired bool) ([]model.Ownership, error)
	// Balances returns the user's cached balances per denomination.
	Balances(ctx context.Context, userID uuid.UUID) ([]model.Balance, error)
	// Grant credits coins outside the purchase path (admin grants, rewards).
	Grant(ctx context.Context, userID uuid.UUID, denom model.Denomination, amount int64, txType model.TxType, meta model.Metadata) (int64, error)
	// LedgerEntries returns the user's audit log, newest first.
	LedgerEntries(ctx context.Context, userID uuid.UUID, limit int) ([]model.LedgerEntry, error)
}

type PurchaseServiceImpl struct {
	cat        *catalog.Catalog
	ledger     repository.LedgerRepository
	ents       repository.EntitlementRepository
	activation ActivationService
	log        *zap.Logger

	debitRetries uint64
	debitBackoff time.Duration
	now          func() time.Time
}

// NewPurchaseService constructs the purchase coordinator.
func NewPurchaseService(
	cat *catalog.Catalog,
	ledger repository.LedgerRepository,
	ents repository.EntitlementRepository,
	activation ActivationService,
	log *zap.Logger,
) *PurchaseServiceImpl {
	return &PurchaseServiceImpl{
		cat:          cat,
		ledger:       ledger,
		ents:         ents,
		activation:   activation,
		log:          log,
		debitRetries: 3,
		debitBackoff: 50 * time.Millisecond,
		now:          time.Now,
	}
}

// Purchase coordinates one purchase as a saga:
//
//  1. catalog resolve (no ledger call for unknown items)
//  2. idempotency replay check
//  3. already-owned pre-check for non-stacking items
//  4. debit, retried with backoff while nothing is committed
//  5. ownership write; on failure the coordinator itself issues the
//     compensating refund credit before returning
//  6. optional activation; failure here is a warning, never a rollback
//
// Compensation is a coordinator-level guarantee. Call sites never refund.
func (s *PurchaseServiceImpl) Purchase(ctx context.Context, userID uuid.UUID, itemKey string, opts PurchaseOptions) (*PurchaseOutcome, error) {
	if userID == uuid.Nil {
		return nil, errors.New("validation: empty userID")
	}

	entry, err := s.cat.Resolve(itemKey)
	if err != nil {
		return nil, err
	}

	if opts.IdempotencyToken != "" {
		out, err := s.replay(ctx, userID, opts.IdempotencyToken)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, errs.ErrReceiptNotFound) {
			return nil, err
		}
	}

	now := s.now().UTC()

	if !entry.Stacking {
		owned, err := s.ents.HasCurrentOwnership(ctx, userID, entry.Category, entry.Key, now)
		if err != nil {
			return nil, fmt.Errorf("ownership pre-check: %w", err)
		}
		if owned {
			return nil, errs.ErrAlreadyOwned
		}
	}

	txType := catalog.TxTypeFor(entry.Category)
	debitMeta := model.Metadata{
		"item_key":  entry.Key,
		"item_name": entry.DisplayName,
		"category":  entry.Category,
	}
	for k, v := range opts.Metadata {
		debitMeta[k] = v
	}

	newBal, err := s.debitWithRetry(ctx, userID, entry, txType, debitMeta)
	if err != nil {
		return nil, err
	}

	ownership, err := s.writeOwnership(ctx, userID, entry, now, opts, newBal)
	if err != nil {
		// Nothing durable exists past the debit yet; compensate before
		// surfacing anything.
		s.compensate(ctx, userID, entry, opts.IdempotencyToken)

		if errors.Is(err, errs.ErrAlreadyOwned) {
			// Lost a race against a concurrent purchase of the same item.
			return nil, errs.ErrAlreadyOwned
		}
		if errors.Is(err, errs.ErrReceiptConflict) {
			// Lost a race against a concurrent replay of the same token;
			// the winner's outcome is the outcome.
			return s.replay(ctx, userID, opts.IdempotencyToken)
		}
		return nil, fmt.Errorf("%w: %v", errs.ErrOwnershipWrite, err)
	}

	out := &PurchaseOutcome{
		Ownership:    ownership,
		NewBalance:   newBal,
		Denomination: entry.PriceDenom,
	}

	if entry.AutoActivate || opts.AutoActivate {
		if _, aerr := s.activation.SetActive(ctx, userID, entry.Category, entry.Key, true); aerr != nil {
			s.log.Warn("auto-activation failed after purchase",
				zap.Stringer("user", userID),
				zap.String("item", entry.Key),
				zap.Error(aerr),
			)
			out.Warning = fmt.Sprintf("purchased but not activated: %v", aerr)
		} else {
			// Reload so the outcome reflects the activation flag.
			if cur, gerr := s.ents.GetOwnershipByID(ctx, ownership.ID); gerr == nil {
				out.Ownership = cur
			} else {
				out.Ownership.IsActive = true
			}
		}
	}
	return out, nil
}

// debitWithRetry retries infrastructure faults with fibonacci backoff.
// InsufficientFunds is permanent and surfaced verbatim. Retrying here is safe
// because nothing has been committed once Debit fails.
func (s *PurchaseServiceImpl) debitWithRetry(
	ctx context.Context, userID uuid.UUID, entry catalog.Entry,
	txType model.TxType, meta model.Metadata,
) (int64, error) {
	var newBal int64
	backoff := retry.WithMaxRetries(s.debitRetries, retry.NewFibonacci(s.debitBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		bal, derr := s.ledger.Debit(ctx, userID, entry.PriceDenom, entry.PriceAmount, txType, meta)
		if derr != nil {
			if errors.Is(derr, errs.ErrInsufficientFunds) {
				return derr
			}
			return retry.RetryableError(fmt.Errorf("%w: %v", errs.ErrLedgerFault, derr))
		}
		newBal = bal
		return nil
	})
	if err != nil {
		return 0, err
	}
	return newBal, nil
}

func (s *PurchaseServiceImpl) writeOwnership(
	ctx context.Context, userID uuid.UUID, entry catalog.Entry,
	now time.Time, opts PurchaseOptions, balanceAfter int64,
) (*model.Ownership, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}

	// Expiry is computed once at purchase time and never recomputed.
	var expiresAt *time.Time
	if !entry.Permanent() {
		t := now.Add(time.Duration(entry.DurationMinutes) * time.Minute)
		expiresAt = &t
	}

	meta := model.Metadata{}
	for k, v := range opts.Metadata {
		meta[k] = v
	}
	if !entry.Permanent() {
		meta["duration_minutes"] = entry.DurationMinutes
	}

	return s.ents.CreateOwnership(ctx, repository.OwnershipWrite{
		Ownership: model.Ownership{
			ID:            id,
			UserID:        userID,
			ItemType:      entry.Category,
			ItemID:        entry.Key,
			ItemName:      entry.DisplayName,
			PurchasePrice: entry.PriceAmount,
			Denomination:  entry.PriceDenom,
			PurchasedAt:   now,
			ExpiresAt:     expiresAt,
			Metadata:      meta,
		},
		Stacking:     entry.Stacking,
		GrantMinutes: entry.GrantMinutes,
		ReceiptToken: opts.IdempotencyToken,
		BalanceAfter: balanceAfter,
	})
}

// compensate credits back the exact debited amount, tagged as a refund so it
// never reads as organic earnings. A failed compensation is the one state the
// saga cannot repair; it is logged for audit reconciliation.
func (s *PurchaseServiceImpl) compensate(ctx context.Context, userID uuid.UUID, entry catalog.Entry, token string) {
	meta := model.Metadata{
		"item_key":       entry.Key,
		"reason":         "ownership_write_failed",
		"compensated_tx": string(catalog.TxTypeFor(entry.Category)),
	}
	if token != "" {
		meta["idempotency_token"] = token
	}
	if _, cerr := s.ledger.Credit(ctx, userID, entry.PriceDenom, entry.PriceAmount, model.TxRefund, meta); cerr != nil {
		s.log.Error("compensation credit failed; user paid for an item they do not own",
			zap.Stringer("user", userID),
			zap.String("item", entry.Key),
			zap.Int64("amount", entry.PriceAmount),
			zap.String("denomination", string(entry.PriceDenom)),
			zap.Error(cerr),
		)
	}
}

// replay returns the recorded outcome for an idempotency token.
func (s *PurchaseServiceImpl) replay(ctx context.Context, userID uuid.UUID, token string) (*PurchaseOutcome, error) {
	rec, err := s.ents.GetReceipt(ctx, token, userID)
	if err != nil {
		return nil, err
	}
	own, err := s.ents.GetOwnershipByID(ctx, rec.OwnershipID)
	if err != nil {
		if errors.Is(err, errs.ErrNotOwned) {
			// The recorded outcome expired and was swept; the token no
			// longer gates anything.
			return nil, errs.ErrReceiptNotFound
		}
		return nil, fmt.Errorf("receipt %s references missing ownership: %w", token, err)
	}
	return &PurchaseOutcome{
		Ownership:    own,
		NewBalance:   rec.BalanceAfter,
		Denomination: own.Denomination,
		Replayed:     true,
	}, nil
}

// ListOwned returns the user's purchase records, lazily filtering expired
// ones unless includeExpired.
func (s *PurchaseServiceImpl) ListOwned(ctx context.Context, userID uuid.UUID, itemType string, includeExpired bool) ([]model.Ownership, error) {
	if userID == uuid.Nil {
		return nil, errors.New("validation: empty userID")
	}
	return s.ents.ListOwned(ctx, userID, itemType, includeExpired, s.now().UTC())
}

// Balances returns the user's cached balances.
func (s *PurchaseServiceImpl) Balances(ctx context.Context, userID uuid.UUID) ([]model.Balance, error) {
	if userID == uuid.Nil {
		return nil, errors.New("validation: empty userID")
	}
	return s.ledger.GetBalances(ctx, userID)
}

// Grant credits coins via the explicit grant path (admin grant, reward).
// Purchases never enter through here.
func (s *PurchaseServiceImpl) Grant(ctx context.Context, userID uuid.UUID, denom model.Denomination, amount int64, txType model.TxType, meta model.Metadata) (int64, error) {
	if userID == uuid.Nil {
		return 0, errors.New("validation: empty userID")
	}
	if !denom.Valid() {
		return 0, fmt.Errorf("validation: bad denomination %q", denom)
	}
	if amount <= 0 {
		return 0, fmt.Errorf("validation: non-positive amount %d", amount)
	}
	if txType == "" {
		txType = model.TxAdminGrant
	}
	return s.ledger.Credit(ctx, userID, denom, amount, txType, meta)
}

// LedgerEntries returns the append-only audit log for reconciliation.
func (s *PurchaseServiceImpl) LedgerEntries(ctx context.Context, userID uuid.UUID, limit int) ([]model.LedgerEntry, error) {
	if userID == uuid.Nil {
		return nil, errors.New("validation: empty userID")
	}
	return s.ledger.ListEntries(ctx, userID, limit)
}
