package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/trollstown/coinstore/internal/catalog"
	"github.com/trollstown/coinstore/internal/errs"
	"github.com/trollstown/coinstore/internal/repository"
)

// ActivationOutcome reports the resulting activation state.
type ActivationOutcome struct {
	Category  string
	ItemID    string
	Active    bool
	ExpiresAt *time.Time
}

// ActivationService enforces category exclusivity when turning owned
// entitlements on and off.
type ActivationService interface {
	// SetActive activates or deactivates an owned item. Activating in an
	// exclusive category replaces whatever was active before; deactivating
	// a missing or expired item is a no-op success.
	SetActive(ctx context.Context, userID uuid.UUID, category, itemID string, active bool) (*ActivationOutcome, error)

	// ListActive returns the currently effective items per category,
	// evaluated lazily against expiry.
	ListActive(ctx context.Context, userID uuid.UUID) (map[string][]string, error)
}

type ActivationServiceImpl struct {
	cat  *catalog.Catalog
	ents repository.EntitlementRepository
	now  func() time.Time
}

// NewActivationService constructs the activation manager.
func NewActivationService(cat *catalog.Catalog, ents repository.EntitlementRepository) *ActivationServiceImpl {
	return &ActivationServiceImpl{cat: cat, ents: ents, now: time.Now}
}

// SetActive validates ownership and expiry, then applies the pointer write.
// The store performs the whole change (pointer, flags, profile stamp) in one
// transaction, so two items in an exclusive category never both read active.
func (s *ActivationServiceImpl) SetActive(ctx context.Context, userID uuid.UUID, category, itemID string, active bool) (*ActivationOutcome, error) {
	if userID == uuid.Nil {
		return nil, errors.New("validation: empty userID")
	}
	if itemID == "" {
		return nil, errors.New("validation: empty itemID")
	}
	cat, err := s.cat.ResolveCategory(category)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	own, err := s.ents.GetOwnership(ctx, userID, category, itemID)

	if !active {
		// Deactivating something absent or expired is already the desired
		// state, not an error.
		if err != nil {
			if errors.Is(err, errs.ErrNotOwned) {
				return &ActivationOutcome{Category: category, ItemID: itemID, Active: false}, nil
			}
			return nil, err
		}
		w := repository.ActivationWrite{
			UserID:       userID,
			Category:     category,
			ItemID:       itemID,
			OwnershipID:  own.ID,
			ProfileStamp: cat.ProfileStamp,
		}
		if err := s.ents.Deactivate(ctx, w); err != nil {
			return nil, fmt.Errorf("deactivate %s/%s: %w", category, itemID, err)
		}
		return &ActivationOutcome{Category: category, ItemID: itemID, Active: false, ExpiresAt: own.ExpiresAt}, nil
	}

	if err != nil {
		return nil, err
	}
	if own.Expired(now) {
		return nil, fmt.Errorf("%s/%s: %w", category, itemID, errs.ErrExpiredEntitlement)
	}

	w := repository.ActivationWrite{
		UserID:       userID,
		Category:     category,
		ItemID:       itemID,
		OwnershipID:  own.ID,
		Exclusive:    cat.Exclusivity == catalog.Exclusive,
		ProfileStamp: cat.ProfileStamp,
		StampExpiry:  own.ExpiresAt,
	}
	if err := s.ents.Activate(ctx, w); err != nil {
		return nil, fmt.Errorf("activate %s/%s: %w", category, itemID, err)
	}
	return &ActivationOutcome{Category: category, ItemID: itemID, Active: true, ExpiresAt: own.ExpiresAt}, nil
}

// ListActive returns category -> active item keys, expiry evaluated at call
// time so a stale pointer never reads as active.
func (s *ActivationServiceImpl) ListActive(ctx context.Context, userID uuid.UUID) (map[string][]string, error) {
	if userID == uuid.Nil {
		return nil, errors.New("validation: empty userID")
	}
	ptrs, err := s.ents.ListActive(ctx, userID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(ptrs))
	for _, p := range ptrs {
		out[p.Category] = append(out[p.Category], p.ItemID)
	}
	return out, nil
}

var _ ActivationService = (*ActivationServiceImpl)(nil)
