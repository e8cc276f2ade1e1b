package httpserver

import (
	"time"

	"github.com/trollstown/coinstore/internal/model"
	"github.com/trollstown/coinstore/internal/service"
)

// OwnershipDTO is the wire shape of one purchase record.
type OwnershipDTO struct {
	ID             string         `json:"id"`
	ItemType       string         `json:"item_type"`
	ItemID         string         `json:"item_id"`
	ItemName       string         `json:"item_name"`
	PurchasePrice  int64          `json:"purchase_price"`
	Denomination   string         `json:"denomination"`
	Quantity       int64          `json:"quantity"`
	GrantedMinutes int64          `json:"granted_minutes,omitempty"`
	IsActive       bool           `json:"is_active"`
	PurchasedAt    time.Time      `json:"purchased_at"`
	ExpiresAt      *time.Time     `json:"expires_at,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ToOwnershipDTO converts a domain record to its wire shape.
func ToOwnershipDTO(o *model.Ownership) *OwnershipDTO {
	if o == nil {
		return nil
	}
	return &OwnershipDTO{
		ID:             o.ID.String(),
		ItemType:       o.ItemType,
		ItemID:         o.ItemID,
		ItemName:       o.ItemName,
		PurchasePrice:  o.PurchasePrice,
		Denomination:   string(o.Denomination),
		Quantity:       o.Quantity,
		GrantedMinutes: o.GrantedMinutes,
		IsActive:       o.IsActive,
		PurchasedAt:    o.PurchasedAt,
		ExpiresAt:      o.ExpiresAt,
		Metadata:       o.Metadata,
	}
}

// ToOwnershipDTOs converts a slice of records.
func ToOwnershipDTOs(in []model.Ownership) []*OwnershipDTO {
	out := make([]*OwnershipDTO, 0, len(in))
	for i := range in {
		out = append(out, ToOwnershipDTO(&in[i]))
	}
	return out
}

// PurchaseResponse is the wire shape of a successful purchase outcome.
type PurchaseResponse struct {
	Balance      int64         `json:"balance"`
	Denomination string        `json:"denomination"`
	Ownership    *OwnershipDTO `json:"ownership"`
	Warning      string        `json:"warning,omitempty"`
	Replayed     bool          `json:"replayed,omitempty"`
}

// ToPurchaseResponse converts a purchase outcome.
func ToPurchaseResponse(out *service.PurchaseOutcome) PurchaseResponse {
	return PurchaseResponse{
		Balance:      out.NewBalance,
		Denomination: string(out.Denomination),
		Ownership:    ToOwnershipDTO(out.Ownership),
		Warning:      out.Warning,
		Replayed:     out.Replayed,
	}
}

// LedgerEntryDTO is the wire shape of one audit log row.
type LedgerEntryDTO struct {
	ID           int64          `json:"id"`
	Denomination string         `json:"denomination"`
	Amount       int64          `json:"amount"`
	Type         string         `json:"type"`
	BalanceAfter int64          `json:"balance_after"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// ToLedgerEntryDTOs converts ledger entries.
func ToLedgerEntryDTOs(in []model.LedgerEntry) []LedgerEntryDTO {
	out := make([]LedgerEntryDTO, 0, len(in))
	for _, e := range in {
		out = append(out, LedgerEntryDTO{
			ID:           e.ID,
			Denomination: string(e.Denomination),
			Amount:       e.Amount,
			Type:         string(e.Type),
			BalanceAfter: e.BalanceAfter,
			Metadata:     e.Metadata,
			CreatedAt:    e.CreatedAt,
		})
	}
	return out
}

// ToBalancesDTO converts balances into a denomination -> amount map.
func ToBalancesDTO(in []model.Balance) map[string]int64 {
	out := make(map[string]int64, len(in))
	for _, b := range in {
		out[string(b.Denomination)] = b.Amount
	}
	return out
}
