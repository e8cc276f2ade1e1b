package service

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/trollstown/coinstore/internal/catalog"
	"github.com/trollstown/coinstore/internal/errs"
	"github.com/trollstown/coinstore/internal/model"
)

func newTestActivation(t *testing.T) (*ActivationServiceImpl, *fakeEnts) {
	t.Helper()
	cat, err := catalog.LoadDefault()
	require.NoError(t, err)
	ents := newFakeEnts()
	return NewActivationService(cat, ents), ents
}

func TestSetActive_ExclusiveReplacesPrevious(t *testing.T) {
	s, ents := newTestActivation(t)
	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())

	ents.seed(model.Ownership{
		ID: uuid.Must(uuid.NewV4()), UserID: userID,
		ItemType: "entrance_effect", ItemID: "effect_flame_burst",
	})
	ents.seed(model.Ownership{
		ID: uuid.Must(uuid.NewV4()), UserID: userID,
		ItemType: "entrance_effect", ItemID: "effect_money_shower",
	})

	out, err := s.SetActive(ctx, userID, "entrance_effect", "effect_flame_burst", true)
	require.NoError(t, err)
	require.True(t, out.Active)

	_, err = s.SetActive(ctx, userID, "entrance_effect", "effect_money_shower", true)
	require.NoError(t, err)

	active, err := s.ListActive(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, []string{"effect_money_shower"}, active["entrance_effect"])

	first, err := ents.GetOwnership(ctx, userID, "entrance_effect", "effect_flame_burst")
	require.NoError(t, err)
	require.False(t, first.IsActive)
}

func TestSetActive_AdditiveCategoryStacks(t *testing.T) {
	s, ents := newTestActivation(t)
	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())

	ents.seed(model.Ownership{
		ID: uuid.Must(uuid.NewV4()), UserID: userID,
		ItemType: "avatar_clothing", ItemID: "clothing_crown",
	})
	ents.seed(model.Ownership{
		ID: uuid.Must(uuid.NewV4()), UserID: userID,
		ItemType: "avatar_clothing", ItemID: "clothing_leather_jacket",
	})

	_, err := s.SetActive(ctx, userID, "avatar_clothing", "clothing_crown", true)
	require.NoError(t, err)
	_, err = s.SetActive(ctx, userID, "avatar_clothing", "clothing_leather_jacket", true)
	require.NoError(t, err)

	active, err := s.ListActive(ctx, userID)
	require.NoError(t, err)
	require.Len(t, active["avatar_clothing"], 2)
}

func TestSetActive_NotOwned(t *testing.T) {
	s, _ := newTestActivation(t)
	userID := uuid.Must(uuid.NewV4())

	_, err := s.SetActive(context.Background(), userID, "entrance_effect", "effect_flame_burst", true)
	require.ErrorIs(t, err, errs.ErrNotOwned)
}

func TestSetActive_Expired(t *testing.T) {
	s, ents := newTestActivation(t)
	userID := uuid.Must(uuid.NewV4())

	past := time.Now().Add(-time.Hour)
	ents.seed(model.Ownership{
		ID: uuid.Must(uuid.NewV4()), UserID: userID,
		ItemType: "perk", ItemID: "perk_ghost_mode",
		ExpiresAt: &past,
	})

	_, err := s.SetActive(context.Background(), userID, "perk", "perk_ghost_mode", true)
	require.ErrorIs(t, err, errs.ErrExpiredEntitlement)
}

func TestSetActive_UnknownCategory(t *testing.T) {
	s, _ := newTestActivation(t)
	userID := uuid.Must(uuid.NewV4())

	_, err := s.SetActive(context.Background(), userID, "nope", "x", true)
	require.ErrorIs(t, err, errs.ErrUnknownCategory)
}

func TestSetActive_DeactivateMissingIsNoop(t *testing.T) {
	s, _ := newTestActivation(t)
	userID := uuid.Must(uuid.NewV4())

	out, err := s.SetActive(context.Background(), userID, "entrance_effect", "effect_flame_burst", false)
	require.NoError(t, err)
	require.False(t, out.Active)
}

func TestSetActive_Deactivate(t *testing.T) {
	s, ents := newTestActivation(t)
	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())

	ents.seed(model.Ownership{
		ID: uuid.Must(uuid.NewV4()), UserID: userID,
		ItemType: "broadcast_theme", ItemID: "theme_neon_city",
	})

	_, err := s.SetActive(ctx, userID, "broadcast_theme", "theme_neon_city", true)
	require.NoError(t, err)

	out, err := s.SetActive(ctx, userID, "broadcast_theme", "theme_neon_city", false)
	require.NoError(t, err)
	require.False(t, out.Active)

	active, err := s.ListActive(ctx, userID)
	require.NoError(t, err)
	require.Empty(t, active["broadcast_theme"])
}

func TestListActive_DropsExpiredPointers(t *testing.T) {
	s, ents := newTestActivation(t)
	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())

	future := time.Now().Add(time.Hour)
	rec := ents.seed(model.Ownership{
		ID: uuid.Must(uuid.NewV4()), UserID: userID,
		ItemType: "username_glow", ItemID: "perk_rgb_username",
		ExpiresAt: &future,
	})

	_, err := s.SetActive(ctx, userID, "username_glow", "perk_rgb_username", true)
	require.NoError(t, err)

	active, err := s.ListActive(ctx, userID)
	require.NoError(t, err)
	require.Len(t, active["username_glow"], 1)

	// Once the record's expiry passes, the stale pointer stops reading
	// as active without any write.
	past := time.Now().Add(-time.Minute)
	rec.ExpiresAt = &past

	active, err = s.ListActive(ctx, userID)
	require.NoError(t, err)
	require.Empty(t, active["username_glow"])
}
