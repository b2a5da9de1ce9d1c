package service

import (
	"context"
	"testing"

	"tournament-payments/internal/models"
	"tournament-payments/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogAddItem_OneEnabledLedgerItemPerDetermination(t *testing.T) {
	env := newTestEnv(t)
	tm := env.tournament(t, false, false)
	ctx := context.Background()

	first := env.item(t, tm.ID, models.CategoryLedger, models.DeterminationEntryFee, "", "117", nil)
	assert.NotEmpty(t, first.Identifier)

	err := env.catalog.AddItem(ctx, &models.PurchasableItem{
		TournamentID:  tm.ID,
		Name:          "second fee",
		Category:      models.CategoryLedger,
		Determination: models.DeterminationEntryFee,
		Value:         dec("100"),
		Enabled:       true,
	})
	assert.ErrorIs(t, err, models.ErrCatalogConflict)

	// disabled items and event linked fees do not conflict
	require.NoError(t, env.catalog.AddItem(ctx, &models.PurchasableItem{
		TournamentID:  tm.ID,
		Name:          "old fee",
		Category:      models.CategoryLedger,
		Determination: models.DeterminationEntryFee,
		Value:         dec("90"),
	}))
	require.NoError(t, env.catalog.AddItem(ctx, &models.PurchasableItem{
		TournamentID:  tm.ID,
		Name:          "doubles fee",
		Category:      models.CategoryLedger,
		Determination: models.DeterminationEntryFee,
		Refinement:    models.RefinementEventLinked,
		Value:         dec("40"),
		Enabled:       true,
	}))

	// other tournaments are independent
	other := env.tournament(t, false, false)
	env.item(t, other.ID, models.CategoryLedger, models.DeterminationEntryFee, "", "80", nil)
}

func TestCatalogAddItem_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	err := env.catalog.AddItem(ctx, &models.PurchasableItem{
		TournamentID: 1,
		Category:     models.CategoryRaffle,
		Value:        dec("-5"),
	})
	assert.ErrorIs(t, err, models.ErrInvalidAmount)

	err = env.catalog.AddItem(ctx, &models.PurchasableItem{
		TournamentID: 404,
		Category:     models.CategoryRaffle,
		Value:        dec("5"),
	})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCatalogUpdateItem_ReenableConflicts(t *testing.T) {
	env := newTestEnv(t)
	tm := env.tournament(t, false, false)
	ctx := context.Background()

	current := env.item(t, tm.ID, models.CategoryLedger, models.DeterminationLateFee, "", "20", nil)
	retired := &models.PurchasableItem{
		TournamentID:  tm.ID,
		Name:          "old late fee",
		Category:      models.CategoryLedger,
		Determination: models.DeterminationLateFee,
		Value:         dec("15"),
	}
	require.NoError(t, env.catalog.AddItem(ctx, retired))

	retired.Enabled = true
	assert.ErrorIs(t, env.catalog.UpdateItem(ctx, retired), models.ErrCatalogConflict)

	current.Enabled = false
	require.NoError(t, env.catalog.UpdateItem(ctx, current))
	require.NoError(t, env.catalog.UpdateItem(ctx, retired))

	var found *models.PurchasableItem
	err := env.store.WithTx(ctx, func(repo *store.Repo) error {
		var err error
		found, err = env.catalog.LedgerItem(ctx, repo, tm.ID, models.DeterminationLateFee)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, retired.ID, found.ID)
	assert.True(t, dec("15").Equal(found.Value))
}

func TestCatalogLedgerItem_Missing(t *testing.T) {
	env := newTestEnv(t)
	tm := env.tournament(t, false, false)

	_, err := env.catalog.LedgerItem(context.Background(), env.store.Repo, tm.ID, models.DeterminationEarlyDiscount)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCatalogMapProviderProduct(t *testing.T) {
	env := newTestEnv(t)
	tm := env.tournament(t, false, false)
	banquet := env.item(t, tm.ID, models.CategoryBanquet, models.DeterminationMultiUse, models.RefinementMultiUse, "30", nil)
	ctx := context.Background()

	sp, err := env.catalog.MapProviderProduct(ctx, banquet.ID, "price_1", "prod_1")
	require.NoError(t, err)
	assert.NotZero(t, sp.ID)

	item, err := env.catalog.ItemForProviderPrice(ctx, env.store.Repo, "price_1", "prod_1")
	require.NoError(t, err)
	assert.Equal(t, banquet.ID, item.ID)

	_, err = env.catalog.ItemForProviderPrice(ctx, env.store.Repo, "price_1", "prod_other")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = env.catalog.MapProviderProduct(ctx, 404, "price_2", "prod_2")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
