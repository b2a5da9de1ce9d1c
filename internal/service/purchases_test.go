package service

import (
	"context"
	"testing"
	"time"

	"tournament-payments/internal/models"
	"tournament-payments/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePurchase_DefaultsToItemValue(t *testing.T) {
	env := newTestEnv(t)
	tm := env.tournament(t, false, false)
	b := env.bowler(t, tm.ID, "fay")
	banquet := env.item(t, tm.ID, models.CategoryBanquet, models.DeterminationMultiUse, models.RefinementMultiUse, "35", nil)
	ctx := context.Background()

	var p *models.Purchase
	err := env.store.WithTx(ctx, func(repo *store.Repo) error {
		var err error
		p, err = env.purchases.CreatePurchase(ctx, repo, b, banquet, nil)
		return err
	})
	require.NoError(t, err)

	assert.True(t, dec("35").Equal(p.Amount))
	assert.Equal(t, models.PurchaseUnpaid, p.State())

	// later catalog edits do not touch existing purchases
	banquet.Value = dec("40")
	require.NoError(t, env.catalog.UpdateItem(ctx, banquet))
	assert.True(t, dec("35").Equal(env.purchase(t, p.ID).Amount))
}

func TestCreatePurchase_OtherTournamentItem(t *testing.T) {
	env := newTestEnv(t)
	tm := env.tournament(t, false, false)
	other := env.tournament(t, false, false)
	b := env.bowler(t, tm.ID, "gil")
	item := env.item(t, other.ID, models.CategoryRaffle, models.DeterminationMultiUse, "", "5", nil)
	ctx := context.Background()

	err := env.store.WithTx(ctx, func(repo *store.Repo) error {
		_, err := env.purchases.CreatePurchase(ctx, repo, b, item, nil)
		return err
	})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCreatePurchase_SingleUseAlreadyOwned(t *testing.T) {
	env := newTestEnv(t)
	tm := env.tournament(t, false, false)
	b := env.bowler(t, tm.ID, "hal")
	shirt := env.item(t, tm.ID, models.CategoryProduct, models.DeterminationSingleUse, models.RefinementSingleUse, "20", nil)
	ctx := context.Background()

	first := env.charge(t, b, shirt, models.SourcePurchase)
	_, err := env.purchases.MarkPaidManually(ctx, first.ID, "cash-1", "")
	require.NoError(t, err)

	_, _, err = env.charges.Execute(ctx, models.AddPurchasableItemJob{
		BowlerID: b.ID,
		ItemID:   shirt.ID,
		Source:   models.SourcePurchase,
	})

	var violation *models.SingleUseViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, b.ID, violation.BowlerID)
	assert.Equal(t, shirt.ID, violation.ItemID)

	purchases, err := env.store.PurchasesForBowler(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, purchases, 1)
}

func TestCreatePurchase_UniqueIndexBackstop(t *testing.T) {
	env := newTestEnv(t)
	tm := env.tournament(t, false, false)
	b := env.bowler(t, tm.ID, "ida")
	fee := env.item(t, tm.ID, models.CategoryLedger, models.DeterminationEntryFee, "", "117", nil)
	ctx := context.Background()

	env.charge(t, b, fee, models.SourceRegistration)

	// bypass the existence check to hit the index directly
	err := env.store.WithTx(ctx, func(repo *store.Repo) error {
		return repo.CreatePurchase(ctx, &models.Purchase{
			BowlerID:          b.ID,
			PurchasableItemID: fee.ID,
			Identifier:        "dup",
			Amount:            dec("117"),
		}, true)
	})
	assert.ErrorIs(t, err, store.ErrUniqueViolation)
}

func TestMarkPaid_SecondCallLeavesPaidAt(t *testing.T) {
	env := newTestEnv(t)
	tm := env.tournament(t, false, false)
	b := env.bowler(t, tm.ID, "jo")
	fee := env.item(t, tm.ID, models.CategoryLedger, models.DeterminationEntryFee, "", "117", nil)
	ctx := context.Background()

	p := env.charge(t, b, fee, models.SourceRegistration)
	firstPaid := testNow.Add(-time.Hour)

	err := env.store.WithTx(ctx, func(repo *store.Repo) error {
		return env.purchases.MarkPaid(ctx, repo, p, firstPaid, nil)
	})
	require.NoError(t, err)

	again := env.purchase(t, p.ID)
	err = env.store.WithTx(ctx, func(repo *store.Repo) error {
		return env.purchases.MarkPaid(ctx, repo, again, testNow, nil)
	})
	assert.ErrorIs(t, err, models.ErrAlreadyTerminal)

	stored := env.purchase(t, p.ID)
	require.NotNil(t, stored.PaidAt)
	assert.True(t, stored.PaidAt.Equal(firstPaid))
	assert.Nil(t, stored.VoidedAt)
}

func TestMarkPaid_StaleCopyDetectsConcurrentVoid(t *testing.T) {
	env := newTestEnv(t)
	tm := env.tournament(t, false, false)
	b := env.bowler(t, tm.ID, "kai")
	fee := env.item(t, tm.ID, models.CategoryLedger, models.DeterminationEntryFee, "", "117", nil)
	ctx := context.Background()

	p := env.charge(t, b, fee, models.SourceRegistration)
	stale := *p

	_, err := env.voids.Execute(ctx, models.VoidPurchaseJob{PurchaseID: p.ID, Reason: "withdrew"})
	require.NoError(t, err)

	err = env.store.WithTx(ctx, func(repo *store.Repo) error {
		return env.purchases.MarkPaid(ctx, repo, &stale, testNow, nil)
	})

	var terminal *models.AlreadyTerminalError
	require.ErrorAs(t, err, &terminal)
	assert.Equal(t, string(models.PurchaseVoided), terminal.State)
	assert.Nil(t, env.purchase(t, p.ID).PaidAt)
}

func TestMarkPaidManually_RecordsManualCredit(t *testing.T) {
	env := newTestEnv(t)
	tm := env.tournament(t, false, false)
	b := env.bowler(t, tm.ID, "lee")
	fee := env.item(t, tm.ID, models.CategoryLedger, models.DeterminationEntryFee, "", "117", nil)
	ctx := context.Background()

	p := env.charge(t, b, fee, models.SourceRegistration)

	paid, err := env.purchases.MarkPaidManually(ctx, p.ID, "check-1042", "paid at the desk")
	require.NoError(t, err)
	assert.Equal(t, models.PurchasePaid, paid.State())

	entries := env.entries(t, b.ID)
	require.Len(t, entries, 2)
	assert.Equal(t, models.SourceManual, entries[1].Source)
	assert.Equal(t, "check-1042", entries[1].Identifier)
	assert.True(t, dec("117").Equal(entries[1].Credit))

	balance, err := env.ledger.Balance(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, balance.AmountDue.IsZero())
	assert.True(t, balance.AmountPaid.IsZero(), "manual credits are not provider payments")

	_, err = env.purchases.MarkPaidManually(ctx, p.ID, "check-1043", "")
	assert.ErrorIs(t, err, models.ErrAlreadyTerminal)
	assert.Len(t, env.entries(t, b.ID), 2)
}
