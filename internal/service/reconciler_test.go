package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"tournament-payments/internal/models"
	"tournament-payments/internal/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type checkoutFixture struct {
	env      *testEnv
	bowler   *models.Bowler
	fee      *models.PurchasableItem
	banquet  *models.PurchasableItem
	purchase []*models.Purchase
	session  *models.ExternalPayment
}

// newCheckoutFixture registers a bowler owing an entry fee and two banquet
// tickets, with an open checkout session covering all three
func newCheckoutFixture(t *testing.T) *checkoutFixture {
	t.Helper()
	env := newTestEnv(t)
	ctx := context.Background()

	tm := env.tournament(t, false, false)
	b := env.bowler(t, tm.ID, "ada")
	fee := env.item(t, tm.ID, models.CategoryLedger, models.DeterminationEntryFee, "", "117", nil)
	banquet := env.item(t, tm.ID, models.CategoryBanquet, models.DeterminationMultiUse, models.RefinementMultiUse, "30", nil)

	_, err := env.catalog.MapProviderProduct(ctx, fee.ID, "price_fee", "prod_fee")
	require.NoError(t, err)
	_, err = env.catalog.MapProviderProduct(ctx, banquet.ID, "price_banquet", "prod_banquet")
	require.NoError(t, err)

	f := &checkoutFixture{env: env, bowler: b, fee: fee, banquet: banquet}
	f.purchase = append(f.purchase,
		env.charge(t, b, fee, models.SourceRegistration),
		env.charge(t, b, banquet, models.SourcePurchase),
		env.charge(t, b, banquet, models.SourcePurchase),
	)

	f.session = &models.ExternalPayment{BowlerID: b.ID, Identifier: "cs_test_1"}
	require.NoError(t, env.store.CreateExternalPayment(ctx, f.session))

	env.provider.PutSession(&provider.CheckoutSession{
		ID:              "cs_test_1",
		Status:          "complete",
		PaymentIntentID: "pi_test_1",
		AmountTotal:     dec("177"),
		LineItems: []provider.LineItem{
			{PriceID: "price_fee", ProductID: "prod_fee", Quantity: 1},
			{PriceID: "price_banquet", ProductID: "prod_banquet", Quantity: 2},
		},
	})
	return f
}

func (f *checkoutFixture) event(id, eventType string) models.StripeEventJob {
	f.env.provider.PutEvent(&provider.Event{
		ID:              id,
		Type:            eventType,
		Account:         "acct_test",
		Created:         testNow.Add(-10 * time.Minute),
		ObjectID:        "cs_test_1",
		PaymentIntentID: "pi_test_1",
	})
	return models.StripeEventJob{EventID: id, AccountID: "acct_test"}
}

func (f *checkoutFixture) stripeCredits(t *testing.T) []models.LedgerEntry {
	t.Helper()
	var out []models.LedgerEntry
	for _, e := range f.env.entries(t, f.bowler.ID) {
		if e.Source == models.SourceStripe {
			out = append(out, e)
		}
	}
	return out
}

func TestReconciler_CompletedCheckout(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()

	res, err := f.env.reconciler.HandleEvent(ctx, f.event("evt_1", provider.EventCheckoutCompleted))
	require.NoError(t, err)
	assert.Equal(t, models.TransitionApplied, res)

	paidAt := testNow.Add(-10 * time.Minute)
	for _, p := range f.purchase {
		stored := f.env.purchase(t, p.ID)
		require.Equal(t, models.PurchasePaid, stored.State())
		assert.True(t, stored.PaidAt.Equal(paidAt))
		require.NotNil(t, stored.ExternalPaymentID)
		assert.Equal(t, f.session.ID, *stored.ExternalPaymentID)
	}

	credits := f.stripeCredits(t)
	require.Len(t, credits, 1, "one credit per session, not per line item")
	assert.True(t, dec("177").Equal(credits[0].Credit))
	assert.Equal(t, "cs_test_1", credits[0].Identifier)

	session, err := f.env.store.GetExternalPaymentByIdentifier(ctx, "cs_test_1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, session.Status)
	require.NotNil(t, session.PaymentIntentID)
	assert.Equal(t, "pi_test_1", *session.PaymentIntentID)

	balance, err := f.env.ledger.Balance(ctx, f.bowler.ID)
	require.NoError(t, err)
	assert.True(t, balance.AmountDue.IsZero())
	assert.True(t, dec("177").Equal(balance.AmountPaid))

	assert.Equal(t, []string{
		models.NotificationPaymentReceipt,
		models.NotificationRegistrationConfirmation,
	}, f.env.notifier.types())
}

func TestReconciler_SameEventTwice(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	job := f.event("evt_1", provider.EventCheckoutCompleted)

	_, err := f.env.reconciler.HandleEvent(ctx, job)
	require.NoError(t, err)
	first := f.env.purchase(t, f.purchase[0].ID)

	res, err := f.env.reconciler.HandleEvent(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, models.TransitionNoop, res)

	assert.Len(t, f.stripeCredits(t), 1)
	assert.True(t, first.PaidAt.Equal(*f.env.purchase(t, f.purchase[0].ID).PaidAt))
	assert.Equal(t, 1, f.env.provider.Calls("cs_test_1"), "processed event is not fetched again")
	assert.Len(t, f.env.notifier.types(), 2)
}

func TestReconciler_SecondEventForCompletedSession(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()

	_, err := f.env.reconciler.HandleEvent(ctx, f.event("evt_1", provider.EventCheckoutCompleted))
	require.NoError(t, err)

	res, err := f.env.reconciler.HandleEvent(ctx, f.event("evt_2", provider.EventCheckoutAsyncPaymentSucceeded))
	require.NoError(t, err)
	assert.Equal(t, models.TransitionNoop, res)

	assert.Len(t, f.stripeCredits(t), 1)
}

func TestReconciler_QuantityMismatch(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()

	// one of the two banquet tickets was voided before payment
	_, err := f.env.voids.Execute(ctx, models.VoidPurchaseJob{PurchaseID: f.purchase[2].ID, Reason: "changed mind"})
	require.NoError(t, err)
	entriesBefore := f.env.entries(t, f.bowler.ID)

	_, err = f.env.reconciler.HandleEvent(ctx, f.event("evt_1", provider.EventCheckoutCompleted))

	var integrity *models.DataIntegrityError
	require.ErrorAs(t, err, &integrity)
	assert.Equal(t, f.banquet.ID, integrity.ItemID)
	assert.EqualValues(t, 2, integrity.Expected)
	assert.Equal(t, 1, integrity.Found)

	assert.Nil(t, f.env.purchase(t, f.purchase[0].ID).PaidAt, "fee stays unpaid")
	assert.Nil(t, f.env.purchase(t, f.purchase[1].ID).PaidAt)
	assert.Equal(t, entriesBefore, f.env.entries(t, f.bowler.ID))

	session, err := f.env.store.GetExternalPaymentByIdentifier(ctx, "cs_test_1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionOpen, session.Status)

	processed, err := f.env.store.IsEventProcessed(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, processed)
	assert.Empty(t, f.env.notifier.types())
}

func TestReconciler_ExpiredSessionIgnoresLateCompletion(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()

	res, err := f.env.reconciler.HandleEvent(ctx, f.event("evt_exp", provider.EventCheckoutExpired))
	require.NoError(t, err)
	assert.Equal(t, models.TransitionApplied, res)

	session, err := f.env.store.GetExternalPaymentByIdentifier(ctx, "cs_test_1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionExpired, session.Status)

	res, err = f.env.reconciler.HandleEvent(ctx, f.event("evt_late", provider.EventCheckoutCompleted))
	require.NoError(t, err)
	assert.Equal(t, models.TransitionNoop, res)

	assert.Empty(t, f.stripeCredits(t))
	assert.Nil(t, f.env.purchase(t, f.purchase[0].ID).PaidAt)
}

func TestReconciler_RefundExpiresOpenSession(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()

	intent := "pi_test_1"
	ok, err := f.env.store.TransitionExternalPayment(ctx, f.session.ID, models.SessionOpen, &intent)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := f.env.reconciler.HandleEvent(ctx, f.event("evt_refund", provider.EventChargeRefunded))
	require.NoError(t, err)
	assert.Equal(t, models.TransitionApplied, res)

	session, err := f.env.store.GetExternalPaymentByIdentifier(ctx, "cs_test_1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionExpired, session.Status)
}

func TestReconciler_ProviderFailure(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	job := f.event("evt_1", provider.EventCheckoutCompleted)
	f.env.provider.FailOn("cs_test_1", errors.New("timeout"))

	_, err := f.env.reconciler.HandleEvent(ctx, job)
	assert.ErrorIs(t, err, models.ErrProviderCommunication)

	assert.Nil(t, f.env.purchase(t, f.purchase[0].ID).PaidAt)
	assert.Empty(t, f.stripeCredits(t))

	envelope, err := models.NewJob(models.JobTypeStripeEvent, job)
	require.NoError(t, err)
	assert.ErrorIs(t, f.env.runner.Run(ctx, envelope), models.ErrProviderCommunication)
}

func TestReconciler_UnknownSession(t *testing.T) {
	f := newCheckoutFixture(t)
	f.env.provider.PutEvent(&provider.Event{
		ID:       "evt_other",
		Type:     provider.EventCheckoutCompleted,
		ObjectID: "cs_unknown",
	})

	_, err := f.env.reconciler.HandleEvent(context.Background(), models.StripeEventJob{EventID: "evt_other"})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestReconciler_NotificationFailureKeepsPayment(t *testing.T) {
	f := newCheckoutFixture(t)
	f.env.notifier.err = errors.New("broker down")

	res, err := f.env.reconciler.HandleEvent(context.Background(), f.event("evt_1", provider.EventCheckoutCompleted))
	require.NoError(t, err)
	assert.Equal(t, models.TransitionApplied, res)
	assert.Len(t, f.stripeCredits(t), 1)
}

func TestReconciler_IgnoredEventTypeIsMarkedProcessed(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()

	res, err := f.env.reconciler.HandleEvent(ctx, f.event("evt_misc", "customer.updated"))
	require.NoError(t, err)
	assert.Equal(t, models.TransitionNoop, res)

	processed, err := f.env.store.IsEventProcessed(ctx, "evt_misc")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestReconciler_EntryFeeCheckoutSettlesEarlyDiscount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tm := env.tournament(t, false, true)
	b := env.bowler(t, tm.ID, "eli")
	fee := env.item(t, tm.ID, models.CategoryLedger, models.DeterminationEntryFee, "", "117", nil)
	discount := env.item(t, tm.ID, models.CategoryLedger, models.DeterminationEarlyDiscount, "", "10",
		discountConfig(testNow.Add(-time.Hour)))
	_, err := env.catalog.MapProviderProduct(ctx, fee.ID, "price_fee", "prod_fee")
	require.NoError(t, err)

	env.charge(t, b, fee, models.SourceRegistration)
	discountPurchase := env.charge(t, b, discount, models.SourceRegistration)

	ep := &models.ExternalPayment{BowlerID: b.ID, Identifier: "cs_1"}
	require.NoError(t, env.store.CreateExternalPayment(ctx, ep))
	env.provider.PutSession(&provider.CheckoutSession{
		ID:          "cs_1",
		AmountTotal: dec("107"),
		LineItems:   []provider.LineItem{{PriceID: "price_fee", ProductID: "prod_fee", Quantity: 1}},
	})
	env.provider.PutEvent(&provider.Event{
		ID:       "evt_1",
		Type:     provider.EventCheckoutCompleted,
		Created:  testNow.Add(-2 * time.Hour),
		ObjectID: "cs_1",
	})

	res, err := env.reconciler.HandleEvent(ctx, models.StripeEventJob{EventID: "evt_1"})
	require.NoError(t, err)
	assert.Equal(t, models.TransitionApplied, res)

	settled := env.purchase(t, discountPurchase.ID)
	require.Equal(t, models.PurchasePaid, settled.State())
	assert.True(t, settled.PaidAt.Equal(testNow.Add(-2*time.Hour)))
	require.NotNil(t, settled.ExternalPaymentID)
	assert.Equal(t, ep.ID, *settled.ExternalPaymentID)

	due, err := env.ledger.AmountDue(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, due.IsZero(), "due = %s", due)

	// the expiry sweep finds nothing left to void
	_, err = env.scheduler.SweepDiscountVoids(ctx)
	require.NoError(t, err)
	env.drain(t)

	assert.Equal(t, models.PurchasePaid, env.purchase(t, discountPurchase.ID).State())
	due, err = env.ledger.AmountDue(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, due.IsZero(), "due = %s", due)
}

func TestReconciler_CheckoutWithoutEntryFeeLeavesDiscount(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	discount := f.env.item(t, f.fee.TournamentID, models.CategoryLedger, models.DeterminationEarlyDiscount, "", "10", nil)
	discountPurchase := f.env.charge(t, f.bowler, discount, models.SourceRegistration)

	f.env.provider.PutSession(&provider.CheckoutSession{
		ID:          "cs_test_1",
		AmountTotal: dec("60"),
		LineItems:   []provider.LineItem{{PriceID: "price_banquet", ProductID: "prod_banquet", Quantity: 2}},
	})

	_, err := f.env.reconciler.HandleEvent(ctx, f.event("evt_1", provider.EventCheckoutCompleted))
	require.NoError(t, err)

	assert.Equal(t, models.PurchaseUnpaid, f.env.purchase(t, discountPurchase.ID).State())
	assert.Equal(t, models.PurchaseUnpaid, f.env.purchase(t, f.purchase[0].ID).State())
	assert.Equal(t, []string{models.NotificationPaymentReceipt}, f.env.notifier.types())
}
