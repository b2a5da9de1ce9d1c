package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPurchaseStateTransition(t *testing.T) {
	tests := []struct {
		from    PurchaseState
		to      PurchaseState
		want    TransitionResult
		wantErr error
	}{
		{PurchaseUnpaid, PurchasePaid, TransitionApplied, nil},
		{PurchaseUnpaid, PurchaseVoided, TransitionApplied, nil},
		{PurchasePaid, PurchasePaid, TransitionNoop, nil},
		{PurchaseVoided, PurchaseVoided, TransitionNoop, nil},
		{PurchasePaid, PurchaseVoided, TransitionNoop, ErrAlreadyTerminal},
		{PurchaseVoided, PurchasePaid, TransitionNoop, ErrAlreadyTerminal},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s to %s", tt.from, tt.to), func(t *testing.T) {
			got, err := tt.from.Transition(tt.to)
			assert.Equal(t, tt.want, got)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	_, err := PurchasePaid.Transition(PurchaseUnpaid)
	assert.Error(t, err)
	assert.False(t, IsNoop(err))
}

func TestSessionStatusTransition(t *testing.T) {
	res, err := SessionOpen.Transition(SessionCompleted)
	require.NoError(t, err)
	assert.Equal(t, TransitionApplied, res)

	res, err = SessionOpen.Transition(SessionExpired)
	require.NoError(t, err)
	assert.Equal(t, TransitionApplied, res)

	for _, from := range []SessionStatus{SessionCompleted, SessionExpired} {
		for _, to := range []SessionStatus{SessionCompleted, SessionExpired} {
			_, err := from.Transition(to)
			assert.True(t, IsNoop(err), "%s -> %s", from, to)
		}
	}
}

func TestPurchaseState(t *testing.T) {
	var p Purchase
	assert.Equal(t, PurchaseUnpaid, p.State())
}

func TestErrorsUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("reconcile: %w", &ProviderCommunicationError{Op: "retrieve event", Err: cause})

	assert.ErrorIs(t, err, ErrProviderCommunication)
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, NotFound("bowler", 7), ErrNotFound)
	assert.ErrorIs(t, &DataIntegrityError{SessionID: "cs_1"}, ErrDataIntegrity)
	assert.ErrorIs(t, &SingleUseViolationError{BowlerID: 1, ItemID: 2}, ErrSingleUseViolation)
	assert.EqualError(t, NotFound("bowler", 7), "bowler not found: 7")
}

func TestItemKinds(t *testing.T) {
	fee := PurchasableItem{Category: CategoryLedger, Determination: DeterminationEntryFee}
	assert.True(t, fee.IsLedgerItem())
	assert.True(t, fee.IsSingleUse())
	assert.False(t, fee.IsDiscount())

	discount := PurchasableItem{Category: CategoryLedger, Determination: DeterminationEarlyDiscount}
	assert.True(t, discount.IsDiscount())

	shirt := PurchasableItem{Category: CategoryProduct, Determination: DeterminationSingleUse, Refinement: RefinementSingleUse}
	assert.True(t, shirt.IsSingleUse())

	raffle := PurchasableItem{Category: CategoryRaffle, Determination: DeterminationMultiUse}
	assert.False(t, raffle.IsSingleUse())
}

func TestConfigurationTime(t *testing.T) {
	c := Configuration{"applies_at": "2026-03-14T18:00:00Z", "broken": "soon"}

	at, ok := c.Time("applies_at")
	require.True(t, ok)
	assert.Equal(t, 2026, at.Year())

	_, ok = c.Time("broken")
	assert.False(t, ok)
	_, ok = c.Time("missing")
	assert.False(t, ok)
}

func TestJobEnvelope(t *testing.T) {
	job, err := NewJob(JobTypeVoidPurchase, VoidPurchaseJob{PurchaseID: 9, Reason: "expired"})
	require.NoError(t, err)
	assert.NotEmpty(t, job.EventID)
	assert.Equal(t, JobTypeVoidPurchase, job.EventType)

	var payload VoidPurchaseJob
	require.NoError(t, job.Decode(&payload))
	assert.Equal(t, VoidPurchaseJob{PurchaseID: 9, Reason: "expired"}, payload)
}
